package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestLogger(t *testing.T) {
	logger, hook := test.NewNullLogger()
	handler := middleware.RequestID(RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("healthy"))
	})))

	tests := []struct {
		path       string
		wantStatus int
		wantLevel  logrus.Level
	}{
		{path: "/health", wantStatus: http.StatusOK, wantLevel: logrus.InfoLevel},
		{path: "/missing", wantStatus: http.StatusNotFound, wantLevel: logrus.WarnLevel},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			hook.Reset()
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			require.Equal(t, tt.wantStatus, rec.Code)

			entry := hook.LastEntry()
			require.NotNil(t, entry)
			assert.Equal(t, tt.wantLevel, entry.Level)
			assert.Equal(t, "request completed", entry.Message)
			assert.Equal(t, http.MethodGet, entry.Data["method"])
			assert.Equal(t, tt.path, entry.Data["path"])
			assert.Equal(t, tt.wantStatus, entry.Data["status"])
			assert.Equal(t, "http", entry.Data["component"])
			assert.NotEmpty(t, entry.Data["request_id"])
		})
	}
}
