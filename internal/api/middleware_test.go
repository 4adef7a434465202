package api

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticKeys map[string]*rsa.PublicKey

func (k staticKeys) PublicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if key, ok := k[kid]; ok {
		return key, nil
	}
	return nil, errors.New("unknown kid")
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func callerEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, _ := CallerFromContext(r.Context())
		w.Write([]byte(caller))
	})
}

func TestAuthMiddleware(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keys := staticKeys{"k1": &key.PublicKey}
	valid := signToken(t, key, "k1", jwt.MapClaims{"sub": "ops_user", "exp": time.Now().Add(time.Hour).Unix()})
	expired := signToken(t, key, "k1", jwt.MapClaims{"sub": "ops_user", "exp": time.Now().Add(-time.Hour).Unix()})
	unknownKid := signToken(t, key, "k2", jwt.MapClaims{"sub": "ops_user"})

	tests := []struct {
		name       string
		headers    map[string]string
		wantStatus int
		wantCaller string
	}{
		{name: "internal key", headers: map[string]string{internalKeyHeader: "secret"}, wantStatus: http.StatusOK, wantCaller: "internal"},
		{name: "wrong internal key", headers: map[string]string{internalKeyHeader: "nope"}, wantStatus: http.StatusUnauthorized},
		{name: "no credentials", wantStatus: http.StatusUnauthorized},
		{name: "malformed header", headers: map[string]string{"Authorization": valid}, wantStatus: http.StatusUnauthorized},
		{name: "valid token", headers: map[string]string{"Authorization": "Bearer " + valid}, wantStatus: http.StatusOK, wantCaller: "ops_user"},
		{name: "expired token", headers: map[string]string{"Authorization": "Bearer " + expired}, wantStatus: http.StatusUnauthorized},
		{name: "unknown kid", headers: map[string]string{"Authorization": "Bearer " + unknownKid}, wantStatus: http.StatusUnauthorized},
	}

	handler := AuthMiddleware("secret", keys)(callerEcho())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/wallet/8012345678", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantCaller != "" {
				assert.Equal(t, tt.wantCaller, rec.Body.String())
			}
		})
	}
}

func TestAuthMiddleware_Unconfigured(t *testing.T) {
	handler := AuthMiddleware("", nil)(callerEcho())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/wallet/transactions", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthMiddleware_KeyOnlyRejectsBearer(t *testing.T) {
	handler := AuthMiddleware("secret", nil)(callerEcho())

	req := httptest.NewRequest(http.MethodGet, "/wallet/transactions", nil)
	req.Header.Set("Authorization", "Bearer abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestJWKSKeySource_FetchesAndCaches(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]interface{}{
			"keys": []map[string]string{{
				"kid": "k1",
				"kty": "RSA",
				"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
			}},
		})
	}))
	defer srv.Close()

	source := NewJWKSKeySource(srv.URL)
	require.NotNil(t, source)

	got, err := source.PublicKey(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.N.Cmp(key.PublicKey.N))
	assert.Equal(t, key.PublicKey.E, got.E)

	_, err = source.PublicKey(context.Background(), "k1")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	_, err = source.PublicKey(context.Background(), "missing")
	assert.Error(t, err)
	assert.Equal(t, 2, calls)

	assert.Nil(t, NewJWKSKeySource("  "))
}
