package app

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/transfa/ledger-service/internal/domain"
	"github.com/transfa/ledger-service/pkg/paystackclient"
)

// BankLister is the part of the gateway that lists payout banks.
type BankLister interface {
	ListBanks(ctx context.Context) ([]paystackclient.Bank, error)
}

// BankDirectory resolves bank names to Paystack bank codes. The bank list is
// cached in Redis when a client is configured.
type BankDirectory struct {
	lister BankLister
	cache  redis.UniversalClient
	key    string
	ttl    time.Duration
	log    *logrus.Entry
}

func NewBankDirectory(lister BankLister, cache redis.UniversalClient, prefix string, ttl time.Duration, logger logrus.FieldLogger) *BankDirectory {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "ledger"
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &BankDirectory{
		lister: lister,
		cache:  cache,
		key:    prefix + ":paystack:banks",
		ttl:    ttl,
		log:    logger.WithField("component", "bank_directory"),
	}
}

// Banks returns the payout bank list, from cache when possible.
func (d *BankDirectory) Banks(ctx context.Context) ([]paystackclient.Bank, error) {
	if d.cache != nil {
		raw, err := d.cache.Get(ctx, d.key).Bytes()
		switch {
		case err == nil:
			var banks []paystackclient.Bank
			if jsonErr := json.Unmarshal(raw, &banks); jsonErr == nil {
				return banks, nil
			}
			d.log.Warn("discarding unreadable bank cache entry")
		case !errors.Is(err, redis.Nil):
			d.log.WithError(err).Warn("bank cache read failed; calling paystack")
		}
	}

	banks, err := d.lister.ListBanks(ctx)
	if err != nil {
		return nil, domain.Upstream("list banks", err)
	}

	if d.cache != nil {
		if raw, jsonErr := json.Marshal(banks); jsonErr == nil {
			if err := d.cache.Set(ctx, d.key, raw, d.ttl).Err(); err != nil {
				d.log.WithError(err).Warn("bank cache write failed")
			}
		}
	}
	return banks, nil
}

// ResolveCode finds the code of the bank whose name matches, ignoring case.
func (d *BankDirectory) ResolveCode(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", domain.Invalidf("bank name is required")
	}
	banks, err := d.Banks(ctx)
	if err != nil {
		return "", err
	}
	for _, b := range banks {
		if strings.EqualFold(strings.TrimSpace(b.Name), name) {
			return b.Code, nil
		}
	}
	return "", domain.Invalidf("bank %q not found", name)
}
