package gateway

import (
	"context"
	"errors"
	"fmt"
	"tabs-api-go/logcolors"
	"tabs-api-go/metrics"
	"time"

	log "github.com/sirupsen/logrus"
)

// IssueFunc obtains a new access token. A zero expiry means the provider did
// not say when the token expires.
type IssueFunc func(ctx context.Context) (token string, expiry time.Time, err error)

// CredentialCache shares one access token per provider across callers and
// processes, reissuing only after the cached copy expires.
type CredentialCache struct {
	cache    Cacher
	provider string
	key      string
	ttl      time.Duration
	issue    IssueFunc
	metrics  *metrics.Metrics
}

// NewCredentialCache stores tokens under key for ttl. ttl must be shorter than
// the provider's token lifetime so a cached token is never stale.
func NewCredentialCache(c Cacher, provider, key string, ttl time.Duration, issue IssueFunc, m *metrics.Metrics) (*CredentialCache, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("credential cache %s: ttl must be positive, got %v", provider, ttl)
	}
	if issue == nil {
		return nil, errors.New("credential cache " + provider + ": nil issue func")
	}
	return &CredentialCache{
		cache:    c,
		provider: provider,
		key:      key,
		ttl:      ttl,
		issue:    issue,
		metrics:  m,
	}, nil
}

// Token returns the cached access token, issuing one on a miss. Issuance
// failures come back as *CredentialError and are not cached.
func (cc *CredentialCache) Token(ctx context.Context) (string, error) {
	res, err := cc.cache.WithCache(ctx, cc.key, cc.ttl, func(ctx context.Context) ([]byte, error) {
		token, expiry, err := cc.issue(ctx)
		cc.metrics.ObserveCredential(cc.provider, err)
		if err != nil {
			log.Errorf("%s %s token issuance failed: %v", logcolors.LogCredential, cc.provider, err)
			return nil, &CredentialError{Provider: cc.provider, Err: err}
		}
		if token == "" {
			return nil, &CredentialError{Provider: cc.provider, Err: errors.New("empty access token")}
		}

		if !expiry.IsZero() && expiry.Before(time.Now().Add(cc.ttl)) {
			log.Warnf("%s %s token expires at %s, before its cache ttl of %v",
				logcolors.LogCredential, cc.provider, expiry.Format(time.RFC3339), cc.ttl)
		}
		log.Infof("%s Issued new %s token", logcolors.LogCredential, cc.provider)
		return []byte(token), nil
	})
	if err != nil {
		return "", err
	}
	return string(res.Body), nil
}
