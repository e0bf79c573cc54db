// Package youtube finds guitar tutorial videos with the YouTube Data API.
package youtube

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"tabs-api-go/gateway"
	"tabs-api-go/services/upstream"
	"tabs-api-go/utils"
	"time"
)

// Upstream is the limiter and breaker ID for the YouTube Data API.
const Upstream = "youtube"

var ErrMissingParameter = errors.New("missing required parameter")

type Doer interface {
	Do(ctx context.Context, op gateway.Operation) (*gateway.Result, error)
}

type Options struct {
	BaseURL    string
	APIKey     string
	MaxResults int
	TTL        time.Duration
}

type Service struct {
	gw     Doer
	client *upstream.Client
	opts   Options
}

func New(gw Doer, client *upstream.Client, opts Options) *Service {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.MaxResults <= 0 {
		opts.MaxResults = 10
	}
	return &Service{gw: gw, client: client, opts: opts}
}

// SearchTutorials returns guitar tutorial videos for a song query.
func (s *Service) SearchTutorials(ctx context.Context, query string) (*gateway.Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrMissingParameter
	}
	q := utils.NormalizeQuery(query)

	params := url.Values{
		"part":       {"snippet"},
		"q":          {q + " guitar tutorial"},
		"type":       {"video"},
		"maxResults": {strconv.Itoa(s.opts.MaxResults)},
		"key":        {s.opts.APIKey},
	}

	return s.gw.Do(ctx, gateway.Operation{
		Upstream: Upstream,
		Key:      utils.CacheKey("youtube:tutorials", q),
		TTL:      s.opts.TTL,
		Call: func(ctx context.Context) ([]byte, error) {
			return s.client.Get(ctx, upstream.Request{URL: s.opts.BaseURL + "/search", Query: params})
		},
	})
}
