// Package tabs searches tab and chord sites through Google Custom Search.
package tabs

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"tabs-api-go/gateway"
	"tabs-api-go/services/upstream"
	"tabs-api-go/utils"
	"time"
)

// Upstream is the limiter and breaker ID for the Custom Search JSON API.
const Upstream = "tabs"

var ErrMissingParameter = errors.New("missing required parameter")

type Doer interface {
	Do(ctx context.Context, op gateway.Operation) (*gateway.Result, error)
}

type Options struct {
	BaseURL  string
	APIKey   string
	EngineID string
	TTL      time.Duration
}

type Service struct {
	gw     Doer
	client *upstream.Client
	opts   Options
}

func New(gw Doer, client *upstream.Client, opts Options) *Service {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Service{gw: gw, client: client, opts: opts}
}

// SearchTabSites searches the configured engine for tabs of song by artist.
// The artist may be empty.
func (s *Service) SearchTabSites(ctx context.Context, song, artist string) (*gateway.Result, error) {
	if strings.TrimSpace(song) == "" {
		return nil, ErrMissingParameter
	}
	songQ, artistQ := utils.NormalizeQuery(song), utils.NormalizeQuery(artist)

	q := songQ
	if artistQ != "" {
		q += " " + artistQ
	}
	params := url.Values{
		"key": {s.opts.APIKey},
		"cx":  {s.opts.EngineID},
		"q":   {q + " tabs"},
	}

	return s.gw.Do(ctx, gateway.Operation{
		Upstream: Upstream,
		Key:      utils.CacheKey("tabs:search", songQ, artistQ),
		TTL:      s.opts.TTL,
		Call: func(ctx context.Context) ([]byte, error) {
			return s.client.Get(ctx, upstream.Request{URL: s.opts.BaseURL, Query: params})
		},
	})
}
