// Package spotify serves artist, track and album lookups from the Spotify Web
// API through the caching gateway.
package spotify

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"tabs-api-go/gateway"
	"tabs-api-go/services/upstream"
	"tabs-api-go/utils"
	"time"
)

// Upstream is the limiter and breaker ID for the Spotify Web API.
const Upstream = "spotify"

// ErrMissingParameter is returned when a required query or ID is blank.
var ErrMissingParameter = errors.New("missing required parameter")

// Doer runs an operation through the gateway.
type Doer interface {
	Do(ctx context.Context, op gateway.Operation) (*gateway.Result, error)
}

// TokenSource hands out the bearer token for API calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

type Options struct {
	BaseURL     string
	Market      string
	SearchLimit int
	SearchTTL   time.Duration
	EntityTTL   time.Duration
}

type Service struct {
	gw     Doer
	client *upstream.Client
	tokens TokenSource
	opts   Options
}

func New(gw Doer, client *upstream.Client, tokens TokenSource, opts Options) *Service {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.Market == "" {
		opts.Market = "US"
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = 10
	}
	return &Service{gw: gw, client: client, tokens: tokens, opts: opts}
}

// get builds the authenticated call for path. The token is fetched inside the
// call so cache hits never touch the credential cache.
func (s *Service) get(path string, query url.Values) func(ctx context.Context) ([]byte, error) {
	return func(ctx context.Context) ([]byte, error) {
		token, err := s.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}
		return s.client.Get(ctx, upstream.Request{
			URL:    s.opts.BaseURL + path,
			Query:  query,
			Header: http.Header{"Authorization": {"Bearer " + token}},
		})
	}
}

func (s *Service) search(ctx context.Context, key, q, kind string) (*gateway.Result, error) {
	query := url.Values{
		"q":     {q},
		"type":  {kind},
		"limit": {strconv.Itoa(s.opts.SearchLimit)},
	}
	return s.gw.Do(ctx, gateway.Operation{
		Upstream: Upstream,
		Key:      key,
		TTL:      s.opts.SearchTTL,
		Call:     s.get("/search", query),
	})
}

func (s *Service) entity(ctx context.Context, key, path string, query url.Values) (*gateway.Result, error) {
	return s.gw.Do(ctx, gateway.Operation{
		Upstream: Upstream,
		Key:      key,
		TTL:      s.opts.EntityTTL,
		Call:     s.get(path, query),
	})
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// SearchArtists searches artists by name.
func (s *Service) SearchArtists(ctx context.Context, artist string) (*gateway.Result, error) {
	if blank(artist) {
		return nil, ErrMissingParameter
	}
	q := utils.NormalizeQuery(artist)
	return s.search(ctx, utils.CacheKey("spotify:search_artists", q), q, "artist")
}

// SearchSongs searches tracks by title.
func (s *Service) SearchSongs(ctx context.Context, song string) (*gateway.Result, error) {
	if blank(song) {
		return nil, ErrMissingParameter
	}
	q := utils.NormalizeQuery(song)
	return s.search(ctx, utils.CacheKey("spotify:search_songs", q), q, "track")
}

// SearchArtistSongs searches one artist's tracks by title.
func (s *Service) SearchArtistSongs(ctx context.Context, artist, song string) (*gateway.Result, error) {
	if blank(artist) || blank(song) {
		return nil, ErrMissingParameter
	}
	a, t := utils.NormalizeQuery(artist), utils.NormalizeQuery(song)
	q := "track:" + t + " artist:" + a
	return s.search(ctx, utils.CacheKey("spotify:artist_search_songs", a, t), q, "track")
}

// Spotify IDs are case-sensitive, so entity keys use them verbatim.

func (s *Service) Artist(ctx context.Context, id string) (*gateway.Result, error) {
	if blank(id) {
		return nil, ErrMissingParameter
	}
	return s.entity(ctx, "spotify:artist:"+id, "/artists/"+url.PathEscape(id), nil)
}

func (s *Service) Song(ctx context.Context, id string) (*gateway.Result, error) {
	if blank(id) {
		return nil, ErrMissingParameter
	}
	return s.entity(ctx, "spotify:song:"+id, "/tracks/"+url.PathEscape(id), nil)
}

func (s *Service) Album(ctx context.Context, id string) (*gateway.Result, error) {
	if blank(id) {
		return nil, ErrMissingParameter
	}
	return s.entity(ctx, "spotify:album:"+id, "/albums/"+url.PathEscape(id), nil)
}

// ArtistTopSongs returns an artist's top tracks in the configured market.
func (s *Service) ArtistTopSongs(ctx context.Context, id string) (*gateway.Result, error) {
	if blank(id) {
		return nil, ErrMissingParameter
	}
	return s.entity(ctx, "spotify:artist_songs:"+id, "/artists/"+url.PathEscape(id)+"/top-tracks",
		url.Values{"market": {s.opts.Market}})
}
