package spotify

import (
	"context"
	"errors"
	"net/http"
	"tabs-api-go/gateway"
	"tabs-api-go/services/upstream"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenKey is the shared cache key for the app access token.
const TokenKey = "spotify:access_token"

// NewIssuer returns an IssueFunc performing the client-credentials grant:
// HTTP Basic client_id:client_secret, body grant_type=client_credentials.
func NewIssuer(clientID, clientSecret, tokenURL string, httpClient *http.Client) gateway.IssueFunc {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	return func(ctx context.Context) (string, time.Time, error) {
		if httpClient != nil {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
		}

		tok, err := cfg.Token(ctx)
		if err != nil {
			var re *oauth2.RetrieveError
			if errors.As(err, &re) && re.Response != nil {
				return "", time.Time{}, &gateway.UpstreamError{
					Upstream: Upstream,
					Status:   re.Response.StatusCode,
					Reason:   upstream.Reason(re.Body, re.Response.StatusCode),
				}
			}
			return "", time.Time{}, &gateway.UpstreamError{Upstream: Upstream, Err: err}
		}
		return tok.AccessToken, tok.Expiry, nil
	}
}
