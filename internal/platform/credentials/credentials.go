package credentials

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/animus-labs/animus-pipelines/internal/workspace"
)

// NewHTTPClient returns an HTTP client that attaches the workspace credentials
// to every request. Token endpoints are discovered from the issuer when only
// an issuer URL is configured.
func NewHTTPClient(ctx context.Context, auth workspace.Auth, timeout time.Duration) (*http.Client, error) {
	base := NewTransport()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	source, err := TokenSource(ctx, auth, &http.Client{Transport: base, Timeout: timeout})
	if err != nil {
		return nil, err
	}
	if source == nil {
		return &http.Client{Transport: base, Timeout: timeout}, nil
	}
	return &http.Client{
		Transport: &oauth2.Transport{Source: source, Base: base},
		Timeout:   timeout,
	}, nil
}

// TokenSource builds the oauth2 token source for auth. It returns nil for
// auth type none.
func TokenSource(ctx context.Context, auth workspace.Auth, httpClient *http.Client) (oauth2.TokenSource, error) {
	switch auth.Type {
	case "", workspace.AuthNone:
		return nil, nil
	case workspace.AuthToken:
		token := strings.TrimSpace(auth.Token)
		if token == "" {
			return nil, errors.New("bearer token is empty")
		}
		return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}), nil
	case workspace.AuthClientCredentials:
		if httpClient != nil {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
		}
		tokenURL := strings.TrimSpace(auth.TokenURL)
		if tokenURL == "" {
			discovered, err := DiscoverTokenURL(ctx, auth.IssuerURL)
			if err != nil {
				return nil, err
			}
			tokenURL = discovered
		}
		cfg := clientcredentials.Config{
			ClientID:     strings.TrimSpace(auth.ClientID),
			ClientSecret: strings.TrimSpace(auth.ClientSecret),
			TokenURL:     tokenURL,
			Scopes:       auth.Scopes,
			AuthStyle:    oauth2.AuthStyleAutoDetect,
		}
		return oauth2.ReuseTokenSource(nil, cfg.TokenSource(ctx)), nil
	default:
		return nil, fmt.Errorf("unsupported auth type %q", auth.Type)
	}
}

// DiscoverTokenURL reads the issuer's OpenID configuration for its token endpoint.
func DiscoverTokenURL(ctx context.Context, issuerURL string) (string, error) {
	issuerURL = strings.TrimSpace(issuerURL)
	if issuerURL == "" {
		return "", errors.New("issuer url is required for token discovery")
	}
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return "", fmt.Errorf("oidc provider: %w", err)
	}
	tokenURL := provider.Endpoint().TokenURL
	if tokenURL == "" {
		return "", fmt.Errorf("issuer %s does not advertise a token endpoint", issuerURL)
	}
	return tokenURL, nil
}

func NewTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
