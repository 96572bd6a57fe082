package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// OAuthOptions configures a client-credentials grant, used when the upstream
// sits behind a gateway that issues short-lived bearer tokens.
type OAuthOptions struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

func (o OAuthOptions) enabled() bool {
	return strings.TrimSpace(o.TokenURL) != "" && strings.TrimSpace(o.ClientID) != ""
}

// Options selects the credential source. OAuth wins over a static key.
type Options struct {
	APIKey string
	OAuth  OAuthOptions
}

// NewTokenSource returns the token source for opts. When nothing is
// configured the credentials file is consulted; failing that, every Token
// call returns ErrNoCredentials so the failure surfaces per request.
func NewTokenSource(ctx context.Context, opts Options) oauth2.TokenSource {
	if opts.OAuth.enabled() {
		cc := &clientcredentials.Config{
			ClientID:     opts.OAuth.ClientID,
			ClientSecret: opts.OAuth.ClientSecret,
			TokenURL:     opts.OAuth.TokenURL,
			Scopes:       opts.OAuth.Scopes,
			AuthStyle:    oauth2.AuthStyleInParams,
		}
		return cc.TokenSource(ctx)
	}

	key := strings.TrimSpace(opts.APIKey)
	if key == "" {
		if c, err := ReadCredentialsFile(); err == nil {
			key = strings.TrimSpace(c.APIKey)
		}
	}
	if key == "" {
		return missingSource{}
	}
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: key, TokenType: "Bearer"})
}

type missingSource struct{}

func (missingSource) Token() (*oauth2.Token, error) {
	return nil, ErrNoCredentials
}

type checkedSource struct {
	src oauth2.TokenSource
}

func (c checkedSource) Token() (*oauth2.Token, error) {
	tok, err := c.src.Token()
	if err != nil {
		return nil, err
	}
	if tok == nil || strings.TrimSpace(tok.AccessToken) == "" {
		return nil, ErrEmptyToken
	}
	return tok, nil
}

// NewHTTPClient returns a client that sets the bearer header from ts on
// every request. base may be nil to use http.DefaultTransport.
func NewHTTPClient(ts oauth2.TokenSource, base http.RoundTripper, timeout time.Duration) *http.Client {
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &oauth2.Transport{
			Source: checkedSource{src: ts},
			Base:   base,
		},
	}
}
