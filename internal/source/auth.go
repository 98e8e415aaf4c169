// Copyright 2025 James Ross
package source

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/regulens/ingestion-engine/internal/ingesterr"
	"github.com/regulens/ingestion-engine/internal/model"
)

// AuthStrategy applies transport-level authentication to an outgoing
// request, per the REST adapter's AuthConfig.Mode values (spec §3 ambient
// expansion: none, api_key, basic, oauth2_client_credentials, jwt_bearer).
type AuthStrategy interface {
	Apply(ctx context.Context, req *http.Request) error
}

// NewAuthStrategy constructs the strategy named by cfg.Mode.
func NewAuthStrategy(cfg model.AuthConfig, httpClient *http.Client) (AuthStrategy, error) {
	switch cfg.Mode {
	case "", "none":
		return noneAuth{}, nil
	case "api_key":
		return apiKeyAuth{cfg: cfg}, nil
	case "basic":
		return basicAuth{cfg: cfg}, nil
	case "oauth2_client_credentials":
		return &oauth2ClientCredentials{cfg: cfg, client: httpClient}, nil
	case "jwt_bearer":
		return jwtBearerAuth{cfg: cfg}, nil
	default:
		return nil, fmt.Errorf("source: unknown auth mode %q", cfg.Mode)
	}
}

type noneAuth struct{}

func (noneAuth) Apply(ctx context.Context, req *http.Request) error { return nil }

type apiKeyAuth struct{ cfg model.AuthConfig }

func (a apiKeyAuth) Apply(ctx context.Context, req *http.Request) error {
	if a.cfg.HeaderName != "" {
		req.Header.Set(a.cfg.HeaderName, a.cfg.APIKey)
		return nil
	}
	q := req.URL.Query()
	param := a.cfg.QueryParam
	if param == "" {
		param = "api_key"
	}
	q.Set(param, a.cfg.APIKey)
	req.URL.RawQuery = q.Encode()
	return nil
}

type basicAuth struct{ cfg model.AuthConfig }

func (a basicAuth) Apply(ctx context.Context, req *http.Request) error {
	req.SetBasicAuth(a.cfg.Username, a.cfg.Password)
	return nil
}

type jwtBearerAuth struct{ cfg model.AuthConfig }

func (a jwtBearerAuth) Apply(ctx context.Context, req *http.Request) error {
	req.Header.Set("Authorization", "Bearer "+a.cfg.BearerToken)
	return nil
}

// oauth2ClientCredentials fetches and caches an access token via the
// standard client-credentials grant, refreshing it shortly before expiry.
type oauth2ClientCredentials struct {
	cfg    model.AuthConfig
	client *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func (a *oauth2ClientCredentials) Apply(ctx context.Context, req *http.Request) error {
	tok, err := a.token0(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	return nil
}

func (a *oauth2ClientCredentials) token0(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.token != "" && time.Now().Before(a.expiresAt.Add(-30*time.Second)) {
		return a.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", a.cfg.ClientID)
	form.Set("client_secret", a.cfg.ClientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := a.client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", &ingesterr.TransientTransport{Op: "oauth2_token", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", &ingesterr.PermanentTransport{Op: "oauth2_token", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := decodeJSON(resp.Body, &body); err != nil {
		return "", &ingesterr.ParseError{Op: "oauth2_token", Err: err}
	}
	a.token = body.AccessToken
	ttl := time.Duration(body.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	a.expiresAt = time.Now().Add(ttl)
	return a.token, nil
}

// basicAuthHeader is retained as a helper for adapters that need a raw
// header value rather than mutating a request (e.g. pre-flight probes).
func basicAuthHeader(user, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+pass))
}
