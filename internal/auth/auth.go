// =============================================================================
// Tabular Importer - Credentials
// =============================================================================
//
// This module attaches credentials to outgoing import service requests. The
// client only knows the Credential interface; how a credential is obtained
// stays here.
//
// SUPPORTED MODES:
//   - CSRFToken:      session cookie + anti-forgery token fetched once from
//                     {base}/api/v1/csrf
//   - ServiceAccount: OAuth2 client credentials (bearer token)
//   - Chain:          several credentials applied in order, e.g. a service
//                     account followed by its CSRF token
//
// =============================================================================

package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// CSRFHeader carries the anti-forgery token on requests and responses.
	CSRFHeader = "x-csrf-token"

	// CSRFPath is the token endpoint, relative to the tenant base URL.
	CSRFPath = "/api/v1/csrf"

	// CustomAuthHeader marks requests authenticated by a service account.
	CustomAuthHeader = "x-sap-sac-custom-auth"
)

// Credential attaches the current credential to an outgoing request.
type Credential interface {
	Apply(ctx context.Context, req *http.Request) error
}

// =============================================================================
// CHAIN
// =============================================================================

// Chain applies each credential in order and stops at the first error.
type Chain []Credential

// Apply implements Credential.
func (c Chain) Apply(ctx context.Context, req *http.Request) error {
	for _, cred := range c {
		if cred == nil {
			continue
		}
		if err := cred.Apply(ctx, req); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// CSRF TOKEN
// =============================================================================

// CSRFToken fetches an anti-forgery token on first use and attaches it to
// every request afterwards. The token is bound to the session cookie, so the
// HTTP client must carry a cookie jar shared with the import service client.
type CSRFToken struct {
	url    string
	client *http.Client

	// base authenticates the token fetch itself, e.g. a service account.
	base Credential

	mu    sync.Mutex
	token string
}

// NewCSRFToken creates a lazy token for the tenant at baseURL.
//
// PARAMETERS:
//   - baseURL: tenant URL without trailing slash
//   - client: HTTP client with a cookie jar
//   - base: optional credential applied to the token request
func NewCSRFToken(baseURL string, client *http.Client, base Credential) *CSRFToken {
	if client == nil {
		client = http.DefaultClient
	}
	return &CSRFToken{url: baseURL + CSRFPath, client: client, base: base}
}

// Apply implements Credential.
func (c *CSRFToken) Apply(ctx context.Context, req *http.Request) error {
	token, err := c.Token(ctx)
	if err != nil {
		return err
	}
	req.Header.Set(CSRFHeader, token)
	return nil
}

// Token returns the cached token, fetching it when none is held.
func (c *CSRFToken) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" {
		return c.token, nil
	}
	token, err := c.fetch(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	return token, nil
}

func (c *CSRFToken) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build CSRF request: %w", err)
	}
	req.Header.Set(CSRFHeader, "Fetch")
	if c.base != nil {
		if err := c.base.Apply(ctx, req); err != nil {
			return "", err
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch CSRF token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("failed to fetch CSRF token: HTTP %d", resp.StatusCode)
	}
	token := resp.Header.Get(CSRFHeader)
	if token == "" {
		return "", fmt.Errorf("failed to fetch CSRF token: response carried no %s header", CSRFHeader)
	}
	return token, nil
}

// =============================================================================
// SERVICE ACCOUNT
// =============================================================================

// ServiceAccount authenticates with the OAuth2 client credentials grant.
// Tokens are cached and renewed by the underlying token source.
type ServiceAccount struct {
	source oauth2.TokenSource
}

// NewServiceAccount creates a service account credential.
//
// PARAMETERS:
//   - ctx: used for token requests made over the lifetime of the credential
//   - tokenURL: OAuth token endpoint
//   - clientID, secret: client credentials, sent as HTTP basic auth
//   - client: optional HTTP client for the token endpoint
func NewServiceAccount(ctx context.Context, tokenURL, clientID, secret string, client *http.Client) *ServiceAccount {
	cfg := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: secret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	if client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
	}
	return &ServiceAccount{source: cfg.TokenSource(ctx)}
}

// Apply implements Credential.
func (s *ServiceAccount) Apply(_ context.Context, req *http.Request) error {
	tok, err := s.source.Token()
	if err != nil {
		return fmt.Errorf("failed to obtain access token: %w", err)
	}
	tok.SetAuthHeader(req)
	req.Header.Set(CustomAuthHeader, "true")
	return nil
}
