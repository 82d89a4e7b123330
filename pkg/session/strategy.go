package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Token is an authentication artifact produced by a strategy. For strategies
// without a server-side token (basic, apikey) Value is empty and ExpiresAt is
// zero, meaning the token never expires.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Expired reports whether the token needs to be refreshed. A small margin
// avoids using a token that expires mid-request.
func (t Token) Expired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(expiryMargin).Before(t.ExpiresAt)
}

const expiryMargin = 30 * time.Second

// AuthStrategy is the capability a session uses to authenticate and to
// decorate outbound requests. Strategies are selected by configuration.
type AuthStrategy interface {
	// Name identifies the strategy in logs and errors.
	Name() string

	// Authenticate obtains a fresh token. Strategies that need no server
	// round trip return a zero-expiry token without touching the network.
	Authenticate(ctx context.Context, httpClient *http.Client, endpoint string, creds Credentials) (Token, error)

	// Apply attaches the credentials to an outbound request.
	Apply(req *http.Request, creds Credentials, tok Token)
}

// Credentials is an opaque credential handle. How these values are stored and
// decrypted is the concern of an outer layer.
type Credentials struct {
	Username string
	Password string
	APIKey   string
}

// BasicAuth authenticates every request with HTTP Basic credentials.
type BasicAuth struct{}

func (BasicAuth) Name() string { return "basic" }

func (BasicAuth) Authenticate(_ context.Context, _ *http.Client, _ string, creds Credentials) (Token, error) {
	if creds.Username == "" {
		return Token{}, &AuthError{Strategy: "basic", Err: errMissingCredentials}
	}
	return Token{}, nil
}

func (BasicAuth) Apply(req *http.Request, creds Credentials, _ Token) {
	req.SetBasicAuth(creds.Username, creds.Password)
}

// APIKeyAuth sends a static key in a configurable header.
type APIKeyAuth struct {
	// Header defaults to X-API-Key when empty.
	Header string
}

func (APIKeyAuth) Name() string { return "apikey" }

func (a APIKeyAuth) Authenticate(_ context.Context, _ *http.Client, _ string, creds Credentials) (Token, error) {
	if creds.APIKey == "" {
		return Token{}, &AuthError{Strategy: "apikey", Err: errMissingCredentials}
	}
	return Token{}, nil
}

func (a APIKeyAuth) Apply(req *http.Request, creds Credentials, _ Token) {
	header := a.Header
	if header == "" {
		header = "X-API-Key"
	}
	req.Header.Set(header, creds.APIKey)
}

// BearerAuth exchanges basic credentials for a bearer token at a login
// endpoint and sends the token on subsequent requests.
type BearerAuth struct {
	// LoginPath is the token exchange endpoint, e.g. "/api/login".
	LoginPath string
}

func (BearerAuth) Name() string { return "bearer" }

// loginResponse is the token exchange envelope. Some managers return an
// absolute expiry, others a relative lifetime; both are accepted.
type loginResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
	ExpiresAt string `json:"expires_at"`
}

func (b BearerAuth) Authenticate(ctx context.Context, httpClient *http.Client, endpoint string, creds Credentials) (Token, error) {
	if creds.Username == "" {
		return Token{}, &AuthError{Strategy: "bearer", Err: errMissingCredentials}
	}

	body, _ := json.Marshal(map[string]string{
		"username": creds.Username,
		"password": creds.Password,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+b.LoginPath, bytes.NewReader(body))
	if err != nil {
		return Token{}, &AuthError{Strategy: "bearer", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return Token{}, &AuthError{Strategy: "bearer", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Token{}, &AuthError{
			Strategy:   "bearer",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("login rejected: %s", resp.Status),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Token{}, &AuthError{Strategy: "bearer", Err: err}
	}

	var lr loginResponse
	if err := json.Unmarshal(data, &lr); err != nil {
		return Token{}, &AuthError{Strategy: "bearer", Err: fmt.Errorf("parse login response: %w", err)}
	}
	if lr.Token == "" {
		return Token{}, &AuthError{Strategy: "bearer", Err: fmt.Errorf("login response contained no token")}
	}

	tok := Token{Value: lr.Token}
	switch {
	case lr.ExpiresAt != "":
		if at, err := time.Parse(time.RFC3339, lr.ExpiresAt); err == nil {
			tok.ExpiresAt = at
		}
	case lr.ExpiresIn > 0:
		tok.ExpiresAt = time.Now().Add(time.Duration(lr.ExpiresIn) * time.Second)
	}

	return tok, nil
}

func (BearerAuth) Apply(req *http.Request, _ Credentials, tok Token) {
	req.Header.Set("Authorization", "Bearer "+tok.Value)
}
