package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	graphScope = "https://graph.microsoft.com/.default"

	// expirySkew is subtracted from expires_in so a token is not presented
	// while it is about to lapse.
	expirySkew = 5 * time.Minute

	// maxTokenResponse caps the token endpoint body read into memory.
	maxTokenResponse = 64 << 10
)

// tokenError is returned when the token endpoint rejects the client
// credentials or answers with something other than a token.
type tokenError struct {
	status      int
	code        string
	description string
}

func (e *tokenError) Error() string {
	if e.code != "" {
		return fmt.Sprintf("token endpoint returned %d (%s): %s", e.status, e.code, e.description)
	}
	return fmt.Sprintf("token endpoint returned %d: %s", e.status, e.description)
}

// tokenSource hands out OAuth2 client-credential tokens for the Graph
// scope, fetching a new one only when the cached token has lapsed or was
// invalidated. Safe for concurrent use.
type tokenSource struct {
	endpoint string
	form     url.Values
	client   *http.Client
	now      func() time.Time

	mu      sync.Mutex
	current string
	expiry  time.Time
}

func newTokenSource(endpoint, clientID, clientSecret string, client *http.Client) *tokenSource {
	return &tokenSource{
		endpoint: endpoint,
		form: url.Values{
			"grant_type":    {"client_credentials"},
			"client_id":     {clientID},
			"client_secret": {clientSecret},
			"scope":         {graphScope},
		},
		client: client,
		now:    time.Now,
	}
}

// Token returns the cached token or fetches a fresh one.
func (s *tokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != "" && s.now().Before(s.expiry) {
		return s.current, nil
	}
	tok, lifetime, err := s.fetch(ctx)
	if err != nil {
		return "", err
	}
	s.current = tok
	s.expiry = s.now().Add(lifetime - expirySkew)
	return tok, nil
}

// Invalidate drops the cached token so the next Token call fetches one.
func (s *tokenSource) Invalidate() {
	s.mu.Lock()
	s.current = ""
	s.expiry = time.Time{}
	s.mu.Unlock()
}

func (s *tokenSource) fetch(ctx context.Context) (string, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, strings.NewReader(s.form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponse))
	if err != nil {
		return "", 0, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		terr := &tokenError{status: resp.StatusCode, description: strings.TrimSpace(string(body))}
		var oauthErr tokenErrorResponse
		if json.Unmarshal(body, &oauthErr) == nil && oauthErr.Error != "" {
			terr.code = oauthErr.Error
			terr.description = oauthErr.Description
		}
		return "", 0, terr
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return "", 0, fmt.Errorf("failed to parse token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", 0, errors.New("token response missing access_token")
	}
	return tr.AccessToken, time.Duration(tr.ExpiresIn) * time.Second, nil
}
