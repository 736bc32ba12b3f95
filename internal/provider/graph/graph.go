package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shineum/mailsend-lite/internal/email"
)

// GraphProviderConfig holds the configuration for creating a GraphProvider.
type GraphProviderConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	// Sender is the mailbox the message is sent from.
	Sender string
	// MaxAttachmentSize bounds each attachment read from disk. Zero means
	// no limit.
	MaxAttachmentSize int64
}

// GraphProvider sends emails via the Microsoft Graph API using OAuth2
// client credentials authentication.
type GraphProvider struct {
	sender     string
	maxSize    int64
	graphURL   string
	httpClient *http.Client
	token      *tokenSource
}

// New creates a new GraphProvider with the given configuration.
func New(cfg GraphProviderConfig) *GraphProvider {
	tokenURL := fmt.Sprintf(
		"https://login.microsoftonline.com/%s/oauth2/v2.0/token",
		url.PathEscape(cfg.TenantID),
	)
	graphURL := fmt.Sprintf(
		"https://graph.microsoft.com/v1.0/users/%s/sendMail",
		url.PathEscape(cfg.Sender),
	)

	client := &http.Client{Timeout: 30 * time.Second}

	return newWithOverrides(cfg, graphURL, tokenURL, client)
}

// newWithOverrides creates a GraphProvider with custom URLs and HTTP client,
// used for testing.
func newWithOverrides(cfg GraphProviderConfig, graphURL, tokenURL string, client *http.Client) *GraphProvider {
	return &GraphProvider{
		sender:     cfg.Sender,
		maxSize:    cfg.MaxAttachmentSize,
		graphURL:   graphURL,
		httpClient: client,
		token:      newTokenSource(tokenURL, cfg.ClientID, cfg.ClientSecret, client),
	}
}

// Send delivers an email message via the Microsoft Graph API. A 401 reply
// triggers one token refresh and a single repeat of the request; no other
// failure is retried.
func (g *GraphProvider) Send(ctx context.Context, msg *email.Message) error {
	reqBody, err := buildSendMailRequest(msg, g.maxSize)
	if err != nil {
		return err
	}
	bodyJSON, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	err = g.doSendRequest(ctx, bodyJSON)

	var sendErr *sendError
	if errors.As(err, &sendErr) && sendErr.statusCode == http.StatusUnauthorized {
		slog.Info("refreshing Graph API token after 401")
		g.token.Invalidate()
		err = g.doSendRequest(ctx, bodyJSON)
	}

	if err != nil {
		slog.Warn("Graph API error", "error", err)
		return err
	}
	return nil
}

// Name returns the provider name.
func (g *GraphProvider) Name() string {
	return "msgraph"
}

// doSendRequest performs a single HTTP request to the Graph API sendMail endpoint.
func (g *GraphProvider) doSendRequest(ctx context.Context, bodyJSON []byte) error {
	token, err := g.token.Token(ctx)
	if err != nil {
		return fmt.Errorf("failed to get access token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.graphURL, bytes.NewReader(bodyJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return &sendError{
			message:   fmt.Sprintf("HTTP request failed: %v", err),
			transient: true,
		}
	}
	defer resp.Body.Close()

	// HTTP 202 Accepted is success for sendMail
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)

	var graphErrResp graphErrorResponse
	if jsonErr := json.Unmarshal(body, &graphErrResp); jsonErr == nil && graphErrResp.Error.Message != "" {
		return classifyError(resp.StatusCode, graphErrResp.Error.Message)
	}

	return classifyError(resp.StatusCode, string(body))
}

// sendError is an error from the Graph API send operation, classified so
// callers can decide whether a later attempt may succeed.
type sendError struct {
	message    string
	statusCode int
	transient  bool
}

func (e *sendError) Error() string {
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.statusCode, e.message)
}

// Temporary reports whether the failure may succeed on a later attempt.
func (e *sendError) Temporary() bool {
	return e.transient
}

// classifyError categorizes an HTTP error response.
func classifyError(statusCode int, message string) *sendError {
	err := &sendError{
		message:    message,
		statusCode: statusCode,
	}

	switch {
	case statusCode == http.StatusUnauthorized:
		err.transient = true
	case statusCode == http.StatusTooManyRequests:
		err.transient = true
	case statusCode >= 500:
		err.transient = true
	}

	return err
}
