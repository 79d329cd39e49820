package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ignite/newsletter/internal/pkg/httpretry"
	"github.com/ignite/newsletter/internal/pkg/secret"
	"github.com/ignite/newsletter/internal/service/subscription"
)

// AuthHeader carries the API server token on every request.
const AuthHeader = "X-Postmark-Server-Token"

// APIClient sends confirmation messages by POSTing JSON to {baseURL}/email.
type APIClient struct {
	baseURL string
	sender  string
	token   secret.Value
	http    httpretry.HTTPDoer
}

// APIConfig configures an APIClient.
type APIConfig struct {
	BaseURL    string
	Sender     string
	Token      secret.Value
	Timeout    time.Duration
	MaxRetries int
}

// NewAPIClient builds a client whose transport retries 429/5xx responses.
// Timeout bounds each attempt; the caller's context bounds the whole send.
func NewAPIClient(cfg APIConfig, doer httpretry.HTTPDoer) *APIClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if doer == nil {
		doer = &http.Client{Timeout: cfg.Timeout}
	}
	return &APIClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		sender:  cfg.Sender,
		token:   cfg.Token,
		http:    httpretry.NewRetryClient(doer, httpretry.Config{MaxRetries: cfg.MaxRetries}),
	}
}

type sendEmailRequest struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HTMLBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// Send implements subscription.Notifier. Any non-2xx response is an error.
func (c *APIClient) Send(ctx context.Context, msg subscription.Message) error {
	body, err := json.Marshal(sendEmailRequest{
		From:     c.sender,
		To:       msg.To,
		Subject:  msg.Subject,
		HTMLBody: msg.HTMLBody,
		TextBody: msg.TextBody,
	})
	if err != nil {
		return fmt.Errorf("encode email request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/email", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(AuthHeader, c.token.Expose())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// APIError is a non-2xx response from the email API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("email api returned %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the provider signalled a transient condition.
func (e *APIError) Retryable() bool { return httpretry.IsRetryableStatus(e.StatusCode) }
