// Package whatsapp talks to the WhatsApp Business Cloud API: outbound text
// delivery and inbound webhook parsing.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/helpdesk/pkg/logger"
)

// DefaultAPIURL is the Graph API base used when none is configured.
const DefaultAPIURL = "https://graph.facebook.com/v19.0"

// ErrNotConfigured is returned by SendText when credentials are missing.
var ErrNotConfigured = errors.New("whatsapp client not configured")

// Config holds Cloud API credentials.
type Config struct {
	APIURL        string
	Token         string
	PhoneNumberID string
	Timeout       time.Duration
	MaxRetries    uint64
	RetryInterval time.Duration
}

// Client sends messages through the Cloud API.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *logger.Logger
}

// NewClient creates a Cloud API client.
func NewClient(cfg Config, log *logger.Logger) *Client {
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: log,
	}
}

// Configured reports whether outbound delivery is possible.
func (c *Client) Configured() bool {
	return c.cfg.Token != "" && c.cfg.PhoneNumberID != ""
}

type textBody struct {
	Body       string `json:"body"`
	PreviewURL bool   `json:"preview_url"`
}

type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

// APIError is a non-2xx answer from the Cloud API.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("whatsapp api: status %d code %d: %s", e.Status, e.Code, e.Message)
}

// SendText delivers body to phone and returns the provider message id.
// Server errors and transport failures are retried with exponential backoff.
func (c *Client) SendText(ctx context.Context, phone, body string) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	payload, err := json.Marshal(sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               phone,
		Type:             "text",
		Text:             textBody{Body: body},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}

	maxRetries := c.cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 2
	}
	expo := backoff.NewExponentialBackOff()
	if c.cfg.RetryInterval > 0 {
		expo.InitialInterval = c.cfg.RetryInterval
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, maxRetries), ctx)

	var id string
	op := func() error {
		var err error
		id, err = c.send(ctx, payload)
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("retrying whatsapp delivery",
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return "", err
	}
	return id, nil
}

func (c *Client) send(ctx context.Context, payload []byte) (string, error) {
	url := fmt.Sprintf("%s/%s/messages", c.cfg.APIURL, c.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("failed to build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call whatsapp api: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read whatsapp response: %w", err)
	}

	var out sendResponse
	_ = json.Unmarshal(data, &out)

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if out.Error != nil {
			apiErr.Code = out.Error.Code
			apiErr.Message = out.Error.Message
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return "", apiErr
		}
		return "", backoff.Permanent(apiErr)
	}

	if len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return "", backoff.Permanent(errors.New("whatsapp api: response without message id"))
	}
	return out.Messages[0].ID, nil
}
