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
)

// Sender is the outbound email channel. Delivery is fire-and-forget from
// the product's point of view; idempotency lives in the delivery log, not
// here.
type Sender interface {
	Send(ctx context.Context, to, toName, subject, text string) error
}

type Config struct {
	APIKey    string
	BaseURL   string
	FromEmail string
	FromName  string
	Timeout   time.Duration
}

// SendGridClient talks to the SendGrid v3 mail send API directly.
type SendGridClient struct {
	cfg        Config
	httpClient *http.Client
}

func NewSendGridClient(cfg Config) (*SendGridClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing SENDGRID_API_KEY")
	}
	if strings.TrimSpace(cfg.FromEmail) == "" {
		return nil, fmt.Errorf("missing SENDGRID_FROM_EMAIL")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.sendgrid.com"
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SendGridClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// --- SendGrid mail send wire types ---

type emailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type personalization struct {
	To []emailAddress `json:"to"`
}

type mailContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type mailSendRequest struct {
	Personalizations []personalization `json:"personalizations"`
	From             emailAddress      `json:"from"`
	Subject          string            `json:"subject"`
	Content          []mailContent     `json:"content"`
}

type errorItem struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Errors []errorItem `json:"errors"`
}

func (c *SendGridClient) Send(ctx context.Context, to, toName, subject, text string) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return fmt.Errorf("sendgrid: recipient required")
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return fmt.Errorf("sendgrid: subject required")
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("sendgrid: content required")
	}

	wire := mailSendRequest{
		Personalizations: []personalization{{To: []emailAddress{{Email: to, Name: strings.TrimSpace(toName)}}}},
		From:             emailAddress{Email: c.cfg.FromEmail, Name: c.cfg.FromName},
		Subject:          subject,
		Content:          []mailContent{{Type: "text/plain", Value: text}},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(wire); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v3/mail/send", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var er errorResponse
		if json.Unmarshal(raw, &er) == nil && len(er.Errors) > 0 && er.Errors[0].Message != "" {
			return fmt.Errorf("sendgrid http %d: %s", resp.StatusCode, er.Errors[0].Message)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			body = "<empty body>"
		}
		if len(body) > 2000 {
			body = body[:2000] + "..."
		}
		return fmt.Errorf("sendgrid http %d: %s", resp.StatusCode, body)
	}
	return nil
}

var _ Sender = (*SendGridClient)(nil)
