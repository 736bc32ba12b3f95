// Package resend implements a Provider that sends emails via the Resend API.
package resend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/resend/resend-go/v2"

	"github.com/shineum/mailsend-lite/internal/email"
)

// Config holds the configuration for creating a Provider.
type Config struct {
	APIKey string
	// Sender is used when the message has no From address.
	Sender string
	// MaxAttachmentSize bounds each attachment read from disk. Zero means
	// no limit.
	MaxAttachmentSize int64
}

// EmailSender is the subset of the Resend emails service used here.
type EmailSender interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// Provider sends emails using the Resend API.
type Provider struct {
	emails  EmailSender
	sender  string
	maxSize int64
}

// New creates a Provider backed by the Resend API client.
func New(cfg Config) *Provider {
	return NewWithSender(cfg, resend.NewClient(cfg.APIKey).Emails)
}

// NewWithSender creates a Provider with a custom emails service, used for
// testing.
func NewWithSender(cfg Config, emails EmailSender) *Provider {
	return &Provider{
		emails:  emails,
		sender:  cfg.Sender,
		maxSize: cfg.MaxAttachmentSize,
	}
}

// Send delivers msg through the Resend API.
func (p *Provider) Send(ctx context.Context, msg *email.Message) error {
	params, err := p.buildRequest(msg)
	if err != nil {
		return err
	}

	resp, err := p.emails.SendWithContext(ctx, params)
	if err != nil {
		return fmt.Errorf("resend: failed to send email: %w", err)
	}

	slog.Debug("resend message accepted", "id", resp.Id)
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "resend"
}

func (p *Provider) buildRequest(msg *email.Message) (*resend.SendEmailRequest, error) {
	from := p.sender
	if msg.From.Email != "" {
		from = msg.From.String()
	}
	if from == "" {
		return nil, fmt.Errorf("resend: %w", email.ErrNoSender)
	}

	params := &resend.SendEmailRequest{
		From:    from,
		To:      formatAll(msg.To),
		Cc:      formatAll(msg.Cc),
		Bcc:     formatAll(msg.Bcc),
		ReplyTo: msg.ReplyTo,
		Subject: msg.Subject,
		Text:    msg.Text,
		Html:    msg.HTML,
	}

	if msg.Headers.Len() > 0 {
		params.Headers = make(map[string]string, msg.Headers.Len())
		msg.Headers.Each(func(key, value string) {
			params.Headers[key] = value
		})
	}

	for _, att := range msg.Attachments {
		content, err := email.LoadAttachment(att, p.maxSize)
		if err != nil {
			return nil, fmt.Errorf("resend: %w", err)
		}
		params.Attachments = append(params.Attachments, &resend.Attachment{
			Content:  content,
			Filename: att.Filename(),
		})
	}

	return params, nil
}

func formatAll(list []email.Address) []string {
	if len(list) == 0 {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.String())
	}
	return out
}
