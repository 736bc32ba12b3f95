// Package provider defines the interface for email delivery backends.
package provider

import (
	"context"

	"github.com/shineum/mailsend-lite/internal/email"
)

// Provider is the interface that email delivery backends must implement.
// Each provider hands a composed message to one transport: a direct SMTP
// connection, an SMTP library, or an HTTP mail API.
type Provider interface {
	// Send delivers an email message through this provider.
	// It returns an error if the delivery fails.
	Send(ctx context.Context, msg *email.Message) error

	// Name returns the human-readable name of this provider.
	Name() string
}
