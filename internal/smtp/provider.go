package smtp

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shineum/mailsend-lite/internal/email"
)

// Provider delivers messages through the direct-socket client. It satisfies
// provider.Provider.
type Provider struct {
	cfg    TransportConfig
	opts   []SessionOption
	logger *slog.Logger
}

// NewProvider returns a Provider sending with cfg. The configuration is
// validated up front.
func NewProvider(cfg TransportConfig, opts ...SessionOption) (*Provider, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Provider{cfg: cfg, opts: opts, logger: slog.Default()}, nil
}

// Send delivers msg over a fresh session and logs its transcript.
func (p *Provider) Send(ctx context.Context, msg *email.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("smtp: %w", err)
	}

	transcript, err := Send(ctx, msg, p.cfg, p.opts...)
	p.logger.Debug("smtp transcript",
		"session", transcript.ID(),
		"steps", transcript.Steps(),
		"data_code", transcript.Code(StepData),
	)
	return err
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "smtp"
}
