// Package gomailer implements a Provider that sends emails through the
// gomail SMTP library instead of the direct-socket client.
package gomailer

import (
	"context"
	"crypto/x509"
	"fmt"

	gomail "gopkg.in/gomail.v2"

	"github.com/shineum/mailsend-lite/internal/email"
	smtptls "github.com/shineum/mailsend-lite/internal/tls"
)

// Config holds the SMTP server settings of the library transport.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	// SSL connects with implicit TLS. Otherwise STARTTLS is used when the
	// server offers it.
	SSL       bool
	LocalName string
	// VerifyPeer enables certificate verification. VerifyPeerName also
	// checks the host name.
	VerifyPeer     bool
	VerifyPeerName bool
	// RootCAs overrides the system roots.
	RootCAs *x509.CertPool
	Charset string
}

// Provider sends messages with gomail.
type Provider struct {
	sender  gomail.Sender
	dialer  *gomail.Dialer
	charset string
}

// New creates a Provider that dials cfg.Host for every message.
func New(cfg Config) *Provider {
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.SSL = cfg.SSL
	d.LocalName = cfg.LocalName
	d.TLSConfig = smtptls.ClientConfig(smtptls.ClientOptions{
		ServerName:     cfg.Host,
		VerifyPeer:     cfg.VerifyPeer,
		VerifyPeerName: cfg.VerifyPeerName,
		RootCAs:        cfg.RootCAs,
	})
	return &Provider{dialer: d, charset: charsetOrDefault(cfg.Charset)}
}

// NewWithSender creates a Provider that hands composed messages to s, used
// for testing.
func NewWithSender(cfg Config, s gomail.Sender) *Provider {
	return &Provider{sender: s, charset: charsetOrDefault(cfg.Charset)}
}

// Send composes msg and delivers it. gomail does not take a context, so
// cancellation is only observed before dialing.
func (p *Provider) Send(ctx context.Context, msg *email.Message) error {
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("gomail: %w", err)
	}
	m := p.compose(msg)

	if err := ctx.Err(); err != nil {
		return err
	}

	var err error
	if p.sender != nil {
		err = gomail.Send(p.sender, m)
	} else {
		err = p.dialer.DialAndSend(m)
	}
	if err != nil {
		return fmt.Errorf("gomail: %w", err)
	}
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "gomail"
}

func (p *Provider) compose(msg *email.Message) *gomail.Message {
	m := gomail.NewMessage(gomail.SetCharset(p.charset))

	m.SetAddressHeader("From", msg.From.Email, msg.From.Name)
	setAddressList(m, "To", msg.To)
	setAddressList(m, "Cc", msg.Cc)
	setAddressList(m, "Bcc", msg.Bcc)
	if msg.ReplyTo != "" {
		m.SetHeader("Reply-To", msg.ReplyTo)
	}
	m.SetHeader("Subject", msg.Subject)
	msg.Headers.Each(func(key, value string) {
		m.SetHeader(key, value)
	})

	switch {
	case msg.Text != "" && msg.HTML != "":
		m.SetBody("text/plain", msg.Text)
		m.AddAlternative("text/html", msg.HTML)
	case msg.IsHTML():
		m.SetBody("text/html", msg.HTML)
	default:
		m.SetBody("text/plain", msg.Text)
	}

	for _, att := range msg.Attachments {
		settings := []gomail.FileSetting{gomail.Rename(att.Filename())}
		if att.ContentType != "" {
			settings = append(settings, gomail.SetHeader(map[string][]string{"Content-Type": {att.ContentType}}))
		}
		m.Attach(att.Path, settings...)
	}
	return m
}

func setAddressList(m *gomail.Message, field string, list []email.Address) {
	if len(list) == 0 {
		return
	}
	values := make([]string, 0, len(list))
	for _, a := range list {
		values = append(values, m.FormatAddress(a.Email, a.Name))
	}
	m.SetHeader(field, values...)
}

func charsetOrDefault(charset string) string {
	if charset == "" {
		return "UTF-8"
	}
	return charset
}
