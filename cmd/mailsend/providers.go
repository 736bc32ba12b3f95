package main

import (
	"context"
	"crypto/x509"
	"fmt"
	"io"
	"log/slog"

	"github.com/shineum/mailsend-lite/internal/config"
	"github.com/shineum/mailsend-lite/internal/provider"
	"github.com/shineum/mailsend-lite/internal/provider/gomailer"
	"github.com/shineum/mailsend-lite/internal/provider/graph"
	"github.com/shineum/mailsend-lite/internal/provider/resend"
	"github.com/shineum/mailsend-lite/internal/provider/ses"
	"github.com/shineum/mailsend-lite/internal/provider/stdout"
	"github.com/shineum/mailsend-lite/internal/smtp"
	smtptls "github.com/shineum/mailsend-lite/internal/tls"
)

// transportConfig maps the smtp configuration section onto the client
// options.
func transportConfig(cfg *config.Config) (smtp.TransportConfig, error) {
	scheme, err := smtp.ParseScheme(cfg.SMTP.Scheme)
	if err != nil {
		return smtp.TransportConfig{}, err
	}

	roots, err := rootCAs(cfg)
	if err != nil {
		return smtp.TransportConfig{}, err
	}

	// Zero values are left out so the client defaults apply.
	opts := []smtp.Option{
		smtp.WithScheme(scheme),
		smtp.WithLocalName(cfg.SMTP.LocalName),
		smtp.WithContentType(cfg.SMTP.ContentType),
		smtp.WithTLSOptions(smtp.TLSOptions{
			VerifyPeer:     cfg.SMTP.VerifyPeer,
			VerifyPeerName: cfg.SMTP.VerifyPeerName,
			RootCAs:        roots,
		}),
	}
	if cfg.SMTP.Port != 0 {
		opts = append(opts, smtp.WithPort(cfg.SMTP.Port))
	}
	if cfg.SMTP.ConnectTimeout != 0 {
		opts = append(opts, smtp.WithConnectTimeout(cfg.SMTP.ConnectTimeout))
	}
	if cfg.SMTP.ResponseTimeout != 0 {
		opts = append(opts, smtp.WithResponseTimeout(cfg.SMTP.ResponseTimeout))
	}
	if cfg.SMTP.Charset != "" {
		opts = append(opts, smtp.WithCharset(cfg.SMTP.Charset))
	}
	if cfg.SMTP.Username != "" {
		opts = append(opts, smtp.WithCredentials(cfg.SMTP.Username, cfg.SMTP.Password))
	}
	if cfg.SMTP.StrictAuth {
		opts = append(opts, smtp.WithStrictAuth())
	}
	if cfg.SMTP.ValidateReplies {
		opts = append(opts, smtp.WithReplyValidation())
	}

	return smtp.NewTransportConfig(cfg.SMTP.Host, opts...)
}

// rootCAs loads smtp.ca_file, or returns nil to use the system roots.
func rootCAs(cfg *config.Config) (*x509.CertPool, error) {
	if cfg.SMTP.CAFile == "" {
		return nil, nil
	}
	return smtptls.LoadRootCAs(cfg.SMTP.CAFile)
}

// selectProvider creates the delivery backend named by cfg.Provider.
func selectProvider(ctx context.Context, cfg *config.Config, out io.Writer) (provider.Provider, error) {
	maxSize, err := cfg.MaxAttachmentBytes()
	if err != nil {
		return nil, err
	}

	switch cfg.Provider {
	case "smtp":
		tc, err := transportConfig(cfg)
		if err != nil {
			return nil, err
		}
		slog.Info("using smtp provider", "addr", tc.Addr(), "scheme", tc.Scheme)
		return smtp.NewProvider(tc)

	case "gomail":
		roots, err := rootCAs(cfg)
		if err != nil {
			return nil, err
		}
		slog.Info("using gomail provider",
			"host", cfg.SMTP.Host,
			"port", cfg.SMTP.Port,
		)
		return gomailer.New(gomailer.Config{
			Host:           cfg.SMTP.Host,
			Port:           cfg.SMTP.Port,
			Username:       cfg.SMTP.Username,
			Password:       cfg.SMTP.Password,
			SSL:            cfg.SMTP.Scheme == string(smtp.SchemeSSL),
			LocalName:      cfg.SMTP.LocalName,
			VerifyPeer:     cfg.SMTP.VerifyPeer,
			VerifyPeerName: cfg.SMTP.VerifyPeerName,
			RootCAs:        roots,
			Charset:        cfg.SMTP.Charset,
		}), nil

	case "ses":
		slog.Info("using AWS SES provider",
			"region", cfg.SES.Region,
			"sender", cfg.SES.Sender,
		)
		return ses.New(ctx, ses.SESProviderConfig{
			Region:            cfg.SES.Region,
			AccessKeyID:       cfg.SES.AccessKeyID,
			SecretAccessKey:   cfg.SES.SecretAccessKey,
			Sender:            cfg.SES.Sender,
			MaxAttachmentSize: maxSize,
		})

	case "graph":
		slog.Info("using Microsoft Graph provider",
			"sender", cfg.Graph.Sender,
		)
		return graph.New(graph.GraphProviderConfig{
			TenantID:          cfg.Graph.TenantID,
			ClientID:          cfg.Graph.ClientID,
			ClientSecret:      cfg.Graph.ClientSecret,
			Sender:            cfg.Graph.Sender,
			MaxAttachmentSize: maxSize,
		}), nil

	case "resend":
		slog.Info("using Resend provider",
			"sender", cfg.Resend.Sender,
		)
		return resend.New(resend.Config{
			APIKey:            cfg.Resend.APIKey,
			Sender:            cfg.Resend.Sender,
			MaxAttachmentSize: maxSize,
		}), nil

	case "stdout":
		slog.Info("using stdout provider")
		return stdout.NewWithWriter(out), nil
	}

	return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
}
