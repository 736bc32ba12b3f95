// Package smtp implements a direct-socket SMTP client: it opens one
// connection per send, optionally negotiates TLS and authenticates, runs the
// MAIL/RCPT/DATA transaction and returns the ordered transcript of replies.
package smtp

import (
	"crypto/x509"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// Defaults applied by NewTransportConfig.
const (
	DefaultPort            = 25
	DefaultConnectTimeout  = 30 * time.Second
	DefaultResponseTimeout = 8 * time.Second
	DefaultCharset         = "utf-8"
)

// Scheme selects how the connection is secured.
type Scheme string

const (
	// SchemeSSL encrypts the connection when it is established.
	SchemeSSL Scheme = "ssl"
	// SchemeStartTLS connects in plain text and upgrades with STARTTLS.
	SchemeStartTLS Scheme = "tls"
	// SchemePlain never encrypts.
	SchemePlain Scheme = "plain"
)

// ParseScheme maps a configuration string to a Scheme. "tcp" and "starttls"
// are accepted as aliases for SchemeStartTLS.
func ParseScheme(s string) (Scheme, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ssl", "smtps":
		return SchemeSSL, nil
	case "tls", "tcp", "starttls":
		return SchemeStartTLS, nil
	case "plain", "none", "smtp":
		return SchemePlain, nil
	}
	return "", &ConfigurationError{Field: "scheme", Reason: fmt.Sprintf("unknown scheme %q", s)}
}

// TLSOptions are the socket options applied whenever the connection is
// encrypted.
type TLSOptions struct {
	// VerifyPeer enables certificate chain verification. It also appends the
	// XVERP flag to MAIL FROM.
	VerifyPeer bool
	// VerifyPeerName enables host name verification. It is also announced
	// as the VRFY argument.
	VerifyPeerName bool
	// ServerName overrides the name checked against the certificate.
	// Defaults to the host.
	ServerName string
	// RootCAs overrides the system roots.
	RootCAs *x509.CertPool
}

// Credentials enable AUTH LOGIN.
type Credentials struct {
	Username string
	Password string
}

// TransportConfig holds the connection parameters of one send. It is read
// only for the duration of the send.
type TransportConfig struct {
	Host            string
	Port            int
	Scheme          Scheme
	LocalName       string
	ConnectTimeout  time.Duration
	ResponseTimeout time.Duration
	Charset         string
	// ContentType, when set, replaces the derived Content-type header.
	ContentType string
	TLS         TLSOptions
	Credentials *Credentials

	// StrictAuth aborts the send on a 5xx reply to AUTH, USERNAME or PASSWORD.
	StrictAuth bool
	// ValidateReplies aborts the send on any 4xx or 5xx reply.
	ValidateReplies bool
}

// Option configures a TransportConfig.
type Option func(*TransportConfig)

// WithPort sets the server port.
func WithPort(port int) Option {
	return func(c *TransportConfig) { c.Port = port }
}

// WithScheme sets the connection scheme.
func WithScheme(s Scheme) Option {
	return func(c *TransportConfig) { c.Scheme = s }
}

// WithLocalName sets the identity announced with EHLO.
func WithLocalName(name string) Option {
	return func(c *TransportConfig) { c.LocalName = name }
}

// WithConnectTimeout bounds connection establishment.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *TransportConfig) { c.ConnectTimeout = d }
}

// WithResponseTimeout bounds each individual reply.
func WithResponseTimeout(d time.Duration) Option {
	return func(c *TransportConfig) { c.ResponseTimeout = d }
}

// WithCharset sets the charset used in the Content-type header.
func WithCharset(charset string) Option {
	return func(c *TransportConfig) { c.Charset = charset }
}

// WithContentType overrides the derived Content-type header.
func WithContentType(ct string) Option {
	return func(c *TransportConfig) { c.ContentType = ct }
}

// WithTLSOptions sets the TLS socket options.
func WithTLSOptions(o TLSOptions) Option {
	return func(c *TransportConfig) { c.TLS = o }
}

// WithCredentials enables AUTH LOGIN with the given credentials.
func WithCredentials(username, password string) Option {
	return func(c *TransportConfig) {
		c.Credentials = &Credentials{Username: username, Password: password}
	}
}

// WithStrictAuth makes a 5xx reply during authentication fatal.
func WithStrictAuth() Option {
	return func(c *TransportConfig) { c.StrictAuth = true }
}

// WithReplyValidation makes any 4xx or 5xx reply fatal.
func WithReplyValidation() Option {
	return func(c *TransportConfig) { c.ValidateReplies = true }
}

// NewTransportConfig returns a validated configuration for host with the
// defaults applied before opts.
func NewTransportConfig(host string, opts ...Option) (TransportConfig, error) {
	cfg := TransportConfig{Host: host}
	cfg.applyDefaults()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.LocalName == "" {
		cfg.LocalName = cfg.Host
	}
	if err := cfg.Validate(); err != nil {
		return TransportConfig{}, err
	}
	return cfg, nil
}

// applyDefaults fills zero fields with their defaults.
func (c *TransportConfig) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Scheme == "" {
		c.Scheme = SchemeSSL
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.ResponseTimeout == 0 {
		c.ResponseTimeout = DefaultResponseTimeout
	}
	if c.Charset == "" {
		c.Charset = DefaultCharset
	}
}

// withDefaults returns a copy with defaults applied and LocalName resolved.
func (c TransportConfig) withDefaults() TransportConfig {
	c.applyDefaults()
	if c.LocalName == "" {
		c.LocalName = c.Host
	}
	return c
}

// Validate reports the first malformed field as a *ConfigurationError.
func (c TransportConfig) Validate() error {
	if c.Host == "" {
		return &ConfigurationError{Field: "host", Reason: "must not be empty"}
	}
	if strings.ContainsAny(c.Host, " \t\r\n/") {
		return &ConfigurationError{Field: "host", Reason: fmt.Sprintf("%q is not a host name", c.Host)}
	}
	// Only IPv6 literals may contain a colon; "host:port" belongs in Port.
	if strings.Contains(c.Host, ":") && net.ParseIP(c.Host) == nil {
		return &ConfigurationError{Field: "host", Reason: fmt.Sprintf("%q must not include a port", c.Host)}
	}
	if c.Port < 1 || c.Port > 65535 {
		return &ConfigurationError{Field: "port", Reason: fmt.Sprintf("%d is out of range", c.Port)}
	}
	switch c.Scheme {
	case SchemeSSL, SchemeStartTLS, SchemePlain:
	default:
		return &ConfigurationError{Field: "scheme", Reason: fmt.Sprintf("unknown scheme %q", c.Scheme)}
	}
	if c.LocalName != "" && strings.ContainsAny(c.LocalName, " \t\r\n") {
		return &ConfigurationError{Field: "local name", Reason: fmt.Sprintf("%q contains whitespace", c.LocalName)}
	}
	if c.ConnectTimeout <= 0 {
		return &ConfigurationError{Field: "connect timeout", Reason: "must be positive"}
	}
	if c.ResponseTimeout <= 0 {
		return &ConfigurationError{Field: "response timeout", Reason: "must be positive"}
	}
	if strings.ContainsAny(c.Charset, "\r\n") || strings.ContainsAny(c.ContentType, "\r\n") {
		return &ConfigurationError{Field: "content type", Reason: "contains a line break"}
	}
	if c.Credentials != nil && c.Credentials.Username == "" {
		return &ConfigurationError{Field: "credentials", Reason: "username must not be empty"}
	}
	return nil
}

// Addr returns host:port.
func (c TransportConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
