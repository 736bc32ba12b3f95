package smtp

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shineum/mailsend-lite/internal/email"
	smtptls "github.com/shineum/mailsend-lite/internal/tls"
)

// authSteps are validated under TransportConfig.StrictAuth.
var authSteps = map[string]bool{
	StepAuth:     true,
	StepUsername: true,
	StepPassword: true,
}

// ContextDialer opens the underlying connection. *net.Dialer implements it.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithDialer replaces the network dialer.
func WithDialer(d ContextDialer) SessionOption {
	return func(s *Session) { s.dialer = d }
}

// WithClock replaces the clock used for the Date header.
func WithClock(now func() time.Time) SessionOption {
	return func(s *Session) { s.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// Session is one send attempt. It owns its connection and transcript
// exclusively and cannot be reused; create a new Session to retry.
type Session struct {
	// ID identifies the attempt in logs and in the transcript.
	ID string

	msg    *email.Message
	cfg    TransportConfig
	dialer ContextDialer
	now    func() time.Time
	logger *slog.Logger

	transcript *Transcript
	ch         *channel
	used       bool
}

// NewSession validates cfg and msg and prepares a send. No network activity
// happens until Run.
func NewSession(msg *email.Message, cfg TransportConfig, opts ...SessionOption) (*Session, error) {
	if msg == nil {
		return nil, &ConfigurationError{Field: "message", Reason: "must not be nil"}
	}
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := validateEnvelope(msg); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	s := &Session{
		ID:         id,
		msg:        msg,
		cfg:        cfg,
		now:        time.Now,
		logger:     slog.Default(),
		transcript: newTranscript(id),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dialer == nil {
		s.dialer = &net.Dialer{Timeout: cfg.ConnectTimeout}
	}
	s.logger = s.logger.With("session", id, "addr", cfg.Addr())

	return s, nil
}

// Send delivers msg over a new connection described by cfg and returns the
// transcript of the attempt. The transcript is returned on success and on
// failure. When the connection cannot be established the transcript is empty
// and the error matches ErrConnection.
func Send(ctx context.Context, msg *email.Message, cfg TransportConfig, opts ...SessionOption) (*Transcript, error) {
	s, err := NewSession(msg, cfg, opts...)
	if err != nil {
		return newTranscript(""), err
	}
	return s.Run(ctx)
}

// Run executes the protocol exchange. The connection is closed before Run
// returns, whatever the outcome.
func (s *Session) Run(ctx context.Context) (*Transcript, error) {
	if s.used {
		return s.transcript, errSessionUsed
	}
	s.used = true

	conn, err := s.connect(ctx)
	if err != nil {
		s.logger.Warn("smtp connection failed", "error", err)
		return s.transcript, err
	}
	s.ch = newChannel(conn, s.cfg.ResponseTimeout, s.transcript, s.logger)
	defer func() {
		if err := s.ch.close(); err != nil {
			s.logger.Debug("smtp close", "error", err)
		}
	}()

	if err := s.converse(ctx); err != nil {
		var pe *ProtocolError
		if errors.As(err, &pe) && pe.Step != StepQuit {
			// The server is still in step with us, so end the session politely.
			if _, qerr := s.ch.exchange(ctx, "QUIT", StepQuit); qerr != nil {
				s.logger.Debug("smtp quit after rejection", "error", qerr)
			}
		}
		s.logger.Warn("smtp send failed", "error", err)
		return s.transcript, err
	}

	s.logger.Info("smtp message sent",
		"recipients", len(s.msg.To)+len(s.msg.Cc),
		"code", s.transcript.Code(StepData),
	)
	return s.transcript, nil
}

// Transcript returns the transcript of the session.
func (s *Session) Transcript() *Transcript {
	return s.transcript
}

// connect dials the server, encrypting immediately for SchemeSSL.
func (s *Session) connect(ctx context.Context) (net.Conn, error) {
	addr := s.cfg.Addr()
	dctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	conn, err := s.dialer.DialContext(dctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Addr: addr, Err: err}
	}

	if s.cfg.Scheme != SchemeSSL {
		return conn, nil
	}

	tlsConn := tls.Client(conn, s.tlsConfig())
	if err := tlsConn.HandshakeContext(dctx); err != nil {
		conn.Close()
		return nil, &ConnectionError{Op: "tls handshake", Addr: addr, Err: err}
	}
	return tlsConn, nil
}

// converse drives the states from greeting to QUIT.
func (s *Session) converse(ctx context.Context) error {
	if _, err := s.ch.read(ctx, StepConnection); err != nil {
		return err
	}
	if err := s.step(ctx, "EHLO "+s.cfg.LocalName, StepHello); err != nil {
		return err
	}

	if s.cfg.Scheme == SchemeStartTLS {
		if err := s.startTLS(ctx); err != nil {
			return err
		}
		// Identity must be announced again once the security layer changed.
		if err := s.step(ctx, "EHLO "+s.cfg.LocalName, StepHello2); err != nil {
			return err
		}
	}

	if s.cfg.Credentials != nil {
		if err := s.authenticate(ctx); err != nil {
			return err
		}
	}

	if err := s.envelope(ctx); err != nil {
		return err
	}
	if err := s.data(ctx); err != nil {
		return err
	}
	return s.step(ctx, "QUIT", StepQuit)
}

// startTLS upgrades the existing connection in place.
func (s *Session) startTLS(ctx context.Context) error {
	resp, err := s.ch.exchange(ctx, "STARTTLS", StepStartTLS)
	if err != nil {
		return err
	}
	// A handshake cannot follow a refusal regardless of reply validation.
	if resp.Class() != ClassPositiveCompletion {
		return &ProtocolError{Step: StepStartTLS, Response: resp}
	}

	tlsConn := tls.Client(s.ch.conn, s.tlsConfig())
	hctx, cancel := context.WithTimeout(ctx, s.cfg.ResponseTimeout)
	defer cancel()
	if err := tlsConn.HandshakeContext(hctx); err != nil {
		return &ConnectionError{Op: "starttls handshake", Addr: s.cfg.Addr(), Err: err}
	}

	s.ch.replace(tlsConn)
	return nil
}

// authenticate runs AUTH LOGIN. Replies are only checked under StrictAuth
// or ValidateReplies.
func (s *Session) authenticate(ctx context.Context) error {
	creds := s.cfg.Credentials
	if err := s.step(ctx, "AUTH LOGIN", StepAuth); err != nil {
		return err
	}
	if err := s.step(ctx, base64.StdEncoding.EncodeToString([]byte(creds.Username)), StepUsername); err != nil {
		return err
	}
	return s.step(ctx, base64.StdEncoding.EncodeToString([]byte(creds.Password)), StepPassword)
}

// envelope issues MAIL FROM, VRFY and one RCPT TO per To and Cc address.
// Bcc addresses are not envelope recipients.
func (s *Session) envelope(ctx context.Context) error {
	mailFrom := "MAIL FROM:<" + s.msg.From.Email + ">"
	if s.cfg.TLS.VerifyPeer {
		mailFrom += " XVERP"
	}
	if err := s.step(ctx, mailFrom, StepMailFrom); err != nil {
		return err
	}
	if err := s.step(ctx, "VRFY "+wireFlag(s.cfg.TLS.VerifyPeerName), StepVerify); err != nil {
		return err
	}

	s.transcript.open(StepRecipients)
	for _, rcpt := range append(email.Emails(s.msg.To), email.Emails(s.msg.Cc)...) {
		if err := s.step(ctx, "RCPT TO:<"+rcpt+">", StepRecipients); err != nil {
			return err
		}
	}
	return nil
}

// data sends DATA followed by the complete payload as a single command.
func (s *Session) data(ctx context.Context) error {
	if err := s.step(ctx, "DATA", StepData); err != nil {
		return err
	}
	return s.step(ctx, buildPayload(s.msg, s.cfg, s.now()), StepData)
}

// step exchanges one command and applies reply validation.
func (s *Session) step(ctx context.Context, command, name string) error {
	resp, err := s.ch.exchange(ctx, command, name)
	if err != nil {
		return err
	}
	return s.check(name, resp)
}

func (s *Session) check(step string, resp Response) error {
	if s.cfg.ValidateReplies && resp.IsNegative() {
		return &ProtocolError{Step: step, Response: resp}
	}
	if s.cfg.StrictAuth && authSteps[step] && resp.IsPermanent() {
		return &ProtocolError{Step: step, Response: resp}
	}
	return nil
}

func (s *Session) tlsConfig() *tls.Config {
	name := s.cfg.TLS.ServerName
	if name == "" {
		name = s.cfg.Host
	}
	return smtptls.ClientConfig(smtptls.ClientOptions{
		ServerName:     name,
		VerifyPeer:     s.cfg.TLS.VerifyPeer,
		VerifyPeerName: s.cfg.TLS.VerifyPeerName,
		RootCAs:        s.cfg.TLS.RootCAs,
	})
}

// wireFlag renders a boolean option the way it is announced on the wire.
func wireFlag(b bool) string {
	if b {
		return "1"
	}
	return ""
}

// validateEnvelope rejects addresses that would inject extra commands.
func validateEnvelope(msg *email.Message) error {
	check := func(field, v string) error {
		if strings.ContainsAny(v, "\r\n<>") {
			return &ConfigurationError{Field: field, Reason: fmt.Sprintf("%q is not a valid address", v)}
		}
		return nil
	}
	if err := check("sender", msg.From.Email); err != nil {
		return err
	}
	for _, a := range append(append([]email.Address{}, msg.To...), msg.Cc...) {
		if err := check("recipient", a.Email); err != nil {
			return err
		}
	}
	return nil
}
