// Package smtptest runs a scripted, in-process SMTP server for exercising the
// SMTP client against a real socket.
package smtptest

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// closeTimeout is the maximum time Close waits for in-flight sessions.
const closeTimeout = 5 * time.Second

// Option configures a Server.
type Option func(*Server)

// WithHostname sets the name used in the greeting and EHLO replies.
func WithHostname(name string) Option {
	return func(s *Server) { s.hostname = name }
}

// WithStartTLS advertises STARTTLS and upgrades with cfg.
func WithStartTLS(cfg *tls.Config) Option {
	return func(s *Server) { s.tlsConfig = cfg }
}

// WithImplicitTLS wraps every accepted connection in TLS before the greeting.
func WithImplicitTLS(cfg *tls.Config) Option {
	return func(s *Server) {
		s.tlsConfig = cfg
		s.implicitTLS = true
	}
}

// WithAuth advertises AUTH LOGIN and accepts only the given account.
func WithAuth(username, password string) Option {
	return func(s *Server) { s.auth = &loginAuth{username: username, password: password} }
}

// WithReply answers verb (e.g. "RCPT") with reply instead of running the
// command. reply may contain "\r\n" separated lines.
func WithReply(verb, reply string) Option {
	return func(s *Server) { s.replies[strings.ToUpper(verb)] = reply }
}

// WithDataReply sets the reply sent after the end of the DATA payload.
func WithDataReply(reply string) Option {
	return func(s *Server) { s.dataReply = reply }
}

// WithStall makes the server never answer verb. "GREETING" stalls the
// greeting itself.
func WithStall(verb string) Option {
	return func(s *Server) { s.stall[strings.ToUpper(verb)] = true }
}

// WithGreeting replaces the greeting reply. It may be multi-line.
func WithGreeting(reply string) Option {
	return func(s *Server) { s.greeting = reply }
}

// Server is an SMTP server that records what clients send.
type Server struct {
	hostname    string
	greeting    string
	tlsConfig   *tls.Config
	implicitTLS bool
	auth        *loginAuth
	replies     map[string]string
	stall       map[string]bool
	dataReply   string

	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu       sync.Mutex
	commands []string
	messages []string
	sessions int
}

// New creates a Server. Call Start to begin accepting connections.
func New(opts ...Option) *Server {
	s := &Server{
		hostname:  "mx.test.local",
		replies:   make(map[string]string),
		stall:     make(map[string]bool),
		dataReply: "250 OK message accepted",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.greeting == "" {
		s.greeting = "220 " + s.hostname + " ESMTP smtptest"
	}
	return s
}

// Start listens on a random loopback port and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	if s.implicitTLS {
		ln = tls.NewListener(ln, s.tlsConfig)
	}
	s.listener = ln

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.serve(ctx)
	}()
	return nil
}

func (s *Server) serve(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Debug("smtptest accept error", "error", err)
			continue
		}

		s.mu.Lock()
		s.sessions++
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			newSession(conn, s).handle(ctx)
		}()
	}
}

// Close stops the listener and waits briefly for sessions to finish.
func (s *Server) Close() {
	if s.listener == nil {
		return
	}
	s.cancel()
	s.listener.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(closeTimeout):
		slog.Warn("smtptest close timeout reached")
	}
}

// Host returns the listener IP.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.listener.Addr().String())
	return host
}

// Port returns the listener port.
func (s *Server) Port() int {
	_, port, _ := net.SplitHostPort(s.listener.Addr().String())
	n, _ := strconv.Atoi(port)
	return n
}

// Addr returns host:port of the listener.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Commands returns every command line received so far, in order. DATA
// payloads are not included.
func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.commands))
	copy(out, s.commands)
	return out
}

// Messages returns the DATA payloads received so far, dot-unstuffed.
func (s *Server) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.messages))
	copy(out, s.messages)
	return out
}

// Sessions returns the number of accepted connections.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions
}

func (s *Server) recordCommand(line string) {
	s.mu.Lock()
	s.commands = append(s.commands, line)
	s.mu.Unlock()
}

func (s *Server) recordMessage(data string) {
	s.mu.Lock()
	s.messages = append(s.messages, data)
	s.mu.Unlock()
}
