package smtptest

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"
)

// Session states for the server side of the conversation.
const (
	stateConnected = iota
	stateGreeted
	stateAuthOK
	stateMailFrom
	stateRcptTo
)

// idleTimeout bounds how long a session waits for the next command.
const idleTimeout = 30 * time.Second

// maxMessageSize is advertised in the EHLO SIZE capability.
const maxMessageSize = 10 * 1024 * 1024

// session serves one client connection.
type session struct {
	srv    *Server
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	state  int

	tlsActive bool
	mailFrom  string
	rcptTo    []string
}

func newSession(conn net.Conn, srv *Server) *session {
	_, implicit := conn.(*tls.Conn)
	return &session{
		srv:       srv,
		conn:      conn,
		reader:    bufio.NewReader(conn),
		writer:    bufio.NewWriter(conn),
		state:     stateConnected,
		tlsActive: implicit,
	}
}

// handle runs the command loop until QUIT, a read error or shutdown.
func (s *session) handle(ctx context.Context) {
	defer s.conn.Close()

	if !s.srv.stall["GREETING"] {
		s.writeReply(s.srv.greeting)
	}

	for {
		select {
		case <-ctx.Done():
			s.writeLine("421 Service shutting down")
			return
		default:
		}

		if err := s.conn.SetDeadline(time.Now().Add(idleTimeout)); err != nil {
			return
		}

		line, err := s.reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				slog.Debug("smtptest read error", "error", err)
			}
			return
		}
		line = strings.TrimRight(line, "\r\n")
		s.srv.recordCommand(line)

		cmd, arg := parseCommand(line)
		if s.srv.stall[cmd] {
			continue
		}
		if reply, ok := s.srv.replies[cmd]; ok {
			s.writeReply(reply)
			if cmd == "QUIT" {
				return
			}
			continue
		}
		if s.handleCommand(cmd, arg) {
			return
		}
	}
}

// handleCommand processes one command and reports whether the session ends.
func (s *session) handleCommand(cmd, arg string) bool {
	switch cmd {
	case "EHLO", "HELO":
		s.handleEHLO(cmd, arg)
	case "STARTTLS":
		s.handleSTARTTLS()
	case "AUTH":
		s.handleAUTH(arg)
	case "MAIL":
		s.handleMAIL(arg)
	case "RCPT":
		s.handleRCPT(arg)
	case "VRFY":
		s.writeLine("252 Cannot VRFY user, but will accept message")
	case "DATA":
		s.handleDATA()
	case "RSET":
		s.resetTransaction()
		s.writeLine("250 OK")
	case "NOOP":
		s.writeLine("250 OK")
	case "QUIT":
		s.writeLine("221 Bye")
		return true
	default:
		s.writeLine("500 Unrecognized command")
	}
	return false
}

func (s *session) handleEHLO(cmd, arg string) {
	if arg == "" {
		s.writeLine("501 Syntax: %s hostname", cmd)
		return
	}
	s.state = stateGreeted

	if cmd == "HELO" {
		s.writeLine("250 %s Hello %s", s.srv.hostname, arg)
		return
	}

	s.writeLine("250-%s Hello %s", s.srv.hostname, arg)
	if s.srv.tlsConfig != nil && !s.tlsActive {
		s.writeLine("250-STARTTLS")
	}
	if s.srv.auth.enabled() {
		s.writeLine("250-AUTH LOGIN")
	}
	s.writeLine("250-SIZE %d", maxMessageSize)
	s.writeLine("250 OK")
}

func (s *session) handleSTARTTLS() {
	if s.srv.tlsConfig == nil {
		s.writeLine("454 TLS not available")
		return
	}
	if s.tlsActive {
		s.writeLine("454 TLS already active")
		return
	}

	s.writeLine("220 Ready to start TLS")

	tlsConn := tls.Server(s.conn, s.srv.tlsConfig)
	if err := tlsConn.Handshake(); err != nil {
		slog.Debug("smtptest TLS handshake failed", "error", err)
		return
	}

	s.conn = tlsConn
	s.reader = bufio.NewReader(tlsConn)
	s.writer = bufio.NewWriter(tlsConn)
	s.tlsActive = true
	s.state = stateConnected
}

// handleAUTH runs the LOGIN challenge-response exchange.
func (s *session) handleAUTH(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO first")
		return
	}
	if !s.srv.auth.enabled() {
		s.writeLine("503 AUTH not available")
		return
	}
	if mech := strings.ToUpper(strings.TrimSpace(arg)); mech != "LOGIN" {
		s.writeLine("504 Unrecognized authentication type")
		return
	}

	s.writeLine("334 VXNlcm5hbWU6")
	user, ok := s.readAuthLine()
	if !ok {
		return
	}
	s.writeLine("334 UGFzc3dvcmQ6")
	pass, ok := s.readAuthLine()
	if !ok {
		return
	}

	if err := s.srv.auth.verify(user, pass); err != nil {
		s.writeLine("535 Authentication failed")
		return
	}
	s.state = stateAuthOK
	s.writeLine("235 Authentication successful")
}

func (s *session) readAuthLine() (string, bool) {
	line, err := s.reader.ReadString('\n')
	if err != nil {
		return "", false
	}
	line = strings.TrimRight(line, "\r\n")
	s.srv.recordCommand(line)
	if line == "*" {
		s.writeLine("501 Authentication cancelled")
		return "", false
	}
	return line, true
}

func (s *session) handleMAIL(arg string) {
	if s.state < stateGreeted {
		s.writeLine("503 Send EHLO first")
		return
	}
	if s.srv.auth.enabled() && s.state < stateAuthOK {
		s.writeLine("530 Authentication required")
		return
	}
	if !strings.HasPrefix(strings.ToUpper(arg), "FROM:") {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}
	addr := extractAddress(arg[5:])
	if addr == "" {
		s.writeLine("501 Syntax: MAIL FROM:<address>")
		return
	}

	s.mailFrom = addr
	s.rcptTo = nil
	s.state = stateMailFrom
	s.writeLine("250 OK")
}

func (s *session) handleRCPT(arg string) {
	if s.state < stateMailFrom {
		s.writeLine("503 Send MAIL FROM first")
		return
	}
	if !strings.HasPrefix(strings.ToUpper(arg), "TO:") {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}
	addr := extractAddress(arg[3:])
	if addr == "" {
		s.writeLine("501 Syntax: RCPT TO:<address>")
		return
	}

	s.rcptTo = append(s.rcptTo, addr)
	s.state = stateRcptTo
	s.writeLine("250 OK")
}

// handleDATA reads the payload up to the lone dot line and records it
// with dot-stuffing removed.
func (s *session) handleDATA() {
	if s.state < stateRcptTo {
		s.writeLine("503 Send RCPT TO first")
		return
	}

	s.writeLine("354 Start mail input; end with <CRLF>.<CRLF>")

	var data strings.Builder
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			slog.Debug("smtptest error reading DATA", "error", err)
			return
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "." {
			break
		}
		if strings.HasPrefix(trimmed, "..") {
			line = line[1:]
		}
		data.WriteString(line)
	}

	s.srv.recordMessage(data.String())
	if s.srv.stall["DATA-END"] {
		return
	}
	s.writeReply(s.srv.dataReply)
	s.resetTransaction()
}

func (s *session) resetTransaction() {
	s.mailFrom = ""
	s.rcptTo = nil
	if s.srv.auth.enabled() && s.state >= stateAuthOK {
		s.state = stateAuthOK
	} else if s.state >= stateGreeted {
		s.state = stateGreeted
	}
}

// writeReply writes a possibly multi-line scripted reply.
func (s *session) writeReply(reply string) {
	for _, line := range strings.Split(reply, "\r\n") {
		s.writeLine("%s", line)
	}
}

func (s *session) writeLine(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	if _, err := s.writer.WriteString(line + "\r\n"); err != nil {
		return
	}
	if err := s.writer.Flush(); err != nil {
		slog.Debug("smtptest flush failed", "error", err)
	}
}

// parseCommand splits a command line into its upper-cased verb and argument.
func parseCommand(line string) (string, string) {
	parts := strings.SplitN(line, " ", 2)
	cmd := strings.ToUpper(parts[0])
	arg := ""
	if len(parts) > 1 {
		arg = parts[1]
	}
	return cmd, arg
}

// extractAddress returns the address inside angle brackets, or the bare
// argument when there are none. Trailing parameters are ignored.
func extractAddress(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "<") {
		end := strings.Index(s, ">")
		if end < 0 {
			return ""
		}
		return s[1:end]
	}
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i]
	}
	return s
}
