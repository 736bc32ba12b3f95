package smtptest

import (
	"bufio"
	"net"
	"strings"
	"testing"
	"time"
)

// dial connects to srv and returns the reader with the greeting consumed.
func dial(t *testing.T, srv *Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", srv.Addr(), 5*time.Second)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	reader := bufio.NewReader(conn)
	greeting := readLine(t, reader)
	if !strings.HasPrefix(greeting, "220 ") {
		t.Fatalf("greeting: got %q, want prefix '220 '", greeting)
	}
	return conn, reader
}

func start(t *testing.T, opts ...Option) *Server {
	t.Helper()
	srv := New(opts...)
	if err := srv.Start(); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	t.Cleanup(srv.Close)
	return srv
}

func readLine(t *testing.T, reader *bufio.Reader) string {
	t.Helper()
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatalf("failed to read line: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

// readReply reads a complete, possibly multi-line, reply.
func readReply(t *testing.T, reader *bufio.Reader) []string {
	t.Helper()
	var lines []string
	for {
		line := readLine(t, reader)
		lines = append(lines, line)
		if len(line) < 4 || line[3] == ' ' {
			return lines
		}
	}
}

func sendCmd(t *testing.T, conn net.Conn, cmd string) {
	t.Helper()
	if _, err := conn.Write([]byte(cmd + "\r\n")); err != nil {
		t.Fatalf("failed to write command: %v", err)
	}
}

func TestSession_EHLOCapabilities(t *testing.T) {
	t.Parallel()

	srv := start(t, WithHostname("mail.test.com"), WithAuth("user", "pass"))
	conn, reader := dial(t, srv)

	sendCmd(t, conn, "EHLO client.test.com")
	lines := readReply(t, reader)

	joined := strings.Join(lines, "\n")
	if !strings.Contains(lines[0], "mail.test.com") {
		t.Errorf("first EHLO line should name the host, got %q", lines[0])
	}
	if !strings.Contains(joined, "AUTH LOGIN") {
		t.Error("EHLO response missing AUTH capability")
	}
	if strings.Contains(joined, "STARTTLS") {
		t.Error("STARTTLS advertised without TLS config")
	}
	if last := lines[len(lines)-1]; !strings.HasPrefix(last, "250 ") {
		t.Errorf("last EHLO line: got %q, want prefix '250 '", last)
	}
}

func TestSession_FullTransaction(t *testing.T) {
	t.Parallel()

	srv := start(t)
	conn, reader := dial(t, srv)

	steps := []struct {
		cmd  string
		want string
	}{
		{"HELO client", "250 "},
		{"MAIL FROM:<a@example.com> XVERP", "250 "},
		{"VRFY ", "252 "},
		{"RCPT TO:<b@example.com>", "250 "},
		{"DATA", "354 "},
	}
	for _, step := range steps {
		sendCmd(t, conn, step.cmd)
		if got := readLine(t, reader); !strings.HasPrefix(got, step.want) {
			t.Fatalf("%s: got %q, want prefix %q", step.cmd, got, step.want)
		}
	}

	sendCmd(t, conn, "Subject: hi\r\n\r\n..dotted\r\nbody\r\n.")
	if got := readLine(t, reader); !strings.HasPrefix(got, "250 ") {
		t.Fatalf("end of data: got %q", got)
	}
	sendCmd(t, conn, "QUIT")
	if got := readLine(t, reader); !strings.HasPrefix(got, "221 ") {
		t.Fatalf("QUIT: got %q", got)
	}

	msgs := srv.Messages()
	if len(msgs) != 1 {
		t.Fatalf("messages: got %d, want 1", len(msgs))
	}
	if want := "Subject: hi\r\n\r\n.dotted\r\nbody\r\n"; msgs[0] != want {
		t.Errorf("message: got %q, want %q", msgs[0], want)
	}

	cmds := srv.Commands()
	if cmds[0] != "HELO client" || cmds[len(cmds)-1] != "QUIT" {
		t.Errorf("commands: got %v", cmds)
	}
}

func TestSession_AuthLogin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		pass string
		want string
	}{
		{name: "accepted", pass: "pass", want: "235 "},
		{name: "rejected", pass: "nope", want: "535 "},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			srv := start(t, WithAuth("user", "pass"))
			conn, reader := dial(t, srv)

			sendCmd(t, conn, "EHLO client")
			readReply(t, reader)

			sendCmd(t, conn, "AUTH LOGIN")
			if got := readLine(t, reader); got != "334 VXNlcm5hbWU6" {
				t.Fatalf("username challenge: got %q", got)
			}
			sendCmd(t, conn, b64("user"))
			if got := readLine(t, reader); got != "334 UGFzc3dvcmQ6" {
				t.Fatalf("password challenge: got %q", got)
			}
			sendCmd(t, conn, b64(tt.pass))
			if got := readLine(t, reader); !strings.HasPrefix(got, tt.want) {
				t.Errorf("AUTH result: got %q, want prefix %q", got, tt.want)
			}
		})
	}
}

func TestSession_MailRequiresAuth(t *testing.T) {
	t.Parallel()

	srv := start(t, WithAuth("user", "pass"))
	conn, reader := dial(t, srv)

	sendCmd(t, conn, "EHLO client")
	readReply(t, reader)
	sendCmd(t, conn, "MAIL FROM:<a@example.com>")
	if got := readLine(t, reader); !strings.HasPrefix(got, "530 ") {
		t.Errorf("MAIL before AUTH: got %q, want prefix '530 '", got)
	}
}

func TestSession_ScriptedReply(t *testing.T) {
	t.Parallel()

	srv := start(t, WithReply("rcpt", "550-No such user\r\n550 Rejected"))
	conn, reader := dial(t, srv)

	sendCmd(t, conn, "HELO client")
	readLine(t, reader)
	sendCmd(t, conn, "MAIL FROM:<a@example.com>")
	readLine(t, reader)
	sendCmd(t, conn, "RCPT TO:<b@example.com>")

	lines := readReply(t, reader)
	if len(lines) != 2 || lines[0] != "550-No such user" || lines[1] != "550 Rejected" {
		t.Errorf("scripted reply: got %v", lines)
	}
}

func TestSession_Stall(t *testing.T) {
	t.Parallel()

	srv := start(t, WithStall("NOOP"))
	conn, reader := dial(t, srv)

	sendCmd(t, conn, "NOOP")
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, err := reader.ReadString('\n'); err == nil {
		t.Error("expected no reply to a stalled command")
	}
}

func TestSession_StartTLSUnavailable(t *testing.T) {
	t.Parallel()

	srv := start(t)
	conn, reader := dial(t, srv)

	sendCmd(t, conn, "STARTTLS")
	if got := readLine(t, reader); !strings.HasPrefix(got, "454 ") {
		t.Errorf("STARTTLS without config: got %q, want prefix '454 '", got)
	}
}

func TestSession_SequenceErrors(t *testing.T) {
	t.Parallel()

	srv := start(t)
	conn, reader := dial(t, srv)

	for _, tc := range []struct{ cmd, want string }{
		{"MAIL FROM:<a@example.com>", "503 "},
		{"EHLO", "501 "},
		{"BOGUS", "500 "},
		{"HELO client", "250 "},
		{"RCPT TO:<b@example.com>", "503 "},
		{"DATA", "503 "},
		{"RSET", "250 "},
	} {
		sendCmd(t, conn, tc.cmd)
		lines := readReply(t, reader)
		if got := lines[len(lines)-1]; !strings.HasPrefix(got, tc.want) {
			t.Errorf("%s: got %q, want prefix %q", tc.cmd, got, tc.want)
		}
	}
}

func TestExtractAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"<a@example.com>", "a@example.com"},
		{"<a@example.com> XVERP", "a@example.com"},
		{"a@example.com", "a@example.com"},
		{"a@example.com SIZE=10", "a@example.com"},
		{"<broken", ""},
	}
	for _, tt := range tests {
		if got := extractAddress(tt.in); got != tt.want {
			t.Errorf("extractAddress(%q): got %q, want %q", tt.in, got, tt.want)
		}
	}
}
