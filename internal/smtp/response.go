package smtp

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// maxReplyLineLen bounds a single reply line to prevent memory exhaustion.
const maxReplyLineLen = 2048

// Reply classes (RFC 5321 section 4.2.1).
const (
	ClassPositiveCompletion   = 2
	ClassPositiveIntermediate = 3
	ClassTransientNegative    = 4
	ClassPermanentNegative    = 5
)

// Response is one complete, possibly multi-line, server reply.
type Response struct {
	// Code is the status code of the terminal line, 0 when unparsable.
	Code int
	// Text is every line of the reply, trimmed and joined with "\n".
	Text string
}

// Class returns the first digit of the code.
func (r Response) Class() int {
	return r.Code / 100
}

// IsPositive reports a 2xx or 3xx reply.
func (r Response) IsPositive() bool {
	c := r.Class()
	return c == ClassPositiveCompletion || c == ClassPositiveIntermediate
}

// IsTransient reports a 4xx reply.
func (r Response) IsTransient() bool {
	return r.Class() == ClassTransientNegative
}

// IsPermanent reports a 5xx reply.
func (r Response) IsPermanent() bool {
	return r.Class() == ClassPermanentNegative
}

// IsNegative reports a 4xx or 5xx reply.
func (r Response) IsNegative() bool {
	return r.IsTransient() || r.IsPermanent()
}

// readResponse reads lines until the terminal line of a reply ("NNN text"
// rather than the "NNN-text" continuation form). The whole reply must arrive
// before deadline. On timeout the returned error is a *ResponseTimeoutError
// carrying the partial text, on EOF a *ConnectionError.
func readResponse(conn net.Conn, r *bufio.Reader, deadline time.Time) (Response, error) {
	if err := conn.SetReadDeadline(deadline); err != nil {
		return Response{}, &ConnectionError{Op: "set deadline", Addr: remoteAddr(conn), Err: err}
	}
	defer conn.SetReadDeadline(time.Time{})

	var lines []string
	for {
		line, err := readLine(r)
		if err != nil {
			partial := joinLines(lines)
			if isTimeout(err) {
				return Response{Text: partial}, &ResponseTimeoutError{Partial: partial}
			}
			return Response{Text: partial}, &ConnectionError{Op: "read", Addr: remoteAddr(conn), Err: err}
		}

		lines = append(lines, strings.TrimSpace(line))
		if isTerminal(line) {
			return Response{Code: parseCode(line), Text: joinLines(lines)}, nil
		}
	}
}

// readLine reads one line without its line ending.
func readLine(r *bufio.Reader) (string, error) {
	var line []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			return "", err
		}
		line = append(line, chunk...)
		if len(line) > maxReplyLineLen {
			return "", fmt.Errorf("reply line longer than %d bytes", maxReplyLineLen)
		}
		if !isPrefix {
			return string(line), nil
		}
	}
}

// isTerminal reports whether line ends a reply: a space after the status
// code, or a bare status code.
func isTerminal(line string) bool {
	if len(line) == 3 {
		return true
	}
	return len(line) > 3 && line[3] == ' '
}

func parseCode(line string) int {
	if len(line) < 3 {
		return 0
	}
	code, err := strconv.Atoi(line[:3])
	if err != nil || code < 100 || code > 599 {
		return 0
	}
	return code
}

func joinLines(lines []string) string {
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func remoteAddr(conn net.Conn) string {
	if a := conn.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}
