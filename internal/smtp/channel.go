package smtp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"
)

const crlf = "\r\n"

// sensitiveSteps carry credentials and are never logged verbatim.
var sensitiveSteps = map[string]bool{
	StepUsername: true,
	StepPassword: true,
}

// channel pairs writing one command with reading its reply and records the
// exchange in the transcript. Every protocol step goes through it.
type channel struct {
	conn       net.Conn
	r          *bufio.Reader
	timeout    time.Duration
	transcript *Transcript
	logger     *slog.Logger
}

func newChannel(conn net.Conn, timeout time.Duration, t *Transcript, logger *slog.Logger) *channel {
	return &channel{
		conn:       conn,
		r:          bufio.NewReader(conn),
		timeout:    timeout,
		transcript: t,
		logger:     logger,
	}
}

// replace swaps the underlying connection after a TLS upgrade.
func (c *channel) replace(conn net.Conn) {
	c.conn = conn
	c.r = bufio.NewReader(conn)
}

// exchange writes command followed by CRLF, reads the reply and records it
// under step.
func (c *channel) exchange(ctx context.Context, command, step string) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, fmt.Errorf("smtp: %s: %w", step, err)
	}

	if sensitiveSteps[step] {
		c.logger.Debug("smtp command", "step", step, "command", "<redacted>")
	} else {
		c.logger.Debug("smtp command", "step", step, "command", firstLine(command))
	}

	if err := c.conn.SetWriteDeadline(c.deadline(ctx)); err != nil {
		return Response{}, &ConnectionError{Op: "set deadline", Addr: remoteAddr(c.conn), Err: err}
	}
	_, err := c.conn.Write([]byte(command + crlf))
	c.conn.SetWriteDeadline(time.Time{})
	if err != nil {
		return Response{}, &ConnectionError{Op: "write " + step, Addr: remoteAddr(c.conn), Err: err}
	}

	return c.read(ctx, step)
}

// read reads one reply without sending anything and records it under step.
// A reply that timed out is recorded with its partial text.
func (c *channel) read(ctx context.Context, step string) (Response, error) {
	resp, err := readResponse(c.conn, c.r, c.deadline(ctx))
	if err != nil {
		var te *ResponseTimeoutError
		if errors.As(err, &te) {
			te.Step = step
			c.transcript.record(step, resp)
			if cerr := contextExpired(ctx); cerr != nil {
				err = fmt.Errorf("smtp: %s: %w", step, cerr)
			}
		}
		c.logger.Debug("smtp reply failed", "step", step, "error", err)
		return resp, err
	}

	c.transcript.record(step, resp)
	c.logger.Debug("smtp reply", "step", step, "code", resp.Code)
	return resp, nil
}

// deadline is the earlier of now+timeout and the context deadline.
func (c *channel) deadline(ctx context.Context) time.Time {
	d := time.Now().Add(c.timeout)
	if cd, ok := ctx.Deadline(); ok && cd.Before(d) {
		return cd
	}
	return d
}

// contextExpired reports the context error when the read deadline came from
// ctx rather than from the response timeout. The net deadline can fire just
// before the context timer does, so the deadline itself is compared too.
func contextExpired(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cd, ok := ctx.Deadline(); ok && !time.Now().Before(cd) {
		return context.DeadlineExceeded
	}
	return nil
}

func (c *channel) close() error {
	return c.conn.Close()
}

// firstLine trims a multi-line command such as the DATA payload for logging.
func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\r' || s[i] == '\n' {
			return s[:i] + " ..."
		}
	}
	return s
}
