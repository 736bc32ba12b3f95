package smtp

import (
	"bufio"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serve writes raw to one end of a pipe and returns the other end. When
// hangup is set the writer closes its end afterwards.
func serve(t *testing.T, raw string, hangup bool) net.Conn {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	go func() {
		if raw != "" {
			server.Write([]byte(raw))
		}
		if hangup {
			server.Close()
		}
	}()
	return client
}

func TestReadResponse(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantCode int
		wantText string
	}{
		{name: "single line", raw: "250 Ok\r\n", wantCode: 250, wantText: "250 Ok"},
		{name: "multi line", raw: "250-Ok\r\n250 End\r\n", wantCode: 250, wantText: "250-Ok\n250 End"},
		{name: "bare code", raw: "250\r\n", wantCode: 250, wantText: "250"},
		{name: "bare LF", raw: "220-a\n220 b\n", wantCode: 220, wantText: "220-a\n220 b"},
		{name: "surrounding space trimmed", raw: "250-first  \r\n250 last \r\n", wantCode: 250, wantText: "250-first\n250 last"},
		{name: "unparsable code", raw: "abc def\r\n", wantCode: 0, wantText: "abc def"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := serve(t, tt.raw, false)
			resp, err := readResponse(conn, bufio.NewReader(conn), time.Now().Add(2*time.Second))
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.Equal(t, tt.wantText, resp.Text)
		})
	}
}

func TestReadResponse_LeavesNextReplyBuffered(t *testing.T) {
	conn := serve(t, "250-a\r\n250 b\r\n354 go\r\n", false)
	r := bufio.NewReader(conn)
	deadline := time.Now().Add(2 * time.Second)

	first, err := readResponse(conn, r, deadline)
	require.NoError(t, err)
	assert.Equal(t, "250-a\n250 b", first.Text)

	second, err := readResponse(conn, r, deadline)
	require.NoError(t, err)
	assert.Equal(t, 354, second.Code)
}

func TestReadResponse_Timeout(t *testing.T) {
	conn := serve(t, "250-partial\r\n", false)

	start := time.Now()
	resp, err := readResponse(conn, bufio.NewReader(conn), time.Now().Add(100*time.Millisecond))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	var te *ResponseTimeoutError
	require.True(t, errors.As(err, &te))
	assert.True(t, errors.Is(err, ErrResponseTimeout))
	assert.Equal(t, "250-partial", te.Partial)
	assert.Equal(t, "250-partial", resp.Text)
}

func TestReadResponse_Silence(t *testing.T) {
	conn := serve(t, "", false)

	_, err := readResponse(conn, bufio.NewReader(conn), time.Now().Add(50*time.Millisecond))
	var te *ResponseTimeoutError
	require.True(t, errors.As(err, &te))
	assert.Empty(t, te.Partial)
}

func TestReadResponse_EOF(t *testing.T) {
	conn := serve(t, "250-cut\r\n", true)

	resp, err := readResponse(conn, bufio.NewReader(conn), time.Now().Add(2*time.Second))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnection))
	assert.False(t, errors.Is(err, ErrResponseTimeout))
	assert.Equal(t, "250-cut", resp.Text)
}

func TestResponseClass(t *testing.T) {
	tests := []struct {
		code      int
		positive  bool
		transient bool
		permanent bool
	}{
		{code: 220, positive: true},
		{code: 334, positive: true},
		{code: 421, transient: true},
		{code: 550, permanent: true},
		{code: 0},
	}

	for _, tt := range tests {
		r := Response{Code: tt.code}
		assert.Equal(t, tt.positive, r.IsPositive(), "code %d positive", tt.code)
		assert.Equal(t, tt.transient, r.IsTransient(), "code %d transient", tt.code)
		assert.Equal(t, tt.permanent, r.IsPermanent(), "code %d permanent", tt.code)
		assert.Equal(t, tt.transient || tt.permanent, r.IsNegative(), "code %d negative", tt.code)
	}
}
