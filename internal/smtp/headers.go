package smtp

import (
	"strings"
	"time"

	"github.com/shineum/mailsend-lite/internal/email"
)

// BuildHeaders derives the header block of msg. Generated headers come first
// in a fixed order, followed by the custom headers of the message in
// insertion order. A custom header whose key was generated is dropped, so
// the generated value always wins.
func BuildHeaders(msg *email.Message, cfg TransportConfig, now time.Time) *email.Header {
	cfg = cfg.withDefaults()
	h := email.NewHeader()

	h.Set("MIME-Version", "1.0")
	if msg.IsHTML() {
		h.Set("Content-type", "text/html; charset="+cfg.Charset)
	} else {
		h.Set("Content-type", "text/plain; charset="+cfg.Charset)
	}
	if cfg.ContentType != "" {
		h.Set("Content-type", cfg.ContentType)
	}

	h.Set("From", msg.From.String())
	h.Set("To", email.FormatAddressList(msg.To))
	if len(msg.Cc) > 0 {
		h.Set("Cc", email.FormatAddressList(msg.Cc))
	}
	if len(msg.Bcc) > 0 {
		h.Set("Bcc", email.FormatAddressList(msg.Bcc))
	}
	if msg.ReplyTo != "" {
		h.Set("Reply-To", msg.ReplyTo)
	}
	h.Set("Subject", msg.Subject)
	h.Set("Date", now.Format(time.RFC1123Z))

	msg.Headers.Each(func(key, value string) {
		if !h.Has(key) {
			h.Set(key, value)
		}
	})
	return h
}

// FormatHeaders renders h as "Key: Value" lines, each terminated by CRLF.
func FormatHeaders(h *email.Header) string {
	var b strings.Builder
	h.Each(func(key, value string) {
		b.WriteString(key)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString(crlf)
	})
	return b.String()
}

// buildPayload assembles the DATA payload: header block, blank line, body and
// the terminating dot line. The final CRLF is added by the channel.
func buildPayload(msg *email.Message, cfg TransportConfig, now time.Time) string {
	var b strings.Builder
	b.WriteString(FormatHeaders(BuildHeaders(msg, cfg, now)))
	b.WriteString(crlf)
	b.WriteString(dotStuff(msg.Body()))
	b.WriteString(crlf)
	b.WriteString(".")
	return b.String()
}

// dotStuff normalises line endings to CRLF and doubles a leading dot on any
// line so that the body cannot end the DATA phase early.
func dotStuff(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		if strings.HasPrefix(line, ".") {
			lines[i] = "." + line
		}
	}
	return strings.Join(lines, crlf)
}
