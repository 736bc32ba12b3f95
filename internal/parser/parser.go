// Package parser imports RFC 5322 email messages with MIME multipart support.
package parser

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/mail"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/shineum/mailsend-lite/internal/email"
)

// structuralHeaders are rebuilt from the Message fields on send and are
// not carried over as custom headers.
var structuralHeaders = map[string]bool{
	"From":                      true,
	"To":                        true,
	"Cc":                        true,
	"Bcc":                       true,
	"Reply-To":                  true,
	"Subject":                   true,
	"Date":                      true,
	"Mime-Version":              true,
	"Content-Type":              true,
	"Content-Transfer-Encoding": true,
}

// Parse parses a raw RFC 5322 email message into a Message.
// It handles plain text messages, multipart messages with text/html bodies,
// and attachments. Attachment parts are written into attachDir and added to
// the message; when attachDir is empty they are dropped with a warning.
// Unrecognized MIME parts are logged as warnings.
func Parse(raw []byte, attachDir string) (*email.Message, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	result := email.NewMessage()
	result.From = email.ParseAddress(msg.Header.Get("From"))
	result.To = email.ParseAddressList(msg.Header.Get("To"))
	result.Cc = email.ParseAddressList(msg.Header.Get("Cc"))
	result.Bcc = email.ParseAddressList(msg.Header.Get("Bcc"))
	if replyTo := msg.Header.Get("Reply-To"); replyTo != "" {
		result.ReplyTo = email.ParseAddress(replyTo).Email
	}
	result.Subject = decodeHeader(msg.Header.Get("Subject"))
	copyCustomHeaders(msg.Header, result)

	p := &partWriter{dir: attachDir, msg: result}

	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		// If content type is unparseable, treat as plain text
		slog.Warn("failed to parse content type, treating as plain text",
			"content_type", contentType,
			"error", err,
		)
		body, readErr := io.ReadAll(msg.Body)
		if readErr != nil {
			return nil, fmt.Errorf("failed to read message body: %w", readErr)
		}
		result.Text = string(body)
		return result, nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("multipart message missing boundary")
		}
		if err := p.parseMultipart(msg.Body, boundary); err != nil {
			return nil, fmt.Errorf("failed to parse multipart message: %w", err)
		}
		return result, nil
	}

	body, err := decodeBody(msg.Body, msg.Header.Get("Content-Transfer-Encoding"))
	if err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}
	switch mediaType {
	case "text/plain":
		result.Text = string(body)
	case "text/html":
		result.HTML = string(body)
	default:
		slog.Warn("unrecognized top-level content type",
			"content_type", mediaType,
		)
		result.Text = string(body)
	}

	return result, nil
}

// copyCustomHeaders adds every non-structural header in sorted key order.
// Repeated headers keep their first value.
func copyCustomHeaders(h mail.Header, msg *email.Message) {
	keys := make([]string, 0, len(h))
	for key := range h {
		if !structuralHeaders[key] {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		msg.AddHeader(key, decodeHeader(h[key][0]))
	}
}

type partWriter struct {
	dir string
	msg *email.Message
	n   int
}

// parseMultipart processes a multipart MIME body, extracting text/plain and
// text/html parts and attachments.
func (p *partWriter) parseMultipart(body io.Reader, boundary string) error {
	reader := multipart.NewReader(body, boundary)

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read next part: %w", err)
		}

		partContentType := part.Header.Get("Content-Type")
		if partContentType == "" {
			partContentType = "text/plain"
		}

		mediaType, params, err := mime.ParseMediaType(partContentType)
		if err != nil {
			slog.Warn("failed to parse part content type, skipping",
				"content_type", partContentType,
				"error", err,
			)
			continue
		}

		contentDisposition := part.Header.Get("Content-Disposition")
		isAttachment := strings.HasPrefix(contentDisposition, "attachment")

		if strings.HasPrefix(mediaType, "multipart/") {
			nestedBoundary := params["boundary"]
			if nestedBoundary == "" {
				slog.Warn("nested multipart missing boundary, skipping")
				continue
			}
			if err := p.parseMultipart(part, nestedBoundary); err != nil {
				slog.Warn("failed to parse nested multipart",
					"error", err,
				)
			}
			continue
		}

		content, err := decodeBody(part, part.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			slog.Warn("failed to read part content",
				"content_type", mediaType,
				"error", err,
			)
			continue
		}

		filename := extractFilename(part, params)
		if isAttachment {
			p.attach(filename, mediaType, content)
			continue
		}

		switch mediaType {
		case "text/plain":
			if p.msg.Text == "" {
				p.msg.Text = string(content)
			}
		case "text/html":
			if p.msg.HTML == "" {
				p.msg.HTML = string(content)
			}
		default:
			if filename != "" {
				p.attach(filename, mediaType, content)
			} else {
				slog.Warn("unrecognized MIME part, skipping",
					"content_type", mediaType,
					"disposition", contentDisposition,
				)
			}
		}
	}

	return nil
}

// attach writes content into the attachment directory and records it on the
// message.
func (p *partWriter) attach(filename, contentType string, content []byte) {
	if filename == "" {
		filename = fallbackFilename(contentType)
	}
	if p.dir == "" {
		slog.Warn("no attachment directory, dropping attachment",
			"filename", filename,
		)
		return
	}

	p.n++
	// Prefix with the part index so repeated names do not collide.
	path := filepath.Join(p.dir, fmt.Sprintf("%02d-%s", p.n, filepath.Base(filename)))
	if err := os.WriteFile(path, content, 0o600); err != nil {
		slog.Warn("failed to write attachment",
			"filename", filename,
			"error", err,
		)
		return
	}
	if err := p.msg.AddAttachment(path, filename, contentType); err != nil {
		slog.Warn("failed to add attachment",
			"filename", filename,
			"error", err,
		)
	}
}

// decodeBody reads r and undoes base64 transfer encoding. Quoted-printable
// parts are decoded by the multipart reader already.
func decodeBody(r io.Reader, encoding string) ([]byte, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	if strings.ToLower(strings.TrimSpace(encoding)) != "base64" {
		return raw, nil
	}

	cleaned := strings.NewReplacer("\r", "", "\n", "").Replace(string(raw))
	decoded, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		// Try with RawStdEncoding for unpadded base64
		decoded, err = base64.RawStdEncoding.DecodeString(cleaned)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 content: %w", err)
		}
	}
	return decoded, nil
}

// extractFilename extracts the filename from a MIME part, checking both
// Content-Disposition and Content-Type parameters.
func extractFilename(part *multipart.Part, params map[string]string) string {
	if fn := part.FileName(); fn != "" {
		return fn
	}
	if name, ok := params["name"]; ok && name != "" {
		return name
	}
	return ""
}

func fallbackFilename(mediaType string) string {
	parts := strings.SplitN(mediaType, "/", 2)
	if len(parts) == 2 && parts[1] != "" {
		return "attachment." + parts[1]
	}
	return "attachment"
}

var wordDecoder = new(mime.WordDecoder)

// decodeHeader decodes RFC 2047 encoded words, returning s unchanged when it
// cannot be decoded.
func decodeHeader(s string) string {
	decoded, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return decoded
}
