package email

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// sniffLen is the number of leading bytes inspected to infer a MIME type.
const sniffLen = 512

// ErrAttachmentNotFound is returned when an attachment path does not name a
// regular file.
var ErrAttachmentNotFound = errors.New("email: attachment file does not exist")

// ErrAttachmentTooLarge is returned by LoadAttachment when the file exceeds
// the configured limit.
var ErrAttachmentTooLarge = errors.New("email: attachment exceeds size limit")

// Attachment describes a file attached to a message. Only metadata is kept;
// content is read on demand by transports that upload it.
type Attachment struct {
	// Path is the resolved absolute file path.
	Path string
	// Name is the display file name. Empty means the base name of Path.
	Name        string
	ContentType string
}

// NewAttachment resolves path and checks that it is an existing regular file.
// When contentType is empty it is inferred from the file content.
func NewAttachment(path, name, contentType string) (Attachment, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Attachment{}, fmt.Errorf("email: resolve attachment path %q: %w", path, err)
	}

	info, err := os.Stat(abs)
	if err != nil || !info.Mode().IsRegular() {
		return Attachment{}, fmt.Errorf("%w: %s", ErrAttachmentNotFound, path)
	}

	if contentType == "" {
		contentType, err = sniffContentType(abs)
		if err != nil {
			return Attachment{}, err
		}
	}

	return Attachment{Path: abs, Name: name, ContentType: contentType}, nil
}

// Filename returns the display name, falling back to the base of Path.
func (a Attachment) Filename() string {
	if a.Name != "" {
		return a.Name
	}
	return filepath.Base(a.Path)
}

// Open opens the attachment file for reading.
func (a Attachment) Open() (*os.File, error) {
	return os.Open(a.Path)
}

// Size returns the current size of the attachment file.
func (a Attachment) Size() (int64, error) {
	info, err := os.Stat(a.Path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// LoadAttachment reads the attachment content. A positive maxSize bounds the
// accepted file size.
func LoadAttachment(a Attachment, maxSize int64) ([]byte, error) {
	f, err := a.Open()
	if err != nil {
		return nil, fmt.Errorf("email: open attachment: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if maxSize > 0 {
		r = io.LimitReader(f, maxSize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("email: read attachment: %w", err)
	}
	if maxSize > 0 && int64(len(data)) > maxSize {
		return nil, fmt.Errorf("%w: %s is larger than %d bytes", ErrAttachmentTooLarge, a.Filename(), maxSize)
	}
	return data, nil
}

func sniffContentType(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("email: open attachment: %w", err)
	}
	defer f.Close()

	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("email: read attachment: %w", err)
	}
	return http.DetectContentType(buf[:n]), nil
}
