// Package email defines the transport-agnostic message model shared by the
// SMTP client and every provider adapter.
package email

import (
	"errors"
	"fmt"
)

// ErrNoSender is returned by Validate when the message has no sender address.
var ErrNoSender = errors.New("email: message has no sender")

// ErrNoRecipients is returned by Validate when To, Cc and Bcc are all empty.
var ErrNoRecipients = errors.New("email: message has no recipients")

// Message represents an email with its addressing, content, custom headers
// and attachment metadata. A Message is built by the caller before a send and
// must not be modified while a send is in progress.
type Message struct {
	From    Address
	ReplyTo string
	To      []Address
	Cc      []Address
	Bcc     []Address
	Subject string
	Text    string
	HTML    string

	// Headers holds the user-supplied custom headers in insertion order.
	Headers *Header

	Attachments []Attachment
}

// NewMessage returns an empty Message ready for use.
func NewMessage() *Message {
	return &Message{Headers: NewHeader()}
}

// SetFrom sets the sender address and optional display name.
func (m *Message) SetFrom(email, name string) *Message {
	m.From = Address{Email: email, Name: name}
	return m
}

// SetReplyTo sets the Reply-To address.
func (m *Message) SetReplyTo(email string) *Message {
	m.ReplyTo = email
	return m
}

// AddTo appends a To recipient. Duplicates are allowed.
func (m *Message) AddTo(email, name string) *Message {
	m.To = append(m.To, Address{Email: email, Name: name})
	return m
}

// AddCc appends a Cc recipient.
func (m *Message) AddCc(email, name string) *Message {
	m.Cc = append(m.Cc, Address{Email: email, Name: name})
	return m
}

// AddBcc appends a Bcc recipient.
func (m *Message) AddBcc(email, name string) *Message {
	m.Bcc = append(m.Bcc, Address{Email: email, Name: name})
	return m
}

// RemoveCc removes every Cc entry with the given email address.
func (m *Message) RemoveCc(email string) *Message {
	m.Cc = removeAddress(m.Cc, email)
	return m
}

// RemoveBcc removes every Bcc entry with the given email address.
func (m *Message) RemoveBcc(email string) *Message {
	m.Bcc = removeAddress(m.Bcc, email)
	return m
}

// SetSubject sets the subject line.
func (m *Message) SetSubject(subject string) *Message {
	m.Subject = subject
	return m
}

// SetText sets the plain text body.
func (m *Message) SetText(text string) *Message {
	m.Text = text
	return m
}

// SetHTML sets the HTML body. A non-empty HTML body switches the message
// content type to text/html.
func (m *Message) SetHTML(html string) *Message {
	m.HTML = html
	return m
}

// IsHTML reports whether the message carries an HTML body.
func (m *Message) IsHTML() bool {
	return m.HTML != ""
}

// Body returns the HTML body when one is set, otherwise the text body.
func (m *Message) Body() string {
	if m.IsHTML() {
		return m.HTML
	}
	return m.Text
}

// AddHeader sets a custom header. A later write for the same key overwrites
// the earlier value and keeps its position.
func (m *Message) AddHeader(key, value string) *Message {
	m.header().Set(key, value)
	return m
}

// RemoveHeader deletes a custom header.
func (m *Message) RemoveHeader(key string) *Message {
	m.header().Del(key)
	return m
}

// HeadersJSON returns the custom headers as a JSON object in insertion order.
func (m *Message) HeadersJSON() (string, error) {
	b, err := m.header().MarshalJSON()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// AddAttachment records an attachment descriptor for the file at path. The
// file must exist when it is added; name and contentType are optional.
func (m *Message) AddAttachment(path, name, contentType string) error {
	att, err := NewAttachment(path, name, contentType)
	if err != nil {
		return err
	}
	m.Attachments = append(m.Attachments, att)
	return nil
}

// Recipients returns To followed by Cc followed by Bcc.
func (m *Message) Recipients() []Address {
	all := make([]Address, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	all = append(all, m.To...)
	all = append(all, m.Cc...)
	return append(all, m.Bcc...)
}

// Validate checks that the message can be handed to a transport.
func (m *Message) Validate() error {
	if m.From.Email == "" {
		return ErrNoSender
	}
	if len(m.To)+len(m.Cc)+len(m.Bcc) == 0 {
		return ErrNoRecipients
	}
	for _, a := range m.Recipients() {
		if a.Email == "" {
			return fmt.Errorf("email: recipient %q has an empty address", a.Name)
		}
	}
	return nil
}

func (m *Message) header() *Header {
	if m.Headers == nil {
		m.Headers = NewHeader()
	}
	return m.Headers
}

func removeAddress(list []Address, email string) []Address {
	out := list[:0]
	for _, a := range list {
		if a.Email != email {
			out = append(out, a)
		}
	}
	return out
}
