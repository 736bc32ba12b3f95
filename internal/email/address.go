package email

import (
	"net/mail"
	"strings"
)

// addressListSeparator folds each additional address onto its own header line.
const addressListSeparator = ", \r\n\t"

// Address is an email address with an optional display name.
type Address struct {
	Email string
	Name  string
}

// String formats the address the way it appears in a header.
func (a Address) String() string {
	return FormatAddress(a.Email, a.Name)
}

// FormatAddress returns "Name <email>" when name is non-empty, else email.
func FormatAddress(email, name string) string {
	if name != "" {
		return name + " <" + email + ">"
	}
	return email
}

// FormatAddressList formats each address and joins them with a folded
// separator, preserving input order. An empty list formats to "".
func FormatAddressList(list []Address) string {
	var b strings.Builder
	for i, a := range list {
		if i > 0 {
			b.WriteString(addressListSeparator)
		}
		b.WriteString(a.String())
	}
	return b.String()
}

// Emails returns the bare email addresses of list.
func Emails(list []Address) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Email)
	}
	return out
}

// ParseAddress parses "Name <email>" or a bare address. Inputs net/mail
// rejects are returned verbatim as the email with no name.
func ParseAddress(s string) Address {
	s = strings.TrimSpace(s)
	if s == "" {
		return Address{}
	}
	parsed, err := mail.ParseAddress(s)
	if err != nil {
		return Address{Email: s}
	}
	return Address{Email: parsed.Address, Name: parsed.Name}
}

// ParseAddressList parses a comma separated address list, skipping empty
// entries.
func ParseAddressList(s string) []Address {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if parsed, err := mail.ParseAddressList(s); err == nil {
		out := make([]Address, 0, len(parsed))
		for _, p := range parsed {
			out = append(out, Address{Email: p.Address, Name: p.Name})
		}
		return out
	}

	var out []Address
	for _, part := range strings.Split(s, ",") {
		if a := ParseAddress(part); a.Email != "" {
			out = append(out, a)
		}
	}
	return out
}
