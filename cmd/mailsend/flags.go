package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shineum/mailsend-lite/internal/email"
	"github.com/shineum/mailsend-lite/internal/parser"
)

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string {
	return strings.Join(*s, ",")
}

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

type options struct {
	configPath string
	envFile    string
	provider   string

	from      string
	fromName  string
	to        string
	cc        string
	bcc       string
	replyTo   string
	subject   string
	text      string
	html      string
	attach    stringList
	headers   stringList
	eml       string
	attachDir string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	o := &options{}
	fs := flag.NewFlagSet("mailsend", flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&o.configPath, "config", "", "path to YAML configuration file (optional)")
	fs.StringVar(&o.envFile, "env", "", "path to a dotenv file loaded before the environment is read")
	fs.StringVar(&o.provider, "provider", "", "delivery provider: smtp, gomail, ses, graph, resend or stdout")

	fs.StringVar(&o.from, "from", "", "sender address")
	fs.StringVar(&o.fromName, "from-name", "", "sender display name")
	fs.StringVar(&o.to, "to", "", "comma separated To recipients; \"Name <addr>\" is accepted")
	fs.StringVar(&o.cc, "cc", "", "comma separated Cc recipients")
	fs.StringVar(&o.bcc, "bcc", "", "comma separated Bcc recipients")
	fs.StringVar(&o.replyTo, "reply-to", "", "Reply-To address")
	fs.StringVar(&o.subject, "subject", "", "message subject")
	fs.StringVar(&o.text, "text", "", "plain text body")
	fs.StringVar(&o.html, "html", "", "HTML body")
	fs.Var(&o.attach, "attach", "file to attach, optionally path=name (repeatable)")
	fs.Var(&o.headers, "header", "custom header \"Key: Value\" (repeatable)")
	fs.StringVar(&o.eml, "eml", "", "import an RFC 5322 message file; other message flags override its fields")
	fs.StringVar(&o.attachDir, "attach-dir", "", "directory receiving attachments extracted from -eml")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "unexpected arguments: %v\n", fs.Args())
		fs.Usage()
		return nil, fmt.Errorf("unexpected arguments")
	}
	return o, nil
}

// buildMessage assembles the message. Flags are applied on top of an
// imported -eml message when one is given.
func (o *options) buildMessage() (*email.Message, error) {
	msg := email.NewMessage()
	if o.eml != "" {
		raw, err := os.ReadFile(o.eml)
		if err != nil {
			return nil, fmt.Errorf("failed to read eml file: %w", err)
		}
		msg, err = parser.Parse(raw, o.attachDir)
		if err != nil {
			return nil, err
		}
	}

	if o.from != "" {
		msg.SetFrom(o.from, o.fromName)
	}
	msg.To = append(msg.To, email.ParseAddressList(o.to)...)
	msg.Cc = append(msg.Cc, email.ParseAddressList(o.cc)...)
	msg.Bcc = append(msg.Bcc, email.ParseAddressList(o.bcc)...)
	if o.replyTo != "" {
		msg.SetReplyTo(o.replyTo)
	}
	if o.subject != "" {
		msg.SetSubject(o.subject)
	}
	if o.text != "" {
		msg.SetText(o.text)
	}
	if o.html != "" {
		msg.SetHTML(o.html)
	}

	for _, h := range o.headers {
		key, value, ok := strings.Cut(h, ":")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid header %q, want \"Key: Value\"", h)
		}
		msg.AddHeader(key, strings.TrimSpace(value))
	}

	for _, a := range o.attach {
		path, name, _ := strings.Cut(a, "=")
		if err := msg.AddAttachment(path, name, ""); err != nil {
			return nil, err
		}
	}

	return msg, nil
}
