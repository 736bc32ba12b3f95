package ses

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"

	"github.com/shineum/mailsend-lite/internal/email"
	"github.com/shineum/mailsend-lite/internal/provider"
)

// mockSESClient implements SendEmailAPI for testing.
type mockSESClient struct {
	sendFn    func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	callCount int
	lastInput *sesv2.SendEmailInput
}

func (m *mockSESClient) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.callCount++
	m.lastInput = params
	if m.sendFn != nil {
		return m.sendFn(ctx, params, optFns...)
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("test-message-id")}, nil
}

var defaultConfig = SESProviderConfig{Sender: "default@example.com"}

// writeAttachment creates a file in a temp dir and returns its path.
func writeAttachment(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write attachment: %v", err)
	}
	return path
}

func TestName(t *testing.T) {
	t.Parallel()
	p := NewWithClient(defaultConfig, &mockSESClient{})
	if got := p.Name(); got != "ses" {
		t.Errorf("Name(): got %q, want %q", got, "ses")
	}
}

func TestSend_SimpleTextEmail(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient(defaultConfig, mock)

	msg := email.NewMessage().
		SetFrom("sender@example.com", "Sender").
		AddTo("to@example.com", "").
		SetSubject("Test Subject").
		SetText("Hello, World!")

	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if mock.callCount != 1 {
		t.Errorf("call count: got %d, want 1", mock.callCount)
	}

	input := mock.lastInput
	if input.Content.Simple == nil {
		t.Fatal("expected simple email content, got nil")
	}
	if got := *input.FromEmailAddress; got != "Sender <sender@example.com>" {
		t.Errorf("FromEmailAddress: got %q, want %q", got, "Sender <sender@example.com>")
	}
	if got := *input.Content.Simple.Subject.Data; got != "Test Subject" {
		t.Errorf("Subject: got %q, want %q", got, "Test Subject")
	}
	if got := *input.Content.Simple.Body.Text.Data; got != "Hello, World!" {
		t.Errorf("Text: got %q, want %q", got, "Hello, World!")
	}
	if input.Content.Simple.Body.Html != nil {
		t.Error("expected no HTML body")
	}
}

func TestSend_DefaultSender(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient(defaultConfig, mock)

	msg := email.NewMessage().AddTo("to@example.com", "").SetText("x")
	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := *mock.lastInput.FromEmailAddress; got != "default@example.com" {
		t.Errorf("FromEmailAddress: got %q, want %q", got, "default@example.com")
	}
}

func TestSend_NoSender(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient(SESProviderConfig{}, mock)

	err := p.Send(context.Background(), email.NewMessage().AddTo("to@example.com", ""))
	if !errors.Is(err, email.ErrNoSender) {
		t.Errorf("expected ErrNoSender, got %v", err)
	}
	if mock.callCount != 0 {
		t.Errorf("call count: got %d, want 0", mock.callCount)
	}
}

func TestSend_SimpleHtmlEmail(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient(defaultConfig, mock)

	msg := email.NewMessage().
		SetFrom("sender@example.com", "").
		AddTo("to@example.com", "").
		SetSubject("HTML Test").
		SetText("Plain text fallback").
		SetHTML("<h1>Hello</h1>")

	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	input := mock.lastInput
	if got := *input.Content.Simple.Body.Html.Data; got != "<h1>Hello</h1>" {
		t.Errorf("HTML: got %q, want %q", got, "<h1>Hello</h1>")
	}
	if got := *input.Content.Simple.Body.Text.Data; got != "Plain text fallback" {
		t.Errorf("Text: got %q, want %q", got, "Plain text fallback")
	}
}

func TestSend_WithRecipients(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient(defaultConfig, mock)

	msg := email.NewMessage().
		SetFrom("sender@example.com", "").
		AddTo("to1@example.com", "One").
		AddTo("to2@example.com", "").
		AddCc("cc@example.com", "").
		AddBcc("bcc@example.com", "").
		SetReplyTo("reply@example.com").
		SetText("Hello")

	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	input := mock.lastInput
	dest := input.Destination
	if len(dest.ToAddresses) != 2 || dest.ToAddresses[0] != "One <to1@example.com>" {
		t.Errorf("ToAddresses: got %v", dest.ToAddresses)
	}
	if len(dest.CcAddresses) != 1 {
		t.Errorf("CcAddresses: got %d, want 1", len(dest.CcAddresses))
	}
	if len(dest.BccAddresses) != 1 {
		t.Errorf("BccAddresses: got %d, want 1", len(dest.BccAddresses))
	}
	if len(input.ReplyToAddresses) != 1 || input.ReplyToAddresses[0] != "reply@example.com" {
		t.Errorf("ReplyToAddresses: got %v", input.ReplyToAddresses)
	}
}

func TestSend_WithAttachments(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient(defaultConfig, mock)

	msg := email.NewMessage().
		SetFrom("sender@example.com", "").
		AddTo("to@example.com", "").
		AddBcc("hidden@example.com", "").
		SetSubject("With Attachment").
		SetText("See attachment")
	if err := msg.AddAttachment(writeAttachment(t, "test.txt", "file content"), "", "text/plain"); err != nil {
		t.Fatalf("AddAttachment: %v", err)
	}

	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	input := mock.lastInput
	if input.Content.Raw == nil {
		t.Fatal("expected raw email content for attachment, got nil")
	}
	if input.Content.Simple != nil {
		t.Error("expected no simple content when using raw message")
	}
	if len(input.Destination.BccAddresses) != 1 {
		t.Errorf("BccAddresses: got %v", input.Destination.BccAddresses)
	}

	rawStr := string(input.Content.Raw.Data)
	for _, want := range []string{
		"From: sender@example.com",
		"To: to@example.com",
		"Subject: With Attachment",
		"multipart/mixed",
		"test.txt",
		"ZmlsZSBjb250ZW50",
	} {
		if !strings.Contains(rawStr, want) {
			t.Errorf("raw message missing %q", want)
		}
	}
	if strings.Contains(rawStr, "hidden@example.com") {
		t.Error("raw message must not expose Bcc")
	}
}

func TestSend_AttachmentTooLarge(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient(SESProviderConfig{MaxAttachmentSize: 4}, mock)

	msg := email.NewMessage().SetFrom("sender@example.com", "").AddTo("to@example.com", "")
	if err := msg.AddAttachment(writeAttachment(t, "big.bin", "0123456789"), "", ""); err != nil {
		t.Fatalf("AddAttachment: %v", err)
	}

	err := p.Send(context.Background(), msg)
	if !errors.Is(err, email.ErrAttachmentTooLarge) {
		t.Errorf("expected ErrAttachmentTooLarge, got %v", err)
	}
	if mock.callCount != 0 {
		t.Errorf("call count: got %d, want 0", mock.callCount)
	}
}

func TestSend_CustomHeadersUseRaw(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	p := NewWithClient(defaultConfig, mock)

	msg := email.NewMessage().
		SetFrom("sender@example.com", "").
		AddTo("to@example.com", "").
		SetText("x").
		AddHeader("X-Campaign", "spring")

	if err := p.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mock.lastInput.Content.Raw == nil {
		t.Fatal("expected raw content for custom headers")
	}
	if !strings.Contains(string(mock.lastInput.Content.Raw.Data), "X-Campaign: spring\r\n") {
		t.Error("raw message missing custom header")
	}
}

func TestSend_APIError(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{
		sendFn: func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
			return nil, errors.New("throttled")
		},
	}
	p := NewWithClient(defaultConfig, mock)

	msg := email.NewMessage().SetFrom("sender@example.com", "").AddTo("to@example.com", "")
	err := p.Send(context.Background(), msg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "throttled") {
		t.Errorf("error message: got %q, want to contain 'throttled'", err.Error())
	}
	if mock.callCount != 1 {
		t.Errorf("call count: got %d, want 1 (no retries)", mock.callCount)
	}
}

func TestBuildRawMessage_HtmlBody(t *testing.T) {
	t.Parallel()

	msg := email.NewMessage().AddTo("to@example.com", "").SetSubject("HTML Raw").SetHTML("<h1>Hello</h1>")

	raw, err := buildRawMessage("sender@example.com", msg, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(raw), "text/html") {
		t.Error("expected text/html content type for HTML body")
	}
}

func TestEncodeBase64WithLineBreaks(t *testing.T) {
	t.Parallel()

	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}

	encoded := encodeBase64WithLineBreaks(data)
	lines := strings.Split(encoded, "\r\n")
	for i, line := range lines {
		if i < len(lines)-1 && len(line) != 76 {
			t.Errorf("line %d length: got %d, want 76", i, len(line))
		}
		if len(line) > 76 {
			t.Errorf("line %d exceeds 76 chars: got %d", i, len(line))
		}
	}
}

func TestProviderInterface(t *testing.T) {
	t.Parallel()

	var _ provider.Provider = (*SESProvider)(nil)
}
