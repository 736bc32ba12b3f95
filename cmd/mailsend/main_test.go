package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/mailsend-lite/internal/config"
	"github.com/shineum/mailsend-lite/internal/smtp"
	"github.com/shineum/mailsend-lite/internal/smtptest"
	smtptls "github.com/shineum/mailsend-lite/internal/tls"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PROVIDER", "SMTP_HOST", "SMTP_PORT", "SMTP_SCHEME", "SMTP_USERNAME", "SMTP_PASSWORD",
		"SMTP_VERIFY_PEER", "SMTP_CA_FILE", "SMTP_STRICT_AUTH", "SMTP_VALIDATE_REPLIES",
		"SES_REGION", "SES_SENDER", "GRAPH_TENANT_ID", "RESEND_API_KEY",
		"ATTACHMENT_MAX_SIZE", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

func TestBuildMessage_Flags(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.txt")
	require.NoError(t, os.WriteFile(path, []byte("numbers"), 0o600))

	opts, err := parseFlags([]string{
		"-from", "sender@example.com",
		"-from-name", "Sender",
		"-to", "Alice <alice@example.com>, bob@example.com",
		"-cc", "carol@example.com",
		"-bcc", "dave@example.com",
		"-reply-to", "reply@example.com",
		"-subject", "Report",
		"-text", "see attached",
		"-header", "X-Campaign: spring",
		"-header", "X-Priority:1",
		"-attach", path + "=q3.txt",
	}, io.Discard)
	require.NoError(t, err)

	msg, err := opts.buildMessage()
	require.NoError(t, err)

	assert.Equal(t, "Sender <sender@example.com>", msg.From.String())
	require.Len(t, msg.To, 2)
	assert.Equal(t, "Alice", msg.To[0].Name)
	assert.Equal(t, "bob@example.com", msg.To[1].Email)
	assert.Equal(t, "carol@example.com", msg.Cc[0].Email)
	assert.Equal(t, "dave@example.com", msg.Bcc[0].Email)
	assert.Equal(t, "reply@example.com", msg.ReplyTo)
	assert.Equal(t, "Report", msg.Subject)
	assert.Equal(t, []string{"X-Campaign", "X-Priority"}, msg.Headers.Keys())
	assert.Equal(t, "1", msg.Headers.Get("X-Priority"))
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "q3.txt", msg.Attachments[0].Filename())
}

func TestBuildMessage_InvalidInput(t *testing.T) {
	opts, err := parseFlags([]string{"-header", "no-colon"}, io.Discard)
	require.NoError(t, err)
	_, err = opts.buildMessage()
	assert.Error(t, err)

	opts, err = parseFlags([]string{"-attach", filepath.Join(t.TempDir(), "missing")}, io.Discard)
	require.NoError(t, err)
	_, err = opts.buildMessage()
	assert.Error(t, err)

	_, err = parseFlags([]string{"-to", "a@example.com", "stray"}, io.Discard)
	assert.Error(t, err)
}

func TestBuildMessage_EML(t *testing.T) {
	dir := t.TempDir()
	eml := filepath.Join(dir, "in.eml")
	raw := strings.Join([]string{
		"From: Original <original@example.com>",
		"To: first@example.com",
		"Subject: Imported",
		"X-Origin: archive",
		"",
		"imported body",
	}, "\r\n")
	require.NoError(t, os.WriteFile(eml, []byte(raw), 0o600))

	opts, err := parseFlags([]string{"-eml", eml, "-to", "second@example.com", "-subject", "Overridden"}, io.Discard)
	require.NoError(t, err)

	msg, err := opts.buildMessage()
	require.NoError(t, err)

	assert.Equal(t, "original@example.com", msg.From.Email)
	assert.Equal(t, "Overridden", msg.Subject)
	assert.Equal(t, "imported body", msg.Text)
	assert.Equal(t, "archive", msg.Headers.Get("X-Origin"))
	require.Len(t, msg.To, 2)
	assert.Equal(t, "second@example.com", msg.To[1].Email)
}

func TestTransportConfig(t *testing.T) {
	cfg := &config.Config{SMTP: config.SMTPConfig{
		Host:            "mail.example.com",
		Port:            587,
		Scheme:          "starttls",
		Username:        "user",
		Password:        "pass",
		StrictAuth:      true,
		ValidateReplies: true,
		VerifyPeer:      true,
	}}

	tc, err := transportConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, smtp.SchemeStartTLS, tc.Scheme)
	assert.Equal(t, "mail.example.com:587", tc.Addr())
	assert.Equal(t, "mail.example.com", tc.LocalName)
	require.NotNil(t, tc.Credentials)
	assert.Equal(t, "user", tc.Credentials.Username)
	assert.True(t, tc.StrictAuth)
	assert.True(t, tc.ValidateReplies)
	assert.True(t, tc.TLS.VerifyPeer)

	assert.Nil(t, tc.TLS.RootCAs)

	cfg.SMTP.Scheme = "carrier-pigeon"
	_, err = transportConfig(cfg)
	assert.ErrorIs(t, err, smtp.ErrConfiguration)
}

func TestTransportConfig_CAFile(t *testing.T) {
	cert, err := smtptls.GenerateSelfSignedCert("mail.example.com")
	require.NoError(t, err)
	caFile := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(caFile, smtptls.EncodeCertificatePEM(cert), 0o600))

	cfg := &config.Config{SMTP: config.SMTPConfig{Host: "mail.example.com", Scheme: "ssl", CAFile: caFile}}
	tc, err := transportConfig(cfg)
	require.NoError(t, err)
	require.NotNil(t, tc.TLS.RootCAs)

	cfg.SMTP.CAFile = filepath.Join(t.TempDir(), "missing.pem")
	_, err = transportConfig(cfg)
	assert.Error(t, err)

	cfg.Provider = "gomail"
	_, err = selectProvider(context.Background(), cfg, io.Discard)
	assert.Error(t, err)
}

func TestSelectProvider(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
		want string
	}{
		{name: "smtp", cfg: config.Config{Provider: "smtp", SMTP: config.SMTPConfig{Host: "h", Scheme: "plain"}}, want: "smtp"},
		{name: "gomail", cfg: config.Config{Provider: "gomail", SMTP: config.SMTPConfig{Host: "h", Port: 25}}, want: "gomail"},
		{name: "graph", cfg: config.Config{Provider: "graph", Graph: config.GraphConfig{TenantID: "t", ClientID: "c", ClientSecret: "s", Sender: "s@example.com"}}, want: "msgraph"},
		{name: "resend", cfg: config.Config{Provider: "resend", Resend: config.ResendConfig{APIKey: "re_x"}}, want: "resend"},
		{name: "stdout", cfg: config.Config{Provider: "stdout"}, want: "stdout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := selectProvider(context.Background(), &tt.cfg, io.Discard)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Name())
		})
	}

	_, err := selectProvider(context.Background(), &config.Config{Provider: "pigeon"}, io.Discard)
	assert.Error(t, err)
}

func TestRun_Stdout(t *testing.T) {
	clearEnv(t)

	var stdout, stderr bytes.Buffer
	code := run([]string{
		"-provider", "stdout",
		"-from", "sender@example.com",
		"-to", "alice@example.com",
		"-subject", "Hello",
		"-text", "body text",
	}, &stdout, &stderr)

	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "Subject: Hello")
	assert.Contains(t, stdout.String(), "body text")
	assert.Contains(t, stderr.String(), `"provider":"stdout"`)
}

func TestRun_SMTPPrintsTranscript(t *testing.T) {
	clearEnv(t)

	srv := smtptest.New()
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Close)

	t.Setenv("SMTP_HOST", srv.Host())
	t.Setenv("SMTP_PORT", strconv.Itoa(srv.Port()))
	t.Setenv("SMTP_SCHEME", "plain")

	var stdout, stderr bytes.Buffer
	code := run([]string{
		"-from", "sender@example.com",
		"-to", "alice@example.com",
		"-bcc", "hidden@example.com",
		"-subject", "Hello",
		"-text", "body text",
	}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	var transcript map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &transcript))
	assert.Contains(t, transcript, smtp.StepConnection)
	assert.Contains(t, transcript, smtp.StepData)
	assert.Contains(t, transcript, smtp.StepQuit)

	require.Len(t, srv.Messages(), 1)
	assert.NotContains(t, srv.Commands(), "RCPT TO:<hidden@example.com>")
}

func TestRun_SMTPFailureExitsNonZero(t *testing.T) {
	clearEnv(t)

	srv := smtptest.New(smtptest.WithReply("MAIL", "550 sender rejected"))
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Close)

	t.Setenv("SMTP_HOST", srv.Host())
	t.Setenv("SMTP_PORT", strconv.Itoa(srv.Port()))
	t.Setenv("SMTP_SCHEME", "plain")
	t.Setenv("SMTP_VALIDATE_REPLIES", "true")

	var stdout, stderr bytes.Buffer
	code := run([]string{"-from", "sender@example.com", "-to", "alice@example.com"}, &stdout, &stderr)

	assert.Equal(t, 1, code)
	assert.Contains(t, stdout.String(), "550 sender rejected")
	assert.Contains(t, stderr.String(), "send failed")
}

func TestRun_InvalidConfiguration(t *testing.T) {
	clearEnv(t)

	var stdout, stderr bytes.Buffer
	code := run([]string{"-provider", "smtp", "-from", "a@example.com", "-to", "b@example.com"}, &stdout, &stderr)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "smtp.host is required")

	assert.Equal(t, 2, run([]string{"-no-such-flag"}, &stdout, &stderr))
}
