// Package config provides environment-variable-first configuration loading
// with optional YAML file and dotenv layers for the mail sender.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	units "github.com/docker/go-units"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// defaultMaxAttachmentSize is parsed with binary multiples, so 25MB is
// 26214400 bytes.
const defaultMaxAttachmentSize = "25MB"

// Providers lists the accepted provider names.
var Providers = []string{"smtp", "gomail", "ses", "graph", "resend", "stdout"}

// ErrInvalid is wrapped by every error returned from Validate.
var ErrInvalid = errors.New("invalid configuration")

// Config holds the complete application configuration.
type Config struct {
	Provider    string            `yaml:"provider"`
	SMTP        SMTPConfig        `yaml:"smtp"`
	SES         SESConfig         `yaml:"ses"`
	Graph       GraphConfig       `yaml:"graph"`
	Resend      ResendConfig      `yaml:"resend"`
	Attachments AttachmentsConfig `yaml:"attachments"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// SMTPConfig holds the SMTP server the message is delivered to. It is used
// by both the smtp and gomail providers.
type SMTPConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Scheme          string        `yaml:"scheme"`
	LocalName       string        `yaml:"local_name"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	ResponseTimeout time.Duration `yaml:"response_timeout"`
	Charset         string        `yaml:"charset"`
	ContentType     string        `yaml:"content_type"`
	VerifyPeer      bool          `yaml:"verify_peer"`
	VerifyPeerName  bool          `yaml:"verify_peer_name"`
	// CAFile replaces the system roots with the PEM certificates it holds.
	CAFile          string `yaml:"ca_file"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	StrictAuth      bool   `yaml:"strict_auth"`
	ValidateReplies bool   `yaml:"validate_replies"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender"`
}

// ResendConfig holds Resend API configuration.
type ResendConfig struct {
	APIKey string `yaml:"api_key"`
	Sender string `yaml:"sender"`
}

// AttachmentsConfig bounds attachments read by the API providers.
type AttachmentsConfig struct {
	// MaxSize is a human readable size such as "10MB" or "512k".
	MaxSize string `yaml:"max_size"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()

	return cfg, nil
}

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file into the process
// environment. Variables that are already set are left untouched. It must be
// called before Load or LoadFromFile.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// Validate checks the provider name and the settings the selected provider
// needs.
func (c *Config) Validate() error {
	if _, err := c.MaxAttachmentBytes(); err != nil {
		return err
	}

	switch c.Provider {
	case "smtp", "gomail":
		if c.SMTP.Host == "" {
			return fmt.Errorf("%w: smtp.host is required for provider %q", ErrInvalid, c.Provider)
		}
		if c.SMTP.Port < 0 || c.SMTP.Port > 65535 {
			return fmt.Errorf("%w: smtp.port %d is out of range", ErrInvalid, c.SMTP.Port)
		}
	case "ses":
		if !c.SESConfigured() {
			return fmt.Errorf("%w: ses.region and ses.sender are required", ErrInvalid)
		}
	case "graph":
		if !c.GraphConfigured() {
			return fmt.Errorf("%w: graph tenant_id, client_id, client_secret and sender are required", ErrInvalid)
		}
	case "resend":
		if c.Resend.APIKey == "" {
			return fmt.Errorf("%w: resend.api_key is required", ErrInvalid)
		}
	case "stdout":
	default:
		return fmt.Errorf("%w: unknown provider %q, want one of %s",
			ErrInvalid, c.Provider, strings.Join(Providers, ", "))
	}
	return nil
}

// MaxAttachmentBytes parses Attachments.MaxSize. An empty value means no
// limit and yields zero.
func (c *Config) MaxAttachmentBytes() (int64, error) {
	if c.Attachments.MaxSize == "" {
		return 0, nil
	}
	n, err := units.RAMInBytes(c.Attachments.MaxSize)
	if err != nil {
		return 0, fmt.Errorf("%w: attachments.max_size: %v", ErrInvalid, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: attachments.max_size must not be negative", ErrInvalid)
	}
	return n, nil
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Sender != ""
}

// SESConfigured returns true if the SES region and sender are set. Static
// credentials are optional; the default AWS chain is used without them.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// AuthEnabled returns true if both SMTP username and password are set.
func (c *Config) AuthEnabled() bool {
	return c.SMTP.Username != "" && c.SMTP.Password != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Provider = "smtp"
	c.SMTP.Port = 25
	c.SMTP.Scheme = "ssl"
	c.SMTP.ConnectTimeout = 30 * time.Second
	c.SMTP.ResponseTimeout = 8 * time.Second
	c.SMTP.Charset = "utf-8"
	c.Attachments.MaxSize = defaultMaxAttachmentSize
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values; values
// that fail to parse are ignored.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	envString("SMTP_HOST", &c.SMTP.Host)
	envInt("SMTP_PORT", &c.SMTP.Port)
	envString("SMTP_SCHEME", &c.SMTP.Scheme)
	envString("SMTP_LOCAL_NAME", &c.SMTP.LocalName)
	envDuration("SMTP_CONNECT_TIMEOUT", &c.SMTP.ConnectTimeout)
	envDuration("SMTP_RESPONSE_TIMEOUT", &c.SMTP.ResponseTimeout)
	envString("SMTP_CHARSET", &c.SMTP.Charset)
	envString("SMTP_CONTENT_TYPE", &c.SMTP.ContentType)
	envBool("SMTP_VERIFY_PEER", &c.SMTP.VerifyPeer)
	envBool("SMTP_VERIFY_PEER_NAME", &c.SMTP.VerifyPeerName)
	envString("SMTP_CA_FILE", &c.SMTP.CAFile)
	envString("SMTP_USERNAME", &c.SMTP.Username)
	envString("SMTP_PASSWORD", &c.SMTP.Password)
	envBool("SMTP_STRICT_AUTH", &c.SMTP.StrictAuth)
	envBool("SMTP_VALIDATE_REPLIES", &c.SMTP.ValidateReplies)

	envString("SES_REGION", &c.SES.Region)
	envString("SES_ACCESS_KEY_ID", &c.SES.AccessKeyID)
	envString("SES_SECRET_ACCESS_KEY", &c.SES.SecretAccessKey)
	envString("SES_SENDER", &c.SES.Sender)

	envString("GRAPH_TENANT_ID", &c.Graph.TenantID)
	envString("GRAPH_CLIENT_ID", &c.Graph.ClientID)
	envString("GRAPH_CLIENT_SECRET", &c.Graph.ClientSecret)
	envString("GRAPH_SENDER", &c.Graph.Sender)

	envString("RESEND_API_KEY", &c.Resend.APIKey)
	envString("RESEND_SENDER", &c.Resend.Sender)

	envString("ATTACHMENT_MAX_SIZE", &c.Attachments.MaxSize)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
