// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the contact form service.
package config

import (
	"errors"
	"fmt"
	"net/mail"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Mail      MailConfig      `yaml:"mail"`
	Templates TemplatesConfig `yaml:"templates"`
	// Provider names the delivery backend. A comma-separated list fans out
	// to every named backend.
	Provider string        `yaml:"provider"`
	SES      SESConfig     `yaml:"ses"`
	Graph    GraphConfig   `yaml:"graph"`
	SMTP     SMTPConfig    `yaml:"smtp"`
	File     FileConfig    `yaml:"file"`
	Logging  LoggingConfig `yaml:"logging"`
}

// HTTPConfig holds the HTTP server configuration. RateLimit is the number of
// contact submissions accepted per second; zero disables limiting.
type HTTPConfig struct {
	Listen    string  `yaml:"listen"`
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// MailConfig holds the site-wide mail defaults.
type MailConfig struct {
	DefaultFromEmail string    `yaml:"default_from_email"`
	Managers         []Manager `yaml:"managers"`
	FailSilently     bool      `yaml:"fail_silently"`
}

// Manager is a named recipient of contact form submissions.
type Manager struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
}

// TemplatesConfig holds template lookup configuration.
type TemplatesConfig struct {
	Dir string `yaml:"dir"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// GraphConfig holds Microsoft Graph API configuration. Authority, Scope and
// Timeout are optional and default to the public cloud settings.
type GraphConfig struct {
	TenantID     string        `yaml:"tenant_id"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	Sender       string        `yaml:"sender"`
	Authority    string        `yaml:"authority"`
	Scope        string        `yaml:"scope"`
	Timeout      time.Duration `yaml:"timeout"`
}

// SMTPConfig holds the outbound SMTP relay configuration.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// FileConfig holds the mail log file configuration.
type FileConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration. When File is set, logs are also
// written to a rotating file.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// readDotEnv reads the given .env files. Later files win and missing files
// are skipped.
func readDotEnv(paths []string) (map[string]string, error) {
	vars := make(map[string]string)
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		m, err := godotenv.Read(p)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", p, err)
		}
		for k, v := range m {
			vars[k] = v
		}
	}
	return vars, nil
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
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
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Providers returns the normalized provider names. An empty result means
// the backend should be auto-detected.
func (c *Config) Providers() []string {
	var out []string
	for _, p := range strings.Split(c.Provider, ",") {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Sender != ""
}

// SESConfigured returns true if the SES region and sender are set. Static
// credentials are optional.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// SMTPConfigured returns true if an SMTP relay host is set.
func (c *Config) SMTPConfigured() bool {
	return c.SMTP.Host != ""
}

// ManagerAddresses returns the managers' addresses in configured order.
func (c *Config) ManagerAddresses() []string {
	out := make([]string, 0, len(c.Mail.Managers))
	for _, m := range c.Mail.Managers {
		out = append(out, m.Address)
	}
	return out
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.HTTP.Listen = ":8080"
	c.HTTP.RateLimit = 1
	c.HTTP.RateBurst = 5
	c.Mail.DefaultFromEmail = "webmaster@localhost"
	c.SMTP.Port = 587
	c.Logging.Level = "info"
	c.Logging.MaxSizeMB = 100
	c.Logging.MaxBackups = 3
	c.Logging.MaxAgeDays = 28
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() error {
	if v := os.Getenv("HTTP_LISTEN"); v != "" {
		c.HTTP.Listen = v
	}
	if v := os.Getenv("HTTP_RATE_LIMIT"); v != "" {
		if limit, err := strconv.ParseFloat(v, 64); err == nil {
			c.HTTP.RateLimit = limit
		}
	}
	if v := os.Getenv("HTTP_RATE_BURST"); v != "" {
		if burst, err := strconv.Atoi(v); err == nil {
			c.HTTP.RateBurst = burst
		}
	}

	if v := os.Getenv("DEFAULT_FROM_EMAIL"); v != "" {
		c.Mail.DefaultFromEmail = v
	}
	if v := os.Getenv("MANAGERS"); v != "" {
		managers, err := ParseManagers(v)
		if err != nil {
			return fmt.Errorf("invalid MANAGERS: %w", err)
		}
		c.Mail.Managers = managers
	}
	if v := os.Getenv("CONTACT_FAIL_SILENTLY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid CONTACT_FAIL_SILENTLY: %w", err)
		}
		c.Mail.FailSilently = b
	}

	if v := os.Getenv("TEMPLATES_DIR"); v != "" {
		c.Templates.Dir = v
	}

	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	if v := os.Getenv("SES_REGION"); v != "" {
		c.SES.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY_ID"); v != "" {
		c.SES.AccessKeyID = v
	}
	if v := os.Getenv("SES_SECRET_ACCESS_KEY"); v != "" {
		c.SES.SecretAccessKey = v
	}
	if v := os.Getenv("SES_SENDER"); v != "" {
		c.SES.Sender = v
	}

	if v := os.Getenv("GRAPH_TENANT_ID"); v != "" {
		c.Graph.TenantID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_ID"); v != "" {
		c.Graph.ClientID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_SECRET"); v != "" {
		c.Graph.ClientSecret = v
	}
	if v := os.Getenv("GRAPH_SENDER"); v != "" {
		c.Graph.Sender = v
	}
	if v := os.Getenv("GRAPH_AUTHORITY"); v != "" {
		c.Graph.Authority = v
	}
	if v := os.Getenv("GRAPH_SCOPE"); v != "" {
		c.Graph.Scope = v
	}
	if v := os.Getenv("GRAPH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid GRAPH_TIMEOUT: %w", err)
		}
		c.Graph.Timeout = d
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		c.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.SMTP.Port = port
		}
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		c.SMTP.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		c.SMTP.Password = v
	}

	if v := os.Getenv("MAIL_LOG_FILE"); v != "" {
		c.File.Path = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		c.Logging.File = v
	}

	return nil
}

// ParseManagers parses a comma-separated address list such as
// "Alice <alice@example.com>, bob@example.com".
func ParseManagers(s string) ([]Manager, error) {
	addrs, err := mail.ParseAddressList(s)
	if err != nil {
		return nil, err
	}
	out := make([]Manager, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, Manager{Name: a.Name, Address: a.Address})
	}
	return out, nil
}
