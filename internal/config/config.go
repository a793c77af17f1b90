package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.yaml.in/yaml/v4"
)

// Config is the top-level application configuration.
type Config struct {
	LogLevel            string    `yaml:"log_level"`
	HTTPAddr            string    `yaml:"http_addr"`
	WebhookURL          string    `yaml:"webhook_url"`
	AuthSecret          string    `yaml:"auth_secret"`
	PollIntervalSeconds int       `yaml:"poll_interval_seconds"`
	DisplayTimezone     string    `yaml:"display_timezone"`
	DataDir             string    `yaml:"data_dir"`
	Accounts            []Account `yaml:"accounts"`
}

// Account describes one monitored mailbox.
type Account struct {
	Name          string `yaml:"name"`
	Provider      string `yaml:"provider"` // "gmail", "qq" or "custom"
	Protocol      string `yaml:"protocol"` // "imap" or "pop3"
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	UseTLS        bool   `yaml:"use_tls"`
	Folder        string `yaml:"folder"`
	Strategy      string `yaml:"strategy"` // "unread" or "unread_window"
	WindowMinutes int    `yaml:"window_minutes"`
}

// preset carries the well-known server settings for a mail provider.
type preset struct {
	Host          string
	Port          int
	Protocol      string
	UseTLS        bool
	Strategy      string
	WindowMinutes int
}

// QQ's IMAP servers keep reporting old mail as unseen, so its preset adds a
// time window on top of the unread flag. Gmail behaves and gets unread-only.
var presets = map[string]preset{
	"gmail": {Host: "imap.gmail.com", Port: 993, Protocol: "imap", UseTLS: true, Strategy: "unread"},
	"qq":    {Host: "imap.qq.com", Port: 993, Protocol: "imap", UseTLS: true, Strategy: "unread_window", WindowMinutes: 1440},
}

// Interval returns the poll interval as a time.Duration.
func (c *Config) Interval() time.Duration {
	if c.PollIntervalSeconds <= 0 {
		return 180 * time.Second
	}
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// Window returns the account's notification window, defaulting to 24h.
func (a *Account) Window() time.Duration {
	if a.WindowMinutes <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(a.WindowMinutes) * time.Minute
}

// GetFolder returns the mailbox folder name, defaulting to "INBOX".
func (a *Account) GetFolder() string {
	if a.Folder == "" {
		return "INBOX"
	}
	return a.Folder
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyPresets()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// FromEnv builds a configuration purely from environment variables. Accounts
// come from per-provider comma-separated address/credential lists
// (GMAIL_EMAILS/GMAIL_PASSWORDS, QQ_EMAILS/QQ_PASSWORDS); the singular
// GMAIL_EMAIL/QQ_EMAIL forms are accepted too.
func FromEnv() (*Config, error) {
	cfg := defaults()
	cfg.LogLevel = getEnvString("LOG_LEVEL", cfg.LogLevel)
	cfg.HTTPAddr = getEnvString("HTTP_ADDR", cfg.HTTPAddr)
	cfg.WebhookURL = getEnvString("WEIXIN_WEBHOOK", "")
	cfg.AuthSecret = getEnvString("AUTH_SECRET", "")
	cfg.PollIntervalSeconds = getEnvInt("POLL_INTERVAL_SECONDS", cfg.PollIntervalSeconds)
	cfg.DisplayTimezone = getEnvString("DISPLAY_TIMEZONE", cfg.DisplayTimezone)
	cfg.DataDir = getEnvString("DATA_DIR", "")

	for _, provider := range []string{"gmail", "qq"} {
		prefix := strings.ToUpper(provider)
		emails := splitList(getEnvString(prefix+"_EMAILS", getEnvString(prefix+"_EMAIL", "")))
		passwords := splitList(getEnvString(prefix+"_PASSWORDS", getEnvString(prefix+"_PASSWORD", "")))
		if len(emails) == 0 {
			continue
		}
		if len(emails) != len(passwords) {
			return nil, fmt.Errorf("%s_EMAILS and %s_PASSWORDS must have the same number of entries", prefix, prefix)
		}
		for i, addr := range emails {
			cfg.Accounts = append(cfg.Accounts, Account{
				Provider: provider,
				Username: addr,
				Password: passwords[i],
			})
		}
	}

	cfg.applyPresets()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		LogLevel:            "info",
		HTTPAddr:            ":8000",
		PollIntervalSeconds: 180,
		DisplayTimezone:     "Asia/Shanghai",
	}
}

// applyPresets fills in empty account fields from the provider preset.
func (c *Config) applyPresets() {
	for i := range c.Accounts {
		a := &c.Accounts[i]
		if p, ok := presets[a.Provider]; ok {
			if a.Host == "" {
				a.Host = p.Host
				a.UseTLS = p.UseTLS
			}
			if a.Port == 0 {
				a.Port = p.Port
			}
			if a.Protocol == "" {
				a.Protocol = p.Protocol
			}
			if a.Strategy == "" {
				a.Strategy = p.Strategy
			}
			if a.WindowMinutes == 0 {
				a.WindowMinutes = p.WindowMinutes
			}
		}
		if a.Name == "" {
			a.Name = a.Username
		}
	}
}

func (c *Config) validate() error {
	if c.WebhookURL == "" {
		return fmt.Errorf("webhook_url is required")
	}
	if len(c.Accounts) == 0 {
		return fmt.Errorf("at least one account is required")
	}
	for i, a := range c.Accounts {
		label := a.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}
		if a.Protocol != "imap" && a.Protocol != "pop3" {
			return fmt.Errorf("account %s: protocol must be imap or pop3", label)
		}
		if a.Host == "" {
			return fmt.Errorf("account %s: host is required", label)
		}
		if a.Port == 0 {
			return fmt.Errorf("account %s: port is required", label)
		}
		if a.Username == "" {
			return fmt.Errorf("account %s: username is required", label)
		}
		if a.Strategy != "unread" && a.Strategy != "unread_window" {
			return fmt.Errorf("account %s: strategy must be unread or unread_window", label)
		}
	}
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err == nil {
			return parsed
		}
	}
	return fallback
}
