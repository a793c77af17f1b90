package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValid(t *testing.T) {
	path := writeConfig(t, `
webhook_url: https://qyapi.weixin.qq.com/cgi-bin/webhook/send?key=abc
auth_secret: s3cret
poll_interval_seconds: 60
accounts:
  - name: work
    provider: custom
    protocol: imap
    host: mail.example.com
    port: 993
    username: me@example.com
    password: pw
    use_tls: true
    strategy: unread
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Interval() != 60*time.Second {
		t.Errorf("Interval() = %v, want 60s", cfg.Interval())
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel default = %q, want info", cfg.LogLevel)
	}
	if cfg.HTTPAddr != ":8000" {
		t.Errorf("HTTPAddr default = %q, want :8000", cfg.HTTPAddr)
	}
	if got := cfg.Accounts[0].GetFolder(); got != "INBOX" {
		t.Errorf("GetFolder() = %q, want INBOX", got)
	}
}

func TestLoadAppliesProviderPresets(t *testing.T) {
	path := writeConfig(t, `
webhook_url: https://example.com/hook
accounts:
  - provider: qq
    username: u@qq.com
    password: pw
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	a := cfg.Accounts[0]
	if a.Host != "imap.qq.com" || a.Port != 993 || !a.UseTLS {
		t.Errorf("preset not applied: %+v", a)
	}
	if a.Protocol != "imap" {
		t.Errorf("Protocol = %q, want imap", a.Protocol)
	}
	if a.Strategy != "unread_window" {
		t.Errorf("Strategy = %q, want unread_window", a.Strategy)
	}
	if a.Window() != 24*time.Hour {
		t.Errorf("Window() = %v, want 24h", a.Window())
	}
	if a.Name != "u@qq.com" {
		t.Errorf("Name = %q, want username fallback", a.Name)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			"missing webhook",
			`accounts: [{provider: gmail, username: a@gmail.com, password: p}]`,
			"webhook_url",
		},
		{
			"no accounts",
			`webhook_url: https://example.com/hook`,
			"at least one account",
		},
		{
			"bad protocol",
			`{webhook_url: "https://example.com/hook", accounts: [{name: x, protocol: smtp, host: h, port: 1, username: u, strategy: unread}]}`,
			"protocol",
		},
		{
			"bad strategy",
			`{webhook_url: "https://example.com/hook", accounts: [{name: x, protocol: imap, host: h, port: 1, username: u, strategy: newest}]}`,
			"strategy",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			if err == nil {
				t.Fatal("Load() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("WEIXIN_WEBHOOK", "https://example.com/hook")
	t.Setenv("AUTH_SECRET", "topsecret")
	t.Setenv("POLL_INTERVAL_SECONDS", "90")
	t.Setenv("GMAIL_EMAILS", "a@gmail.com, b@gmail.com")
	t.Setenv("GMAIL_PASSWORDS", "pw1,pw2")
	t.Setenv("QQ_EMAIL", "c@qq.com")
	t.Setenv("QQ_PASSWORD", "pw3")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv() error = %v", err)
	}
	if cfg.AuthSecret != "topsecret" {
		t.Errorf("AuthSecret = %q", cfg.AuthSecret)
	}
	if cfg.Interval() != 90*time.Second {
		t.Errorf("Interval() = %v, want 90s", cfg.Interval())
	}
	if len(cfg.Accounts) != 3 {
		t.Fatalf("len(Accounts) = %d, want 3", len(cfg.Accounts))
	}

	byName := map[string]Account{}
	for _, a := range cfg.Accounts {
		byName[a.Username] = a
	}
	gmail := byName["a@gmail.com"]
	if gmail.Host != "imap.gmail.com" || gmail.Strategy != "unread" {
		t.Errorf("gmail account preset not applied: %+v", gmail)
	}
	if byName["b@gmail.com"].Password != "pw2" {
		t.Errorf("credential pairing broken: %+v", byName["b@gmail.com"])
	}
	qq := byName["c@qq.com"]
	if qq.Host != "imap.qq.com" || qq.Strategy != "unread_window" {
		t.Errorf("qq account preset not applied: %+v", qq)
	}
}

func TestFromEnvListMismatch(t *testing.T) {
	t.Setenv("WEIXIN_WEBHOOK", "https://example.com/hook")
	t.Setenv("GMAIL_EMAILS", "a@gmail.com,b@gmail.com")
	t.Setenv("GMAIL_PASSWORDS", "only-one")

	if _, err := FromEnv(); err == nil {
		t.Fatal("FromEnv() error = nil, want mismatch error")
	}
}

func TestFromEnvNoAccounts(t *testing.T) {
	t.Setenv("WEIXIN_WEBHOOK", "https://example.com/hook")
	for _, key := range []string{"GMAIL_EMAILS", "GMAIL_EMAIL", "QQ_EMAILS", "QQ_EMAIL"} {
		t.Setenv(key, "")
	}

	if _, err := FromEnv(); err == nil {
		t.Fatal("FromEnv() error = nil, want validation error")
	}
}
