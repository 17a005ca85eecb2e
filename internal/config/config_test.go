package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestInitialize(t *testing.T) {
	t.Chdir(t.TempDir())
	if err := Initialize(""); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	if v == nil {
		t.Fatal("viper instance is nil after Initialize()")
	}
}

func TestDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	if err := Initialize(""); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}

	tests := []struct {
		key      string
		expected interface{}
		getter   func(string) interface{}
	}{
		{"backend", "github", func(k string) interface{} { return GetString(k) }},
		{"debug", "DEBUG", func(k string) interface{} { return GetString(k) }},
		{"db-driver", "sqlite", func(k string) interface{} { return GetString(k) }},
		{"page-size", 50, func(k string) interface{} { return GetInt(k) }},
		{"retry-max-elapsed", 5 * time.Minute, func(k string) interface{} { return GetDuration(k) }},
		{"dry-run", false, func(k string) interface{} { return GetBool(k) }},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := tt.getter(tt.key); got != tt.expected {
				t.Errorf("GetXXX(%q) = %v, want %v", tt.key, got, tt.expected)
			}
		})
	}
}

func TestEnvironmentBinding(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ISSUESYNC_BACKEND", "jira")
	t.Setenv("ISSUESYNC_ISSUE_USER", "alice")
	t.Setenv("ISSUESYNC_REQUEST_TIMEOUT", "10s")

	if err := Initialize(""); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	if got := GetString("backend"); got != "jira" {
		t.Errorf("GetString(backend) = %q, want jira", got)
	}
	if got := GetString("issue-user"); got != "alice" {
		t.Errorf("GetString(issue-user) = %q, want alice", got)
	}
	if got := GetDuration("request-timeout"); got != 10*time.Second {
		t.Errorf("GetDuration(request-timeout) = %v, want 10s", got)
	}
}

func TestConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	dir := filepath.Join(tmpDir, ".issuesync")
	if err := os.MkdirAll(dir, 0750); err != nil {
		t.Fatalf("failed to create config directory: %v", err)
	}
	content := "backend: bugzilla\npage-size: 20\ndb-dsn: /tmp/x.db\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	t.Chdir(tmpDir)

	if err := Initialize(""); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	if got := GetString("backend"); got != "bugzilla" {
		t.Errorf("GetString(backend) = %q, want bugzilla", got)
	}
	if got := GetInt("page-size"); got != 20 {
		t.Errorf("GetInt(page-size) = %d, want 20", got)
	}
	if ConfigFileUsed() == "" {
		t.Error("ConfigFileUsed() is empty")
	}

	// Environment overrides the file.
	t.Setenv("ISSUESYNC_BACKEND", "jira")
	if err := Initialize(""); err != nil {
		t.Fatalf("Initialize() returned error: %v", err)
	}
	if got := GetString("backend"); got != "jira" {
		t.Errorf("GetString(backend) with env var = %q, want jira", got)
	}
}

func TestExplicitConfigFileMustExist(t *testing.T) {
	err := Initialize(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Initialize() with a missing explicit file should fail")
	}
}

func TestNilViperBehavior(t *testing.T) {
	saved := v
	v = nil
	defer func() { v = saved }()

	if got := GetString("backend"); got != "" {
		t.Errorf("GetString() = %q, want empty", got)
	}
	if got := GetInt("page-size"); got != 0 {
		t.Errorf("GetInt() = %d, want 0", got)
	}
	Set("backend", "jira")
	if got := AllSettings(); len(got) != 0 {
		t.Errorf("AllSettings() = %v, want empty", got)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Settings {
		return &Settings{Project: "p", IssueURL: "https://api.github.com/repos/o/r/issues/", Backend: "GitHub", Debug: "info"}
	}

	s := valid()
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
	if s.IssueURL != "https://api.github.com/repos/o/r/issues" {
		t.Errorf("IssueURL = %q, trailing slash not trimmed", s.IssueURL)
	}
	if s.Backend != "github" || s.Debug != "INFO" {
		t.Errorf("Backend, Debug = %q, %q; want github, INFO", s.Backend, s.Debug)
	}

	tests := []struct {
		name   string
		modify func(*Settings)
	}{
		{"no project", func(s *Settings) { s.Project = "" }},
		{"no url", func(s *Settings) { s.IssueURL = "" }},
		{"relative url", func(s *Settings) { s.IssueURL = "repos/o/r" }},
		{"user without password", func(s *Settings) { s.IssueUser = "alice" }},
		{"password without user", func(s *Settings) { s.IssuePassword = "pw" }},
		{"proxy user without password", func(s *Settings) { s.ProxyUser = "bob" }},
		{"proxy host without port", func(s *Settings) { s.ProxyHost = "proxy" }},
		{"proxy port without host", func(s *Settings) { s.ProxyPort = "8080" }},
		{"bad proxy port", func(s *Settings) { s.ProxyHost, s.ProxyPort = "proxy", "http" }},
		{"bad debug level", func(s *Settings) { s.Debug = "TRACE" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.modify(s)
			if err := s.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestProxyURL(t *testing.T) {
	s := &Settings{Project: "p", IssueURL: "https://x.org/a", ProxyHost: "http://proxy.local", ProxyPort: "3128"}
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if got := s.ProxyURL().String(); got != "http://proxy.local:3128" {
		t.Errorf("ProxyURL() = %q", got)
	}

	s.ProxyUser, s.ProxyPassword = "u", "p"
	if got := s.ProxyURL().String(); got != "http://u:p@proxy.local:3128" {
		t.Errorf("ProxyURL() with credentials = %q", got)
	}

	if (&Settings{}).ProxyURL() != nil {
		t.Error("ProxyURL() without host should be nil")
	}
}

func TestTrackerConfig(t *testing.T) {
	s := &Settings{IssueURL: "https://x.org/a", Backend: "jira", IssueUser: "u", IssuePassword: "p", Timeout: time.Second}
	cfg := s.TrackerConfig(nil)
	if cfg.URL != s.IssueURL || cfg.Username != "u" || cfg.Password != "p" || cfg.Prefix != "jira" || cfg.Timeout != time.Second {
		t.Errorf("TrackerConfig() = %+v", cfg)
	}
}

func TestStringMasksSecrets(t *testing.T) {
	s := &Settings{Token: "t0k", IssuePassword: "s3cret", ProxyPassword: "pr0xy"}
	got := s.String()
	for _, secret := range []string{"t0k", "s3cret", "pr0xy"} {
		if strings.Contains(got, secret) {
			t.Errorf("String() leaks %q: %s", secret, got)
		}
	}
}
