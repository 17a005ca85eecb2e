package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/smartshark/issuesync/internal/tracker"
)

// ErrInvalid marks settings that fail validation.
var ErrInvalid = errors.New("invalid configuration")

// Debug levels accepted by --debug.
var debugLevels = []string{"DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL"}

// Settings describes one sync run.
type Settings struct {
	Project  string `yaml:"project-name" toml:"project-name"`
	IssueURL string `yaml:"issueurl" toml:"issueurl"`
	Backend  string `yaml:"backend" toml:"backend"`

	Token         string `yaml:"token" toml:"token"`
	IssueUser     string `yaml:"issue-user" toml:"issue-user"`
	IssuePassword string `yaml:"issue-password" toml:"issue-password"`

	ProxyHost     string `yaml:"proxy-host" toml:"proxy-host"`
	ProxyPort     string `yaml:"proxy-port" toml:"proxy-port"`
	ProxyUser     string `yaml:"proxy-user" toml:"proxy-user"`
	ProxyPassword string `yaml:"proxy-password" toml:"proxy-password"`

	Debug string `yaml:"debug" toml:"debug"`

	// Since overrides the stored cursor; parsed by the timeparsing package.
	Since string `yaml:"since" toml:"since"`

	PageSize   int           `yaml:"page-size" toml:"page-size"`
	Timeout    time.Duration `yaml:"-" toml:"-"`
	MaxElapsed time.Duration `yaml:"-" toml:"-"`
}

// Load reads the run settings from the viper singleton.
func Load() *Settings {
	return &Settings{
		Project:       GetString("project-name"),
		IssueURL:      GetString("issueurl"),
		Backend:       GetString("backend"),
		Token:         GetString("token"),
		IssueUser:     GetString("issue-user"),
		IssuePassword: GetString("issue-password"),
		ProxyHost:     GetString("proxy-host"),
		ProxyPort:     GetString("proxy-port"),
		ProxyUser:     GetString("proxy-user"),
		ProxyPassword: GetString("proxy-password"),
		Debug:         GetString("debug"),
		Since:         GetString("since"),
		PageSize:      GetInt("page-size"),
		Timeout:       GetDuration("request-timeout"),
		MaxElapsed:    GetDuration("retry-max-elapsed"),
	}
}

// Normalize trims the tracking URL's trailing slash, strips an http://
// scheme from the proxy host and upper-cases the debug level.
func (s *Settings) Normalize() {
	s.IssueURL = strings.TrimRight(strings.TrimSpace(s.IssueURL), "/")
	s.ProxyHost = strings.TrimPrefix(strings.TrimSpace(s.ProxyHost), "http://")
	s.Backend = strings.ToLower(strings.TrimSpace(s.Backend))
	s.Debug = strings.ToUpper(strings.TrimSpace(s.Debug))
}

// Validate normalizes the settings and checks them. Credentials and proxy
// settings come in pairs: setting one half requires the other.
func (s *Settings) Validate() error {
	s.Normalize()

	if s.Project == "" {
		return fmt.Errorf("%w: project name must be set", ErrInvalid)
	}
	if s.IssueURL == "" {
		return fmt.Errorf("%w: issue tracker URL must be set", ErrInvalid)
	}
	if u, err := url.Parse(s.IssueURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: issue tracker URL %q is not an absolute URL", ErrInvalid, s.IssueURL)
	}
	if (s.IssueUser == "") != (s.IssuePassword == "") {
		return fmt.Errorf("%w: issue user and password must be set if either of them is", ErrInvalid)
	}
	if (s.ProxyUser == "") != (s.ProxyPassword == "") {
		return fmt.Errorf("%w: proxy user and password must be set if either of them is", ErrInvalid)
	}
	if (s.ProxyHost == "") != (s.ProxyPort == "") {
		return fmt.Errorf("%w: proxy host and port must be set if either of them is", ErrInvalid)
	}
	if s.ProxyPort != "" {
		if err := validatePort(s.ProxyPort); err != nil {
			return fmt.Errorf("%w: proxy port %v", ErrInvalid, err)
		}
	}
	if s.Debug != "" && !validDebugLevel(s.Debug) {
		return fmt.Errorf("%w: debug level must be one of %s, got %q",
			ErrInvalid, strings.Join(debugLevels, ", "), s.Debug)
	}
	if s.PageSize < 0 {
		return fmt.Errorf("%w: page size must not be negative", ErrInvalid)
	}
	return nil
}

// ProxyURL returns the proxy to route tracker requests through, nil when no
// proxy is configured.
func (s *Settings) ProxyURL() *url.URL {
	if s.ProxyHost == "" {
		return nil
	}
	u := &url.URL{Scheme: "http", Host: net.JoinHostPort(s.ProxyHost, s.ProxyPort)}
	if s.ProxyUser != "" {
		u.User = url.UserPassword(s.ProxyUser, s.ProxyPassword)
	}
	return u
}

// TrackerConfig builds the adapter configuration of the run.
func (s *Settings) TrackerConfig(log logrus.FieldLogger) *tracker.Config {
	return &tracker.Config{
		URL:        s.IssueURL,
		Token:      s.Token,
		Username:   s.IssueUser,
		Password:   s.IssuePassword,
		Proxy:      s.ProxyURL(),
		Timeout:    s.Timeout,
		MaxElapsed: s.MaxElapsed,
		Prefix:     s.Backend,
		Log:        log,
	}
}

// Inherit fills the empty fields of s from base.
func (s *Settings) Inherit(base *Settings) {
	for _, f := range []struct{ dst, src *string }{
		{&s.Project, &base.Project},
		{&s.IssueURL, &base.IssueURL},
		{&s.Backend, &base.Backend},
		{&s.Token, &base.Token},
		{&s.IssueUser, &base.IssueUser},
		{&s.IssuePassword, &base.IssuePassword},
		{&s.ProxyHost, &base.ProxyHost},
		{&s.ProxyPort, &base.ProxyPort},
		{&s.ProxyUser, &base.ProxyUser},
		{&s.ProxyPassword, &base.ProxyPassword},
		{&s.Debug, &base.Debug},
		{&s.Since, &base.Since},
	} {
		if *f.dst == "" {
			*f.dst = *f.src
		}
	}
	if s.PageSize == 0 {
		s.PageSize = base.PageSize
	}
	if s.Timeout == 0 {
		s.Timeout = base.Timeout
	}
	if s.MaxElapsed == 0 {
		s.MaxElapsed = base.MaxElapsed
	}
}

// String renders the settings with secrets masked.
func (s *Settings) String() string {
	return fmt.Sprintf("Settings{project: %s, backend: %s, url: %s, token: %s, issue user: %s, issue password: %s, proxy: %s:%s, proxy user: %s, proxy password: %s}",
		s.Project, s.Backend, s.IssueURL, mask(s.Token), s.IssueUser, mask(s.IssuePassword),
		s.ProxyHost, s.ProxyPort, s.ProxyUser, mask(s.ProxyPassword))
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
}

func validDebugLevel(level string) bool {
	for _, l := range debugLevels {
		if l == level {
			return true
		}
	}
	return false
}

func validatePort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("must be a number, got %q", value)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("must be between 1 and 65535, got %d", port)
	}
	return nil
}
