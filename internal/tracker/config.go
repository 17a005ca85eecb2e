package tracker

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds the connection settings handed to an adapter's Init.
type Config struct {
	// URL is the tracking URL of the issue system, without trailing slash.
	URL string

	Token    string
	Username string
	Password string

	// Proxy is the HTTP proxy to route tracker requests through. Nil means
	// the environment's proxy settings are used.
	Proxy *url.URL

	// MaxElapsed bounds the retry budget of a single request.
	MaxElapsed time.Duration

	// Timeout is the per-attempt HTTP timeout.
	Timeout time.Duration

	// Extra holds backend-specific settings keyed without the backend prefix.
	Extra map[string]string

	// Prefix is the backend name used for environment fallbacks.
	Prefix string

	// Log receives the adapter's request logging. Defaults to the standard
	// logger.
	Log logrus.FieldLogger
}

// Get retrieves a backend-specific setting, falling back to the environment
// variable PREFIX_KEY. Example: cfg.Get("api_key") for prefix "bugzilla"
// reads Extra["api_key"], then BUGZILLA_API_KEY.
func (c *Config) Get(key string) string {
	if v := c.Extra[key]; v != "" {
		return v
	}
	if envKey := c.envVarName(key); envKey != "" {
		return os.Getenv(envKey)
	}
	return ""
}

// GetRequired is like Get but returns an error if the value is empty.
func (c *Config) GetRequired(key string) (string, error) {
	if v := c.Get(key); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s.%s not configured (or export %s=VALUE)",
		ErrAuth, c.Prefix, key, c.envVarName(key))
}

// Credentials returns the token and the basic-auth pair with environment
// fallbacks applied.
func (c *Config) Credentials() (token, user, password string) {
	token, user, password = c.Token, c.Username, c.Password
	if token == "" {
		token = c.Get("token")
	}
	if user == "" {
		user = c.Get("user")
	}
	if password == "" {
		password = c.Get("password")
	}
	return token, user, password
}

// envVarName converts a config key to its environment variable name.
// Example: for prefix "jira" and key "api_key", returns "JIRA_API_KEY"
func (c *Config) envVarName(key string) string {
	if c.Prefix == "" {
		return ""
	}
	envKey := strings.ToUpper(c.Prefix + "_" + key)
	return strings.ReplaceAll(envKey, ".", "_")
}
