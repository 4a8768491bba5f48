// Package config provides configuration loading and validation for a
// SOCKS5 server process.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/casept/socks5go/internal/socks5"
)

// Config is the complete process configuration.
type Config struct {
	Log    LogConfig    `yaml:"log"`
	Server ServerConfig `yaml:"server"`
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ServerConfig mirrors socks5.ServerConfig in a YAML-friendly shape:
// AuthMethods is a list of names rather than raw bytes, and users are a
// list rather than a map, so config files read naturally.
type ServerConfig struct {
	Address          string        `yaml:"address"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	AuthMethods      []string      `yaml:"auth_methods"`
	Users            []UserConfig  `yaml:"users"`

	// MaxAuthFailuresPerMinute throttles sub-negotiation attempts per
	// peer host. Zero disables throttling.
	MaxAuthFailuresPerMinute int `yaml:"max_auth_failures_per_minute"`
}

// UserConfig is one entry in the username/password credential store.
// Exactly one of Password or PasswordHash should be set; PasswordHash
// (bcrypt, as produced by socks5.HashPassword) is strongly preferred
// for anything reachable from untrusted networks.
type UserConfig struct {
	Username     string `yaml:"username"`
	Password     string `yaml:"password,omitempty"`
	PasswordHash string `yaml:"password_hash,omitempty"`
}

// Default returns the zero-configuration server: listening on
// 127.0.0.1:1080, no-auth only, a ten-second handshake timeout, no rate
// limiting.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Address:          "127.0.0.1:1080",
			HandshakeTimeout: 10 * time.Second,
			AuthMethods:      []string{"no-auth"},
		},
	}
}

// Load reads and parses a configuration file, applying defaults for
// anything the file doesn't set.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes, expanding environment
// variable references first so secrets can be injected at deploy time
// rather than committed to the file.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envVarRegex matches ${VAR} or $VAR patterns.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return match
	})
}

// authMethodNames maps the config file's human-readable method names to
// their wire values.
var authMethodNames = map[string]socks5.AuthMethod{
	"no-auth":           socks5.AuthNoAuth,
	"username-password": socks5.AuthUserPass,
}

// Validate checks the configuration for internal consistency and
// resolves it enough to catch errors early; it does not build the
// socks5.ServerConfig (see ToSOCKS5).
func (c *Config) Validate() error {
	var errs []string

	if !isValidLogLevel(c.Log.Level) {
		errs = append(errs, fmt.Sprintf("log.level: invalid value %q (must be debug, info, warn, or error)", c.Log.Level))
	}
	if !isValidLogFormat(c.Log.Format) {
		errs = append(errs, fmt.Sprintf("log.format: invalid value %q (must be text or json)", c.Log.Format))
	}

	if c.Server.Address == "" {
		errs = append(errs, "server.address is required")
	}
	if len(c.Server.AuthMethods) == 0 {
		errs = append(errs, "server.auth_methods must not be empty")
	}

	wantsUserPass := false
	for i, name := range c.Server.AuthMethods {
		if _, ok := authMethodNames[name]; !ok {
			errs = append(errs, fmt.Sprintf("server.auth_methods[%d]: unknown method %q", i, name))
			continue
		}
		if name == "username-password" {
			wantsUserPass = true
		}
	}
	if wantsUserPass && len(c.Server.Users) == 0 {
		errs = append(errs, "server.auth_methods includes username-password but server.users is empty")
	}

	seen := make(map[string]bool, len(c.Server.Users))
	for i, u := range c.Server.Users {
		if u.Username == "" {
			errs = append(errs, fmt.Sprintf("server.users[%d]: username is required", i))
		}
		if u.Password == "" && u.PasswordHash == "" {
			errs = append(errs, fmt.Sprintf("server.users[%d]: one of password or password_hash is required", i))
		}
		if seen[u.Username] {
			errs = append(errs, fmt.Sprintf("server.users[%d]: duplicate username %q", i, u.Username))
		}
		seen[u.Username] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ToSOCKS5 resolves the config into a socks5.ServerConfig, building a
// HashedCredentials store from Users: PasswordHash is used as given, and
// a plaintext Password is bcrypt-hashed first.
// Call Validate first; ToSOCKS5 does not re-check consistency.
func (c *Config) ToSOCKS5() (socks5.ServerConfig, error) {
	methods := make([]socks5.AuthMethod, 0, len(c.Server.AuthMethods))
	for _, name := range c.Server.AuthMethods {
		m, ok := authMethodNames[name]
		if !ok {
			return socks5.ServerConfig{}, fmt.Errorf("server.auth_methods: unknown method %q", name)
		}
		methods = append(methods, m)
	}

	var creds socks5.CredentialStore
	if len(c.Server.Users) > 0 {
		hashed := make(socks5.HashedCredentials, len(c.Server.Users))
		for _, u := range c.Server.Users {
			hash := u.PasswordHash
			if hash == "" {
				var err error
				hash, err = socks5.HashPassword(u.Password)
				if err != nil {
					return socks5.ServerConfig{}, fmt.Errorf("hashing password for user %q: %w", u.Username, err)
				}
			}
			hashed[u.Username] = hash
		}
		creds = hashed
	}

	return socks5.ServerConfig{
		Address:                  c.Server.Address,
		HandshakeTimeout:         c.Server.HandshakeTimeout,
		AuthMethods:              methods,
		Credentials:              creds,
		MaxAuthFailuresPerMinute: c.Server.MaxAuthFailuresPerMinute,
	}, nil
}

func isValidLogLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch strings.ToLower(format) {
	case "text", "json":
		return true
	default:
		return false
	}
}

// redactedValue is the placeholder for sensitive values.
const redactedValue = "[REDACTED]"

// String returns a YAML representation with secrets redacted, safe to
// log or display.
func (c *Config) String() string {
	redacted := c.Redacted()
	data, _ := yaml.Marshal(redacted)
	return string(data)
}

// StringUnsafe returns a YAML representation including secrets. Do not
// log the output.
func (c *Config) StringUnsafe() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Redacted returns a deep copy of c with user passwords and password
// hashes replaced by a placeholder.
func (c *Config) Redacted() *Config {
	data, err := yaml.Marshal(c)
	if err != nil {
		return c
	}

	redacted := &Config{}
	if err := yaml.Unmarshal(data, redacted); err != nil {
		return c
	}

	for i := range redacted.Server.Users {
		if redacted.Server.Users[i].Password != "" {
			redacted.Server.Users[i].Password = redactedValue
		}
		if redacted.Server.Users[i].PasswordHash != "" {
			redacted.Server.Users[i].PasswordHash = redactedValue
		}
	}

	return redacted
}
