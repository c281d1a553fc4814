package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/gaborage/apicall/retry"
)

// Environment constants
const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
)

// Validate checks every section of cfg and returns the first failure.
func Validate(cfg *Config) error {
	validEnvs := []string{EnvDevelopment, EnvStaging, EnvProduction}
	if !slices.Contains(validEnvs, cfg.Env) {
		return NewInvalidFieldError("env", fmt.Sprintf("invalid environment: %s", cfg.Env), validEnvs)
	}

	if err := validateLog(&cfg.Log); err != nil {
		return fmt.Errorf("log config: %w", err)
	}

	if err := validateClient(&cfg.Client); err != nil {
		return fmt.Errorf("client config: %w", err)
	}

	if err := cfg.Observability.Validate(); err != nil {
		return fmt.Errorf("observability config: %w", err)
	}

	return nil
}

// validateLog validates that cfg.Level is one of the supported log levels.
func validateLog(cfg *LogConfig) error {
	validLevels := []string{"trace", "debug", "info", "warn", "error"}
	if !slices.Contains(validLevels, cfg.Level) {
		return NewInvalidFieldError("log.level", fmt.Sprintf("invalid log level: %s", cfg.Level), validLevels)
	}
	return nil
}

// validateClient rejects values the call engine would otherwise silently
// degrade: negative budgets or delays and malformed status patterns.
func validateClient(cfg *ClientConfig) error {
	if cfg.BaseURL != "" {
		if err := validateBaseURL(cfg.BaseURL); err != nil {
			return err
		}
	}

	if cfg.Timeout <= 0 {
		return NewValidationError("client.timeout", "must be positive")
	}
	if cfg.Retries < 0 {
		return NewValidationError("client.retries", "must be zero or positive")
	}
	if cfg.RetryAfter < 0 {
		return NewValidationError("client.retryafter", "must be zero or positive")
	}
	if cfg.MinRetryAfter < 0 {
		return NewValidationError("client.minretryafter", "must be zero or positive")
	}
	if cfg.MaxRetryAfter < 0 {
		return NewValidationError("client.maxretryafter", "must be zero or positive")
	}
	if cfg.MinRetryAfter > 0 && cfg.MaxRetryAfter > 0 && cfg.MaxRetryAfter < cfg.MinRetryAfter {
		return NewValidationError("client.maxretryafter", "must not be lower than client.minretryafter")
	}

	if invalid := retry.ParsePatterns(cfg.DoNotRetryOn).Invalid(); len(invalid) > 0 {
		return &ConfigError{
			Category: "invalid",
			Field:    "client.donotretryon",
			Message:  fmt.Sprintf("malformed status patterns: %s", strings.Join(invalid, ", ")),
			Action:   "use exact codes like 401 or classes like 5xx and 40x",
		}
	}

	if cfg.Auth.HasToken() && cfg.Auth.AuthorizationType == "" {
		return NewMissingFieldError("client.auth.authorizationtype", "APICALL_CLIENT_AUTH_AUTHORIZATIONTYPE", "client.auth.authorizationtype")
	}
	if cfg.Auth.User != "" && cfg.Auth.Password == "" {
		return NewMissingFieldError("client.auth.password", "APICALL_CLIENT_AUTH_PASSWORD", "client.auth.password")
	}
	if cfg.Auth.Password != "" && cfg.Auth.User == "" {
		return NewMissingFieldError("client.auth.user", "APICALL_CLIENT_AUTH_USER", "client.auth.user")
	}
	return nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return NewValidationError("client.baseurl", fmt.Sprintf("unparseable url: %v", err))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return NewInvalidFieldError("client.baseurl", fmt.Sprintf("unsupported scheme %q", u.Scheme), []string{"http", "https"})
	}
	if u.Host == "" {
		return NewValidationError("client.baseurl", "host is required")
	}
	return nil
}
