package http

import (
	"github.com/gaborage/apicall/config"
	"github.com/gaborage/apicall/logger"
	"github.com/gaborage/apicall/observability"
)

// NewFromConfig builds a client from the client section of the
// configuration. Telemetry goes to provider when it is not nil.
func NewFromConfig(cfg *config.ClientConfig, log logger.Logger, provider observability.Provider) Client {
	b := NewBuilder(log).
		WithBaseURL(cfg.BaseURL).
		WithTimeout(cfg.Timeout)

	for key, value := range cfg.Headers {
		b.WithDefaultHeader(key, value)
	}

	switch {
	case cfg.Auth.HasToken():
		b.WithTokenAuth(cfg.Auth.AuthorizationType, cfg.Auth.Token)
	case cfg.Auth.HasBasic():
		b.WithBasicAuth(cfg.Auth.User, cfg.Auth.Password)
	}

	if provider != nil {
		b.WithTracerProvider(provider.TracerProvider()).
			WithMeterProvider(provider.MeterProvider())
	}
	return b.Build()
}

// SpecFromConfig returns a CallSpec seeded with the configured retry
// defaults. Callers fill in the method, path and payload.
func SpecFromConfig(cfg *config.ClientConfig) *CallSpec {
	spec := &CallSpec{
		Retries:       cfg.Retries,
		RetryAfter:    cfg.RetryAfter,
		MinRetryAfter: cfg.MinRetryAfter,
		MaxRetryAfter: cfg.MaxRetryAfter,
	}
	if len(cfg.DoNotRetryOn) > 0 {
		spec.DoNotRetryOn = append([]string(nil), cfg.DoNotRetryOn...)
	}
	return spec
}
