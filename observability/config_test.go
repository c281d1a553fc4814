package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaults(t *testing.T) {
	cfg := Config{Enabled: true, Service: ServiceConfig{Name: "svc"}}
	cfg.ApplyDefaults()

	assert.Equal(t, "unknown", cfg.Service.Version)
	assert.Equal(t, EnvironmentDevelopment, cfg.Environment)
	assert.Equal(t, EndpointStdout, cfg.Trace.Endpoint)
	assert.Equal(t, ProtocolHTTP, cfg.Trace.Protocol)
	require.NotNil(t, cfg.Trace.Enabled)
	assert.True(t, *cfg.Trace.Enabled)
	require.NotNil(t, cfg.Trace.SampleRate)
	assert.InDelta(t, 1.0, *cfg.Trace.SampleRate, 0)
	assert.Equal(t, 5*time.Second, cfg.Trace.BatchTimeout)
	require.NotNil(t, cfg.Metrics.Enabled)
	assert.True(t, *cfg.Metrics.Enabled)
	assert.Equal(t, 10*time.Second, cfg.Metrics.Interval)
	assert.Equal(t, 30*time.Second, cfg.Metrics.ExportTimeout)
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := Config{
		Enabled: true,
		Trace:   TraceConfig{Enabled: BoolPtr(false), SampleRate: Float64Ptr(0.25)},
		Metrics: MetricsConfig{Enabled: BoolPtr(false)},
	}
	cfg.ApplyDefaults()

	assert.False(t, *cfg.Trace.Enabled)
	assert.False(t, *cfg.Metrics.Enabled)
	assert.InDelta(t, 0.25, *cfg.Trace.SampleRate, 0)
}

func TestApplyDefaultsClonesHeaders(t *testing.T) {
	headers := map[string]string{"api-key": "k"}
	cfg := Config{Trace: TraceConfig{Headers: headers}}
	cfg.ApplyDefaults()

	cfg.Trace.Headers["api-key"] = "changed"
	assert.Equal(t, "k", headers["api-key"])
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		err  error
	}{
		{"disabled is always valid", Config{}, nil},
		{"missing service name", Config{Enabled: true}, ErrMissingServiceName},
		{"sample rate above one", Config{Enabled: true, Service: ServiceConfig{Name: "s"}, Trace: TraceConfig{SampleRate: Float64Ptr(1.5)}}, ErrInvalidSampleRate},
		{"sample rate below zero", Config{Enabled: true, Service: ServiceConfig{Name: "s"}, Trace: TraceConfig{SampleRate: Float64Ptr(-0.1)}}, ErrInvalidSampleRate},
		{"unknown protocol", Config{Enabled: true, Service: ServiceConfig{Name: "s"}, Trace: TraceConfig{Protocol: "udp"}}, ErrInvalidProtocol},
		{"grpc with scheme", Config{Enabled: true, Service: ServiceConfig{Name: "s"}, Trace: TraceConfig{Protocol: ProtocolGRPC, Endpoint: "http://collector:4317"}}, ErrInvalidEndpointFormat},
		{"http without scheme", Config{Enabled: true, Service: ServiceConfig{Name: "s"}, Trace: TraceConfig{Endpoint: "collector:4318"}}, ErrInvalidEndpointFormat},
		{"metrics endpoint checked too", Config{Enabled: true, Service: ServiceConfig{Name: "s"}, Metrics: MetricsConfig{Endpoint: "collector:4318"}}, ErrInvalidEndpointFormat},
		{"grpc host port", Config{Enabled: true, Service: ServiceConfig{Name: "s"}, Trace: TraceConfig{Protocol: ProtocolGRPC, Endpoint: "collector:4317"}}, nil},
		{"stdout", Config{Enabled: true, Service: ServiceConfig{Name: "s"}, Trace: TraceConfig{Endpoint: EndpointStdout}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.err)
		})
	}

	var nilCfg *Config
	assert.ErrorIs(t, nilCfg.Validate(), ErrNilConfig)
}
