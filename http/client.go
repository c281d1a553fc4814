package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	nethttp "net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.32.0"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/gaborage/apicall/logger"
	"github.com/gaborage/apicall/retry"
	"github.com/gaborage/apicall/trace"
)

const (
	// DefaultTimeout is the default per-attempt timeout
	DefaultTimeout = 30 * time.Second

	// DefaultRetries is the retry budget of DefaultCallSpec
	DefaultRetries = 2

	// DefaultRetryAfter is the fixed delay of DefaultCallSpec
	DefaultRetryAfter = 1 * time.Second

	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
)

// client implements the Client interface
type client struct {
	transport  Transport
	logger     logger.Logger
	config     *Config
	validator  *specValidator
	tracer     oteltrace.Tracer
	propagator propagation.TextMapPropagator
	metrics    *callMetrics
	jitter     retry.JitterFunc
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewClient creates a new client with default configuration
func NewClient(log logger.Logger) Client {
	return NewBuilder(log).Build()
}

// Builder provides a fluent interface for configuring the client
type Builder struct {
	config         *Config
	logger         logger.Logger
	transport      Transport
	tracerProvider oteltrace.TracerProvider
	meterProvider  metric.MeterProvider
	propagator     propagation.TextMapPropagator
}

// NewBuilder creates a new client builder. A nil logger discards output.
func NewBuilder(log logger.Logger) *Builder {
	if log == nil {
		log = logger.Nop()
	}
	return &Builder{
		config: &Config{
			Timeout:             DefaultTimeout,
			DefaultHeaders:      make(map[string]string),
			RequestInterceptors: []RequestInterceptor{},
		},
		logger: log,
	}
}

// WithBaseURL sets the URL relative paths are appended to
func (b *Builder) WithBaseURL(baseURL string) *Builder {
	b.config.BaseURL = baseURL
	return b
}

// WithTimeout sets the default per-attempt timeout
func (b *Builder) WithTimeout(timeout time.Duration) *Builder {
	b.config.Timeout = timeout
	return b
}

// WithTransport replaces the net/http transport
func (b *Builder) WithTransport(transport Transport) *Builder {
	b.transport = transport
	return b
}

// WithBasicAuth sets default basic authentication credentials
func (b *Builder) WithBasicAuth(username, password string) *Builder {
	b.config.DefaultAuth = &Auth{User: username, Password: password}
	return b
}

// WithTokenAuth sets a default Authorization scheme and token
func (b *Builder) WithTokenAuth(scheme, token string) *Builder {
	b.config.DefaultAuth = &Auth{AuthorizationType: scheme, Token: token}
	return b
}

// WithDefaultHeader adds a default header that will be sent with all requests
func (b *Builder) WithDefaultHeader(key, value string) *Builder {
	b.config.DefaultHeaders[key] = value
	return b
}

// WithRequestInterceptor adds a request interceptor
func (b *Builder) WithRequestInterceptor(interceptor RequestInterceptor) *Builder {
	b.config.RequestInterceptors = append(b.config.RequestInterceptors, interceptor)
	return b
}

// WithTracerProvider sets the tracer provider; the global one is used otherwise
func (b *Builder) WithTracerProvider(tp oteltrace.TracerProvider) *Builder {
	b.tracerProvider = tp
	return b
}

// WithMeterProvider sets the meter provider; the global one is used otherwise
func (b *Builder) WithMeterProvider(mp metric.MeterProvider) *Builder {
	b.meterProvider = mp
	return b
}

// WithPropagator sets the propagator injecting trace context into requests
func (b *Builder) WithPropagator(p propagation.TextMapPropagator) *Builder {
	b.propagator = p
	return b
}

// Build creates the client with the configured options
func (b *Builder) Build() Client {
	cfg := *b.config
	cfg.DefaultHeaders = make(map[string]string, len(b.config.DefaultHeaders))
	for k, v := range b.config.DefaultHeaders {
		cfg.DefaultHeaders[k] = v
	}
	cfg.RequestInterceptors = append([]RequestInterceptor(nil), b.config.RequestInterceptors...)

	transport := b.transport
	if transport == nil {
		transport = NewTransport(nil)
	}
	tp := b.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	mp := b.meterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	prop := b.propagator
	if prop == nil {
		prop = otel.GetTextMapPropagator()
	}

	return &client{
		transport:  transport,
		logger:     b.logger,
		config:     &cfg,
		validator:  newSpecValidator(),
		tracer:     tp.Tracer(instrumentationName),
		propagator: prop,
		metrics:    newCallMetrics(mp.Meter(instrumentationName), b.logger),
		sleep:      sleepContext,
	}
}

// Get performs a GET call
func (c *client) Get(ctx context.Context, target string, spec *CallSpec) (*Result, error) {
	return c.do(ctx, nethttp.MethodGet, target, spec)
}

// Post performs a POST call
func (c *client) Post(ctx context.Context, target string, spec *CallSpec) (*Result, error) {
	return c.do(ctx, nethttp.MethodPost, target, spec)
}

// Put performs a PUT call
func (c *client) Put(ctx context.Context, target string, spec *CallSpec) (*Result, error) {
	return c.do(ctx, nethttp.MethodPut, target, spec)
}

// Patch performs a PATCH call
func (c *client) Patch(ctx context.Context, target string, spec *CallSpec) (*Result, error) {
	return c.do(ctx, nethttp.MethodPatch, target, spec)
}

// Delete performs a DELETE call
func (c *client) Delete(ctx context.Context, target string, spec *CallSpec) (*Result, error) {
	return c.do(ctx, nethttp.MethodDelete, target, spec)
}

// Head performs a HEAD call
func (c *client) Head(ctx context.Context, target string, spec *CallSpec) (*Result, error) {
	return c.do(ctx, nethttp.MethodHead, target, spec)
}

func (c *client) do(ctx context.Context, method, target string, spec *CallSpec) (*Result, error) {
	if spec == nil {
		spec = DefaultCallSpec()
	}
	s := *spec
	s.Method = method
	s.Path = target
	return c.Execute(ctx, &s)
}

// preparedCall is a validated CallSpec resolved against the client config.
type preparedCall struct {
	spec       *CallSpec
	method     string
	url        string
	displayURL string
	headers    nethttp.Header
	body       []byte
	query      url.Values
	basic      *BasicAuth
	timeout    time.Duration
	policy     retry.Policy
}

// Execute runs one logical call: attempts are made sequentially until one
// succeeds, the status is non-retryable or the retry budget is spent.
func (c *client) Execute(ctx context.Context, spec *CallSpec) (result *Result, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, callID := trace.EnsureCallID(ctx)
	log := c.logger.WithContext(ctx).WithFields(map[string]any{"call_id": callID})

	call, callErr := c.prepare(spec)
	if callErr != nil {
		log.Error().Err(callErr).Msg("Rejected invalid call")
		return nil, callErr
	}
	if invalid := call.policy.NonRetryable.Invalid(); len(invalid) > 0 {
		log.Warn().Interface("patterns", invalid).Msg("Ignoring malformed status patterns")
	}

	ctx, span := c.tracer.Start(ctx, call.method,
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(
			semconv.HTTPRequestMethodKey.String(call.method),
			semconv.URLFull(call.displayURL),
			attribute.String(attrCallID, callID),
			attribute.Int(attrRetries, call.spec.Retries),
		),
	)
	defer func() {
		endSpan(span, err)
	}()
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = recovered(r)
			log.Error().Err(err).Msg("Recovered from panic during call")
		}
	}()

	return c.run(ctx, log, call, callID)
}

func (c *client) run(ctx context.Context, log logger.Logger, call *preparedCall, callID string) (*Result, error) {
	span := oteltrace.SpanFromContext(ctx)
	start := time.Now()
	state := retry.NewState(call.spec.Retries)

	for {
		outcome, callErr := c.attempt(ctx, log, call, callID, state.Attempt)
		if callErr != nil {
			return nil, callErr
		}
		c.metrics.recordAttempt(ctx, call.method, outcome)
		span.SetAttributes(attribute.Int(attrAttempts, state.Attempt+1))
		if outcome.StatusCode != 0 {
			span.SetAttributes(semconv.HTTPResponseStatusCode(outcome.StatusCode))
		}

		if outcome.Kind == retry.Success {
			stats := Stats{ElapsedTime: time.Since(start), Attempts: state.Attempt + 1, CallID: callID}
			return c.succeed(log, call, outcome, stats), nil
		}

		if !call.policy.ShouldRetry(state, outcome) {
			return nil, c.fail(log, call, outcome, state.Attempt+1)
		}

		delay := call.policy.NextDelay(state)
		state = state.Advance(delay)

		log.Warn().
			Str("method", call.method).
			Str("url", call.displayURL).
			Str("outcome", outcome.Kind.String()).
			Int("status", outcome.StatusCode).
			Int("attempt", state.Attempt).
			Int("retries_remaining", state.Remaining).
			Dur("delay", delay).
			Msg("Retrying call")
		span.AddEvent(eventRetry, oteltrace.WithAttributes(
			attribute.Int(attrAttempt, state.Attempt),
			attribute.Int64(attrDelayMS, delay.Milliseconds()),
			attribute.String(attrOutcome, outcome.Kind.String()),
		))
		c.metrics.recordDelay(ctx, call.method, delay)

		if err := c.sleep(ctx, delay); err != nil {
			callErr := newTransportError(err)
			callErr.Attempts = state.Attempt
			log.Error().Err(err).Int("attempts", state.Attempt).Msg("Call cancelled while waiting to retry")
			return nil, callErr
		}
	}
}

// attempt sends one request. The returned error is terminal and is only set
// when the request could not be handed to the transport.
func (c *client) attempt(ctx context.Context, log logger.Logger, call *preparedCall, callID string, n int) (retry.Outcome, *CallError) {
	req := &TransportRequest{
		Method:    call.method,
		URL:       call.url,
		Headers:   call.headers.Clone(),
		Body:      call.body,
		Query:     call.query,
		Timeout:   call.timeout,
		BasicAuth: call.basic,
	}
	req.Headers.Set(trace.HeaderXRequestID, callID)
	c.propagator.Inject(ctx, propagation.HeaderCarrier(req.Headers))

	for _, interceptor := range c.config.RequestInterceptors {
		if err := interceptor(ctx, req); err != nil {
			callErr := newConfigurationError(fmt.Errorf("request interceptor failed: %w", err))
			callErr.Attempts = n
			log.Error().Err(err).Int("attempt", n).Msg("Request interceptor failed")
			return retry.Outcome{}, callErr
		}
	}

	c.logRequest(log, req, call.displayURL, n)
	resp, err := c.transport.Send(ctx, req)
	if err == nil && resp == nil {
		err = errors.New("transport returned no response")
	}
	if err != nil {
		log.Debug().Err(err).Int("attempt", n).Msg("Call attempt failed without response")
		return retry.Classify(0, nil, nil, err), nil
	}

	c.logResponse(log, resp, n)
	return retry.Classify(resp.StatusCode, resp.Body, resp.Headers, nil), nil
}

func (c *client) succeed(log logger.Logger, call *preparedCall, outcome retry.Outcome, stats Stats) *Result {
	log.Debug().
		Str("method", call.method).
		Str("url", call.displayURL).
		Int("status", outcome.StatusCode).
		Int("attempts", stats.Attempts).
		Dur("elapsed", stats.ElapsedTime).
		Msg("Call succeeded")

	if call.spec.GetFullResponse {
		return &Result{Response: &Response{
			StatusCode: outcome.StatusCode,
			Body:       outcome.Body,
			Headers:    outcome.Headers,
			Stats:      stats,
		}}
	}
	return &Result{Body: decodeBody(call.spec.JSON, outcome.Body)}
}

func (c *client) fail(log logger.Logger, call *preparedCall, outcome retry.Outcome, attempts int) *CallError {
	var callErr *CallError
	if outcome.Kind == retry.TransportFailure {
		callErr = newTransportError(outcome.Err)
	} else {
		callErr = newHTTPError(call.method, call.displayURL, outcome.StatusCode, decodeBody(call.spec.JSON, outcome.Body))
	}
	callErr.Attempts = attempts

	log.Error().
		Err(callErr).
		Str("method", call.method).
		Str("url", call.displayURL).
		Int("status", callErr.Status).
		Int("attempts", attempts).
		Msg("Call failed")
	return callErr
}

// prepare validates spec and resolves everything that stays constant across
// attempts.
func (c *client) prepare(spec *CallSpec) (*preparedCall, *CallError) {
	if err := c.validator.Validate(spec); err != nil {
		return nil, newConfigurationError(err)
	}

	method := strings.ToUpper(spec.Method)
	if method == "" {
		method = nethttp.MethodGet
	}

	target, err := c.resolveURL(spec.Path)
	if err != nil {
		return nil, newConfigurationError(err)
	}

	body, contentType, err := encodeBody(spec.Body)
	if err != nil {
		return nil, newConfigurationError(err)
	}

	headers := make(nethttp.Header)
	for key, value := range c.config.DefaultHeaders {
		headers.Set(key, value)
	}
	for key, value := range spec.Headers {
		headers.Set(key, value)
	}
	if contentType != "" && headers.Get(headerContentType) == "" {
		headers.Set(headerContentType, contentType)
	}
	if spec.JSON && headers.Get(headerAccept) == "" {
		headers.Set(headerAccept, contentTypeJSON)
	}

	auth := spec.Auth
	if auth == nil {
		auth = c.config.DefaultAuth
	}
	authValue, basic := authorization(auth)
	if authValue != "" {
		headers.Set(headerAuthorization, authValue)
	}

	timeout := spec.Timeout
	if timeout == 0 {
		timeout = c.config.Timeout
	}

	nonRetryable := retry.ParsePatterns(spec.DoNotRetryOn)
	nonRetryable = append(nonRetryable, retry.CodePatterns(spec.DoNotRetryOnCodes)...)

	return &preparedCall{
		spec:       spec,
		method:     method,
		url:        target.String(),
		displayURL: target.Redacted(),
		headers:    headers,
		body:       body,
		query:      encodeQuery(spec.Query),
		basic:      basic,
		timeout:    timeout,
		policy: retry.Policy{
			FixedDelay:   spec.RetryAfter,
			MinBackoff:   spec.MinRetryAfter,
			MaxBackoff:   spec.MaxRetryAfter,
			NonRetryable: nonRetryable,
			Jitter:       c.jitter,
		},
	}, nil
}

// resolveURL appends path to the base URL unless path is already absolute.
func (c *client) resolveURL(path string) (*url.URL, error) {
	target := path
	if !isAbsoluteURL(path) {
		target = c.config.BaseURL + path
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", target, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid url %q: scheme must be http or https", target)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid url %q: host is required", target)
	}
	return u, nil
}

func isAbsoluteURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// encodeBody returns the wire form of body and the content type it implies.
func encodeBody(body any) ([]byte, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return b, "", nil
	case string:
		return []byte(b), "", nil
	case json.RawMessage:
		return b, contentTypeJSON, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode request body: %w", err)
		}
		return data, contentTypeJSON, nil
	}
}

func encodeQuery(query map[string]any) url.Values {
	if len(query) == 0 {
		return nil
	}
	values := make(url.Values, len(query))
	for key, v := range query {
		switch vv := v.(type) {
		case []string:
			for _, s := range vv {
				values.Add(key, s)
			}
		case []any:
			for _, s := range vv {
				values.Add(key, fmt.Sprint(s))
			}
		default:
			values.Add(key, fmt.Sprint(vv))
		}
	}
	return values
}

// decodeBody returns raw as a string, or as decoded JSON when asJSON is set
// and raw is valid JSON. An empty JSON body decodes to nil.
func decodeBody(asJSON bool, raw []byte) any {
	if !asJSON {
		return string(raw)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func recovered(r any) *CallError {
	err, ok := r.(error)
	if !ok {
		err = fmt.Errorf("%v", r)
	}
	return newTransportError(err)
}

func endSpan(span oteltrace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// logRequest logs the outgoing attempt
func (c *client) logRequest(log logger.Logger, req *TransportRequest, displayURL string, n int) {
	logEvent := log.Debug().
		Str("direction", "outbound").
		Str("method", req.Method).
		Str("url", displayURL).
		Int("attempt", n).
		Interface("headers", map[string][]string(req.Headers))

	if len(req.Query) > 0 {
		logEvent.Interface("query", map[string][]string(req.Query))
	}
	if len(req.Body) > 0 {
		logEvent.Bytes("body", req.Body)
	}

	logEvent.Msg("API call request")
}

// logResponse logs the attempt's response
func (c *client) logResponse(log logger.Logger, resp *TransportResponse, n int) {
	logEvent := log.Debug().
		Str("direction", "inbound").
		Int("status", resp.StatusCode).
		Int("attempt", n)

	if len(resp.Body) > 0 {
		logEvent.Bytes("body", resp.Body)
	}

	logEvent.Msg("API call response")
}
