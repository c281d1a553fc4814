package http

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	nethttp "net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"golang.org/x/sync/errgroup"

	"github.com/gaborage/apicall/config"
	"github.com/gaborage/apicall/internal/testserver"
	"github.com/gaborage/apicall/logger"
	obstest "github.com/gaborage/apicall/observability/testing"
	"github.com/gaborage/apicall/trace"
)

const (
	ms          = time.Millisecond
	testJitter  = 50 * ms
	testToken   = "secret-token-123"
	contentHTML = "<html>"
)

// recordingSleeper replaces the retry wait so tests run instantly.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordingSleeper) Delays() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func instant(b *Builder) (*client, *recordingSleeper) {
	return withoutWaiting(b.Build())
}

func withoutWaiting(cl Client) (*client, *recordingSleeper) {
	c := cl.(*client)
	s := &recordingSleeper{}
	c.sleep = s.sleep
	c.jitter = func() time.Duration { return testJitter }
	return c, s
}

func newTestClient(t *testing.T) (*testserver.Server, *client, *recordingSleeper) {
	t.Helper()
	srv := testserver.New(t)
	c, s := instant(NewBuilder(logger.Nop()).WithBaseURL(srv.URL))
	return srv, c, s
}

// stubTransport answers every attempt with fn and counts the calls.
type stubTransport struct {
	calls atomic.Int32
	fn    func(req *TransportRequest) (*TransportResponse, error)
}

func (s *stubTransport) Send(_ context.Context, req *TransportRequest) (*TransportResponse, error) {
	s.calls.Add(1)
	return s.fn(req)
}

func bodyMap(t *testing.T, res *Result) map[string]any {
	t.Helper()
	require.NotNil(t, res)
	m, ok := res.Body.(map[string]any)
	require.True(t, ok, "body is %T", res.Body)
	return m
}

func headersOf(t *testing.T, res *Result) map[string]any {
	t.Helper()
	h, ok := bodyMap(t, res)["headers"].(map[string]any)
	require.True(t, ok)
	return h
}

func TestRetriesUntilBudgetIsSpent(t *testing.T) {
	srv, c, sleeper := newTestClient(t)

	res, err := c.Get(context.Background(), "/api/auth-required", &CallSpec{Retries: 3, JSON: true})

	assert.Nil(t, res)
	require.Error(t, err)
	assert.True(t, IsHTTPStatusError(err, 401))
	assert.Equal(t, 4, srv.Hits("/api/auth-required"))
	assert.Equal(t, []time.Duration{retryDefault, retryDefault, retryDefault}, sleeper.Delays())

	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, DefaultErrorName, callErr.Name)
	assert.Nil(t, callErr.Data)
	assert.Equal(t, 4, callErr.Attempts)
	assert.Equal(t, "Error calling GET "+srv.URL+"/api/auth-required. Status: 401, body: null", callErr.Message)
}

const retryDefault = 1000 * ms

func TestNoRetriesMeansSingleAttempt(t *testing.T) {
	srv, c, sleeper := newTestClient(t)

	_, err := c.Get(context.Background(), "/api/auth-required", &CallSpec{})

	assert.True(t, IsHTTPStatusError(err, 401))
	assert.Equal(t, 1, srv.Hits("/api/auth-required"))
	assert.Empty(t, sleeper.Delays())
}

func TestDoNotRetryOn(t *testing.T) {
	tests := []struct {
		name     string
		codes    []int
		patterns []string
		hits     int
	}{
		{"numeric code", []int{401}, nil, 1},
		{"string code", nil, []string{"401"}, 1},
		{"tens class", nil, []string{"40x"}, 1},
		{"hundreds class", nil, []string{"4xx"}, 1},
		{"mixed list", []int{500}, []string{"30x", "401"}, 1},
		{"other class", nil, []string{"5xx"}, 4},
		{"other tens class", nil, []string{"41x"}, 4},
		{"other code", []int{404}, nil, 4},
		{"malformed pattern keeps retrying", nil, []string{"4XX"}, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, c, _ := newTestClient(t)

			_, err := c.Get(context.Background(), "/api/auth-required", &CallSpec{
				Retries:           3,
				DoNotRetryOn:      tt.patterns,
				DoNotRetryOnCodes: tt.codes,
			})

			assert.True(t, IsHTTPStatusError(err, 401))
			assert.Equal(t, tt.hits, srv.Hits("/api/auth-required"))
		})
	}
}

func TestFixedDelayWinsOverBackoff(t *testing.T) {
	_, c, sleeper := newTestClient(t)

	_, err := c.Get(context.Background(), "/api/status/503", &CallSpec{
		Retries:       3,
		RetryAfter:    200 * ms,
		MinRetryAfter: 100 * ms,
		MaxRetryAfter: 150 * ms,
	})

	assert.True(t, IsHTTPStatusError(err, 503))
	assert.Equal(t, []time.Duration{200 * ms, 200 * ms, 200 * ms}, sleeper.Delays())
}

func TestExponentialBackoff(t *testing.T) {
	t.Run("clamped to max", func(t *testing.T) {
		srv, c, sleeper := newTestClient(t)

		_, err := c.Get(context.Background(), "/api/status/503", &CallSpec{
			Retries:       4,
			MinRetryAfter: 500 * ms,
			MaxRetryAfter: 3000 * ms,
		})

		assert.True(t, IsHTTPStatusError(err, 503))
		assert.Equal(t, 5, srv.Hits("/api/status/503"))
		assert.Equal(t, []time.Duration{500 * ms, 1050 * ms, 2150 * ms, 3000 * ms}, sleeper.Delays())
	})

	t.Run("unbounded", func(t *testing.T) {
		_, c, sleeper := newTestClient(t)

		_, err := c.Get(context.Background(), "/api/status/503", &CallSpec{Retries: 3, MinRetryAfter: 100 * ms})

		assert.Error(t, err)
		assert.Equal(t, []time.Duration{100 * ms, 250 * ms, 550 * ms}, sleeper.Delays())
	})
}

func TestSuccessStopsRetrying(t *testing.T) {
	srv, c, sleeper := newTestClient(t)

	res, err := c.Get(context.Background(), "/api/flaky/2", &CallSpec{Retries: 5, JSON: true})

	require.NoError(t, err)
	body := bodyMap(t, res)
	assert.Equal(t, "ok", body["result"])
	assert.InDelta(t, 3, body["attempt"], 0)
	assert.Equal(t, 3, srv.Hits("/api/flaky/2"))
	assert.Len(t, sleeper.Delays(), 2)
}

func TestEscalatingStatusReportsLastAttempt(t *testing.T) {
	srv, c, _ := newTestClient(t)

	_, err := c.Get(context.Background(), "/api/escalate", &CallSpec{Retries: 2, JSON: true})

	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, HTTPFailure, callErr.Kind)
	assert.Equal(t, 502, callErr.Status)
	assert.Equal(t, map[string]any{"attempt": float64(3)}, callErr.Data)
	assert.Equal(t, 3, srv.Hits("/api/escalate"))
}

func TestHTTPErrorData(t *testing.T) {
	t.Run("json body", func(t *testing.T) {
		srv, c, _ := newTestClient(t)

		_, err := c.Get(context.Background(), "/api/get-error", &CallSpec{JSON: true})

		var callErr *CallError
		require.ErrorAs(t, err, &callErr)
		assert.Equal(t, 500, callErr.Status)
		assert.Equal(t, map[string]any{"status": float64(500), "reason": "server error"}, callErr.Data)
		assert.Equal(t, `Error calling GET `+srv.URL+`/api/get-error. Status: 500, body: {"reason":"server error","status":500}`, callErr.Message)
	})

	t.Run("message from body", func(t *testing.T) {
		_, c, _ := newTestClient(t)

		_, err := c.Get(context.Background(), "/api/status/404", &CallSpec{JSON: true})

		var callErr *CallError
		require.ErrorAs(t, err, &callErr)
		assert.Equal(t, 404, callErr.Status)
		assert.Contains(t, callErr.Message, "Status: 404")
	})

	t.Run("text body", func(t *testing.T) {
		_, c, _ := newTestClient(t)

		_, err := c.Get(context.Background(), "/api/get-error", &CallSpec{})

		var callErr *CallError
		require.ErrorAs(t, err, &callErr)
		data, ok := callErr.Data.(string)
		require.True(t, ok)
		assert.JSONEq(t, `{"status":500,"reason":"server error"}`, data)
	})
}

func TestAuthorizationHeaders(t *testing.T) {
	tests := []struct {
		name   string
		auth   *Auth
		header string
	}{
		{"lowercase bearer", &Auth{AuthorizationType: "bearer", Token: "123456"}, "Bearer 123456"},
		{"uppercase bearer", &Auth{AuthorizationType: "BEARER", Token: "123456"}, "BEARER 123456"},
		{"custom scheme", &Auth{AuthorizationType: "App", Token: "123456"}, "App 123456"},
		{"lowercase custom scheme", &Auth{AuthorizationType: "app", Token: "123456"}, "app 123456"},
		{"basic", &Auth{User: "user", Password: "pass"}, "Basic " + base64.StdEncoding.EncodeToString([]byte("user:pass"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, c, _ := newTestClient(t)

			res, err := c.Get(context.Background(), "/api/bearer-auth", &CallSpec{Auth: tt.auth, JSON: true})

			require.NoError(t, err)
			assert.Equal(t, tt.header, headersOf(t, res)["authorization"])
		})
	}

	t.Run("incomplete credentials send nothing", func(t *testing.T) {
		_, c, _ := newTestClient(t)

		res, err := c.Get(context.Background(), "/api/usr-pass-auth", &CallSpec{Auth: &Auth{User: "user"}, JSON: true})

		require.NoError(t, err)
		assert.NotContains(t, headersOf(t, res), "authorization")
	})

	t.Run("client default", func(t *testing.T) {
		srv := testserver.New(t)
		c, _ := instant(NewBuilder(logger.Nop()).WithBaseURL(srv.URL).WithTokenAuth("bearer", "abc"))

		res, err := c.Get(context.Background(), "/api/bearer-auth", &CallSpec{JSON: true})
		require.NoError(t, err)
		assert.Equal(t, "Bearer abc", headersOf(t, res)["authorization"])

		res, err = c.Get(context.Background(), "/api/usr-pass-auth", &CallSpec{Auth: &Auth{User: "u", Password: "p"}, JSON: true})
		require.NoError(t, err)
		assert.Equal(t, "Basic "+base64.StdEncoding.EncodeToString([]byte("u:p")), headersOf(t, res)["authorization"])
	})
}

func TestCancellationDuringWait(t *testing.T) {
	srv, c, _ := newTestClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return sleepContext(ctx, d)
	}

	start := time.Now()
	_, err := c.Get(ctx, "/api/status/503", &CallSpec{Retries: 3, RetryAfter: time.Minute})

	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, IsKind(err, TransportFailure))
	assert.Equal(t, 1, srv.Hits("/api/status/503"))

	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, 1, callErr.Attempts)
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), ms))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}

func TestFullResponse(t *testing.T) {
	_, c, _ := newTestClient(t)
	ctx := trace.WithCallID(context.Background(), "call-full")

	res, err := c.Post(ctx, "/api/things", &CallSpec{Body: map[string]any{"name": "widget"}, GetFullResponse: true})

	require.NoError(t, err)
	assert.Nil(t, res.Body)
	require.NotNil(t, res.Response)
	assert.Equal(t, nethttp.StatusCreated, res.Response.StatusCode)
	assert.Contains(t, res.Response.Headers.Get("Content-Type"), "application/json")
	assert.Contains(t, string(res.Response.Body), `"id":"abcdef123456"`)
	assert.Equal(t, 1, res.Response.Stats.Attempts)
	assert.Equal(t, "call-full", res.Response.Stats.CallID)
	assert.Positive(t, res.Response.Stats.ElapsedTime)
}

func TestBodyDecoding(t *testing.T) {
	t.Run("text by default", func(t *testing.T) {
		_, c, _ := newTestClient(t)

		res, err := c.Get(context.Background(), "/api/status/200", nil)

		require.NoError(t, err)
		body, ok := res.Body.(string)
		require.True(t, ok)
		assert.JSONEq(t, `{"status":200,"message":"OK"}`, body)
	})

	t.Run("non-json body falls back to text", func(t *testing.T) {
		_, c, _ := newTestClient(t)

		res, err := c.Get(context.Background(), "/api/html", &CallSpec{JSON: true})

		require.NoError(t, err)
		body, ok := res.Body.(string)
		require.True(t, ok)
		assert.True(t, strings.HasPrefix(body, contentHTML))
	})

	t.Run("empty body", func(t *testing.T) {
		_, c, _ := newTestClient(t)

		res, err := c.Head(context.Background(), "/api/head-test", &CallSpec{JSON: true})

		require.NoError(t, err)
		assert.Nil(t, res.Body)
	})
}

func TestQueryParameters(t *testing.T) {
	_, c, _ := newTestClient(t)

	res, err := c.Get(context.Background(), "/api/query-params?a=1", &CallSpec{
		Query: map[string]any{"b": 2, "c": []string{"x", "y"}, "d": []any{true, 3}},
		JSON:  true,
	})

	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": "1", "b": "2", "c": "x,y", "d": "true,3"}, bodyMap(t, res)["query"])
}

func TestVerbs(t *testing.T) {
	_, c, _ := newTestClient(t)
	ctx := context.Background()
	payload := map[string]any{"name": "widget"}

	res, err := c.Post(ctx, "/api/things", &CallSpec{Body: payload, JSON: true})
	require.NoError(t, err)
	assert.Equal(t, "widget", bodyMap(t, res)["name"])
	assert.Equal(t, "abcdef123456", bodyMap(t, res)["id"])
	assert.Equal(t, "application/json", headersOf(t, res)["content-type"])
	assert.Equal(t, "application/json", headersOf(t, res)["accept"])

	res, err = c.Put(ctx, "/api/things", &CallSpec{Body: payload, JSON: true})
	require.NoError(t, err)
	assert.Equal(t, "widget", bodyMap(t, res)["name"])

	res, err = c.Patch(ctx, "/api/things", &CallSpec{Body: []byte(`{"name":"raw"}`), JSON: true})
	require.NoError(t, err)
	assert.Equal(t, "raw", bodyMap(t, res)["name"])

	res, err = c.Delete(ctx, "/api/things/42", &CallSpec{JSON: true})
	require.NoError(t, err)
	assert.Equal(t, "42", bodyMap(t, res)["id"])

	res, err = c.Head(ctx, "/api/head-test", &CallSpec{Headers: map[string]string{"X-Probe": "1"}, GetFullResponse: true})
	require.NoError(t, err)
	assert.Equal(t, "1", res.Response.Headers.Get("X-Echo-X-Probe"))

	_, err = c.Head(ctx, "/api/head-error", &CallSpec{})
	assert.True(t, IsHTTPStatusError(err, 500))

	_, err = c.Post(ctx, "/api/things-auth", &CallSpec{Body: payload, JSON: true})
	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, map[string]any{"error": "auth required"}, callErr.Data)
	assert.Contains(t, callErr.Message, "Error calling POST ")
}

func TestVerbsWithAbsoluteURL(t *testing.T) {
	srv := testserver.New(t)
	c, _ := instant(NewBuilder(logger.Nop()))

	res, err := c.Get(context.Background(), srv.URL+"/api/get-test", &CallSpec{JSON: true})

	require.NoError(t, err)
	assert.Equal(t, "ok", bodyMap(t, res)["result"])
}

func TestNilSpecUsesDefaults(t *testing.T) {
	srv, c, sleeper := newTestClient(t)

	_, err := c.Get(context.Background(), "/api/auth-required", nil)

	assert.True(t, IsHTTPStatusError(err, 401))
	assert.Equal(t, 3, srv.Hits("/api/auth-required"))
	assert.Equal(t, []time.Duration{DefaultRetryAfter, DefaultRetryAfter}, sleeper.Delays())
}

func TestExecute(t *testing.T) {
	srv, c, _ := newTestClient(t)

	res, err := c.Execute(context.Background(), &CallSpec{Method: "patch", Path: "/api/things", Body: `{"a":1}`, JSON: true})

	require.NoError(t, err)
	assert.InDelta(t, 1, bodyMap(t, res)["a"], 0)
	assert.Equal(t, 1, srv.Hits("/api/things"))
}

func TestTransportFailure(t *testing.T) {
	errRefused := errors.New("connection refused")
	stub := &stubTransport{fn: func(*TransportRequest) (*TransportResponse, error) {
		return nil, errRefused
	}}
	c, sleeper := instant(NewBuilder(logger.Nop()).WithBaseURL("http://localhost:1").WithTransport(stub))

	_, err := c.Get(context.Background(), "/api/get-test", &CallSpec{Retries: 2})

	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, TransportFailure, callErr.Kind)
	assert.Zero(t, callErr.Status)
	assert.ErrorIs(t, err, errRefused)
	assert.Equal(t, int32(3), stub.calls.Load())
	assert.Len(t, sleeper.Delays(), 2)
}

func TestTransportFailureThenSuccess(t *testing.T) {
	stub := &stubTransport{}
	stub.fn = func(*TransportRequest) (*TransportResponse, error) {
		if stub.calls.Load() == 1 {
			return nil, errors.New("reset by peer")
		}
		return &TransportResponse{StatusCode: 200, Body: []byte(`{"ok":true}`)}, nil
	}
	c, _ := instant(NewBuilder(logger.Nop()).WithBaseURL("http://localhost:1").WithTransport(stub))

	res, err := c.Get(context.Background(), "/x", &CallSpec{Retries: 1, JSON: true})

	require.NoError(t, err)
	assert.Equal(t, true, bodyMap(t, res)["ok"])
	assert.Equal(t, int32(2), stub.calls.Load())
}

func TestAttemptTimeout(t *testing.T) {
	srv, c, _ := newTestClient(t)

	_, err := c.Get(context.Background(), "/api/too-long-request", &CallSpec{Retries: 1, Timeout: 50 * ms})

	assert.True(t, IsKind(err, TransportFailure))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, srv.Hits("/api/too-long-request"))
}

func TestConfigurationFailures(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		spec    *CallSpec
	}{
		{"nil spec", "http://localhost", nil},
		{"unknown method", "http://localhost", &CallSpec{Method: "TRACE", Path: "/x"}},
		{"negative retries", "http://localhost", &CallSpec{Path: "/x", Retries: -1}},
		{"negative delay", "http://localhost", &CallSpec{Path: "/x", RetryAfter: -ms}},
		{"relative url without base", "", &CallSpec{Path: "/x"}},
		{"unsupported scheme", "ftp://localhost", &CallSpec{Path: "/x"}},
		{"unencodable body", "http://localhost", &CallSpec{Method: "POST", Path: "/x", Body: make(chan int)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &stubTransport{fn: func(*TransportRequest) (*TransportResponse, error) {
				return &TransportResponse{StatusCode: 200}, nil
			}}
			c, _ := instant(NewBuilder(logger.Nop()).WithBaseURL(tt.baseURL).WithTransport(stub))

			res, err := c.Execute(context.Background(), tt.spec)

			assert.Nil(t, res)
			assert.True(t, IsKind(err, ConfigurationFailure), "got %v", err)
			assert.Zero(t, stub.calls.Load())
		})
	}
}

func TestPanicInTransport(t *testing.T) {
	stub := &stubTransport{fn: func(*TransportRequest) (*TransportResponse, error) {
		panic("boom")
	}}
	c, _ := instant(NewBuilder(logger.Nop()).WithBaseURL("http://localhost").WithTransport(stub))

	res, err := c.Get(context.Background(), "/x", &CallSpec{Retries: 3})

	assert.Nil(t, res)
	assert.True(t, IsKind(err, TransportFailure))
	assert.EqualError(t, err, "boom")
	assert.Equal(t, int32(1), stub.calls.Load())
}

func TestNilTransportResponse(t *testing.T) {
	stub := &stubTransport{fn: func(*TransportRequest) (*TransportResponse, error) {
		return nil, nil
	}}
	c, _ := instant(NewBuilder(logger.Nop()).WithBaseURL("http://localhost").WithTransport(stub))

	_, err := c.Get(context.Background(), "/x", &CallSpec{})

	assert.True(t, IsKind(err, TransportFailure))
}

func TestRequestInterceptors(t *testing.T) {
	t.Run("modifies every attempt", func(t *testing.T) {
		srv := testserver.New(t)
		var seen atomic.Int32
		c, _ := instant(NewBuilder(logger.Nop()).
			WithBaseURL(srv.URL).
			WithDefaultHeader("X-Default", "d").
			WithRequestInterceptor(func(_ context.Context, req *TransportRequest) error {
				seen.Add(1)
				req.Headers.Set("X-Custom", "intercepted")
				return nil
			}))

		res, err := c.Get(context.Background(), "/api/get-test", &CallSpec{JSON: true})

		require.NoError(t, err)
		headers := headersOf(t, res)
		assert.Equal(t, "intercepted", headers["x-custom"])
		assert.Equal(t, "d", headers["x-default"])
		assert.Equal(t, int32(1), seen.Load())
	})

	t.Run("error aborts the call", func(t *testing.T) {
		srv := testserver.New(t)
		errDenied := errors.New("denied")
		c, _ := instant(NewBuilder(logger.Nop()).
			WithBaseURL(srv.URL).
			WithRequestInterceptor(func(context.Context, *TransportRequest) error { return errDenied }))

		_, err := c.Get(context.Background(), "/api/get-test", &CallSpec{Retries: 2})

		assert.True(t, IsKind(err, ConfigurationFailure))
		assert.ErrorIs(t, err, errDenied)
		assert.Zero(t, srv.Hits("/api/get-test"))

		var callErr *CallError
		require.ErrorAs(t, err, &callErr)
		assert.Zero(t, callErr.Attempts)
	})
}

func TestCallIDHeader(t *testing.T) {
	t.Run("from context", func(t *testing.T) {
		_, c, _ := newTestClient(t)
		ctx := trace.WithCallID(context.Background(), "call-123")

		res, err := c.Get(ctx, "/api/get-test", &CallSpec{JSON: true})

		require.NoError(t, err)
		assert.Equal(t, "call-123", headersOf(t, res)["x-request-id"])
	})

	t.Run("stable across attempts", func(t *testing.T) {
		srv := testserver.New(t)
		var mu sync.Mutex
		var ids []string
		c, _ := instant(NewBuilder(logger.Nop()).
			WithBaseURL(srv.URL).
			WithRequestInterceptor(func(_ context.Context, req *TransportRequest) error {
				mu.Lock()
				ids = append(ids, req.Headers.Get(trace.HeaderXRequestID))
				mu.Unlock()
				return nil
			}))

		res, err := c.Get(context.Background(), "/api/flaky/2", &CallSpec{Retries: 2, GetFullResponse: true})

		require.NoError(t, err)
		require.Len(t, ids, 3)
		assert.NotEmpty(t, ids[0])
		assert.Equal(t, ids[0], ids[1])
		assert.Equal(t, ids[0], ids[2])
		assert.Equal(t, ids[0], res.Response.Stats.CallID)
		assert.Equal(t, 3, res.Response.Stats.Attempts)
	})
}

func TestTelemetry(t *testing.T) {
	tp := obstest.NewTestTraceProvider()
	mp := obstest.NewTestMeterProvider()
	srv := testserver.New(t)
	c, _ := instant(NewBuilder(logger.Nop()).
		WithBaseURL(srv.URL).
		WithTracerProvider(tp).
		WithMeterProvider(mp))

	_, err := c.Get(context.Background(), "/api/flaky/2", &CallSpec{Retries: 3, MinRetryAfter: 100 * ms})
	require.NoError(t, err)

	span := obstest.NewSpanCollector(t, tp.Exporter).WithName("GET").AssertCount(1).First()
	assert.Equal(t, 2, obstest.EventCount(&span, eventRetry))
	assert.Equal(t, codes.Ok, span.Status.Code)
	obstest.AssertSpanAttribute(t, &span, attrAttempts, 3)
	obstest.AssertSpanAttribute(t, &span, attrRetries, 3)
	obstest.AssertSpanAttribute(t, &span, "http.response.status_code", 200)
	obstest.AssertSpanAttribute(t, &span, "http.request.method", "GET")

	rm := mp.Collect(t)
	obstest.AssertMetricSum(t, rm, metricAttempts, 3)
	obstest.AssertHistogramCount(t, rm, metricRetryDelay, 2)
}

func TestTelemetryOnFailure(t *testing.T) {
	tp := obstest.NewTestTraceProvider()
	srv := testserver.New(t)
	c, _ := instant(NewBuilder(logger.Nop()).WithBaseURL(srv.URL).WithTracerProvider(tp))

	_, err := c.Delete(context.Background(), "/api/status/500", &CallSpec{})
	require.Error(t, err)

	span := obstest.NewSpanCollector(t, tp.Exporter).WithName("DELETE").First()
	assert.Equal(t, codes.Error, span.Status.Code)
	assert.Zero(t, obstest.EventCount(&span, eventRetry))
	assert.NotEmpty(t, span.Events)
}

func TestTracePropagation(t *testing.T) {
	clientTP := obstest.NewTestTraceProvider()
	serverTP := obstest.NewTestTraceProvider()
	prop := propagation.TraceContext{}
	srv := testserver.New(t, testserver.WithTracerProvider(serverTP), testserver.WithPropagator(prop))
	c, _ := instant(NewBuilder(logger.Nop()).
		WithBaseURL(srv.URL).
		WithTracerProvider(clientTP).
		WithPropagator(prop))

	res, err := c.Get(context.Background(), "/api/trace", &CallSpec{JSON: true})
	require.NoError(t, err)

	span := obstest.NewSpanCollector(t, clientTP.Exporter).WithName("GET").First()
	body := bodyMap(t, res)
	assert.Equal(t, span.SpanContext.TraceID().String(), body["trace_id"])
	assert.NotEmpty(t, body["traceparent"])
	assert.NotEmpty(t, body["request_id"])
}

func TestConcurrentCallsShareSpec(t *testing.T) {
	srv, c, _ := newTestClient(t)
	spec := &CallSpec{Retries: 1, JSON: true, Headers: map[string]string{"X-Shared": "yes"}}

	var g errgroup.Group
	for range 20 {
		g.Go(func() error {
			res, err := c.Get(context.Background(), "/api/get-test", spec)
			if err != nil {
				return err
			}
			if headers, ok := res.Body.(map[string]any)["headers"].(map[string]any); !ok || headers["x-shared"] != "yes" {
				return errors.New("shared header missing")
			}
			return nil
		})
	}

	require.NoError(t, g.Wait())
	assert.Equal(t, 20, srv.Hits("/api/get-test"))
	assert.Empty(t, spec.Method)
	assert.Empty(t, spec.Path)
}

func TestSensitiveDataIsMaskedInLogs(t *testing.T) {
	srv := testserver.New(t)
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, "debug", false, nil)
	c, _ := instant(NewBuilder(log).WithBaseURL(srv.URL))

	_, err := c.Get(context.Background(), "/api/status/200", &CallSpec{Auth: &Auth{AuthorizationType: "bearer", Token: testToken}})

	require.NoError(t, err)
	output := buf.String()
	assert.Contains(t, output, "API call request")
	assert.Contains(t, output, "call_id")
	assert.NotContains(t, output, testToken)
}

func TestRetryIsLoggedAtWarn(t *testing.T) {
	srv := testserver.New(t)
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, "warn", false, nil)
	c, _ := instant(NewBuilder(log).WithBaseURL(srv.URL))

	_, err := c.Get(context.Background(), "/api/flaky/1", &CallSpec{Retries: 1, RetryAfter: 10 * ms})

	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(buf.String(), "Retrying call"))
	assert.NotContains(t, buf.String(), "API call request")
}

func TestBuilderDefaults(t *testing.T) {
	c := NewClient(nil).(*client)

	assert.Equal(t, DefaultTimeout, c.config.Timeout)
	assert.Empty(t, c.config.BaseURL)
	assert.NotNil(t, c.logger)
	assert.NotNil(t, c.transport)
	assert.NotNil(t, c.propagator)
	assert.Nil(t, c.jitter)

	spec := DefaultCallSpec()
	assert.Equal(t, DefaultRetries, spec.Retries)
	assert.Equal(t, DefaultRetryAfter, spec.RetryAfter)
}

func TestBuilderIsolation(t *testing.T) {
	b := NewBuilder(logger.Nop()).WithDefaultHeader("X-A", "1")
	first := b.Build().(*client)
	b.WithDefaultHeader("X-B", "2")

	assert.NotContains(t, first.config.DefaultHeaders, "X-B")
}

func TestNewFromConfig(t *testing.T) {
	srv := testserver.New(t)
	cfg := &config.ClientConfig{
		BaseURL:       srv.URL,
		Timeout:       5 * time.Second,
		Retries:       3,
		RetryAfter:    0,
		MinRetryAfter: 100 * ms,
		MaxRetryAfter: 400 * ms,
		DoNotRetryOn:  []string{"4xx"},
		Headers:       map[string]string{"X-Client": "apicall"},
		Auth:          config.AuthConfig{AuthorizationType: "bearer", Token: "cfg-token"},
	}

	c, _ := withoutWaiting(NewFromConfig(cfg, logger.Nop(), nil))
	assert.Equal(t, 5*time.Second, c.config.Timeout)

	spec := SpecFromConfig(cfg)
	assert.Equal(t, 3, spec.Retries)
	assert.Equal(t, 100*ms, spec.MinRetryAfter)
	assert.Equal(t, 400*ms, spec.MaxRetryAfter)
	assert.Equal(t, []string{"4xx"}, spec.DoNotRetryOn)

	spec.JSON = true
	res, err := c.Get(context.Background(), "/api/get-test", spec)
	require.NoError(t, err)
	headers := headersOf(t, res)
	assert.Equal(t, "apicall", headers["x-client"])
	assert.Equal(t, "Bearer cfg-token", headers["authorization"])

	_, err = c.Get(context.Background(), "/api/auth-required", spec)
	assert.True(t, IsHTTPStatusError(err, 401))
	assert.Equal(t, 1, srv.Hits("/api/auth-required"))
}

func TestSpecFromLoadedConfig(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want []time.Duration
	}{
		{"backoff keys", "client: {retries: 3, minretryafter: 500ms, maxretryafter: 3s}", []time.Duration{500 * ms, 1050 * ms, 2150 * ms}},
		{"fixed delay", "client: {retries: 2, retryafter: 200ms, minretryafter: 500ms}", []time.Duration{200 * ms, 200 * ms}},
		{"no delay keys", "client: {retries: 2}", []time.Duration{time.Second, time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testserver.New(t)
			cfg, err := config.LoadFromBytes([]byte(tt.yaml))
			require.NoError(t, err)
			cfg.Client.BaseURL = srv.URL

			c, sleeper := withoutWaiting(NewFromConfig(&cfg.Client, logger.Nop(), nil))
			_, err = c.Get(context.Background(), "/api/status/503", SpecFromConfig(&cfg.Client))

			assert.True(t, IsHTTPStatusError(err, 503))
			assert.Equal(t, tt.want, sleeper.Delays())
		})
	}
}

func TestTooManyRequests(t *testing.T) {
	_, c, _ := newTestClient(t)

	_, err := c.Get(context.Background(), "/api/limited", &CallSpec{})
	require.NoError(t, err)

	_, err = c.Get(context.Background(), "/api/limited", &CallSpec{Retries: 2, DoNotRetryOn: []string{"429"}, JSON: true})
	var callErr *CallError
	require.ErrorAs(t, err, &callErr)
	assert.Equal(t, nethttp.StatusTooManyRequests, callErr.Status)
	assert.Equal(t, "Error calling GET "+c.config.BaseURL+`/api/limited. Status: 429, body: {"message":"Too many requests","status":429}`, callErr.Message)
}
