// Package testserver provides an echo-based HTTP fixture for exercising the
// call wrapper end to end. Some endpoints change their status from one
// attempt to the next.
package testserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel/propagation"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	serviceName = "apicall-testserver"

	// SlowResponseDelay is how long the too-long-request endpoints take
	SlowResponseDelay = 10 * time.Second

	headerTraceID = "X-Trace-Id"

	// LimitedRate is the requests per second /api/limited accepts
	LimitedRate = 1
)

// Server is a running fixture. Hits are counted per request path.
type Server struct {
	*httptest.Server
	echo *echo.Echo

	mu   sync.Mutex
	hits map[string]int
}

type options struct {
	tracerProvider oteltrace.TracerProvider
	propagator     propagation.TextMapPropagator
}

// Option configures the fixture
type Option func(*options)

// WithTracerProvider records server spans with tp
func WithTracerProvider(tp oteltrace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithPropagator extracts incoming trace context with p
func WithPropagator(p propagation.TextMapPropagator) Option {
	return func(o *options) { o.propagator = p }
}

// New starts the fixture and closes it when the test ends.
func New(t testing.TB, opts ...Option) *Server {
	t.Helper()

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	s := &Server{echo: echo.New(), hits: make(map[string]int)}
	s.echo.HideBanner = true
	s.echo.HidePort = true

	var otelOpts []otelecho.Option
	if o.tracerProvider != nil {
		otelOpts = append(otelOpts, otelecho.WithTracerProvider(o.tracerProvider))
	}
	if o.propagator != nil {
		otelOpts = append(otelOpts, otelecho.WithPropagators(o.propagator))
	}
	s.echo.Use(otelecho.Middleware(serviceName, otelOpts...))
	s.echo.Use(s.countHits)

	s.routes()

	s.Server = httptest.NewServer(s.echo)
	t.Cleanup(s.Close)
	return s
}

// Hits returns how many requests reached path.
func (s *Server) Hits(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

// Reset clears the hit counters.
func (s *Server) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits = make(map[string]int)
}

func (s *Server) countHits(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		s.mu.Lock()
		s.hits[c.Request().URL.Path]++
		s.mu.Unlock()
		return next(c)
	}
}

// hit returns the number of requests to the current path, this one included.
func (s *Server) hit(c echo.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[c.Request().URL.Path]
}

func (s *Server) routes() {
	e := s.echo

	e.GET("/api/get-test", echoHeaders(http.StatusOK))
	e.GET("/api/bearer-auth", echoHeaders(http.StatusOK))
	e.GET("/api/usr-pass-auth", echoHeaders(http.StatusOK))
	e.GET("/api/html", func(c echo.Context) error {
		return c.HTML(http.StatusOK, "<html><head><script></script></head><body></body></html>")
	})
	e.GET("/api/get-error", func(c echo.Context) error {
		return c.JSON(http.StatusInternalServerError, map[string]any{"status": 500, "reason": "server error"})
	})
	e.GET("/api/gone", status(http.StatusGone))
	e.Any("/api/auth-required", status(http.StatusUnauthorized))
	e.Any("/api/query-params", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"result": "ok", "query": flatten(c.QueryParams())})
	})
	e.Any("/api/too-long-request", func(c echo.Context) error {
		select {
		case <-time.After(SlowResponseDelay):
			return c.JSON(http.StatusOK, map[string]any{"code": "too long request"})
		case <-c.Request().Context().Done():
			return c.Request().Context().Err()
		}
	})

	e.POST("/api/things", echoBody(http.StatusCreated))
	e.PUT("/api/things", echoBody(http.StatusOK))
	e.PATCH("/api/things", echoBody(http.StatusOK))
	e.DELETE("/api/things/:id", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"id": c.Param("id")})
	})
	e.Any("/api/things-auth", func(c echo.Context) error {
		return c.JSON(http.StatusUnauthorized, map[string]any{"error": "auth required"})
	})

	e.HEAD("/api/head-test", func(c echo.Context) error {
		for key, values := range c.Request().Header {
			for _, v := range values {
				c.Response().Header().Add("X-Echo-"+key, v)
			}
		}
		return c.NoContent(http.StatusOK)
	})
	e.HEAD("/api/head-error", func(c echo.Context) error {
		c.Response().Header().Set("X-Error", "test error")
		return c.NoContent(http.StatusInternalServerError)
	})

	// Fixed status with a JSON body carrying status and message.
	e.Any("/api/status/:code", func(c echo.Context) error {
		code, err := strconv.Atoi(c.Param("code"))
		if err != nil || code < 100 || code > 599 {
			return c.JSON(http.StatusBadRequest, map[string]any{"error": "bad status code"})
		}
		return c.JSON(code, map[string]any{"status": code, "message": http.StatusText(code)})
	})

	// Fails with 503 for the first n hits, then succeeds.
	e.Any("/api/flaky/:n", func(c echo.Context) error {
		n, err := strconv.Atoi(c.Param("n"))
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]any{"error": "bad failure count"})
		}
		hit := s.hit(c)
		if hit <= n {
			return c.JSON(http.StatusServiceUnavailable, map[string]any{"attempt": hit})
		}
		return c.JSON(http.StatusOK, map[string]any{"result": "ok", "attempt": hit})
	})

	// Answers 500 on the first hit, 501 on the second and so on.
	e.Any("/api/escalate", func(c echo.Context) error {
		hit := s.hit(c)
		code := http.StatusInternalServerError + hit - 1
		return c.JSON(code, map[string]any{"attempt": hit})
	})

	// Accepts LimitedRate requests per second, answering 429 beyond that.
	limited := e.Group("/api/limited", middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(LimitedRate),
			Burst:     LimitedRate,
			ExpiresIn: time.Minute,
		}),
		DenyHandler: func(c echo.Context, _ string, _ error) error {
			return c.JSON(http.StatusTooManyRequests, map[string]any{
				"status":  http.StatusTooManyRequests,
				"message": "Too many requests",
			})
		},
	}))
	limited.Any("", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"result": "ok"})
	})

	// Reports the trace the server span joined.
	e.Any("/api/trace", func(c echo.Context) error {
		sc := oteltrace.SpanContextFromContext(c.Request().Context())
		c.Response().Header().Set(headerTraceID, sc.TraceID().String())
		return c.JSON(http.StatusOK, map[string]any{
			"trace_id":    sc.TraceID().String(),
			"traceparent": c.Request().Header.Get("Traceparent"),
			"request_id":  c.Request().Header.Get(echo.HeaderXRequestID),
		})
	})
}

func status(code int) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(code)
	}
}

func echoHeaders(code int) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(code, map[string]any{"result": "ok", "headers": flatten(c.Request().Header)})
	}
}

func echoBody(code int) echo.HandlerFunc {
	return func(c echo.Context) error {
		var body map[string]any
		if err := json.NewDecoder(c.Request().Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
			return c.JSON(http.StatusBadRequest, map[string]any{"error": err.Error()})
		}
		if body == nil {
			body = make(map[string]any)
		}
		body["id"] = "abcdef123456"
		body["headers"] = flatten(c.Request().Header)
		return c.JSON(code, body)
	}
}

// flatten lower-cases keys and joins repeated values with a comma.
func flatten(values map[string][]string) map[string]string {
	out := make(map[string]string, len(values))
	for key, vals := range values {
		out[strings.ToLower(key)] = strings.Join(vals, ",")
	}
	return out
}
