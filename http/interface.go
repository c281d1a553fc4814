package http

import (
	"context"
	nethttp "net/http"
	"time"
)

// Client executes resilient HTTP calls.
type Client interface {
	// Execute runs spec against the client's base URL.
	Execute(ctx context.Context, spec *CallSpec) (*Result, error)

	// Verb helpers call target, an absolute URL or a path relative to the
	// base URL, with the method fixed. A nil spec uses DefaultCallSpec.
	Get(ctx context.Context, target string, spec *CallSpec) (*Result, error)
	Post(ctx context.Context, target string, spec *CallSpec) (*Result, error)
	Put(ctx context.Context, target string, spec *CallSpec) (*Result, error)
	Patch(ctx context.Context, target string, spec *CallSpec) (*Result, error)
	Delete(ctx context.Context, target string, spec *CallSpec) (*Result, error)
	Head(ctx context.Context, target string, spec *CallSpec) (*Result, error)
}

// CallSpec declares one logical call. It is never modified by the client,
// so a spec can be shared by concurrent calls.
type CallSpec struct {
	// Method is case-insensitive; empty means GET
	Method string `validate:"omitempty,httpmethod"`
	// Path is appended to the base URL unless it is an absolute URL
	Path  string
	Query map[string]any
	// Body is sent verbatim when []byte or string, JSON encoded otherwise
	Body    any `validate:"-"`
	Headers map[string]string
	Auth    *Auth

	// Timeout bounds a single attempt; zero uses the client timeout
	Timeout time.Duration `validate:"gte=0"`

	Retries int `validate:"gte=0"`
	// RetryAfter is a fixed delay between attempts; zero leaves it unset
	RetryAfter    time.Duration `validate:"gte=0"`
	MinRetryAfter time.Duration `validate:"gte=0"`
	MaxRetryAfter time.Duration `validate:"gte=0"`

	// DoNotRetryOn lists exact codes ("401") or classes ("5xx", "40x")
	DoNotRetryOn      []string
	DoNotRetryOnCodes []int

	// JSON decodes the response body instead of returning it as a string
	JSON bool
	// GetFullResponse returns the response envelope instead of the body
	GetFullResponse bool
}

// Auth holds call credentials. Token auth wins over user/password.
type Auth struct {
	AuthorizationType string
	Token             string
	User              string
	Password          string
}

// Result is a successful call: either Body or Response is set, never both.
type Result struct {
	Body     any
	Response *Response
}

// Response is the full envelope of the successful attempt.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    nethttp.Header
	Stats      Stats
}

// Stats contains call execution statistics
type Stats struct {
	ElapsedTime time.Duration
	Attempts    int
	CallID      string
}

// RequestInterceptor is called before each attempt is sent
type RequestInterceptor func(ctx context.Context, req *TransportRequest) error

// Config holds the client configuration
type Config struct {
	BaseURL             string
	Timeout             time.Duration
	DefaultHeaders      map[string]string
	DefaultAuth         *Auth
	RequestInterceptors []RequestInterceptor
}

// DefaultCallSpec returns the CallSpec the verb helpers use when given nil.
func DefaultCallSpec() *CallSpec {
	return &CallSpec{
		Retries:    DefaultRetries,
		RetryAfter: DefaultRetryAfter,
	}
}
