package http

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DefaultErrorName is the Name of a CallError built without one
const DefaultErrorName = "APICallError"

// ErrorKind defines the category of a call failure
type ErrorKind string

const (
	// HTTPFailure is a terminal non-2xx response. Status and Data are set.
	HTTPFailure ErrorKind = "http"
	// TransportFailure means no HTTP response was obtained. Status is zero.
	TransportFailure ErrorKind = "transport"
	// ConfigurationFailure is malformed input; no attempt was made.
	ConfigurationFailure ErrorKind = "configuration"
)

// CallError is the only error returned by a call. It always describes the
// last attempt.
type CallError struct {
	Name    string
	Data    any
	Status  int
	Message string
	Kind    ErrorKind
	Err     error
	// Attempts is the number of requests sent before the call gave up
	Attempts int
}

// NewCallError builds a CallError, defaulting name to DefaultErrorName and
// status and message to the "status" and "message" entries of data when it
// is a JSON object.
func NewCallError(name string, data any, status int, message string) *CallError {
	if name == "" {
		name = DefaultErrorName
	}
	if obj, ok := data.(map[string]any); ok {
		if status == 0 {
			status = statusFromData(obj["status"])
		}
		if message == "" {
			if m, ok := obj["message"].(string); ok {
				message = m
			}
		}
	}
	return &CallError{Name: name, Data: data, Status: status, Message: message}
}

func statusFromData(v any) int {
	switch s := v.(type) {
	case int:
		return s
	case int64:
		return int(s)
	case float64:
		return int(s)
	case json.Number:
		n, err := s.Int64()
		if err != nil {
			return 0
		}
		return int(n)
	default:
		return 0
	}
}

func (e *CallError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s (status: %d)", e.Name, e.Status)
	}
	return e.Name
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Type returns the failure category
func (e *CallError) Type() ErrorKind {
	return e.Kind
}

// IsKind checks if err is a CallError of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Kind == kind
	}
	return false
}

// IsHTTPStatusError checks if err is an HTTP failure with a specific status code
func IsHTTPStatusError(err error, statusCode int) bool {
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Kind == HTTPFailure && callErr.Status == statusCode
	}
	return false
}

func newConfigurationError(err error) *CallError {
	e := NewCallError("", nil, 0, err.Error())
	e.Kind = ConfigurationFailure
	e.Err = err
	return e
}

func newTransportError(err error) *CallError {
	e := NewCallError("", nil, 0, err.Error())
	e.Kind = TransportFailure
	e.Err = err
	return e
}

func newHTTPError(method, url string, status int, data any) *CallError {
	encoded, err := json.Marshal(data)
	if err != nil {
		encoded = []byte(fmt.Sprintf("%q", fmt.Sprint(data)))
	}
	message := fmt.Sprintf("Error calling %s %s. Status: %d, body: %s", method, url, status, encoded)
	e := NewCallError("", data, status, message)
	e.Kind = HTTPFailure
	return e
}
