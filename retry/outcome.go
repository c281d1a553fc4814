package retry

import (
	nethttp "net/http"
)

// OutcomeKind classifies a single attempt
type OutcomeKind int

const (
	// Success is a response with a 2xx status
	Success OutcomeKind = iota
	// HTTPError is a response outside the 2xx range
	HTTPError
	// TransportFailure means no HTTP response was obtained
	TransportFailure
)

// String returns the kind name used in logs and telemetry
func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case HTTPError:
		return "http_error"
	case TransportFailure:
		return "transport_failure"
	default:
		return "unknown"
	}
}

// Outcome is the classified result of one attempt.
type Outcome struct {
	Kind       OutcomeKind
	StatusCode int
	Body       []byte
	Headers    nethttp.Header
	Err        error
}

// IsSuccessStatus checks if a status code represents success (2xx)
func IsSuccessStatus(statusCode int) bool {
	return statusCode >= 200 && statusCode <= 299
}

// Classify turns a transport result into an Outcome. A non-nil err always
// wins over a status code.
func Classify(statusCode int, body []byte, headers nethttp.Header, err error) Outcome {
	if err != nil {
		return Outcome{Kind: TransportFailure, Err: err}
	}
	kind := HTTPError
	if IsSuccessStatus(statusCode) {
		kind = Success
	}
	return Outcome{Kind: kind, StatusCode: statusCode, Body: body, Headers: headers}
}
