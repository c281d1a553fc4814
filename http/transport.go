package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"time"
)

// Transport sends one attempt. Implementations return an error only when no
// HTTP response was obtained.
type Transport interface {
	Send(ctx context.Context, req *TransportRequest) (*TransportResponse, error)
}

// TransportRequest is one attempt as handed to the Transport.
type TransportRequest struct {
	Method    string
	URL       string
	Headers   nethttp.Header
	Body      []byte
	Query     url.Values
	Timeout   time.Duration
	BasicAuth *BasicAuth
}

// TransportResponse is the raw result of one attempt.
type TransportResponse struct {
	StatusCode int
	Headers    nethttp.Header
	Body       []byte
}

// BasicAuth contains basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

type netTransport struct {
	httpClient *nethttp.Client
}

// NewTransport returns a Transport backed by httpClient, or by a fresh
// net/http client when httpClient is nil.
func NewTransport(httpClient *nethttp.Client) Transport {
	if httpClient == nil {
		httpClient = &nethttp.Client{}
	}
	return &netTransport{httpClient: httpClient}
}

// Send performs the request, bounded by req.Timeout when positive, and reads
// the whole response body.
func (t *netTransport) Send(ctx context.Context, req *TransportRequest) (*TransportResponse, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	target, err := mergeQuery(req.URL, req.Query)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := nethttp.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	for key, values := range req.Headers {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if req.BasicAuth != nil {
		httpReq.SetBasicAuth(req.BasicAuth.Username, req.BasicAuth.Password)
	}

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &TransportResponse{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       respBody,
	}, nil
}

// mergeQuery adds query to the parameters already present in raw.
func mergeQuery(raw string, query url.Values) (string, error) {
	if len(query) == 0 {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	q := u.Query()
	for key, values := range query {
		for _, v := range values {
			q.Add(key, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
