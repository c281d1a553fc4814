package testserver

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, url string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp.StatusCode, body
}

func TestFlakyEndpoint(t *testing.T) {
	s := New(t)

	code, _ := get(t, s.URL+"/api/flaky/2")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	code, _ = get(t, s.URL+"/api/flaky/2")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	code, body := get(t, s.URL+"/api/flaky/2")
	assert.Equal(t, http.StatusOK, code)
	assert.InDelta(t, 3, body["attempt"], 0)

	assert.Equal(t, 3, s.Hits("/api/flaky/2"))
	s.Reset()
	assert.Zero(t, s.Hits("/api/flaky/2"))
}

func TestEscalateEndpoint(t *testing.T) {
	s := New(t)

	for want := 500; want < 503; want++ {
		code, _ := get(t, s.URL+"/api/escalate")
		assert.Equal(t, want, code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	s := New(t)

	code, body := get(t, s.URL+"/api/status/418")
	assert.Equal(t, http.StatusTeapot, code)
	assert.InDelta(t, 418, body["status"], 0)
	assert.Equal(t, http.StatusText(http.StatusTeapot), body["message"])

	code, _ = get(t, s.URL+"/api/status/abc")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestLimitedEndpoint(t *testing.T) {
	s := New(t)

	code, _ := get(t, s.URL+"/api/limited")
	assert.Equal(t, http.StatusOK, code)

	code, body := get(t, s.URL+"/api/limited")
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "Too many requests", body["message"])
}
