package http

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpecValidator(t *testing.T) {
	v := newSpecValidator()

	tests := []struct {
		name   string
		spec   *CallSpec
		fields []string
	}{
		{"nil spec", nil, []string{"CallSpec"}},
		{"empty spec is valid", &CallSpec{}, nil},
		{"lowercase method", &CallSpec{Method: "patch"}, nil},
		{"mixed case method", &CallSpec{Method: "Options"}, nil},
		{"unknown method", &CallSpec{Method: "TRACE"}, []string{"Method"}},
		{"negative retries", &CallSpec{Retries: -1}, []string{"Retries"}},
		{"negative timeout", &CallSpec{Timeout: -time.Second}, []string{"Timeout"}},
		{"negative delays", &CallSpec{RetryAfter: -1, MinRetryAfter: -1, MaxRetryAfter: -1}, []string{"RetryAfter", "MinRetryAfter", "MaxRetryAfter"}},
		{"body is not inspected", &CallSpec{Body: struct {
			Name string `validate:"required"`
		}{}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.spec)
			if tt.fields == nil {
				assert.NoError(t, err)
				return
			}

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			var fields []string
			for _, fe := range ve.Errors {
				fields = append(fields, fe.Field)
			}
			assert.Equal(t, tt.fields, fields)
		})
	}
}

func TestValidationErrorMessages(t *testing.T) {
	err := newSpecValidator().Validate(&CallSpec{Method: "FETCH"})
	assert.EqualError(t, err, "validation failed: Method must be one of GET, POST, PUT, DELETE, OPTIONS, HEAD, PATCH")

	err = newSpecValidator().Validate(&CallSpec{Retries: -1, Timeout: -1})
	assert.EqualError(t, err, "validation failed: Timeout must not be negative; Retries must not be negative")

	assert.EqualError(t, &ValidationError{}, "validation failed")
}
