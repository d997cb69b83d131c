package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", NotFound("binding", nil), http.StatusNotFound},
		{"bad request", BadRequest("invalid cadence", nil), http.StatusBadRequest},
		{"missing email", MissingEmail(), http.StatusBadRequest},
		{"pool exhausted", PoolExhausted(), http.StatusServiceUnavailable},
		{"provider not configured", ProviderNotConfigured("fonecloud"), http.StatusConflict},
		{"plain error", fmt.Errorf("boom"), http.StatusInternalServerError},
		{"wrapped app error", fmt.Errorf("provision: %w", PoolExhausted()), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestIsConfig(t *testing.T) {
	assert.True(t, IsConfig(MissingSMSPhone()))
	assert.True(t, IsConfig(fmt.Errorf("send: %w", MissingPreferences())))
	assert.False(t, IsConfig(PoolExhausted()))
	assert.False(t, IsConfig(fmt.Errorf("dial tcp: timeout")))
}

func TestAppErrorUnwrap(t *testing.T) {
	cause := fmt.Errorf("no rows")
	err := NotFound("preference", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "preference not found")
}
