package circuitbreaker

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpensAfterMaxFailures(t *testing.T) {
	cb := NewCircuitBreaker(Settings{Name: "twilio", MaxFailures: 3, Timeout: time.Minute})
	boom := fmt.Errorf("provider 500")

	for i := 0; i < 3; i++ {
		err := cb.Execute(func() error { return boom })
		require.ErrorIs(t, err, boom)
	}
	assert.Equal(t, StateOpen, cb.State())

	calls := 0
	err := cb.Execute(func() error { calls++; return nil })
	assert.Error(t, err)
	assert.Zero(t, calls, "open breaker must not invoke fn")
}

func TestHalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker(Settings{Name: "fonecloud", MaxFailures: 1, Timeout: 10 * time.Millisecond})
	require.Error(t, cb.Execute(func() error { return fmt.Errorf("timeout") }))
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	assert.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestSuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(Settings{Name: "smtp", MaxFailures: 2, Timeout: time.Minute})
	require.Error(t, cb.Execute(func() error { return fmt.Errorf("x") }))
	require.NoError(t, cb.Execute(func() error { return nil }))
	require.Error(t, cb.Execute(func() error { return fmt.Errorf("x") }))
	assert.Equal(t, StateClosed, cb.State())
}
