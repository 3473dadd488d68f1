package retry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicy_Delay_MatchesSpecSequence(t *testing.T) {
	p := DefaultPolicy

	want := []time.Duration{
		0,
		1 * time.Second,
		4 * time.Second,
		16 * time.Second,
		64 * time.Second,
	}

	for i, w := range want {
		n := i + 1
		assert.Equal(t, w, p.Delay(n), "delay(%d)", n)
	}
}

func TestPolicy_Delay_NonDecreasing(t *testing.T) {
	p := DefaultPolicy
	prev := p.Delay(1)
	for n := 2; n <= 8; n++ {
		cur := p.Delay(n)
		assert.GreaterOrEqual(t, cur, prev, "delay(%d) should be >= delay(%d)", n, n-1)
		prev = cur
	}
}

func TestPolicy_NextRetryAt(t *testing.T) {
	p := DefaultPolicy
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	// retryCount=0 means this is about to become attempt 1 -> delay(1) = 0
	assert.Equal(t, now, p.NextRetryAt(now, 0))

	// retryCount=1 means this is about to become attempt 2 -> delay(2) = 1s
	assert.Equal(t, now.Add(time.Second), p.NextRetryAt(now, 1))
}

func TestPolicy_IsMaxRetriesExceeded(t *testing.T) {
	p := DefaultPolicy
	assert.False(t, p.IsMaxRetriesExceeded(4))
	assert.True(t, p.IsMaxRetriesExceeded(5))
	assert.True(t, p.IsMaxRetriesExceeded(6))
}

func TestPolicy_CustomMultiplier(t *testing.T) {
	p := Policy{BaseDelay: 500 * time.Millisecond, Multiplier: 2, MaxAttempts: 3}
	assert.Equal(t, time.Duration(0), p.Delay(1))
	assert.Equal(t, 500*time.Millisecond, p.Delay(2))
	assert.Equal(t, time.Second, p.Delay(3))
}
