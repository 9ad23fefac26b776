package whatsapp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReconnectDelay(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{6, 30 * time.Second},
		{100, 30 * time.Second},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, reconnectDelay(tc.attempt), "attempt %d", tc.attempt)
	}
}

func TestReconnectDelayMonotonic(t *testing.T) {
	prev := time.Duration(0)
	for attempt := 1; attempt <= 40; attempt++ {
		d := reconnectDelay(attempt)
		assert.GreaterOrEqual(t, d, prev, "attempt %d", attempt)
		assert.LessOrEqual(t, d, reconnectMaxDelay)
		prev = d
	}
}

func TestHandleBumpAttempts(t *testing.T) {
	h := NewHandle(1, 10, 3)

	for want := 1; want <= 3; want++ {
		attempt, exhausted := h.bumpAttempts()
		assert.Equal(t, want, attempt)
		assert.False(t, exhausted)
	}

	attempt, exhausted := h.bumpAttempts()
	assert.Equal(t, 3, attempt, "counter never passes the ceiling")
	assert.True(t, exhausted)
	assert.True(t, h.exhausted())

	h.resetAttempts()
	assert.Equal(t, 0, h.Attempts())
	assert.False(t, h.exhausted())
}

func TestHandleCloseStopsRetry(t *testing.T) {
	h := NewHandle(1, 10, 5)
	fired := make(chan struct{}, 1)
	h.scheduleRetry(10*time.Millisecond, func() { fired <- struct{}{} })

	h.close()

	select {
	case <-fired:
		t.Fatal("retry fired after close")
	case <-time.After(50 * time.Millisecond):
	}
	assert.True(t, h.Closed())
	assert.False(t, h.Ready())
	assert.Nil(t, h.Client())
}
