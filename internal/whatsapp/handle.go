package whatsapp

import (
	"context"
	"sync"
	"time"
)

// Client is the in-process face of one external protocol client. Adapters
// (see meow.go) translate the concrete library into this surface; tests
// substitute fakes.
type Client interface {
	// Start begins the pairing/handshake sequence. Long-running; callers
	// dispatch it off the event path.
	Start(ctx context.Context) error
	// Destroy tears the client down and releases its resources.
	Destroy()
	// SendText sends a plain text message from this account.
	SendText(ctx context.Context, to string, text string) error
}

// Handle is the ephemeral in-memory handle to one account's live client.
// Exactly one exists per account at a time and it is owned exclusively by
// the Registry; nothing holds one it did not look up there.
type Handle struct {
	AccountID int64
	UserID    int64

	mu         sync.Mutex
	client     Client
	starting   bool
	ready      bool
	closed     bool
	attempts   int
	ceiling    int
	retryTimer *time.Timer
}

func NewHandle(accountID, userID int64, ceiling int) *Handle {
	return &Handle{AccountID: accountID, UserID: userID, ceiling: ceiling}
}

func (h *Handle) attach(c Client) {
	h.mu.Lock()
	h.client = c
	h.mu.Unlock()
}

// Client returns the attached protocol client, or nil after teardown.
func (h *Handle) Client() Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	return h.client
}

func (h *Handle) setStarting(v bool) {
	h.mu.Lock()
	h.starting = v
	h.mu.Unlock()
}

func (h *Handle) Starting() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.starting
}

func (h *Handle) setReady(v bool) {
	h.mu.Lock()
	h.ready = v
	if v {
		h.starting = false
	}
	h.mu.Unlock()
}

// Ready reports whether the client completed the post-auth handshake.
func (h *Handle) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready && !h.closed
}

// Attempts returns the current reconnect attempt counter.
func (h *Handle) Attempts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempts
}

// Ceiling returns the reconnect attempt ceiling.
func (h *Handle) Ceiling() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ceiling
}

func (h *Handle) resetAttempts() {
	h.mu.Lock()
	h.attempts = 0
	h.mu.Unlock()
}

// bumpAttempts increments the counter and reports whether the ceiling had
// already been reached before the increment.
func (h *Handle) bumpAttempts() (attempt int, exhausted bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.attempts >= h.ceiling {
		return h.attempts, true
	}
	h.attempts++
	return h.attempts, false
}

// exhausted reports whether the attempt counter reached the ceiling.
func (h *Handle) exhausted() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempts >= h.ceiling
}

// scheduleRetry arms the reconnect timer, replacing any pending one.
func (h *Handle) scheduleRetry(delay time.Duration, fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	if h.retryTimer != nil {
		h.retryTimer.Stop()
	}
	h.retryTimer = time.AfterFunc(delay, fn)
}

// cancelRetry stops any pending reconnect timer. Best-effort: a timer that
// already fired runs against a closed handle, which is a no-op.
func (h *Handle) cancelRetry() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.retryTimer != nil {
		h.retryTimer.Stop()
		h.retryTimer = nil
	}
}

// close marks the handle torn down and returns the client for destruction.
// Subsequent retries and events against the handle are ignored.
func (h *Handle) close() Client {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.ready = false
	h.starting = false
	if h.retryTimer != nil {
		h.retryTimer.Stop()
		h.retryTimer = nil
	}
	c := h.client
	h.client = nil
	return c
}

// Closed reports whether the handle has been torn down.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}
