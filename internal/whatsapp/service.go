package whatsapp

import (
	"context"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/connexa/waconnect/internal/domain"
)

// AccountStore is the persistence collaborator. The session service reads
// and writes account rows through it but does not own the schema.
type AccountStore interface {
	Get(ctx context.Context, accountID int64) (*domain.WaAccount, error)
	ListActive(ctx context.Context) ([]domain.WaAccount, error)
	Update(ctx context.Context, accountID int64, updates map[string]interface{}) error
	IncrCounters(ctx context.Context, accountID int64, sent, recv int) error
	ResetDailyCounters(ctx context.Context) error
	Owner(ctx context.Context, oprID int64) (*domain.SysOpr, error)
}

// Pusher fans state-change events out to connected front-ends. Fire and
// forget: implementations log failures, they never surface them.
type Pusher interface {
	Emit(userID int64, event string, payload map[string]interface{})
}

// Mailer delivers outage alert emails.
type Mailer interface {
	Send(to, subject, body string) error
}

// ClientFactory builds a protocol client for an account, delivering its
// translated events to sink.
type ClientFactory func(accountID int64, sink EventSink) (Client, error)

// Push event names emitted to the owning user's channel.
const (
	PushPairing      = "whatsapp:pairing"
	PushConnected    = "whatsapp:connected"
	PushReady        = "whatsapp:ready"
	PushAuthFailed   = "whatsapp:auth_failed"
	PushDisconnected = "whatsapp:disconnected"
	PushReconnecting = "whatsapp:reconnecting"
)

// Options tune the session service. Zero values fall back to defaults.
type Options struct {
	ReconnectCeiling int
	PairingTTL       time.Duration
	AlertAfter       time.Duration
	SweepWorkers     int
	// SessionDir is the root of per-account local working storage released
	// on explicit disconnect.
	SessionDir string
}

func (o *Options) withDefaults() {
	if o.ReconnectCeiling <= 0 {
		o.ReconnectCeiling = DefaultReconnectCeiling
	}
	if o.PairingTTL <= 0 {
		o.PairingTTL = 2 * time.Minute
	}
	if o.AlertAfter <= 0 {
		o.AlertAfter = 6 * time.Hour
	}
	if o.SweepWorkers <= 0 {
		o.SweepWorkers = 10
	}
}

// Service owns the authoritative state transitions for every account's
// connection. All registry membership changes and status writes funnel
// through it.
type Service struct {
	store     AccountStore
	push      Pusher
	mailer    Mailer
	newClient ClientFactory
	registry  *Registry
	dedup     *AlertDedup
	opts      Options

	sweepGuard chan struct{}
}

// New wires a session service from its collaborators. registry may be nil,
// in which case a fresh one is created.
func New(store AccountStore, push Pusher, mailer Mailer, factory ClientFactory, registry *Registry, opts Options) *Service {
	opts.withDefaults()
	if registry == nil {
		registry = NewRegistry()
	}
	guard := make(chan struct{}, 1)
	guard <- struct{}{}
	return &Service{
		store:      store,
		push:       push,
		mailer:     mailer,
		newClient:  factory,
		registry:   registry,
		dedup:      NewAlertDedup(),
		opts:       opts,
		sweepGuard: guard,
	}
}

// Registry exposes the session registry for read-only collaborators.
func (s *Service) Registry() *Registry {
	return s.registry
}

// Connect constructs and registers a client handle for the account and
// begins the client's startup sequence in the background. If a handle is
// already registered and mid-startup the call is rejected with
// ErrAlreadyConnecting; if one is registered and past startup the existing
// handle is returned.
func (s *Service) Connect(ctx context.Context, accountID int64) (*Handle, error) {
	acct, err := s.store.Get(ctx, accountID)
	if err != nil {
		return nil, errors.Wrap(err, "load account")
	}
	if !acct.Active {
		return nil, ErrAccountInactive
	}

	h := NewHandle(accountID, acct.UserId, s.opts.ReconnectCeiling)
	existing, present := s.registry.PutIfAbsent(accountID, h)
	if present {
		if existing.Starting() {
			return nil, ErrAlreadyConnecting
		}
		return existing, nil
	}

	client, err := s.newClient(accountID, s.sink(h))
	if err != nil {
		s.registry.Remove(accountID)
		return nil, errors.Wrap(err, "create protocol client")
	}
	h.attach(client)
	h.setStarting(true)

	s.persist(ctx, accountID, map[string]interface{}{
		"status": domain.StatusConnecting,
	})
	zap.L().Info("whatsapp: startup dispatched",
		zap.Int64("account_id", accountID))

	// Startup is long-running (pairing + handshake); never block the caller
	// or the event path of other accounts on it.
	go s.startClient(h)

	return h, nil
}

func (s *Service) startClient(h *Handle) {
	client := h.Client()
	if client == nil {
		return
	}
	if err := client.Start(context.Background()); err != nil {
		h.setStarting(false)
		zap.L().Warn("whatsapp: client start failed",
			zap.Int64("account_id", h.AccountID), zap.Error(err))
		s.handleEvent(h, EvDisconnected{Reason: fmt.Sprintf("start failed: %v", err)})
	}
}

// Disconnect is the explicit, user-initiated teardown: deregisters the
// handle, destroys the client, clears any pairing artifact, and releases
// the account's local working storage best-effort.
func (s *Service) Disconnect(ctx context.Context, accountID int64) error {
	h := s.registry.Remove(accountID)
	if h != nil {
		h.cancelRetry()
		if client := h.close(); client != nil {
			// Teardown can be slow; keep it off the caller's path.
			go client.Destroy()
		}
	}

	now := time.Now()
	s.persist(ctx, accountID, map[string]interface{}{
		"status":               domain.StatusDisconnected,
		"pairing_code":         "",
		"pairing_expire_at":    nil,
		"last_disconnected_at": now,
	})

	s.releaseLocalStorage(accountID)

	if h != nil {
		s.push.Emit(h.UserID, PushDisconnected, map[string]interface{}{
			"account_id": accountID,
			"reason":     "disconnected by user",
		})
	}
	zap.L().Info("whatsapp: account disconnected", zap.Int64("account_id", accountID))
	return nil
}

// releaseLocalStorage removes cached session files for the account.
// Failures are logged, never raised.
func (s *Service) releaseLocalStorage(accountID int64) {
	if s.opts.SessionDir == "" {
		return
	}
	dir := path.Join(s.opts.SessionDir, fmt.Sprintf("account_%d", accountID))
	if err := os.RemoveAll(dir); err != nil {
		zap.L().Warn("whatsapp: failed to release session storage",
			zap.Int64("account_id", accountID), zap.String("dir", dir), zap.Error(err))
	}
}

// IsConnected reports whether the account has a registered handle that
// completed the ready handshake.
func (s *Service) IsConnected(accountID int64) bool {
	h := s.registry.Get(accountID)
	return h != nil && h.Ready()
}

// GetHandle returns the registered handle for the account, or nil.
func (s *Service) GetHandle(accountID int64) *Handle {
	return s.registry.Get(accountID)
}

// HealthInfo is the queryable health snapshot for one account.
type HealthInfo struct {
	AccountID   int64   `json:"account_id,string"`
	Status      string  `json:"status"`
	Health      string  `json:"health"`
	HealthScore int     `json:"health_score"`
	UsagePct    float64 `json:"usage_pct"`
	Live        bool    `json:"live"`
}

// GetHealth returns status, health and usage for the account. Always
// answerable, including mid-failure.
func (s *Service) GetHealth(ctx context.Context, accountID int64) (*HealthInfo, error) {
	acct, err := s.store.Get(ctx, accountID)
	if err != nil {
		return nil, errors.Wrap(err, "load account")
	}
	return &HealthInfo{
		AccountID:   acct.ID,
		Status:      acct.Status,
		Health:      acct.HealthLabel(),
		HealthScore: acct.HealthScore,
		UsagePct:    acct.UsageRatio() * 100,
		Live:        s.IsConnected(accountID),
	}, nil
}

// GetPairingCode returns the account's current pairing code. A code past
// its expiry yields ErrPairingExpired, never stale data.
func (s *Service) GetPairingCode(ctx context.Context, accountID int64) (string, time.Time, error) {
	acct, err := s.store.Get(ctx, accountID)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "load account")
	}
	if acct.PairingCode == "" || acct.PairingExpireAt == nil {
		return "", time.Time{}, ErrNoPairing
	}
	if time.Now().After(*acct.PairingExpireAt) {
		return "", time.Time{}, ErrPairingExpired
	}
	return acct.PairingCode, *acct.PairingExpireAt, nil
}

// SendText sends a message through the account's live client and bumps the
// sent counter.
func (s *Service) SendText(ctx context.Context, accountID int64, to, text string) error {
	h := s.registry.Get(accountID)
	if h == nil || !h.Ready() {
		return ErrHandleNotFound
	}
	client := h.Client()
	if client == nil {
		return ErrHandleNotFound
	}
	if err := client.SendText(ctx, to, text); err != nil {
		return errors.Wrap(err, "send message")
	}
	if err := s.store.IncrCounters(ctx, accountID, 1, 0); err != nil {
		zap.L().Warn("whatsapp: failed to bump sent counter",
			zap.Int64("account_id", accountID), zap.Error(err))
	}
	return nil
}

// sink adapts the per-account event stream onto the transition methods.
func (s *Service) sink(h *Handle) EventSink {
	return func(evt Event) {
		s.handleEvent(h, evt)
	}
}

func (s *Service) handleEvent(h *Handle, evt Event) {
	if h.Closed() {
		// Events racing a teardown are dropped, not errors.
		return
	}
	switch e := evt.(type) {
	case EvPairingIssued:
		s.onPairingIssued(h, e.Code)
	case EvAuthenticated:
		s.onAuthenticated(h)
	case EvReady:
		s.onReady(h, e)
	case EvAuthFailure:
		s.onAuthFailure(h, e.Reason)
	case EvDisconnected:
		s.onDisconnected(h, e.Reason)
	case EvMessage:
		s.onMessage(h, e)
	default:
		zap.L().Debug("whatsapp: unhandled event",
			zap.Int64("account_id", h.AccountID), zap.Any("event", evt))
	}
}

func (s *Service) onPairingIssued(h *Handle, code string) {
	expireAt := time.Now().Add(s.opts.PairingTTL)
	s.persist(context.Background(), h.AccountID, map[string]interface{}{
		"status":            domain.StatusConnecting,
		"pairing_code":      code,
		"pairing_expire_at": expireAt,
	})
	s.push.Emit(h.UserID, PushPairing, map[string]interface{}{
		"account_id": h.AccountID,
		"code":       code,
		"expires_at": expireAt,
	})
	zap.L().Info("whatsapp: pairing code issued",
		zap.Int64("account_id", h.AccountID), zap.Time("expires_at", expireAt))
}

func (s *Service) onAuthenticated(h *Handle) {
	h.resetAttempts()
	h.setStarting(false)
	now := time.Now()
	s.persist(context.Background(), h.AccountID, map[string]interface{}{
		"status":            domain.StatusConnected,
		"pairing_code":      "",
		"pairing_expire_at": nil,
		"health_score":      100,
		"last_connected_at": now,
	})
	s.push.Emit(h.UserID, PushConnected, map[string]interface{}{
		"account_id": h.AccountID,
	})
	zap.L().Info("whatsapp: account authenticated", zap.Int64("account_id", h.AccountID))
}

func (s *Service) onReady(h *Handle, e EvReady) {
	wasReady := h.Ready()
	h.setReady(true)
	h.setStarting(false)
	h.resetAttempts()

	updates := map[string]interface{}{
		"status":            domain.StatusConnected,
		"pairing_code":      "",
		"pairing_expire_at": nil,
		"health_score":      100,
		"last_connected_at": time.Now(),
	}
	if e.Phone != "" {
		updates["phone"] = e.Phone
	}
	if e.PushName != "" {
		updates["name"] = e.PushName
	}
	s.persist(context.Background(), h.AccountID, updates)

	if !wasReady {
		s.push.Emit(h.UserID, PushReady, map[string]interface{}{
			"account_id": h.AccountID,
			"phone":      e.Phone,
		})
		zap.L().Info("whatsapp: account ready",
			zap.Int64("account_id", h.AccountID), zap.String("phone", e.Phone))
	}
}

// onAuthFailure handles credential/pairing rejections. These are not
// transient: the handle is destroyed immediately and no retry is scheduled.
func (s *Service) onAuthFailure(h *Handle, reason string) {
	s.registry.Remove(h.AccountID)
	h.cancelRetry()
	if client := h.close(); client != nil {
		go client.Destroy()
	}

	s.persist(context.Background(), h.AccountID, map[string]interface{}{
		"status":            domain.StatusFailed,
		"health_score":      0,
		"pairing_code":      "",
		"pairing_expire_at": nil,
	})
	s.push.Emit(h.UserID, PushAuthFailed, map[string]interface{}{
		"account_id": h.AccountID,
		"reason":     reason,
	})
	zap.L().Warn("whatsapp: authentication failed",
		zap.Int64("account_id", h.AccountID), zap.String("reason", reason))
}

func (s *Service) onDisconnected(h *Handle, reason string) {
	h.setReady(false)
	now := time.Now()
	s.persist(context.Background(), h.AccountID, map[string]interface{}{
		"status":               domain.StatusDisconnected,
		"last_disconnected_at": now,
	})
	s.push.Emit(h.UserID, PushDisconnected, map[string]interface{}{
		"account_id": h.AccountID,
		"reason":     reason,
	})
	zap.L().Info("whatsapp: account disconnected unexpectedly",
		zap.Int64("account_id", h.AccountID), zap.String("reason", reason))

	if h.exhausted() {
		s.failExhausted(h)
		return
	}
	s.scheduleReconnect(h)
}

// failExhausted transitions the account to failed after the retry ceiling
// is reached and deregisters the handle exactly once.
func (s *Service) failExhausted(h *Handle) {
	if s.registry.Remove(h.AccountID) == nil {
		return
	}
	h.cancelRetry()
	if client := h.close(); client != nil {
		go client.Destroy()
	}
	s.persist(context.Background(), h.AccountID, map[string]interface{}{
		"status":       domain.StatusFailed,
		"health_score": 0,
	})
	s.push.Emit(h.UserID, PushAuthFailed, map[string]interface{}{
		"account_id": h.AccountID,
		"reason":     "reconnect attempts exhausted",
	})
	zap.L().Warn("whatsapp: reconnect ceiling reached, giving up",
		zap.Int64("account_id", h.AccountID), zap.Int("ceiling", h.Ceiling()))
}

// scheduleReconnect arms the backoff timer for the next automatic retry.
func (s *Service) scheduleReconnect(h *Handle) {
	attempt, exhausted := h.bumpAttempts()
	if exhausted {
		s.failExhausted(h)
		return
	}
	delay := reconnectDelay(attempt)
	s.push.Emit(h.UserID, PushReconnecting, map[string]interface{}{
		"account_id": h.AccountID,
		"attempt":    attempt,
		"ceiling":    h.Ceiling(),
		"delay_ms":   delay.Milliseconds(),
	})
	zap.L().Info("whatsapp: reconnect scheduled",
		zap.Int64("account_id", h.AccountID),
		zap.Int("attempt", attempt), zap.Int("ceiling", h.Ceiling()),
		zap.Duration("delay", delay))

	h.scheduleRetry(delay, func() {
		// The handle may have been torn down while the timer was pending.
		if h.Closed() || s.registry.Get(h.AccountID) != h {
			return
		}
		client := h.Client()
		if client == nil {
			return
		}
		h.setStarting(true)
		if err := client.Start(context.Background()); err != nil {
			h.setStarting(false)
			zap.L().Warn("whatsapp: reconnect attempt failed",
				zap.Int64("account_id", h.AccountID),
				zap.Int("attempt", attempt), zap.Error(err))
			s.handleEvent(h, EvDisconnected{Reason: fmt.Sprintf("reconnect failed: %v", err)})
		}
	})
}

func (s *Service) onMessage(h *Handle, e EvMessage) {
	sent, recv := 0, 0
	if e.Incoming {
		recv = 1
	} else {
		sent = 1
	}
	if err := s.store.IncrCounters(context.Background(), h.AccountID, sent, recv); err != nil {
		zap.L().Warn("whatsapp: failed to bump message counters",
			zap.Int64("account_id", h.AccountID), zap.Error(err))
	}
}

// persist applies updates, logging storage failures instead of failing the
// state transition that triggered them.
func (s *Service) persist(ctx context.Context, accountID int64, updates map[string]interface{}) {
	if err := s.store.Update(ctx, accountID, updates); err != nil {
		zap.L().Error("whatsapp: failed to persist account state",
			zap.Int64("account_id", accountID), zap.Error(err))
	}
}
