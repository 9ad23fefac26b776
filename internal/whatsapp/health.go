package whatsapp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/connexa/waconnect/internal/domain"
	"github.com/connexa/waconnect/pkg/metrics"
)

// Health scores written by the sweep. Labels derive from the score
// (see domain.WaAccount.HealthLabel): >=80 healthy, >=40 warning, else
// critical.
const (
	scoreDemoted  = 70 // first observation of an outage
	scoreCritical = 15 // sustained outage past the alert threshold
)

// warningScore decays from scoreDemoted toward the warning floor as the
// outage approaches the alert threshold, keeping rows sortable by severity.
func warningScore(offline, alertAfter time.Duration) int {
	if alertAfter <= 0 {
		return domain.WarningScoreFloor
	}
	frac := float64(offline) / float64(alertAfter)
	if frac > 1 {
		frac = 1
	}
	if frac < 0 {
		frac = 0
	}
	return scoreDemoted - int(frac*float64(scoreDemoted-domain.WarningScoreFloor))
}

// liveScore is the healthy score, discounted as daily usage approaches the
// limit.
func liveScore(usage float64) int {
	return 100 - int(20*usage)
}

// Sweep reconciles every administratively-active account against registry
// truth, escalates prolonged outages to a one-shot alert, and attempts
// best-effort remediation. If a previous run is still in flight the call is
// skipped, not queued.
func (s *Service) Sweep(ctx context.Context) error {
	select {
	case <-s.sweepGuard:
	default:
		zap.L().Warn("whatsapp: health sweep still running, skipping tick")
		return nil
	}
	defer func() { s.sweepGuard <- struct{}{} }()

	started := time.Now()
	accounts, err := s.store.ListActive(ctx)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		return nil
	}

	pool, err := ants.NewPool(s.opts.SweepWorkers)
	if err != nil {
		return err
	}
	defer pool.Release()

	var wg sync.WaitGroup
	scores := make([]float64, len(accounts))
	live := make([]bool, len(accounts))
	for i := range accounts {
		i := i
		acct := accounts[i]
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			defer func() {
				// One broken account must never halt the sweep for the rest.
				if r := recover(); r != nil {
					zap.L().Error("whatsapp: sweep panic on account",
						zap.Int64("account_id", acct.ID), zap.Any("panic", r))
				}
			}()
			scores[i], live[i] = s.checkAccount(ctx, &acct)
		})
		if submitErr != nil {
			wg.Done()
			zap.L().Error("whatsapp: sweep pool submit failed",
				zap.Int64("account_id", acct.ID), zap.Error(submitErr))
		}
	}
	wg.Wait()

	liveCount := 0
	for _, l := range live {
		if l {
			liveCount++
		}
	}
	mean, _ := stats.Mean(scores)
	min, _ := stats.Min(scores)
	metrics.SetGauge("wa_accounts_total", int64(len(accounts)))
	metrics.SetGauge("wa_accounts_live", int64(liveCount))
	metrics.SetGauge("wa_health_mean", int64(mean))
	metrics.SetGauge("wa_sweep_ms", time.Since(started).Milliseconds())

	zap.L().Info("whatsapp: health sweep finished",
		zap.Int("accounts", len(accounts)),
		zap.Int("live", liveCount),
		zap.Float64("health_mean", mean),
		zap.Float64("health_min", min),
		zap.Duration("elapsed", time.Since(started)))
	return nil
}

// checkAccount evaluates one account and returns the health score written
// (or kept) and whether the account was live. Errors are contained here.
func (s *Service) checkAccount(ctx context.Context, acct *domain.WaAccount) (float64, bool) {
	h := s.registry.Get(acct.ID)
	isLive := h != nil && h.Ready()
	now := time.Now()

	switch {
	case isLive:
		// Outage, if any, is over.
		s.dedup.Clear(acct.ID)
		score := liveScore(acct.UsageRatio())
		s.persistIfChanged(ctx, acct, domain.StatusConnected, score, map[string]interface{}{
			"last_connected_at": now,
		})
		return float64(score), true

	case acct.Status == domain.StatusConnected || acct.Status == domain.StatusAuthenticated:
		// First detection of an outage: demote and wait for the next sweep
		// before considering an alert, so a single missed tick never pages.
		s.persistIfChanged(ctx, acct, domain.StatusDisconnected, scoreDemoted, map[string]interface{}{
			"last_disconnected_at": now,
		})
		return scoreDemoted, false

	case acct.Status == domain.StatusConnecting && s.pairingFresh(acct, now):
		// Mid-pairing with an unexpired code: the user is on it.
		return float64(acct.HealthScore), false

	default:
		score := s.checkOffline(ctx, acct, now)
		s.remediate(ctx, acct, h)
		return float64(score), false
	}
}

// pairingFresh reports whether the account holds an unexpired pairing code.
func (s *Service) pairingFresh(acct *domain.WaAccount, now time.Time) bool {
	return acct.PairingCode != "" && acct.PairingExpireAt != nil && now.Before(*acct.PairingExpireAt)
}

// checkOffline handles accounts in a sustained outage: escalates past the
// alert threshold (once per continuous outage) and computes the health
// score to persist.
func (s *Service) checkOffline(ctx context.Context, acct *domain.WaAccount, now time.Time) int {
	// The outage clock anchors on last_disconnected_at: score writes below
	// bump updated_at every sweep, so measuring from updated_at would reset
	// the clock and the alert threshold would never be crossed.
	var ref time.Time
	if acct.LastDisconnectedAt != nil {
		ref = *acct.LastDisconnectedAt
	} else {
		ref = acct.UpdatedAt
		if acct.LastConnectedAt != nil && acct.LastConnectedAt.After(ref) {
			ref = *acct.LastConnectedAt
		}
	}
	offline := now.Sub(ref)

	var score int
	switch {
	case offline > s.opts.AlertAfter && !s.dedup.Alerted(acct.ID):
		score = scoreCritical
		s.sendOutageAlert(ctx, acct, offline)
		// Recorded at attempt time; a delivery failure does not roll it
		// back, avoiding retry storms.
		s.dedup.MarkAlerted(acct.ID, now)

	case s.dedup.Alerted(acct.ID):
		// Already escalated for this outage.
		score = scoreCritical

	default:
		score = warningScore(offline, s.opts.AlertAfter)
	}

	updates := map[string]interface{}{}
	if acct.LastDisconnectedAt == nil {
		// Pin the anchor so later sweeps measure the same outage.
		updates["last_disconnected_at"] = ref
	}
	if acct.PairingExpireAt != nil && now.After(*acct.PairingExpireAt) {
		// Never let a pairing artifact outlive its expiry.
		updates["pairing_code"] = ""
		updates["pairing_expire_at"] = nil
	}
	s.persistIfChanged(ctx, acct, acct.Status, score, updates)
	return score
}

// remediate drives best-effort recovery: restart a registered-but-not-ready
// client, or mark the account connecting when no handle exists at all. A
// brand-new authentication cannot be completed headlessly, so in the latter
// case pairing is left to the user.
func (s *Service) remediate(ctx context.Context, acct *domain.WaAccount, h *Handle) {
	if h != nil {
		if h.Starting() {
			return
		}
		client := h.Client()
		if client == nil {
			return
		}
		zap.L().Info("whatsapp: sweep restarting stalled client",
			zap.Int64("account_id", acct.ID))
		h.setStarting(true)
		go func() {
			if err := client.Start(context.Background()); err != nil {
				h.setStarting(false)
				zap.L().Warn("whatsapp: sweep restart failed",
					zap.Int64("account_id", acct.ID), zap.Error(err))
			}
		}()
		return
	}

	if acct.Status != domain.StatusConnecting {
		s.persist(ctx, acct.ID, map[string]interface{}{
			"status": domain.StatusConnecting,
		})
	}
}

// persistIfChanged writes status/health only when they differ from the
// stored row, plus any extra column updates, to avoid needless writes.
func (s *Service) persistIfChanged(ctx context.Context, acct *domain.WaAccount, status string, score int, extra map[string]interface{}) {
	updates := map[string]interface{}{}
	for k, v := range extra {
		updates[k] = v
	}
	if acct.Status != status {
		updates["status"] = status
	}
	if acct.HealthScore != score {
		updates["health_score"] = score
	}
	if len(updates) == 0 {
		return
	}
	s.persist(ctx, acct.ID, updates)
	acct.Status = status
	acct.HealthScore = score
}

// sendOutageAlert emails the owning operator about a sustained outage.
func (s *Service) sendOutageAlert(ctx context.Context, acct *domain.WaAccount, offline time.Duration) {
	owner, err := s.store.Owner(ctx, acct.UserId)
	if err != nil || owner == nil || owner.Email == "" {
		zap.L().Warn("whatsapp: no alert recipient for account",
			zap.Int64("account_id", acct.ID), zap.Error(err))
		return
	}

	hours := int(offline.Hours())
	minutes := int(offline.Minutes()) % 60
	ident := acct.Name
	if acct.Phone != "" {
		ident = fmt.Sprintf("%s (%s)", acct.Name, acct.Phone)
	}
	subject := fmt.Sprintf("WhatsApp account %s offline for %dh %dm", ident, hours, minutes)
	body := fmt.Sprintf(
		"The WhatsApp account %s has been offline since %s (%dh %dm).\r\n"+
			"Automatic reconnection has not recovered the session; it may need to be re-paired from the dashboard.",
		ident, time.Now().Add(-offline).Format(time.RFC1123), hours, minutes)

	if err := s.mailer.Send(owner.Email, subject, body); err != nil {
		zap.L().Error("whatsapp: outage alert delivery failed",
			zap.Int64("account_id", acct.ID), zap.String("to", owner.Email), zap.Error(err))
		return
	}
	zap.L().Info("whatsapp: outage alert sent",
		zap.Int64("account_id", acct.ID), zap.String("to", owner.Email),
		zap.Duration("offline", offline))
}
