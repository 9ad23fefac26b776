package whatsapp

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connexa/waconnect/internal/domain"
)

func withOwner(st *fakeStore, userID int64, email string) {
	st.mu.Lock()
	st.owners[userID] = &domain.SysOpr{ID: userID, Email: email}
	st.mu.Unlock()
}

func backdate(st *fakeStore, id int64, age time.Duration) {
	st.mu.Lock()
	st.accounts[id].UpdatedAt = time.Now().Add(-age)
	if st.accounts[id].LastConnectedAt != nil {
		t := time.Now().Add(-age)
		st.accounts[id].LastConnectedAt = &t
	}
	st.mu.Unlock()
}

func TestSweepSkipsWhenAlreadyRunning(t *testing.T) {
	svc, st, _, _, _ := newTestService(testAccount(1, 10))

	// Simulate an in-flight sweep by holding the guard token.
	<-svc.sweepGuard
	require.NoError(t, svc.Sweep(context.Background()))
	st.mu.Lock()
	listed := st.listed
	st.mu.Unlock()
	assert.Equal(t, 0, listed, "skipped sweep must not touch the store")
	svc.sweepGuard <- struct{}{}

	require.NoError(t, svc.Sweep(context.Background()))
	st.mu.Lock()
	listed = st.listed
	st.mu.Unlock()
	assert.Equal(t, 1, listed)
}

func TestSweepScoresLiveAccount(t *testing.T) {
	acct := testAccount(1, 10)
	acct.MsgSentToday = 500
	svc, st, _, _, _ := newTestService(acct)

	h, err := svc.Connect(context.Background(), 1)
	require.NoError(t, err)
	svc.handleEvent(h, EvReady{Phone: "628111"})

	// A stale dedup entry from a previous outage is dropped on recovery.
	svc.dedup.MarkAlerted(1, time.Now())

	require.NoError(t, svc.Sweep(context.Background()))

	got := st.account(1)
	assert.Equal(t, domain.StatusConnected, got.Status)
	assert.Equal(t, 90, got.HealthScore, "score discounts half-used daily limit")
	assert.Equal(t, domain.HealthHealthy, got.HealthLabel())
	assert.False(t, svc.dedup.Alerted(1))
	require.NotNil(t, got.LastConnectedAt)
	assert.WithinDuration(t, time.Now(), *got.LastConnectedAt, time.Second,
		"live accounts refresh last_connected_at on every sweep")
}

func TestSweepDemotesStaleConnectedRow(t *testing.T) {
	acct := testAccount(1, 10)
	acct.Status = domain.StatusConnected
	acct.HealthScore = 100
	svc, st, _, mail, _ := newTestService(acct)

	require.NoError(t, svc.Sweep(context.Background()))

	got := st.account(1)
	assert.Equal(t, domain.StatusDisconnected, got.Status)
	assert.Equal(t, 70, got.HealthScore)
	assert.Equal(t, domain.HealthWarning, got.HealthLabel())
	assert.NotNil(t, got.LastDisconnectedAt)
	assert.Equal(t, 0, mail.sentCount(), "first demotion never alerts")
}

func TestSweepWarningBeforeAlertThreshold(t *testing.T) {
	acct := testAccount(1, 10)
	svc, st, _, mail, _ := newTestService(acct)
	backdate(st, 1, 3*time.Hour)

	require.NoError(t, svc.Sweep(context.Background()))

	got := st.account(1)
	assert.Equal(t, domain.HealthWarning, got.HealthLabel())
	assert.InDelta(t, 55, got.HealthScore, 1, "half way to the threshold decays half the warning band")
	assert.Equal(t, 0, mail.sentCount())
}

func TestSweepAlertsOnceForSustainedOutage(t *testing.T) {
	acct := testAccount(1, 10)
	svc, st, _, mail, _ := newTestService(acct)
	withOwner(st, 10, "ops@example.com")
	backdate(st, 1, 7*time.Hour)

	require.NoError(t, svc.Sweep(context.Background()))

	got := st.account(1)
	assert.Equal(t, 1, mail.sentCount())
	assert.Equal(t, []string{"ops@example.com"}, mail.sent)
	assert.Equal(t, domain.HealthCritical, got.HealthLabel())
	assert.True(t, svc.dedup.Alerted(1))

	// Second sweep over the same outage: still critical, no second mail.
	require.NoError(t, svc.Sweep(context.Background()))
	assert.Equal(t, 1, mail.sentCount())
	got = st.account(1)
	assert.Equal(t, domain.HealthCritical, got.HealthLabel())
}

func TestSweepAlertAttemptCountsEvenIfDeliveryFails(t *testing.T) {
	acct := testAccount(1, 10)
	svc, st, _, mail, _ := newTestService(acct)
	withOwner(st, 10, "ops@example.com")
	mail.sendErr = errors.New("smtp down")
	backdate(st, 1, 7*time.Hour)

	require.NoError(t, svc.Sweep(context.Background()))
	assert.True(t, svc.dedup.Alerted(1), "failed delivery still counts as attempted")

	mail.mu.Lock()
	mail.sendErr = nil
	mail.mu.Unlock()
	require.NoError(t, svc.Sweep(context.Background()))
	assert.Equal(t, 0, mail.sentCount(), "no retry storm after a failed delivery")
}

func TestSweepLeavesFreshPairingAlone(t *testing.T) {
	acct := testAccount(1, 10)
	acct.Status = domain.StatusConnecting
	acct.HealthScore = 100
	acct.PairingCode = "ABCD-1234"
	expire := time.Now().Add(time.Minute)
	acct.PairingExpireAt = &expire
	svc, st, _, mail, _ := newTestService(acct)

	require.NoError(t, svc.Sweep(context.Background()))

	got := st.account(1)
	assert.Equal(t, domain.StatusConnecting, got.Status)
	assert.Equal(t, 100, got.HealthScore)
	assert.Equal(t, "ABCD-1234", got.PairingCode)
	assert.Equal(t, 0, mail.sentCount())
}

func TestSweepClearsExpiredPairingArtifact(t *testing.T) {
	acct := testAccount(1, 10)
	acct.Status = domain.StatusConnecting
	acct.PairingCode = "ABCD-1234"
	expire := time.Now().Add(-time.Minute)
	acct.PairingExpireAt = &expire
	svc, st, _, _, _ := newTestService(acct)

	require.NoError(t, svc.Sweep(context.Background()))

	got := st.account(1)
	assert.Empty(t, got.PairingCode)
	assert.Nil(t, got.PairingExpireAt)
}

func TestSweepRemediatesMissingHandle(t *testing.T) {
	acct := testAccount(1, 10)
	svc, st, _, _, _ := newTestService(acct)
	backdate(st, 1, time.Hour)

	require.NoError(t, svc.Sweep(context.Background()))

	assert.Equal(t, domain.StatusConnecting, st.account(1).Status,
		"a disconnected account with no handle is queued for reconnection")
}

func TestSweepRestartsStalledClient(t *testing.T) {
	acct := testAccount(1, 10)
	svc, st, _, _, _ := newTestService(acct)
	backdate(st, 1, time.Hour)

	client := &fakeClient{}
	h := NewHandle(1, 10, 5)
	h.attach(client)
	svc.Registry().PutIfAbsent(1, h)

	require.NoError(t, svc.Sweep(context.Background()))

	require.Eventually(t, func() bool {
		client.mu.Lock()
		defer client.mu.Unlock()
		return client.started == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSweepSkipsRestartWhileStarting(t *testing.T) {
	acct := testAccount(1, 10)
	svc, st, _, _, _ := newTestService(acct)
	backdate(st, 1, time.Hour)

	client := &fakeClient{}
	h := NewHandle(1, 10, 5)
	h.attach(client)
	h.setStarting(true)
	svc.Registry().PutIfAbsent(1, h)

	require.NoError(t, svc.Sweep(context.Background()))
	time.Sleep(20 * time.Millisecond)

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Equal(t, 0, client.started, "a client mid-startup is left alone")
}

func TestSweepScoreWritesDoNotResetOutageClock(t *testing.T) {
	acct := testAccount(1, 10)
	svc, st, _, mail, _ := newTestService(acct)
	withOwner(st, 10, "ops@example.com")

	// 3h into the outage an intermediate sweep persists a decayed score,
	// which moves the row's updated_at to now.
	start := time.Now().Add(-3 * time.Hour)
	st.mu.Lock()
	st.accounts[1].LastDisconnectedAt = &start
	st.accounts[1].UpdatedAt = start
	st.mu.Unlock()

	require.NoError(t, svc.Sweep(context.Background()))
	assert.Equal(t, 0, mail.sentCount())
	mid := st.account(1)
	assert.WithinDuration(t, time.Now(), mid.UpdatedAt, time.Second,
		"the intermediate sweep wrote the row")

	// Four more hours pass. Only last_disconnected_at still reflects the
	// outage's true age; updated_at was reset by the write above.
	origin := time.Now().Add(-7 * time.Hour)
	st.mu.Lock()
	st.accounts[1].LastDisconnectedAt = &origin
	st.mu.Unlock()

	require.NoError(t, svc.Sweep(context.Background()))
	assert.Equal(t, 1, mail.sentCount(),
		"outage age is measured from last_disconnected_at, not updated_at")
	got := st.account(1)
	assert.Equal(t, domain.HealthCritical, got.HealthLabel())
}

type poisonedStore struct {
	*fakeStore
	poisoned int64
}

func (p *poisonedStore) Update(ctx context.Context, id int64, updates map[string]interface{}) error {
	if id == p.poisoned {
		panic("poisoned row")
	}
	return p.fakeStore.Update(ctx, id, updates)
}

func TestSweepIsolatesPanickingAccount(t *testing.T) {
	a := testAccount(1, 10)
	a.Status = domain.StatusConnected
	b := testAccount(2, 11)
	b.Status = domain.StatusConnected
	st := &poisonedStore{fakeStore: newFakeStore(a, b), poisoned: 1}
	svc := New(st, &fakePush{}, &fakeMailer{}, (&clientHolder{}).factory, nil, Options{
		ReconnectCeiling: 5,
		PairingTTL:       2 * time.Minute,
		AlertAfter:       6 * time.Hour,
		SweepWorkers:     1,
	})

	require.NoError(t, svc.Sweep(context.Background()))

	got := st.account(2)
	assert.Equal(t, domain.StatusDisconnected, got.Status,
		"one broken account must not halt the sweep for the rest")
	assert.Equal(t, 70, got.HealthScore)
}

func TestWarningScoreBounds(t *testing.T) {
	alertAfter := 6 * time.Hour
	assert.Equal(t, 70, warningScore(0, alertAfter))
	assert.Equal(t, domain.WarningScoreFloor, warningScore(alertAfter, alertAfter))
	assert.Equal(t, domain.WarningScoreFloor, warningScore(10*alertAfter, alertAfter))

	prev := 70
	for h := 0; h <= 6; h++ {
		s := warningScore(time.Duration(h)*time.Hour, alertAfter)
		assert.LessOrEqual(t, s, prev, "score decays monotonically")
		assert.GreaterOrEqual(t, s, domain.WarningScoreFloor)
		prev = s
	}
}

func TestLiveScore(t *testing.T) {
	assert.Equal(t, 100, liveScore(0))
	assert.Equal(t, 90, liveScore(0.5))
	assert.Equal(t, 80, liveScore(1))
}
