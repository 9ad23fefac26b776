package whatsapp

import (
	"sync"
	"time"
)

// AlertDedup tracks which accounts have already been alerted for their
// current outage so a continuous outage produces exactly one email. Entries
// are purely in-memory and rebuilt empty on restart; an outage that spans a
// restart may re-alert once.
type AlertDedup struct {
	mu      sync.Mutex
	alerted map[int64]time.Time
}

func NewAlertDedup() *AlertDedup {
	return &AlertDedup{alerted: make(map[int64]time.Time)}
}

// Alerted reports whether an alert was already sent for the account's
// ongoing outage.
func (d *AlertDedup) Alerted(accountID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.alerted[accountID]
	return ok
}

// MarkAlerted records that an alert was attempted at t. An alert counts as
// sent once attempted, even if delivery later fails.
func (d *AlertDedup) MarkAlerted(accountID int64, t time.Time) {
	d.mu.Lock()
	d.alerted[accountID] = t
	d.mu.Unlock()
}

// Clear removes the account's entry. Called as soon as the account is
// observed healthy so the next outage may alert again.
func (d *AlertDedup) Clear(accountID int64) {
	d.mu.Lock()
	delete(d.alerted, accountID)
	d.mu.Unlock()
}

// Len reports the number of tracked outages.
func (d *AlertDedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.alerted)
}
