package domain

import "time"

// Connection status values. Transitions are owned by the whatsapp session
// service; nothing else writes the status column.
const (
	StatusDisconnected  = "disconnected"
	StatusConnecting    = "connecting"
	StatusAuthenticated = "authenticated"
	StatusConnected     = "connected"
	StatusFailed        = "failed"
)

// Health labels derived from the numeric score.
const (
	HealthHealthy  = "healthy"
	HealthWarning  = "warning"
	HealthCritical = "critical"
)

const (
	HealthyScoreFloor = 80
	WarningScoreFloor = 40
)

// WaAccount is the persisted state of one tenant account's connection to the
// messaging platform. The in-memory client handle is never persisted; this
// row is what survives restarts.
type WaAccount struct {
	ID          int64  `json:"id,string" gorm:"primaryKey"`
	TenantId    int64  `json:"tenant_id,string" gorm:"index"`
	UserId      int64  `json:"user_id,string" gorm:"index"` // owning operator, alert recipient
	Name        string `json:"name"`
	Phone       string `json:"phone"` // empty until first successful authentication
	Status      string `json:"status" gorm:"index"`
	HealthScore int    `json:"health_score"` // 0-100, sortable

	// Pairing artifact. Non-empty only while status=connecting and the
	// account has not yet authenticated. Never read past PairingExpireAt.
	PairingCode     string     `json:"-"`
	PairingExpireAt *time.Time `json:"pairing_expire_at"`

	MsgSentToday int `json:"msg_sent_today"`
	MsgRecvToday int `json:"msg_recv_today"`
	DailyLimit   int `json:"daily_limit"`

	Active bool `json:"active"` // administrative switch, independent of status

	LastConnectedAt    *time.Time `json:"last_connected_at"`
	LastDisconnectedAt *time.Time `json:"last_disconnected_at"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func (WaAccount) TableName() string {
	return "wa_account"
}

// HealthLabel maps the stored score to its display label.
func (a *WaAccount) HealthLabel() string {
	switch {
	case a.HealthScore >= HealthyScoreFloor:
		return HealthHealthy
	case a.HealthScore >= WarningScoreFloor:
		return HealthWarning
	default:
		return HealthCritical
	}
}

// UsageRatio returns today's send usage as a fraction of the daily limit.
func (a *WaAccount) UsageRatio() float64 {
	if a.DailyLimit <= 0 {
		return 0
	}
	r := float64(a.MsgSentToday) / float64(a.DailyLimit)
	if r > 1 {
		return 1
	}
	return r
}
