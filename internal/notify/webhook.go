package notify

import (
	"time"

	"github.com/guonaihong/gout"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// Webhook posts session events to a tenant-configured HTTP endpoint.
// Delivery is best effort: failures are logged and dropped, never retried
// into the caller's path.
type Webhook struct {
	url     string
	timeout time.Duration
}

func NewWebhook(url string) *Webhook {
	return &Webhook{url: url, timeout: 10 * time.Second}
}

type webhookEnvelope struct {
	Event     string                 `json:"event"`
	UserID    int64                  `json:"user_id"`
	Timestamp int64                  `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload"`
}

func (w *Webhook) Deliver(event string, userID int64, payload map[string]interface{}) {
	if w == nil || w.url == "" {
		return
	}
	body, err := jsoniter.Marshal(webhookEnvelope{
		Event:     event,
		UserID:    userID,
		Timestamp: time.Now().Unix(),
		Payload:   payload,
	})
	if err != nil {
		zap.L().Error("notify: webhook marshal failed", zap.Error(err))
		return
	}
	go func() {
		var code int
		err := gout.POST(w.url).
			SetHeader(gout.H{"Content-Type": "application/json"}).
			SetBody(body).
			SetTimeout(w.timeout).
			Code(&code).
			Do()
		if err != nil {
			zap.L().Warn("notify: webhook delivery failed",
				zap.String("url", w.url), zap.String("event", event), zap.Error(err))
			return
		}
		if code >= 300 {
			zap.L().Warn("notify: webhook rejected",
				zap.String("url", w.url), zap.String("event", event), zap.Int("status", code))
		}
	}()
}
