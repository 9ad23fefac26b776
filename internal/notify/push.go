package notify

import (
	"fmt"

	"github.com/asaskevich/EventBus"
	"go.uber.org/zap"
)

// Real-time pushes go out on two channels: an in-process event bus that the
// admin websocket/api layer subscribes to, and an optional tenant webhook.
type Push struct {
	bus     EventBus.Bus
	webhook *Webhook
}

func NewPush(webhook *Webhook) *Push {
	return &Push{bus: EventBus.New(), webhook: webhook}
}

// topicFor scopes bus topics per operator so dashboard subscribers only see
// their own accounts.
func topicFor(userID int64, event string) string {
	return fmt.Sprintf("opr:%d:%s", userID, event)
}

// Emit publishes a session event; delivery is fire-and-forget.
func (p *Push) Emit(userID int64, event string, payload map[string]interface{}) {
	p.bus.Publish(topicFor(userID, event), payload)
	p.bus.Publish(topicFor(userID, "*"), event, payload)
	if p.webhook != nil {
		p.webhook.Deliver(event, userID, payload)
	}
	zap.L().Debug("notify: event emitted",
		zap.Int64("user_id", userID), zap.String("event", event))
}

// Subscribe registers a callback for one event name.
func (p *Push) Subscribe(userID int64, event string, fn interface{}) error {
	return p.bus.SubscribeAsync(topicFor(userID, event), fn, false)
}

// SubscribeAll registers a callback for every event of an operator; the
// callback receives (event string, payload map[string]interface{}).
func (p *Push) SubscribeAll(userID int64, fn interface{}) error {
	return p.bus.SubscribeAsync(topicFor(userID, "*"), fn, false)
}

func (p *Push) Unsubscribe(userID int64, event string, fn interface{}) error {
	return p.bus.Unsubscribe(topicFor(userID, event), fn)
}
