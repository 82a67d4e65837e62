package apiserver

import (
	"encoding/json"

	"github.com/deepwiki/sentra-console/internal/chat"
)

// pushNotifier 把会话更新扇出到 SSE 总线与 WebSocket Hub。
type pushNotifier struct {
	bus *EventBus
	hub *Hub
}

var _ chat.Notifier = (*pushNotifier)(nil)

func (n *pushNotifier) MessageUpdated(convID string, msg chat.Message) {
	payload := map[string]any{"conversationId": convID, "message": msg}
	n.bus.Publish(Event{Type: "message_update", Data: payload})
	n.hub.Broadcast(map[string]any{"type": "message_update", "data": payload})
}

func (n *pushNotifier) UIEvent(convID string, raw json.RawMessage) {
	payload := map[string]any{"conversationId": convID, "event": raw}
	n.bus.Publish(Event{Type: "dw_event", Data: payload})
	n.hub.Broadcast(map[string]any{"type": "dw_event", "data": payload})
}
