package websocket

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pscheid92/topicrelay/internal/domain"
	apperrors "github.com/pscheid92/topicrelay/internal/platform/errors"
)

const (
	eventActions = "actions"

	actionRegister   = "register"
	actionUnregister = "unregister"
)

const (
	msgInvalidFrame   = `Invalid message: must be JSON with an "event" or "topic" key`
	msgInvalidPayload = "Received invalid/bad message"
	msgUnknownEvent   = "Unknown event"
	msgTopicRequired  = "Topic is required"
	msgInternal       = "Internal server error"
	msgAlreadyJoined  = "Already subscribed"
	msgNotJoined      = "Not subscribed"
)

// actionRequest is an inbound frame reduced to what the action handlers need.
// Two shapes are accepted:
//
//	{"event":"actions","payload":{"action":"register","topic":"news"}}
//	{"topic":"news","payload":{"action":"register"}}
type actionRequest struct {
	Action string
	Topic  string
}

func parseFrame(data []byte) (actionRequest, error) {
	var frame map[string]json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil || frame == nil {
		return actionRequest{}, apperrors.ValidationError(msgInvalidFrame)
	}

	event, hasEvent := stringField(frame, "event")
	topic, hasTopic := stringField(frame, "topic")

	switch {
	case hasEvent:
		if event != eventActions {
			return actionRequest{}, apperrors.ValidationError(msgUnknownEvent).WithContext("event", event)
		}
	case hasTopic:
	default:
		return actionRequest{}, apperrors.ValidationError(msgInvalidFrame)
	}

	var payload map[string]json.RawMessage
	if raw, ok := frame["payload"]; ok {
		_ = json.Unmarshal(raw, &payload)
	}

	action, ok := stringField(payload, "action")
	if !ok {
		return actionRequest{}, apperrors.ValidationError(msgInvalidPayload)
	}
	if action != actionRegister && action != actionUnregister {
		return actionRequest{}, apperrors.UnknownActionError(action)
	}

	if inner, ok := stringField(payload, "topic"); ok && hasEvent {
		topic = inner
	}
	return actionRequest{Action: action, Topic: topic}, nil
}

// stringField returns m[key] if it is present and a JSON string.
func stringField(m map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := m[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// dispatch handles one inbound frame on the reader goroutine. The connection
// stays open whatever the outcome.
func (m *Manager) dispatch(conn *Connection, data []byte) {
	req, err := parseFrame(data)
	if err != nil {
		slog.DebugContext(conn.ctx, "Rejected client frame", "error", err)
		m.respond(conn, errorResponse(err))
		return
	}

	if req.Topic == "" {
		m.respond(conn, domain.ServerResponse{Type: domain.ResponseValidationError, Message: msgTopicRequired})
		return
	}

	ctx, cancel := context.WithTimeout(conn.ctx, storeTimeout)
	defer cancel()

	switch req.Action {
	case actionRegister:
		m.handleSubscribe(ctx, conn, req.Topic)
	case actionUnregister:
		m.handleUnsubscribe(ctx, conn, req.Topic)
	}
}

func (m *Manager) handleSubscribe(ctx context.Context, conn *Connection, topic string) {
	added, err := m.SubscribeToTopic(ctx, conn.id, topic)
	if err != nil {
		slog.ErrorContext(ctx, "Subscribe failed", "topic", topic, "error", err)
		m.respond(conn, errorResponse(err))
		return
	}

	// The connection closed, or shutdown began, while the store call was in
	// flight. Either cleanup may already have run, so undo the subscription.
	if conn.State() == StateClosed || m.stopping.Load() {
		if added {
			undoCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
			defer cancel()
			if _, err := m.UnsubscribeFromTopic(undoCtx, conn.id, topic); err != nil {
				slog.ErrorContext(ctx, "Failed to undo late subscription", "topic", topic, "error", err)
			}
		}
		return
	}

	resp := domain.ServerResponse{Type: domain.ResponseRegisterSuccess}
	if !added {
		resp.Message = msgAlreadyJoined
	}
	slog.InfoContext(ctx, "Client registered to topic", "topic", topic, "added", added)
	m.respond(conn, resp)
}

func (m *Manager) handleUnsubscribe(ctx context.Context, conn *Connection, topic string) {
	removed, err := m.UnsubscribeFromTopic(ctx, conn.id, topic)
	if err != nil {
		slog.ErrorContext(ctx, "Unsubscribe failed", "topic", topic, "error", err)
		m.respond(conn, errorResponse(err))
		return
	}

	resp := domain.ServerResponse{Type: domain.ResponseUnregisterSuccess}
	if !removed {
		resp.Message = msgNotJoined
	}
	slog.InfoContext(ctx, "Client unregistered from topic", "topic", topic, "removed", removed)
	m.respond(conn, resp)
}

// errorResponse maps an error to the frame the client sees. Only validation
// errors carry their own message.
func errorResponse(err error) domain.ServerResponse {
	structured := apperrors.AsStructuredError(err)
	switch structured.Type {
	case apperrors.TypeValidation:
		return domain.ServerResponse{Type: domain.ResponseValidationError, Message: structured.Message}
	case apperrors.TypeUnknownAction:
		return domain.ServerResponse{Type: domain.ResponseServerError, Message: structured.Message}
	default:
		return domain.ServerResponse{Type: domain.ResponseServerError, Message: msgInternal}
	}
}

// respond writes resp to conn if it is still open.
func (m *Manager) respond(conn *Connection, resp domain.ServerResponse) {
	m.metrics.ActionsTotal.WithLabelValues(resp.Type).Inc()

	if conn.State() != StateOpen {
		return
	}

	data, err := json.Marshal(resp)
	if err != nil {
		slog.ErrorContext(conn.ctx, "Failed to encode response", "error", err)
		return
	}

	if !conn.enqueue(data) {
		m.metrics.DeliveryFailures.WithLabelValues("buffer_full").Inc()
		m.metrics.Terminations.WithLabelValues("slow_consumer").Inc()
		slog.WarnContext(conn.ctx, "Send buffer full, terminating slow consumer")
		m.post(eventCmd{conn: conn, event: EventTerminate, reason: reasonSlowConsumer})
	}
}
