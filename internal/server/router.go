package server

import (
	"encoding/json"
	"log/slog"
	"time"
)

// Router decodes inbound frames and dispatches them by type. Every failure is
// terminal for the frame only: the sending connection stays open and receives
// no error frame.
type Router struct {
	registry *Registry
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// NewRouter creates a router that resolves recipients through registry.
func NewRouter(registry *Registry, metrics *Metrics, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry: registry,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Route handles one raw frame received on from.
func (r *Router) Route(from *Connection, raw []byte) {
	var frame InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		r.logger.Warn("failed to parse frame",
			"conn_id", from.ID(),
			"payload", string(raw),
			"error", err,
		)
		r.metrics.malformed.Inc()
		return
	}

	r.metrics.framesReceived.WithLabelValues(frameLabel(frame.Type)).Inc()

	switch frame.Type {
	case FrameRegisterUser:
		r.handleRegister(from, frame)
	case FrameChatMessage:
		r.handleChat(from, frame)
	default:
		r.logger.Info("unhandled frame type", "conn_id", from.ID(), "type", frame.Type)
	}
}

func (r *Router) handleRegister(from *Connection, frame InboundFrame) {
	if frame.AppUserID == "" {
		r.logger.Warn("register-user without appUserId", "conn_id", from.ID())
		return
	}

	previous, ok := r.registry.Bind(frame.AppUserID, from)
	if !ok {
		r.logger.Debug("register-user on closed connection", "conn_id", from.ID())
		return
	}
	r.metrics.registrations.Inc()

	if previous != nil {
		r.logger.Info("identity rebound to newer connection",
			"app_user_id", frame.AppUserID,
			"conn_id", from.ID(),
			"previous_conn_id", previous.ID(),
		)
	} else {
		r.logger.Info("connection registered", "conn_id", from.ID(), "app_user_id", frame.AppUserID)
	}

	sendFrame(from, RegisterConfirmedFrame{
		Type:      FrameRegisterConfirmed,
		AppUserID: frame.AppUserID,
	})
}

func (r *Router) handleChat(from *Connection, frame InboundFrame) {
	if frame.ToAppUserID == "" {
		r.logger.Warn("chat-message without toAppUserId", "conn_id", from.ID())
		return
	}

	target, ok := r.registry.Lookup(frame.ToAppUserID)
	if !ok || !target.IsOpen() {
		r.logger.Warn("no connection for recipient",
			"conn_id", from.ID(),
			"to_app_user_id", frame.ToAppUserID,
		)
		r.metrics.deliveries.WithLabelValues(outcomeUnreachable).Inc()
		return
	}

	payload := ChatMessageFrame{
		Type:             FrameChatMessage,
		ChatID:           chatIDOrNull(frame.ChatID),
		Text:             textOrEmpty(frame.Text),
		Timestamp:        timestampOrNow(frame.Timestamp, r.now()),
		FromConnectionID: from.ID(),
	}
	if sender := from.AppUserID(); sender != "" {
		payload.FromAppUserID = &sender
	}

	if !sendFrame(target, payload) {
		r.logger.Warn("recipient queue full or closed; dropping chat message",
			"conn_id", from.ID(),
			"to_app_user_id", frame.ToAppUserID,
			"to_conn_id", target.ID(),
		)
		r.metrics.deliveries.WithLabelValues(outcomeDropped).Inc()
		return
	}

	r.metrics.deliveries.WithLabelValues(outcomeDelivered).Inc()
	r.logger.Debug("chat message delivered",
		"conn_id", from.ID(),
		"to_app_user_id", frame.ToAppUserID,
		"to_conn_id", target.ID(),
	)
}

// sendFrame encodes v and queues it on c without blocking.
func sendFrame(c *Connection, v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("failed to encode frame", "error", err)
		return false
	}
	return c.trySend(data)
}

// frameLabel bounds the metric label set to the known frame types.
func frameLabel(frameType string) string {
	switch frameType {
	case FrameRegisterUser, FrameChatMessage:
		return frameType
	}
	return "other"
}
