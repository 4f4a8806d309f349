// Package server defines the JSON frames exchanged with relay clients and
// shared helpers reused across connection and router logic.
package server

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Frame types understood or emitted by the relay.
const (
	FrameAssignID          = "assign-id"
	FrameRegisterUser      = "register-user"
	FrameRegisterConfirmed = "register-confirmed"
	FrameChatMessage       = "chat-message"
)

// InboundFrame is the union of every client→server frame. Fields that only
// matter for one frame type are left zero for the others.
type InboundFrame struct {
	Type        string          `json:"type"`
	AppUserID   string          `json:"appUserId,omitempty"`
	ToAppUserID string          `json:"toAppUserId,omitempty"`
	ChatID      json.RawMessage `json:"chatId,omitempty"`
	Text        json.RawMessage `json:"text,omitempty"`
	Timestamp   json.RawMessage `json:"timestamp,omitempty"`
}

// AssignIDFrame tells a freshly accepted client its connection id.
type AssignIDFrame struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// RegisterConfirmedFrame acknowledges a register-user frame.
type RegisterConfirmedFrame struct {
	Type      string `json:"type"`
	AppUserID string `json:"appUserId"`
}

// ChatMessageFrame is the payload delivered to the recipient of a chat-message.
// FromAppUserID is null when the sender never registered an identity. Text is
// usually a string but any truthy JSON value is forwarded unchanged.
type ChatMessageFrame struct {
	Type             string          `json:"type"`
	FromAppUserID    *string         `json:"fromAppUserId"`
	ChatID           json.RawMessage `json:"chatId"`
	Text             json.RawMessage `json:"text"`
	Timestamp        json.RawMessage `json:"timestamp"`
	FromConnectionID string          `json:"fromConnectionId"`
}

var (
	jsonNull        = json.RawMessage("null")
	jsonEmptyString = json.RawMessage(`""`)
)

// isFalsy reports whether a raw JSON value is absent, null, false, zero or an
// empty string. Optional chat fields fall back to defaults in those cases.
func isFalsy(raw json.RawMessage) bool {
	v := bytes.TrimSpace(raw)
	if len(v) == 0 {
		return true
	}
	switch string(v) {
	case "null", "false", `""`:
		return true
	}
	if f, err := strconv.ParseFloat(string(v), 64); err == nil {
		return f == 0
	}
	return false
}

// chatIDOrNull passes a sender-supplied chat id through unchanged, or null.
func chatIDOrNull(raw json.RawMessage) json.RawMessage {
	if isFalsy(raw) {
		return jsonNull
	}
	return raw
}

// textOrEmpty passes the sender's text through unchanged, or "".
func textOrEmpty(raw json.RawMessage) json.RawMessage {
	if isFalsy(raw) {
		return jsonEmptyString
	}
	return raw
}

// timestampOrNow keeps a sender-supplied timestamp, or stamps the receipt time
// in Unix milliseconds.
func timestampOrNow(raw json.RawMessage, now time.Time) json.RawMessage {
	if isFalsy(raw) {
		return json.RawMessage(strconv.FormatInt(now.UnixMilli(), 10))
	}
	return raw
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
