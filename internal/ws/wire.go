package ws

import "encoding/json"

// Close code sent when the handshake carries no resolvable session.
// Outside the reserved 1xxx range so clients can tell an auth rejection
// from a normal close.
const CloseAuthRequired = 4001

// Fixed error replies. Clients match on these strings.
const (
	msgInvalidJSON        = "Invalid JSON format"
	msgUnknownTypePrefix  = "Unknown message type: "
	msgServerError        = "Server error occurred"
	closeReasonAuth       = "authentication required"
	closeReasonJoinFailed = "group registration failed"
)

// Client frame types.
const (
	frameTypePing   = "ping"
	frameTypeTyping = "typing_indicator"
)

// inboundFrame is the shape of every client-sent frame. Timestamp stays
// raw so a pong can echo it verbatim.
type inboundFrame struct {
	Type      string          `json:"type"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
	IsTyping  bool            `json:"is_typing,omitempty"`
	BugID     *int64          `json:"bug_id,omitempty"`
}

type welcomeMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	User      string `json:"user"`
	ProjectID string `json:"project_id"`
	Timestamp string `json:"timestamp"`
}

type pongMessage struct {
	Type       string          `json:"type"`
	Timestamp  json.RawMessage `json:"timestamp,omitempty"`
	User       string          `json:"user"`
	ServerTime string          `json:"server_time"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type bugMessage struct {
	Type      string          `json:"type"`
	EventType string          `json:"event_type"`
	Bug       json.RawMessage `json:"bug"`
	User      string          `json:"user"`
	OldStatus string          `json:"old_status,omitempty"`
	NewStatus string          `json:"new_status,omitempty"`
	Timestamp string          `json:"timestamp"`
}

type commentMessage struct {
	Type      string          `json:"type"`
	Comment   json.RawMessage `json:"comment"`
	Bug       json.RawMessage `json:"bug"`
	User      string          `json:"user"`
	Timestamp string          `json:"timestamp"`
}

type personalMessage struct {
	Type             string          `json:"type"`
	NotificationType string          `json:"notification_type"`
	Comment          json.RawMessage `json:"comment,omitempty"`
	Bug              json.RawMessage `json:"bug,omitempty"`
	Commenter        string          `json:"commenter"`
	Timestamp        string          `json:"timestamp"`
}

type typingMessage struct {
	Type      string `json:"type"`
	User      string `json:"user"`
	IsTyping  bool   `json:"is_typing"`
	BugID     *int64 `json:"bug_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

type activityMessage struct {
	Type      string          `json:"type"`
	Activity  json.RawMessage `json:"activity"`
	Timestamp string          `json:"timestamp"`
}
