// Package event defines the notification events carried between the
// ingestion API, the group registry, and live connections. The set of
// kinds is closed: every consumer switches exhaustively on the concrete
// type returned by Envelope.Event.
package event

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates envelope payloads on the broker wire.
type Kind string

const (
	KindBugNotification      Kind = "bug_notification"
	KindCommentNotification  Kind = "comment_notification"
	KindPersonalNotification Kind = "personal_notification"
	KindTypingIndicator      Kind = "typing_indicator"
	KindActivityLogUpdate    Kind = "activity_log_update"
)

// Event is the closed set of notification payloads. Only types in this
// package implement it.
type Event interface {
	Kind() Kind
}

// UserRef is a read-only reference to a user owned by the external
// identity store.
type UserRef struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// BugNotification announces a bug mutation to a project group.
// EventType is one of "bug_created", "bug_updated", "bug_status_changed".
type BugNotification struct {
	EventType string          `json:"event_type"`
	Bug       json.RawMessage `json:"bug"`
	Actor     string          `json:"user"`
	OldStatus string          `json:"old_status,omitempty"`
	NewStatus string          `json:"new_status,omitempty"`
}

func (BugNotification) Kind() Kind { return KindBugNotification }

// CommentNotification announces a new comment to a project group.
type CommentNotification struct {
	Comment json.RawMessage `json:"comment"`
	Bug     json.RawMessage `json:"bug"`
	Actor   string          `json:"user"`
}

func (CommentNotification) Kind() Kind { return KindCommentNotification }

// PersonalNotification targets a single user's personal group.
type PersonalNotification struct {
	NotificationType string          `json:"notification_type"`
	Comment          json.RawMessage `json:"comment,omitempty"`
	Bug              json.RawMessage `json:"bug,omitempty"`
	Commenter        string          `json:"commenter"`
}

func (PersonalNotification) Kind() Kind { return KindPersonalNotification }

// TypingSignal is an ephemeral, non-persisted indicator relayed through a
// project group. Never echoed back to its own actor.
type TypingSignal struct {
	Actor    string `json:"user"`
	IsTyping bool   `json:"is_typing"`
	BugID    *int64 `json:"bug_id,omitempty"`
}

func (TypingSignal) Kind() Kind { return KindTypingIndicator }

// ActivityLogUpdate carries an activity-log entry snapshot verbatim.
type ActivityLogUpdate struct {
	Activity json.RawMessage `json:"activity"`
}

func (ActivityLogUpdate) Kind() Kind { return KindActivityLogUpdate }

// Envelope is the unit published through the group registry.
type Envelope struct {
	EnvelopeKind Kind            `json:"kind"`
	Payload      json.RawMessage `json:"payload"`
}

// Wrap marshals an event into a broker envelope.
func Wrap(ev Event) (*Envelope, error) {
	payload, err := marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", ev.Kind(), err)
	}
	return &Envelope{EnvelopeKind: ev.Kind(), Payload: payload}, nil
}

// Event decodes the envelope payload into its concrete type.
func (e *Envelope) Event() (Event, error) {
	switch e.EnvelopeKind {
	case KindBugNotification:
		var ev BugNotification
		return &ev, unmarshal(e.Payload, &ev)
	case KindCommentNotification:
		var ev CommentNotification
		return &ev, unmarshal(e.Payload, &ev)
	case KindPersonalNotification:
		var ev PersonalNotification
		return &ev, unmarshal(e.Payload, &ev)
	case KindTypingIndicator:
		var ev TypingSignal
		return &ev, unmarshal(e.Payload, &ev)
	case KindActivityLogUpdate:
		var ev ActivityLogUpdate
		return &ev, unmarshal(e.Payload, &ev)
	default:
		return nil, fmt.Errorf("unknown envelope kind %q", e.EnvelopeKind)
	}
}
