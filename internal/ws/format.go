package ws

import (
	"time"

	"github.com/bugtrackr/realtime/internal/event"
	"github.com/bugtrackr/realtime/internal/session"
)

func serverTime() string {
	return time.Now().Format(time.RFC3339)
}

// formatEnvelope renders a registry-delivered envelope into the wire
// message the receiving connection expects. The second return is false
// when the event is suppressed for this receiver or cannot be decoded;
// undecodable envelopes are tolerated so a foreign event kind on the
// wire never disturbs a connection.
func formatEnvelope(env *event.Envelope, self session.Identity) (interface{}, bool) {
	ev, err := env.Event()
	if err != nil {
		return nil, false
	}

	switch ev := ev.(type) {
	case *event.BugNotification:
		return bugMessage{
			Type:      string(event.KindBugNotification),
			EventType: ev.EventType,
			Bug:       ev.Bug,
			User:      ev.Actor,
			OldStatus: ev.OldStatus,
			NewStatus: ev.NewStatus,
			Timestamp: serverTime(),
		}, true
	case *event.CommentNotification:
		return commentMessage{
			Type:      string(event.KindCommentNotification),
			Comment:   ev.Comment,
			Bug:       ev.Bug,
			User:      ev.Actor,
			Timestamp: serverTime(),
		}, true
	case *event.PersonalNotification:
		return personalMessage{
			Type:             string(event.KindPersonalNotification),
			NotificationType: ev.NotificationType,
			Comment:          ev.Comment,
			Bug:              ev.Bug,
			Commenter:        ev.Commenter,
			Timestamp:        serverTime(),
		}, true
	case *event.TypingSignal:
		// Never echo a typing indicator back to its own actor.
		if ev.Actor == self.Username {
			return nil, false
		}
		return typingMessage{
			Type:      string(event.KindTypingIndicator),
			User:      ev.Actor,
			IsTyping:  ev.IsTyping,
			BugID:     ev.BugID,
			Timestamp: serverTime(),
		}, true
	case *event.ActivityLogUpdate:
		return activityMessage{
			Type:      string(event.KindActivityLogUpdate),
			Activity:  ev.Activity,
			Timestamp: serverTime(),
		}, true
	default:
		return nil, false
	}
}
