package event

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	bugID := int64(7)
	tests := []struct {
		name string
		ev   Event
	}{
		{
			name: "bug notification",
			ev: &BugNotification{
				EventType: "bug_status_changed",
				Bug:       json.RawMessage(`{"id":3,"title":"crash on save"}`),
				Actor:     "alice",
				OldStatus: "Open",
				NewStatus: "In Progress",
			},
		},
		{
			name: "comment notification",
			ev: &CommentNotification{
				Comment: json.RawMessage(`{"id":12,"message":"fixed"}`),
				Bug:     json.RawMessage(`{"id":3}`),
				Actor:   "bob",
			},
		},
		{
			name: "personal notification",
			ev: &PersonalNotification{
				NotificationType: "new_comment",
				Comment:          json.RawMessage(`{"id":12}`),
				Bug:              json.RawMessage(`{"id":3}`),
				Commenter:        "bob",
			},
		},
		{
			name: "typing signal",
			ev:   &TypingSignal{Actor: "carol", IsTyping: true, BugID: &bugID},
		},
		{
			name: "activity log update",
			ev:   &ActivityLogUpdate{Activity: json.RawMessage(`{"action":"created"}`)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Wrap(tt.ev)
			require.NoError(t, err)
			assert.Equal(t, tt.ev.Kind(), env.EnvelopeKind)

			data, err := env.Encode()
			require.NoError(t, err)

			decoded, err := Decode(data)
			require.NoError(t, err)

			got, err := decoded.Event()
			require.NoError(t, err)
			assert.Equal(t, tt.ev.Kind(), got.Kind())
			assert.Equal(t, tt.ev, got)
		})
	}
}

func TestDecodeRejectsMissingKind(t *testing.T) {
	_, err := Decode([]byte(`{"payload":{}}`))
	assert.Error(t, err)
}

func TestDecodeRejectsInvalidJSON(t *testing.T) {
	_, err := Decode([]byte(`{not json`))
	assert.Error(t, err)
}

func TestEnvelopeUnknownKind(t *testing.T) {
	env := &Envelope{EnvelopeKind: Kind("leaderboard_update"), Payload: json.RawMessage(`{}`)}
	_, err := env.Event()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown envelope kind")
}

func TestTypingSignalOmitsAbsentBugID(t *testing.T) {
	env, err := Wrap(&TypingSignal{Actor: "dave"})
	require.NoError(t, err)
	assert.NotContains(t, string(env.Payload), "bug_id")
}
