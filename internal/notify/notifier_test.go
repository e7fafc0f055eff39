package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bugtrackr/realtime/internal/event"
	"github.com/bugtrackr/realtime/internal/registry"
)

// recordingRegistry captures publishes per group.
type recordingRegistry struct {
	mu        sync.Mutex
	published map[string][]*event.Envelope
	failWith  error
}

func newRecordingRegistry() *recordingRegistry {
	return &recordingRegistry{published: make(map[string][]*event.Envelope)}
}

func (r *recordingRegistry) Join(context.Context, registry.Group, registry.Member) error {
	return nil
}

func (r *recordingRegistry) Leave(context.Context, registry.Group, registry.Member) error {
	return nil
}

func (r *recordingRegistry) Publish(_ context.Context, g registry.Group, env *event.Envelope) error {
	if r.failWith != nil {
		return r.failWith
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published[g.Key()] = append(r.published[g.Key()], env)
	return nil
}

func (r *recordingRegistry) events(t *testing.T, groupKey string) []event.Event {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Event
	for _, env := range r.published[groupKey] {
		ev, err := env.Event()
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

func TestCommentCreatedFanOut(t *testing.T) {
	bug := json.RawMessage(`{"id":3,"title":"crash"}`)
	comment := json.RawMessage(`{"id":9,"message":"on it"}`)
	u1 := event.UserRef{ID: "u1", Username: "alice"}
	u2 := event.UserRef{ID: "u2", Username: "bob"}
	u3 := event.UserRef{ID: "u3", Username: "carol"}

	tests := []struct {
		name           string
		params         CommentParams
		wantPersonalTo []string
	}{
		{
			name: "creator and assignee notified, commenter excluded",
			params: CommentParams{
				ProjectID: "5", Comment: comment, Bug: bug,
				Commenter: u2, Creator: u1, Assignee: &u3,
			},
			wantPersonalTo: []string{"user:u1", "user:u3"},
		},
		{
			name: "commenter is the creator",
			params: CommentParams{
				ProjectID: "5", Comment: comment, Bug: bug,
				Commenter: u1, Creator: u1, Assignee: &u2,
			},
			wantPersonalTo: []string{"user:u2"},
		},
		{
			name: "unassigned bug",
			params: CommentParams{
				ProjectID: "5", Comment: comment, Bug: bug,
				Commenter: u2, Creator: u1,
			},
			wantPersonalTo: []string{"user:u1"},
		},
		{
			name: "creator is also assignee, single notification",
			params: CommentParams{
				ProjectID: "5", Comment: comment, Bug: bug,
				Commenter: u2, Creator: u1, Assignee: &u1,
			},
			wantPersonalTo: []string{"user:u1"},
		},
		{
			name: "commenter comments on own unassigned bug, nobody notified",
			params: CommentParams{
				ProjectID: "5", Comment: comment, Bug: bug,
				Commenter: u1, Creator: u1,
			},
			wantPersonalTo: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newRecordingRegistry()
			n := NewNotifier(reg, zap.NewNop())

			n.CommentCreated(context.Background(), tt.params)

			projectEvents := reg.events(t, "project:5")
			require.Len(t, projectEvents, 1)
			cn, ok := projectEvents[0].(*event.CommentNotification)
			require.True(t, ok)
			assert.Equal(t, tt.params.Commenter.Username, cn.Actor)

			var got []string
			for key := range reg.published {
				if strings.HasPrefix(key, "user:") {
					got = append(got, key)
				}
			}
			assert.ElementsMatch(t, tt.wantPersonalTo, got)

			for _, key := range tt.wantPersonalTo {
				evs := reg.events(t, key)
				require.Len(t, evs, 1)
				pn, ok := evs[0].(*event.PersonalNotification)
				require.True(t, ok)
				assert.Equal(t, "new_comment", pn.NotificationType)
				assert.Equal(t, tt.params.Commenter.Username, pn.Commenter)
			}
		})
	}
}

func TestBugStatusChangedCarriesTransition(t *testing.T) {
	reg := newRecordingRegistry()
	n := NewNotifier(reg, zap.NewNop())

	n.BugStatusChanged(context.Background(), "5", json.RawMessage(`{"id":3}`), "alice", "Open", "Resolved")

	evs := reg.events(t, "project:5")
	require.Len(t, evs, 1)
	bn, ok := evs[0].(*event.BugNotification)
	require.True(t, ok)
	assert.Equal(t, "bug_status_changed", bn.EventType)
	assert.Equal(t, "Open", bn.OldStatus)
	assert.Equal(t, "Resolved", bn.NewStatus)
	assert.Equal(t, "alice", bn.Actor)
}

func TestPublishFailureNeverPropagates(t *testing.T) {
	reg := newRecordingRegistry()
	reg.failWith = errors.New("broker unreachable")
	n := NewNotifier(reg, zap.NewNop())

	assert.NotPanics(t, func() {
		n.BugCreated(context.Background(), "5", json.RawMessage(`{"id":1}`), "alice")
		n.ActivityLogged(context.Background(), "5", json.RawMessage(`{"action":"created"}`))
	})
}

func TestIngestHandler(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		body       string
		wantStatus int
		wantGroup  string
	}{
		{
			name:       "bug created",
			method:     http.MethodPost,
			body:       `{"event":"bug_created","project_id":"5","actor":"alice","bug":{"id":1}}`,
			wantStatus: http.StatusAccepted,
			wantGroup:  "project:5",
		},
		{
			name:       "activity logged",
			method:     http.MethodPost,
			body:       `{"event":"activity_logged","project_id":"5","activity":{"action":"created"}}`,
			wantStatus: http.StatusAccepted,
			wantGroup:  "project:5",
		},
		{
			name:       "missing project id",
			method:     http.MethodPost,
			body:       `{"event":"bug_created"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown event",
			method:     http.MethodPost,
			body:       `{"event":"leaderboard","project_id":"5"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid JSON",
			method:     http.MethodPost,
			body:       `{nope`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "wrong method",
			method:     http.MethodGet,
			body:       ``,
			wantStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newRecordingRegistry()
			n := NewNotifier(reg, zap.NewNop())

			req := httptest.NewRequest(tt.method, "/internal/notify", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			n.Handler().ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantGroup != "" {
				assert.Len(t, reg.published[tt.wantGroup], 1)
			}
		})
	}
}
