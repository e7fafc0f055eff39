package notify

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/bugtrackr/realtime/internal/event"
	pkgjson "github.com/bugtrackr/realtime/pkg/json"
)

// ingestRequest is the body the mutation API posts to trigger a
// fan-out. Snapshots pass through untouched.
type ingestRequest struct {
	Event     string          `json:"event"`
	ProjectID string          `json:"project_id"`
	Actor     string          `json:"actor,omitempty"`
	Bug       json.RawMessage `json:"bug,omitempty"`
	Comment   json.RawMessage `json:"comment,omitempty"`
	Activity  json.RawMessage `json:"activity,omitempty"`
	OldStatus string          `json:"old_status,omitempty"`
	NewStatus string          `json:"new_status,omitempty"`
	Commenter event.UserRef   `json:"commenter,omitempty"`
	Creator   event.UserRef   `json:"creator,omitempty"`
	Assignee  *event.UserRef  `json:"assignee,omitempty"`
}

// Handler exposes the ingestion API over HTTP for mutation services
// running in other processes. Accepted requests return 202 immediately;
// delivery rides on the registry's own guarantees.
func (n *Notifier) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var req ingestRequest
		if err := pkgjson.NewDecoder(r.Body).Decode(&req); err != nil {
			n.respond(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
			return
		}
		if req.ProjectID == "" {
			n.respond(w, http.StatusBadRequest, map[string]string{"error": "project_id required"})
			return
		}

		ctx := r.Context()
		switch req.Event {
		case "bug_created":
			n.BugCreated(ctx, req.ProjectID, req.Bug, req.Actor)
		case "bug_updated":
			n.BugUpdated(ctx, req.ProjectID, req.Bug, req.Actor)
		case "bug_status_changed":
			n.BugStatusChanged(ctx, req.ProjectID, req.Bug, req.Actor, req.OldStatus, req.NewStatus)
		case "comment_created":
			n.CommentCreated(ctx, CommentParams{
				ProjectID: req.ProjectID,
				Comment:   req.Comment,
				Bug:       req.Bug,
				Commenter: req.Commenter,
				Creator:   req.Creator,
				Assignee:  req.Assignee,
			})
		case "activity_logged":
			n.ActivityLogged(ctx, req.ProjectID, req.Activity)
		default:
			n.respond(w, http.StatusBadRequest, map[string]string{"error": "unknown event: " + req.Event})
			return
		}
		n.respond(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}

func (n *Notifier) respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := pkgjson.NewEncoder(w).Encode(body); err != nil {
		n.log.Error("failed to encode response", zap.Error(err))
	}
}
