// Package notify is the entry point mutation-handling code uses to
// trigger a fan-out. Every call is fire-and-forget: a failed publish is
// logged and counted but never surfaces into the mutation that caused
// it.
package notify

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/bugtrackr/realtime/internal/event"
	"github.com/bugtrackr/realtime/internal/registry"
)

// Notifier resolves target groups for domain events and publishes one
// envelope per group through the registry.
type Notifier struct {
	reg registry.Registry
	log *zap.Logger
}

func NewNotifier(reg registry.Registry, log *zap.Logger) *Notifier {
	return &Notifier{
		reg: reg,
		log: log.With(zap.String("module", "notify")),
	}
}

// NotifyProjectGroup publishes an event to every connection watching a
// project.
func (n *Notifier) NotifyProjectGroup(ctx context.Context, projectID string, ev event.Event) {
	n.publish(ctx, registry.Project(projectID), ev)
}

// NotifyUserGroup publishes an event to one user's personal channel.
func (n *Notifier) NotifyUserGroup(ctx context.Context, userID string, ev event.Event) {
	n.publish(ctx, registry.User(userID), ev)
}

func (n *Notifier) publish(ctx context.Context, g registry.Group, ev event.Event) {
	env, err := event.Wrap(ev)
	if err != nil {
		n.log.Error("failed to wrap event", zap.Stringer("group", g), zap.Error(err))
		return
	}
	if err := n.reg.Publish(ctx, g, env); err != nil {
		n.log.Error("failed to publish event",
			zap.Stringer("group", g),
			zap.String("kind", string(ev.Kind())),
			zap.Error(err))
	}
}

// BugCreated announces a newly filed bug to its project group.
func (n *Notifier) BugCreated(ctx context.Context, projectID string, bug json.RawMessage, actor string) {
	n.NotifyProjectGroup(ctx, projectID, &event.BugNotification{
		EventType: "bug_created",
		Bug:       bug,
		Actor:     actor,
	})
}

// BugUpdated announces a bug edit that did not change status.
func (n *Notifier) BugUpdated(ctx context.Context, projectID string, bug json.RawMessage, actor string) {
	n.NotifyProjectGroup(ctx, projectID, &event.BugNotification{
		EventType: "bug_updated",
		Bug:       bug,
		Actor:     actor,
	})
}

// BugStatusChanged announces a status transition, carrying both sides
// of the change.
func (n *Notifier) BugStatusChanged(ctx context.Context, projectID string, bug json.RawMessage, actor, oldStatus, newStatus string) {
	n.NotifyProjectGroup(ctx, projectID, &event.BugNotification{
		EventType: "bug_status_changed",
		Bug:       bug,
		Actor:     actor,
		OldStatus: oldStatus,
		NewStatus: newStatus,
	})
}

// CommentParams carries everything needed to fan a new comment out.
type CommentParams struct {
	ProjectID string
	Comment   json.RawMessage
	Bug       json.RawMessage
	Commenter event.UserRef
	Creator   event.UserRef  // the bug's reporter
	Assignee  *event.UserRef // nil when the bug is unassigned
}

// CommentCreated notifies the project group, then sends a personal
// new_comment notification to the bug's creator and assignee. The
// commenter never notifies themselves, and creator==assignee gets a
// single notification.
func (n *Notifier) CommentCreated(ctx context.Context, p CommentParams) {
	n.NotifyProjectGroup(ctx, p.ProjectID, &event.CommentNotification{
		Comment: p.Comment,
		Bug:     p.Bug,
		Actor:   p.Commenter.Username,
	})

	for _, userID := range commentRecipients(p) {
		n.NotifyUserGroup(ctx, userID, &event.PersonalNotification{
			NotificationType: "new_comment",
			Comment:          p.Comment,
			Bug:              p.Bug,
			Commenter:        p.Commenter.Username,
		})
	}
}

// commentRecipients resolves the personal-notification targets for a
// comment: creator plus assignee, excluding the commenter, each at most
// once.
func commentRecipients(p CommentParams) []string {
	seen := make(map[string]bool, 2)
	var out []string
	add := func(u event.UserRef) {
		if u.ID == "" || u.ID == p.Commenter.ID || seen[u.ID] {
			return
		}
		seen[u.ID] = true
		out = append(out, u.ID)
	}
	add(p.Creator)
	if p.Assignee != nil {
		add(*p.Assignee)
	}
	return out
}

// ActivityLogged fans an activity-log entry out to the project group.
func (n *Notifier) ActivityLogged(ctx context.Context, projectID string, activity json.RawMessage) {
	n.NotifyProjectGroup(ctx, projectID, &event.ActivityLogUpdate{Activity: activity})
}
