// Package registry is the cross-process group membership directory and
// broadcast primitive. A group is either a project channel (all live
// connections watching one project) or a user channel (one user's
// personal connections, possibly several tabs/devices).
package registry

import (
	"context"
	"fmt"

	"github.com/bugtrackr/realtime/internal/event"
)

type groupKind string

const (
	groupProject groupKind = "project"
	groupUser    groupKind = "user"
)

// Group identifies a fan-out target. Values are comparable and safe to
// use as map keys.
type Group struct {
	kind groupKind
	id   string
}

// Project returns the group holding every live connection to a project.
func Project(id string) Group { return Group{kind: groupProject, id: id} }

// User returns the personal group for a single user.
func User(id string) Group { return Group{kind: groupUser, id: id} }

// IsUser reports whether the group is a personal user channel.
func (g Group) IsUser() bool { return g.kind == groupUser }

// ID returns the project or user identifier the group is keyed on.
func (g Group) ID() string { return g.id }

// Key returns the broker channel name for the group.
func (g Group) Key() string { return fmt.Sprintf("%s:%s", g.kind, g.id) }

func (g Group) String() string { return g.Key() }

// Member is the opaque connection handle a registry delivers into. The
// registry never blocks on a member: Deliver must queue or drop.
type Member interface {
	ID() string
	Deliver(env *event.Envelope)
}

// Registry maintains group membership and publishes events to every
// current member of a group. Implementations must be safe for concurrent
// use; Leave must be idempotent.
type Registry interface {
	Join(ctx context.Context, g Group, m Member) error
	Leave(ctx context.Context, g Group, m Member) error
	Publish(ctx context.Context, g Group, env *event.Envelope) error
}
