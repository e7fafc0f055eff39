package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bugtrackr/realtime/internal/event"
	"github.com/bugtrackr/realtime/internal/metrics"
)

const publishMaxRetries = 3

// RedisRegistry implements Registry over Redis Pub/Sub. Every group maps
// to one Redis channel, so a publish from any instance reaches members
// joined on any other instance, and traffic within a group stays FIFO
// per publisher. Membership itself is instance-local: each instance
// subscribes to a group's channel while it has at least one local member.
type RedisRegistry struct {
	client redis.UniversalClient
	prefix string
	log    *zap.Logger

	mu     sync.Mutex
	groups map[Group]*groupSub
}

type groupSub struct {
	mu      sync.RWMutex
	members map[string]Member
	pubsub  *redis.PubSub
}

func NewRedisRegistry(client redis.UniversalClient, prefix string, log *zap.Logger) *RedisRegistry {
	return &RedisRegistry{
		client: client,
		prefix: prefix,
		log:    log.With(zap.String("module", "registry")),
		groups: make(map[Group]*groupSub),
	}
}

func (r *RedisRegistry) channel(g Group) string {
	return fmt.Sprintf("%s:%s", r.prefix, g.Key())
}

// Join registers a member and, for the first local member of a group,
// opens the group's Redis subscription. Join does not return until the
// subscription is confirmed, so a successful Join means subsequent
// publishes reach the member. The member is inserted while r.mu is
// still held: releasing it first would let a concurrent last-member
// Leave retire the groupSub and close its subscription, leaving the
// member registered on a dead group.
func (r *RedisRegistry) Join(ctx context.Context, g Group, m Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.groups[g]
	if !ok {
		pubsub := r.client.Subscribe(ctx, r.channel(g))
		if _, err := pubsub.Receive(ctx); err != nil {
			if cerr := pubsub.Close(); cerr != nil {
				r.log.Warn("failed to close pubsub after subscribe error", zap.Error(cerr))
			}
			return fmt.Errorf("failed to subscribe to %s: %w", g, err)
		}
		sub = &groupSub{members: make(map[string]Member), pubsub: pubsub}
		r.groups[g] = sub
		go r.pump(g, sub)
	}

	sub.mu.Lock()
	sub.members[m.ID()] = m
	sub.mu.Unlock()
	return nil
}

// Leave removes a member. Calling it for a member or group that is not
// joined is a no-op. The last local member leaving a group tears down
// the group's Redis subscription.
func (r *RedisRegistry) Leave(_ context.Context, g Group, m Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.groups[g]
	if !ok {
		return nil
	}
	sub.mu.Lock()
	delete(sub.members, m.ID())
	empty := len(sub.members) == 0
	sub.mu.Unlock()
	if empty {
		delete(r.groups, g)
		if err := sub.pubsub.Close(); err != nil {
			r.log.Warn("failed to close group subscription", zap.Stringer("group", g), zap.Error(err))
		}
	}
	return nil
}

// Publish sends the envelope to every current member of the group, on
// this instance and every other one subscribed to the group's channel.
// Transient Redis errors are retried with exponential backoff.
func (r *RedisRegistry) Publish(ctx context.Context, g Group, env *event.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	op := func() error {
		return r.client.Publish(ctx, r.channel(g), data).Err()
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), publishMaxRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		metrics.PublishFailures.Inc()
		return fmt.Errorf("failed to publish to %s: %w", g, err)
	}
	metrics.PublishedEvents.WithLabelValues(string(env.EnvelopeKind)).Inc()
	return nil
}

// pump fans one group's Redis channel out to its local members. go-redis
// reconnects the underlying pubsub connection itself; the loop ends when
// the last local member leaves and the subscription is closed.
func (r *RedisRegistry) pump(g Group, sub *groupSub) {
	start := time.Now()
	for msg := range sub.pubsub.Channel() {
		env, err := event.Decode([]byte(msg.Payload))
		if err != nil {
			r.log.Warn("dropping undecodable broker message",
				zap.Stringer("group", g),
				zap.Error(err))
			continue
		}
		sub.mu.RLock()
		members := make([]Member, 0, len(sub.members))
		for _, m := range sub.members {
			members = append(members, m)
		}
		sub.mu.RUnlock()
		for _, m := range members {
			m.Deliver(env)
		}
	}
	r.log.Debug("group subscription closed",
		zap.Stringer("group", g),
		zap.Duration("lifetime", time.Since(start)))
}

// MemberCount reports the local membership of a group.
func (r *RedisRegistry) MemberCount(g Group) int {
	r.mu.Lock()
	sub, ok := r.groups[g]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	sub.mu.RLock()
	defer sub.mu.RUnlock()
	return len(sub.members)
}
