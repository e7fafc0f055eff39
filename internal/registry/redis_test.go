package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bugtrackr/realtime/internal/event"
)

func newTestRedisRegistry(t *testing.T) (*RedisRegistry, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() {
		if err := client.Close(); err != nil {
			t.Logf("closing redis client: %v", err)
		}
	})
	return NewRedisRegistry(client, "tracker", zap.NewNop()), srv
}

func TestRedisRegistryPublishReachesJoinedMembers(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRedisRegistry(t)

	a := newCaptureMember("a")
	b := newCaptureMember("b")
	other := newCaptureMember("c")
	require.NoError(t, reg.Join(ctx, Project("1"), a))
	require.NoError(t, reg.Join(ctx, Project("1"), b))
	require.NoError(t, reg.Join(ctx, Project("2"), other))

	env := mustWrap(t, &event.BugNotification{EventType: "bug_created", Actor: "alice", Bug: []byte(`{"id":3}`)})
	require.NoError(t, reg.Publish(ctx, Project("1"), env))

	require.Eventually(t, func() bool {
		return a.count() == 1 && b.count() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, other.count(), "members of other groups must receive nothing")
}

func TestRedisRegistryCrossInstanceFanOut(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)

	instances := make([]*RedisRegistry, 2)
	members := make([]*captureMember, 2)
	for i := range instances {
		client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		instances[i] = NewRedisRegistry(client, "tracker", zap.NewNop())
		members[i] = newCaptureMember(fmt.Sprintf("m%d", i))
		require.NoError(t, instances[i].Join(ctx, User("u1"), members[i]))
	}

	env := mustWrap(t, &event.PersonalNotification{NotificationType: "new_comment", Commenter: "bob"})
	require.NoError(t, instances[0].Publish(ctx, User("u1"), env))

	require.Eventually(t, func() bool {
		return members[0].count() == 1 && members[1].count() == 1
	}, 2*time.Second, 10*time.Millisecond, "a publish from one instance must reach members joined on another")
}

func TestRedisRegistryLastLeaveClosesSubscription(t *testing.T) {
	ctx := context.Background()
	reg, srv := newTestRedisRegistry(t)
	m := newCaptureMember("a")

	require.NoError(t, reg.Join(ctx, Project("1"), m))
	require.Eventually(t, func() bool {
		return srv.Publish("tracker:project:1", "") == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, reg.Leave(ctx, Project("1"), m))
	assert.Equal(t, 0, reg.MemberCount(Project("1")))
	require.Eventually(t, func() bool {
		return srv.Publish("tracker:project:1", "") == 0
	}, 2*time.Second, 10*time.Millisecond, "last leave must tear the channel subscription down")
}

func TestRedisRegistryDropsUndecodablePayloads(t *testing.T) {
	ctx := context.Background()
	reg, srv := newTestRedisRegistry(t)
	m := newCaptureMember("a")
	require.NoError(t, reg.Join(ctx, Project("1"), m))

	// Garbage on the group channel is dropped without disturbing the
	// subscription.
	srv.Publish("tracker:project:1", "{not json")
	srv.Publish("tracker:project:1", `{"payload":{}}`)

	env := mustWrap(t, &event.ActivityLogUpdate{Activity: []byte(`{"id":1}`)})
	require.NoError(t, reg.Publish(ctx, Project("1"), env))

	require.Eventually(t, func() bool {
		return m.count() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []event.Kind{event.KindActivityLogUpdate}, m.kinds())
}

// A member joining a group while its last member leaves must end up on a
// live subscription: a successful Join means subsequent publishes reach
// the member, whichever side of the leave it landed on. This is the
// page-refresh pattern on a personal group, where the old connection's
// teardown races the new connection's join.
func TestRedisRegistryJoinDuringLastLeave(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRedisRegistry(t)
	g := User("u1")

	for i := 0; i < 50; i++ {
		old := newCaptureMember("old")
		fresh := newCaptureMember("fresh")
		require.NoError(t, reg.Join(ctx, g, old))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, reg.Leave(ctx, g, old))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, reg.Join(ctx, g, fresh))
		}()
		wg.Wait()

		require.Equal(t, 1, reg.MemberCount(g))
		env := mustWrap(t, &event.PersonalNotification{NotificationType: "new_comment", Commenter: "bob"})
		require.NoError(t, reg.Publish(ctx, g, env))
		require.Eventually(t, func() bool {
			return fresh.count() == 1
		}, 2*time.Second, 5*time.Millisecond, "iteration %d: join succeeded but delivery never arrived", i)

		require.NoError(t, reg.Leave(ctx, g, fresh))
	}
}

func TestRedisRegistryPublishErrorAfterRetries(t *testing.T) {
	ctx := context.Background()
	reg, srv := newTestRedisRegistry(t)
	m := newCaptureMember("a")
	require.NoError(t, reg.Join(ctx, Project("1"), m))

	srv.Close()

	env := mustWrap(t, &event.TypingSignal{Actor: "alice", IsTyping: true})
	err := reg.Publish(ctx, Project("1"), env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to publish")
}
