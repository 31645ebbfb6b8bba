package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcbview/boardworker/internal/board"
	"github.com/pcbview/boardworker/internal/remote"
)

func TestIdentityCache_Resolve(t *testing.T) {
	t.Parallel()

	t.Run("cached", func(t *testing.T) {
		t.Parallel()

		c := newIdentityCache()
		c.Set(remote.Identity{remote.UserIDCookie: "u1"})

		var requested atomic.Int32
		id, err := c.Resolve(context.Background(), time.Second, func() { requested.Add(1) })
		require.NoError(t, err)
		assert.Equal(t, "u1", id.UserID())
		assert.Zero(t, requested.Load())
	})

	t.Run("waits for push", func(t *testing.T) {
		t.Parallel()

		c := newIdentityCache()
		requested := make(chan struct{})
		go func() {
			<-requested
			// A push without a user id keeps the resolver waiting
			c.Set(remote.Identity{"session": "s1"})
			c.Set(remote.Identity{remote.UserIDCookie: "u2", "session": "s1"})
		}()

		id, err := c.Resolve(context.Background(), 5*time.Second, func() { close(requested) })
		require.NoError(t, err)
		assert.Equal(t, "u2", id.UserID())
		assert.Equal(t, "s1", id["session"])
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()

		c := newIdentityCache()
		_, err := c.Resolve(context.Background(), 20*time.Millisecond, func() {})
		require.Error(t, err)
		assert.ErrorIs(t, err, board.ErrAuth)
	})

	t.Run("cancelled", func(t *testing.T) {
		t.Parallel()

		c := newIdentityCache()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := c.Resolve(ctx, time.Minute, func() {})
		assert.Equal(t, board.KindInternal, board.KindOf(err), "cancellation is not a missing login")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestIdentityCache_SnapshotIsCopy(t *testing.T) {
	t.Parallel()

	c := newIdentityCache()
	pushed := remote.Identity{remote.UserIDCookie: "u1"}
	c.Set(pushed)
	pushed[remote.UserIDCookie] = "mutated"

	snap := c.Snapshot()
	assert.Equal(t, "u1", snap.UserID())
	snap[remote.UserIDCookie] = "changed"
	assert.Equal(t, "u1", c.Snapshot().UserID())
}
