package worker

import (
	"context"
	"sync"
	"time"

	"github.com/pcbview/boardworker/internal/board"
	"github.com/pcbview/boardworker/internal/remote"
)

// identityCache holds the last credentials pushed by the caller.
// Writes come only from SET_CREDENTIALS; last write wins.
type identityCache struct {
	mu      sync.RWMutex
	id      remote.Identity
	changed chan struct{}
}

func newIdentityCache() *identityCache {
	return &identityCache{changed: make(chan struct{})}
}

// Set replaces the cached identity and wakes every pending resolution.
func (c *identityCache) Set(id remote.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.id = id.Clone()
	close(c.changed)
	c.changed = make(chan struct{})
}

// Snapshot returns a copy of the cached identity.
func (c *identityCache) Snapshot() remote.Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id.Clone()
}

func (c *identityCache) current() (remote.Identity, <-chan struct{}) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id.Clone(), c.changed
}

// Resolve returns an identity with a user id. When none is cached it calls
// request once and waits up to timeout for a credential push.
func (c *identityCache) Resolve(ctx context.Context, timeout time.Duration, request func()) (remote.Identity, error) {
	const op = "worker.resolveIdentity"

	id, changed := c.current()
	if id.UserID() != "" {
		return id, nil
	}

	request()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-changed:
			id, changed = c.current()
			if id.UserID() != "" {
				return id, nil
			}
		case <-timer.C:
			return nil, board.E(board.KindAuth, op, board.ErrAuth)
		case <-ctx.Done():
			return nil, board.E(board.KindInternal, op, ctx.Err())
		}
	}
}
