package proxy

import (
	"context"
	"sync"
	"time"
)

// Controller records whether the worker has claimed the pages served by the
// Handler. Until then, traffic bypasses the worker.
type Controller struct {
	mu        sync.RWMutex
	claimedAt time.Time
	now       func() time.Time
}

func NewController() *Controller {
	return &Controller{now: time.Now}
}

// Claim implements offlinecache.Clients. Claiming twice keeps the first time.
func (c *Controller) Claim(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.claimedAt.IsZero() {
		c.claimedAt = c.now()
	}
	return nil
}

func (c *Controller) Claimed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.claimedAt.IsZero()
}

func (c *Controller) ClaimedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.claimedAt
}
