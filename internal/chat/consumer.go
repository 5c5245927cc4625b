// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// DeltaHandler receives the deltas for one tracked session.
type DeltaHandler interface {
	HandleDelta(d Delta)
}

// =============================================================================
// CONSUMER
// =============================================================================

// Consumer subscribes to the bus once per process and dispatches each delta
// to the handler tracking its session id. Deltas for untracked sessions are
// discarded. Handlers run on the consumer goroutine, one at a time, so a
// session sees its deltas in arrival order.
type Consumer struct {
	bus    *Bus
	logger *zap.Logger

	mu       sync.RWMutex
	handlers map[string]DeltaHandler

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewConsumer creates a consumer for bus. Call Start to begin receiving.
func NewConsumer(bus *Bus, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{
		bus:      bus,
		logger:   logger,
		handlers: make(map[string]DeltaHandler),
		done:     make(chan struct{}),
	}
}

// Start launches the receive loop. Subsequent calls do nothing.
func (c *Consumer) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		ctx, c.cancel = context.WithCancel(ctx)
		go c.run(ctx)
	})
}

// Stop ends the receive loop and waits for it to exit. Safe to call more
// than once, and before Start.
func (c *Consumer) Stop() {
	c.startOnce.Do(func() {
		close(c.done)
	})
	if c.cancel != nil {
		c.cancel()
	}
	<-c.done
}

// Track routes deltas for sessionID to h, replacing any previous handler.
func (c *Consumer) Track(sessionID string, h DeltaHandler) {
	c.mu.Lock()
	c.handlers[sessionID] = h
	c.mu.Unlock()
}

// Untrack stops routing sessionID, but only if h is still its handler.
func (c *Consumer) Untrack(sessionID string, h DeltaHandler) {
	c.mu.Lock()
	if cur, ok := c.handlers[sessionID]; ok && cur == h {
		delete(c.handlers, sessionID)
	}
	c.mu.Unlock()
}

// Tracked returns the number of sessions currently routed.
func (c *Consumer) Tracked() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handlers)
}

func (c *Consumer) run(ctx context.Context) {
	defer close(c.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.bus.Done():
			return
		case d := <-c.bus.deltas():
			c.dispatch(d)
		}
	}
}

func (c *Consumer) dispatch(d Delta) {
	if d.IsEmpty() {
		return
	}

	c.mu.RLock()
	h, ok := c.handlers[d.SessionID]
	c.mu.RUnlock()

	if !ok {
		c.logger.Debug("discarding delta for untracked session",
			zap.String("session_id", d.SessionID))
		return
	}
	h.HandleDelta(d)
}
