// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"sync"
)

// =============================================================================
// DELTA
// =============================================================================

// Delta is one event on the completion channel.
//
// Content is the incremental text and may be empty. Err marks an
// error-flagged delta. Done is the end-of-stream marker; it travels on the
// same channel as the fragments so it is always observed after the last one.
type Delta struct {
	SessionID string
	Content   string
	Err       error
	Done      bool
}

// IsEmpty reports whether the delta carries nothing to merge or act on.
func (d Delta) IsEmpty() bool {
	return d.Content == "" && d.Err == nil && !d.Done
}

// Publisher is implemented by anything transports can send deltas to.
type Publisher interface {
	Publish(ctx context.Context, d Delta) error
}

// =============================================================================
// BUS
// =============================================================================

// Bus is the process-wide delta channel. Transports publish; one Consumer
// receives. Deltas from one publisher keep their order.
type Bus struct {
	ch        chan Delta
	closed    chan struct{}
	closeOnce sync.Once
}

// NewBus creates a bus with the given buffer size.
func NewBus(buffer int) *Bus {
	if buffer < 0 {
		buffer = 0
	}
	return &Bus{
		ch:     make(chan Delta, buffer),
		closed: make(chan struct{}),
	}
}

// Publish blocks until the delta is queued, ctx is done or the bus closes.
func (b *Bus) Publish(ctx context.Context, d Delta) error {
	select {
	case <-b.closed:
		return ErrBusClosed
	default:
	}

	select {
	case b.ch <- d:
		return nil
	case <-b.closed:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close releases the bus. Queued deltas that have not been received are dropped.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		close(b.closed)
	})
}

// Done is closed when the bus is closed.
func (b *Bus) Done() <-chan struct{} {
	return b.closed
}

func (b *Bus) deltas() <-chan Delta {
	return b.ch
}
