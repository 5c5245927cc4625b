// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"sync"

	"github.com/jeranaias/notechat/internal/model"
)

// Event names sent on session event streams.
const (
	eventTranscript = "transcript"
	eventIdle       = "idle"
	eventDeleted    = "deleted"
)

// subscriberBuffer bounds undelivered snapshots per subscriber.
const subscriberBuffer = 16

// event is one transcript snapshot for a session.
type event struct {
	Name    string
	Session *model.ChatSession
}

// hub fans transcript snapshots out to event stream subscribers. Slow
// subscribers lose their oldest snapshots, never the newest.
type hub struct {
	mu   sync.Mutex
	subs map[string]map[chan event]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[chan event]struct{})}
}

// subscribe registers a subscriber for a session. The returned cancel func
// must be called when the subscriber is done.
func (h *hub) subscribe(sessionID string) (<-chan event, func()) {
	ch := make(chan event, subscriberBuffer)

	h.mu.Lock()
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[chan event]struct{})
		h.subs[sessionID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[sessionID]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(h.subs, sessionID)
			}
		}
	}
	return ch, cancel
}

func (h *hub) publish(sessionID string, ev event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs[sessionID] {
		select {
		case ch <- ev:
			continue
		default:
		}
		// Full: drop the oldest snapshot to make room.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

// closeSession ends every stream for a session.
func (h *hub) closeSession(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[sessionID] {
		close(ch)
	}
	delete(h.subs, sessionID)
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, set := range h.subs {
		for ch := range set {
			close(ch)
		}
		delete(h.subs, id)
	}
}

func (h *hub) subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}
