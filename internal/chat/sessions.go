// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"sort"
	"sync"

	"github.com/jeranaias/notechat/internal/model"
)

// Sessions is the host-owned map of session id to transcript. Readers get
// copies; writers replace a session through Update.
type Sessions struct {
	mu       sync.RWMutex
	sessions map[string]*model.ChatSession
}

// NewSessions creates an empty session map.
func NewSessions() *Sessions {
	return &Sessions{
		sessions: make(map[string]*model.ChatSession),
	}
}

// Get returns a copy of the session.
func (s *Sessions) Get(id string) (*model.ChatSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return sess.Clone(), true
}

// Put stores a copy of sess, replacing any session with the same id.
func (s *Sessions) Put(sess *model.ChatSession) {
	if sess == nil {
		return
	}
	s.mu.Lock()
	s.sessions[sess.ID] = sess.Clone()
	s.mu.Unlock()
}

// Update replaces the session with fn's result and returns a copy of it.
// fn must not retain its argument.
func (s *Sessions) Update(id string, fn func(*model.ChatSession) *model.ChatSession) (*model.ChatSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	next := fn(cur)
	s.sessions[id] = next
	return next.Clone(), true
}

// Delete removes a session from memory.
func (s *Sessions) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// IDs returns the ids of all held sessions, sorted.
func (s *Sessions) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	sort.Strings(ids)
	return ids
}
