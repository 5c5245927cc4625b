// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// WriteFunc stores the current snapshot of a session. It reads the state at
// call time, not at schedule time.
type WriteFunc func(ctx context.Context, sessionID string) error

// Config holds configuration for the scheduler.
type Config struct {
	// Delay is the quiescence window (default: 1 second)
	Delay time.Duration

	// WriteTimeout bounds a single timer-triggered write (default: 10 seconds)
	WriteTimeout time.Duration
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Delay:        time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithErrorHandler sets the function that receives write failures.
func WithErrorHandler(fn func(sessionID string, err error)) Option {
	return func(s *Scheduler) {
		s.onError = fn
	}
}

// =============================================================================
// SCHEDULER
// =============================================================================

type pendingWrite struct {
	timer *time.Timer
	gen   uint64
}

// Scheduler debounces writes per session id.
type Scheduler struct {
	mu sync.Mutex

	cfg     Config
	write   WriteFunc
	logger  *zap.Logger
	onError func(sessionID string, err error)

	pending map[string]*pendingWrite
	dirty   map[string]bool
	locks   map[string]*sync.Mutex
	gen     uint64
	stopped bool

	inflight sync.WaitGroup
}

// NewScheduler creates a scheduler that calls write when a session has been
// quiet for cfg.Delay.
func NewScheduler(cfg Config, write WriteFunc, opts ...Option) *Scheduler {
	def := DefaultConfig()
	if cfg.Delay <= 0 {
		cfg.Delay = def.Delay
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}

	s := &Scheduler{
		cfg:     cfg,
		write:   write,
		logger:  zap.NewNop(),
		pending: make(map[string]*pendingWrite),
		dirty:   make(map[string]bool),
		locks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Schedule marks the session dirty and (re)arms its timer.
func (s *Scheduler) Schedule(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	s.dirty[sessionID] = true

	if p, ok := s.pending[sessionID]; ok {
		p.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.pending[sessionID] = &pendingWrite{
		gen: gen,
		timer: time.AfterFunc(s.cfg.Delay, func() {
			s.fire(sessionID, gen)
		}),
	}
}

// IsDirty reports whether the session has changes not yet written.
func (s *Scheduler) IsDirty(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty[sessionID]
}

// Pending returns the number of armed timers.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Flush writes every dirty session now and disarms their timers.
func (s *Scheduler) Flush(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.dirty))
	for id, d := range s.dirty {
		if d {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		if p, ok := s.pending[id]; ok {
			p.timer.Stop()
			delete(s.pending, id)
		}
		s.dirty[id] = false
		s.inflight.Add(1)
	}
	s.mu.Unlock()

	var errs []error
	for _, id := range ids {
		if err := s.run(ctx, id); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Stop disarms all timers and waits for running writes. Later Schedule
// calls are ignored. Dirty sessions are not written; call Flush first for that.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for id, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, id)
	}
	s.mu.Unlock()

	s.inflight.Wait()
}

func (s *Scheduler) fire(sessionID string, gen uint64) {
	s.mu.Lock()
	p, ok := s.pending[sessionID]
	if !ok || p.gen != gen || s.stopped {
		// Superseded by a later Schedule, a Flush or Stop.
		s.mu.Unlock()
		return
	}
	delete(s.pending, sessionID)
	s.dirty[sessionID] = false
	s.inflight.Add(1)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()
	_ = s.run(ctx, sessionID)
}

// run performs one write. The caller has already added to inflight.
func (s *Scheduler) run(ctx context.Context, sessionID string) error {
	defer s.inflight.Done()

	lock := s.keyLock(sessionID)
	lock.Lock()
	err := s.write(ctx, sessionID)
	lock.Unlock()

	if err == nil {
		s.logger.Debug("session persisted", zap.String("session_id", sessionID))
		return nil
	}

	s.mu.Lock()
	s.dirty[sessionID] = true
	onError := s.onError
	s.mu.Unlock()

	s.logger.Error("session persist failed", zap.String("session_id", sessionID), zap.Error(err))
	if onError != nil {
		onError(sessionID, err)
	}
	return err
}

// keyLock serialises writes of one session so a slow write can never land
// after a newer one.
func (s *Scheduler) keyLock(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[sessionID] = l
	}
	return l
}
