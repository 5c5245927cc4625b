// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeranaias/notechat/internal/model"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Transport starts a streaming completion. A nil return only means the
// stream was accepted; every fragment, any stream failure and the final
// Done marker are published as Deltas for sessionID. An error return means
// nothing was or will be published.
type Transport interface {
	StreamCompletion(ctx context.Context, sessionID string, cfg model.ModelConfig, msgs []model.Message) error
}

// ModelProvider supplies model configurations.
type ModelProvider interface {
	DefaultModelName(ctx context.Context) (string, error)
	ListModelConfigs(ctx context.Context) ([]model.ModelConfig, error)
}

// Store is the durable transcript store.
type Store interface {
	Persist(ctx context.Context, s *model.ChatSession) error
	ListMetadata(ctx context.Context) ([]model.SessionMetadata, error)
	AddMetadata(ctx context.Context, meta model.SessionMetadata) error
}

// PersistScheduler debounces transcript writes.
type PersistScheduler interface {
	Schedule(sessionID string)
}

// InputBuffer is the host's pending input, cleared once a query is accepted.
type InputBuffer interface {
	Clear()
}

// PersistFunc returns a write callback for a PersistScheduler that stores
// the current snapshot of a session.
func PersistFunc(sessions *Sessions, store Store) func(ctx context.Context, sessionID string) error {
	return func(ctx context.Context, sessionID string) error {
		s, ok := sessions.Get(sessionID)
		if !ok || s.IsEmpty() {
			return nil
		}
		return store.Persist(ctx, s)
	}
}

// =============================================================================
// STATE
// =============================================================================

// State is the orchestrator's position in its submit cycle.
type State int

const (
	StateIdle State = iota
	StateSubmitting
	StateStreaming
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSubmitting:
		return "submitting"
	case StateStreaming:
		return "streaming"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// =============================================================================
// OPTIONS
// =============================================================================

// Options configures an Orchestrator.
type Options struct {
	Resolver  ContextResolver
	Models    ModelProvider
	Transport Transport
	Store     Store
	Scheduler PersistScheduler
	Input     InputBuffer
	Logger    *zap.Logger

	// ModelName selects a configuration by name. Empty means the
	// provider's default.
	ModelName string

	// OnChange receives a copy of the transcript after every mutation.
	// It runs synchronously; keep it short.
	OnChange func(s *model.ChatSession)

	// LegacySkipUnfilteredFirstTurn restores the behaviour where a first
	// submission without filters appends nothing and calls no model.
	LegacySkipUnfilteredFirstTurn bool
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// submission is the record of the in-flight request.
type submission struct {
	id        string
	sessionID string
	modelName string
	started   time.Time

	// open is set once the submission owns the trailing assistant turn.
	open bool
}

// Orchestrator drives user submissions for the sessions it is given. At most
// one submission is in flight per orchestrator; separate orchestrators are
// independent.
type Orchestrator struct {
	sessions *Sessions
	consumer *Consumer
	opts     Options
	logger   *zap.Logger

	mu       sync.Mutex
	state    State
	inflight *submission
	idle     chan struct{}
}

// NewOrchestrator creates an idle orchestrator.
func NewOrchestrator(sessions *Sessions, consumer *Consumer, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	idle := make(chan struct{})
	close(idle)

	return &Orchestrator{
		sessions: sessions,
		consumer: consumer,
		opts:     opts,
		logger:   logger,
		state:    StateIdle,
		idle:     idle,
	}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// SetModel changes the model used by later submissions.
func (o *Orchestrator) SetModel(name string) {
	o.mu.Lock()
	o.opts.ModelName = name
	o.mu.Unlock()
}

// WaitIdle blocks until no submission is in flight or ctx is done.
func (o *Orchestrator) WaitIdle(ctx context.Context) error {
	o.mu.Lock()
	idle := o.idle
	o.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit starts a user turn on the session with the given id, or on a new
// session when sessionID is empty. It returns the session id and whether
// the submission was accepted. A submission already in flight or a blank
// query makes Submit a no-op.
//
// Failures before streaming begins are recorded as an errored assistant
// turn, never returned. Submit returns once the stream is accepted; the
// orchestrator stays busy until the transport signals the end of the stream.
func (o *Orchestrator) Submit(ctx context.Context, sessionID, query string, filters *model.ChatFilters) (string, bool) {
	o.mu.Lock()
	if o.state != StateIdle {
		o.mu.Unlock()
		o.logger.Debug("submit ignored: submission in flight", zap.String("session_id", sessionID))
		return sessionID, false
	}
	if strings.TrimSpace(query) == "" {
		o.mu.Unlock()
		return sessionID, false
	}
	o.state = StateSubmitting
	o.idle = make(chan struct{})
	modelName := o.opts.ModelName
	o.mu.Unlock()

	sess := o.sessionFor(sessionID)
	sub := &submission{
		id:        "sub_" + uuid.New().String()[:8],
		sessionID: sess.ID,
		started:   time.Now(),
	}
	log := o.logger.With(zap.String("session_id", sub.sessionID), zap.String("submission_id", sub.id))

	// Grounding only applies to the first turn.
	var retrievalErr error
	switch {
	case !sess.IsEmpty():
		sess = AppendTurn(sess, model.NewUserTurn(query))
	case filters != nil:
		turn, err := o.resolve(ctx, query, *filters)
		if err != nil {
			retrievalErr = err
			turn = model.NewUserTurn(query)
		}
		sess = AppendTurn(sess, turn)
	case o.opts.LegacySkipUnfilteredFirstTurn:
		log.Debug("first turn without filters skipped")
		o.sessions.Put(sess)
		o.markIdle()
		return sess.ID, false
	default:
		sess = AppendTurn(sess, model.NewUserTurn(query))
	}
	o.sessions.Put(sess)
	o.notify(sess)

	if o.opts.Input != nil {
		o.opts.Input.Clear()
	}
	o.registerMetadata(ctx, sess, log)

	// The user turn is written before any model call so it survives a failure.
	if o.opts.Store != nil {
		if err := o.opts.Store.Persist(ctx, sess); err != nil {
			log.Error("initial persist failed", zap.Error(err))
		}
	}

	if retrievalErr != nil {
		o.fail(sub, retrievalErr, log)
		return sess.ID, true
	}

	cfg, err := o.resolveModel(ctx, modelName)
	if err != nil {
		o.fail(sub, err, log)
		return sess.ID, true
	}
	sub.modelName = cfg.Name

	if o.opts.Transport == nil {
		o.fail(sub, &StreamError{ModelName: cfg.Name, Cause: ErrNoTransport}, log)
		return sess.ID, true
	}

	// Routing must be in place before the transport can publish.
	o.mu.Lock()
	o.inflight = sub
	o.state = StateStreaming
	o.mu.Unlock()
	if o.consumer != nil {
		o.consumer.Track(sub.sessionID, o)
	}

	streamCtx := context.WithoutCancel(ctx)
	if err := o.opts.Transport.StreamCompletion(streamCtx, sub.sessionID, cfg, sess.Projection()); err != nil {
		if o.consumer != nil {
			o.consumer.Untrack(sub.sessionID, o)
		}
		o.fail(sub, &StreamError{ModelName: cfg.Name, Cause: err}, log)
		return sess.ID, true
	}

	log.Info("stream accepted", zap.String("model", cfg.Name))
	return sess.ID, true
}

// HandleDelta merges one delta into the in-flight submission's transcript.
// Deltas that do not belong to the in-flight submission are ignored.
func (o *Orchestrator) HandleDelta(d Delta) {
	o.mu.Lock()
	sub := o.inflight
	if sub == nil || sub.sessionID != d.SessionID {
		o.mu.Unlock()
		return
	}
	o.mu.Unlock()

	if d.Content != "" || d.Err != nil {
		content, status := d.Content, model.StatusSuccess
		if d.Err != nil {
			content += (&StreamError{ModelName: sub.modelName, Cause: d.Err}).Error()
			status = model.StatusError
		}
		o.merge(sub, content, status, sub.open)
		sub.open = true
	}

	if !d.Done {
		return
	}

	// Exactly one assistant turn per submission, even for an empty stream.
	if !sub.open {
		o.merge(sub, "", model.StatusSuccess, false)
		sub.open = true
	}
	if o.consumer != nil {
		o.consumer.Untrack(sub.sessionID, o)
	}
	o.logger.Info("stream finished",
		zap.String("session_id", sub.sessionID),
		zap.String("submission_id", sub.id),
		zap.Duration("elapsed", time.Since(sub.started)))
	o.markIdle()
}

// =============================================================================
// HELPERS
// =============================================================================

func (o *Orchestrator) sessionFor(id string) *model.ChatSession {
	if id == "" {
		return model.NewChatSession()
	}
	if s, ok := o.sessions.Get(id); ok {
		return s
	}
	return &model.ChatSession{ID: id, Turns: []model.ChatTurn{}}
}

func (o *Orchestrator) resolve(ctx context.Context, query string, filters model.ChatFilters) (model.ChatTurn, error) {
	if o.opts.Resolver == nil {
		return model.ChatTurn{}, &RetrievalError{Query: query, Cause: ErrNoRetrieval}
	}
	return o.opts.Resolver.Resolve(ctx, query, filters)
}

func (o *Orchestrator) resolveModel(ctx context.Context, name string) (model.ModelConfig, error) {
	if o.opts.Models == nil {
		return model.ModelConfig{}, &ConfigurationError{ModelName: name, Cause: ErrNoDefaultModel}
	}
	if name == "" {
		n, err := o.opts.Models.DefaultModelName(ctx)
		if err != nil {
			return model.ModelConfig{}, &ConfigurationError{Cause: err}
		}
		if n == "" {
			return model.ModelConfig{}, &ConfigurationError{Cause: ErrNoDefaultModel}
		}
		name = n
	}

	configs, err := o.opts.Models.ListModelConfigs(ctx)
	if err != nil {
		return model.ModelConfig{}, &ConfigurationError{ModelName: name, Cause: err}
	}
	cfg, ok := model.FindModel(configs, name)
	if !ok {
		return model.ModelConfig{}, &ConfigurationError{ModelName: name}
	}
	return cfg, nil
}

func (o *Orchestrator) registerMetadata(ctx context.Context, s *model.ChatSession, log *zap.Logger) {
	if o.opts.Store == nil {
		return
	}
	metas, err := o.opts.Store.ListMetadata(ctx)
	if err != nil {
		log.Warn("list metadata failed", zap.Error(err))
		return
	}
	for _, m := range metas {
		if m.ID == s.ID {
			return
		}
	}

	now := time.Now()
	meta := model.SessionMetadata{
		ID:          s.ID,
		DisplayName: model.DefaultDisplayName,
		CreatedAt:   now,
		UpdatedAt:   now,
		TurnCount:   len(s.Turns),
	}
	if err := o.opts.Store.AddMetadata(ctx, meta); err != nil {
		log.Warn("register metadata failed", zap.Error(err))
	}
}

// fail records err as an errored assistant turn and returns to idle.
func (o *Orchestrator) fail(sub *submission, err error, log *zap.Logger) {
	log.Warn("submission failed", zap.Error(err))
	o.merge(sub, err.Error(), model.StatusError, false)
	o.markIdle()
}

func (o *Orchestrator) merge(sub *submission, content string, status model.Status, open bool) {
	s, ok := o.sessions.Update(sub.sessionID, func(cur *model.ChatSession) *model.ChatSession {
		return MergeDelta(cur, content, status, open)
	})
	if !ok {
		return
	}
	o.notify(s)
	if o.opts.Scheduler != nil {
		o.opts.Scheduler.Schedule(sub.sessionID)
	}
}

func (o *Orchestrator) notify(s *model.ChatSession) {
	if o.opts.OnChange != nil {
		o.opts.OnChange(s.Clone())
	}
}

func (o *Orchestrator) markIdle() {
	o.mu.Lock()
	o.state = StateIdle
	o.inflight = nil
	if o.idle != nil {
		select {
		case <-o.idle:
		default:
			close(o.idle)
		}
	}
	o.mu.Unlock()
}
