// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrNoRetrieval is returned when grounding was requested but no
	// retrieval backend is configured.
	ErrNoRetrieval = errors.New("no retrieval backend configured")

	// ErrNoDefaultModel is returned when the provider has no default model name.
	ErrNoDefaultModel = errors.New("no default model configured")

	// ErrNoTransport is returned when no completion transport is configured.
	ErrNoTransport = errors.New("no completion transport configured")

	// ErrBusClosed is returned when publishing to a closed Bus.
	ErrBusClosed = errors.New("delta bus closed")
)

// =============================================================================
// ERROR KINDS
// =============================================================================

// RetrievalError reports that grounding context could not be produced.
type RetrievalError struct {
	Query string
	Cause error
}

func (e *RetrievalError) Error() string {
	if e.Cause == nil {
		return "retrieval failed"
	}
	return fmt.Sprintf("retrieval failed: %v", e.Cause)
}

func (e *RetrievalError) Unwrap() error {
	return e.Cause
}

// ConfigurationError reports that no model configuration matches the
// requested name.
type ConfigurationError struct {
	ModelName string
	Cause     error
}

func (e *ConfigurationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("model configuration %q: %v", e.ModelName, e.Cause)
	}
	return fmt.Sprintf("no model configuration matches %q", e.ModelName)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Cause
}

// StreamError reports that the completion transport rejected a request or
// emitted an error-flagged delta.
type StreamError struct {
	ModelName string
	Cause     error
}

func (e *StreamError) Error() string {
	if e.ModelName == "" {
		return fmt.Sprintf("stream error: %v", e.Cause)
	}
	return fmt.Sprintf("stream error (%s): %v", e.ModelName, e.Cause)
}

func (e *StreamError) Unwrap() error {
	return e.Cause
}
