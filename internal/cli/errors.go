// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Error types and exit codes for notechat commands.
//
// Commands always return errors. Execute is the only place that prints
// them and picks an exit code.

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/jeranaias/notechat/internal/config"
	"github.com/jeranaias/notechat/internal/index"
	"github.com/jeranaias/notechat/internal/ollama"
	"github.com/jeranaias/notechat/internal/storage"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitUsageError    = 2
	ExitConfigError   = 3
	ExitNetworkError  = 5
	ExitNotFoundError = 7
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ValidationError reports a bad argument or flag value.
type ValidationError struct {
	Field   string
	Value   string
	Reason  string
	Example string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid %s", e.Field)
	if e.Value != "" {
		msg += fmt.Sprintf(" %q", e.Value)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Example != "" {
		msg += fmt.Sprintf(" (example: %s)", e.Example)
	}
	return msg
}

// NotFoundError reports a missing resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, value, reason string) error {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// sessionError maps store errors for id onto CLI error types.
func sessionError(id string, err error) error {
	if errors.Is(err, storage.ErrSessionNotFound) {
		return &NotFoundError{Resource: "session", ID: id}
	}
	if errors.Is(err, storage.ErrInvalidID) {
		return &ValidationError{Field: "session id", Value: id, Reason: "must be a session id from 'notechat sessions list'"}
	}
	return err
}

// =============================================================================
// DISPLAY
// =============================================================================

// DisplayError writes err to w, as JSON when jsonMode is set.
func DisplayError(w io.Writer, err error, jsonMode bool) {
	if err == nil {
		return
	}
	if !jsonMode {
		fmt.Fprintf(w, "%s %s\n", RenderConditional(ErrorStyle, "[ERROR]"), err.Error())
		return
	}

	output := map[string]any{
		"success": false,
		"error":   err.Error(),
	}
	var (
		verr *ValidationError
		nerr *NotFoundError
	)
	switch {
	case errors.As(err, &verr):
		output["error_type"] = "validation_error"
		output["field"] = verr.Field
	case errors.As(err, &nerr):
		output["error_type"] = "not_found_error"
		output["resource"] = nerr.Resource
		output["id"] = nerr.ID
	default:
		output["error_type"] = "generic_error"
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(output)
}

// GetExitCode determines the exit code for an error.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var (
		verr  *ValidationError
		nerr  *NotFoundError
		cerrs config.ValidationErrors
	)
	switch {
	case errors.As(err, &verr):
		return ExitUsageError
	case errors.As(err, &nerr), errors.Is(err, storage.ErrSessionNotFound), errors.Is(err, index.ErrSourceNotFound):
		return ExitNotFoundError
	case errors.As(err, &cerrs):
		return ExitConfigError
	case ollama.IsNotRunning(err), ollama.IsTimeout(err):
		return ExitNetworkError
	default:
		return ExitGeneralError
	}
}
