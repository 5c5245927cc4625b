// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session provides debounced persistence of chat transcripts.
//
// A Scheduler marks a session dirty and arms a quiescence timer for it. Each
// further Schedule call for the same session resets the timer, so a burst of
// streamed tokens collapses into a single write of the latest state. Every
// session id has its own timer.
//
// # Key Types
//
//   - Scheduler: keyed debounce with dirty tracking
//   - WriteFunc: the callback that stores the current snapshot of a session
//
// # Usage
//
//	sched := session.NewScheduler(session.DefaultConfig(), write,
//	    session.WithLogger(logger))
//	defer sched.Stop()
//
//	sched.Schedule(sessionID) // after every transcript mutation
//
// Write errors are handed to the error handler and the session is left dirty;
// the next Schedule call starts a new cycle that writes it again.
package session
