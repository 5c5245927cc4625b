// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage provides durable persistence of chat transcripts.
//
// Each session is stored as one JSON file named after its id. A separate
// metadata file holds the session listing (id, display name, timestamps) so
// listings never have to read full transcripts.
//
// # Key Types
//
//   - Store: transcript and metadata persistence
//   - StoredSession: the on-disk form of a transcript
//
// # Usage
//
//	store, err := storage.NewStoreWithDir(dir)
//	err = store.Persist(ctx, session)
//	metas, err := store.ListMetadata(ctx)
//	s, err := store.Load(ctx, metas[0].ID)
//
// # Storage Location
//
// Sessions are stored in ~/.notechat/sessions/ by default.
package storage
