// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes chat transcripts to files.
//
// # Formats
//
//   - markdown: readable document with YAML front matter and source lists
//   - json: complete transcript, re-importable
//   - yaml: complete transcript, re-importable
//
// # Usage
//
//	exp, err := export.ForFormat("markdown", nil)
//	path, err := export.ExportToFile(export.NewTranscript(sess, meta), exp, nil)
package export
