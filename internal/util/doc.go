// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across notechat.
//
// # Key Functions
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync and rename
//   - AtomicWriteJSON: indented JSON written through AtomicWriteFile
//
// String Utilities:
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//   - TruncateWidth, PadRight, StringWidth: terminal column aware helpers
//   - SingleLine: collapse newlines for one-line previews
//
// # Usage
//
//	err := util.AtomicWriteJSON(path, session, 0644)
//	cell := util.PadRight(util.TruncateWidth(title, 30), 30)
package util
