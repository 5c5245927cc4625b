// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the notechat command-line interface.
//
// Commands:
//
//	notechat chat                     Interactive chat grounded in your notes
//	notechat ask "question"           One-shot question, streamed to stdout
//	notechat sessions list            List saved sessions, newest first
//	notechat sessions show ID         Print a transcript
//	notechat sessions rename ID NAME  Set a session's display name
//	notechat sessions delete ID       Delete a session
//	notechat sessions export ID       Export a transcript (markdown, json, yaml)
//	notechat index [--watch]          Rebuild the notes index, optionally watch for changes
//	notechat models                   List configured and locally installed models
//	notechat serve                    Run the HTTP host
//	notechat version                  Print version information
//
// Global flags:
//
//	--config PATH   Use an alternate config file
//	-m, --model     Override the default model
//	-v, --verbose   Debug logging on stderr
//	--json          Machine-readable output where supported
//	--offline       Use only a local Ollama server
//
// Colors are disabled when stdout is not a terminal or NO_COLOR is set.
package cli
