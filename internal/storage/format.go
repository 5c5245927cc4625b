// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"strconv"
	"strings"

	"github.com/jeranaias/notechat/internal/model"
	"github.com/jeranaias/notechat/internal/util"
)

// FormatSessionList formats session metadata as a fixed-width table.
func FormatSessionList(sessions []model.SessionMetadata) string {
	if len(sessions) == 0 {
		return "No sessions found."
	}

	const (
		idWidth      = 14
		createdWidth = 17
		turnsWidth   = 6
		nameWidth    = 40
	)

	var sb strings.Builder
	sb.WriteString(util.PadRight("ID", idWidth) + " " +
		util.PadRight("Created", createdWidth) + " " +
		util.PadRight("Turns", turnsWidth) + " Name\n")
	sb.WriteString(strings.Repeat("-", idWidth+createdWidth+turnsWidth+nameWidth+3) + "\n")

	for _, s := range sessions {
		sb.WriteString(util.PadRight(util.TruncateWidth(s.ID, idWidth), idWidth) + " " +
			util.PadRight(s.CreatedAt.Format("2006-01-02 15:04"), createdWidth) + " " +
			util.PadRight(strconv.Itoa(s.TurnCount), turnsWidth) + " " +
			util.TruncateWidth(s.DisplayName, nameWidth) + "\n")
	}
	return sb.String()
}
