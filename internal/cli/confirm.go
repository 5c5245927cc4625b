// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// confirm.go - Confirmation prompts for destructive commands.

package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// RequireConfirmation asks the user to confirm action unless yes is set.
// JSON mode and non-terminal stdin never prompt; they require --yes.
func RequireConfirmation(in io.Reader, out io.Writer, yes bool, action string, jsonMode bool) (bool, error) {
	if yes {
		return true, nil
	}
	if jsonMode {
		return false, fmt.Errorf("confirmation required: use --yes in JSON mode")
	}
	if f, ok := in.(*os.File); ok && f == os.Stdin && !IsTTY() {
		return false, fmt.Errorf("confirmation required but stdin is not a terminal; use --yes")
	}

	fmt.Fprintf(out, "Are you sure you want to %s? [y/N]: ", action)
	input, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	response := strings.ToLower(strings.TrimSpace(input))
	return response == "y" || response == "yes", nil
}
