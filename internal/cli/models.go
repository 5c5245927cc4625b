// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// models.go - Model listing command.
//
// Command: models
// Short:   List configured and locally installed models
//
// Configured models come from [[models]] in config.toml. Local models are
// the ones the Ollama server reports; they can be used by name without a
// config entry once added with provider = "ollama".

package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/notechat/internal/model"
	"github.com/jeranaias/notechat/internal/ollama"
	"github.com/jeranaias/notechat/internal/util"
)

// modelEntry is one row of the model listing.
type modelEntry struct {
	Name       string `json:"name"`
	Provider   string `json:"provider"`
	Configured bool   `json:"configured"`
	Installed  bool   `json:"installed"`
	Default    bool   `json:"default"`
	Size       string `json:"size,omitempty"`
}

func newModelsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List configured and locally installed models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(root, func(a *app) error {
				ctx := cmd.Context()
				local, err := a.ollamaClient().ListModels(ctx)
				if err != nil {
					a.logger.Debug("ollama models unavailable", zap.Error(err))
					if !root.json {
						fmt.Fprintf(cmd.ErrOrStderr(), "%s local models unavailable: %v\n",
							RenderConditional(WarningStyle, "[WARN]"), err)
					}
				}

				entries, err := mergeModels(ctx, a.models, local)
				if err != nil {
					return err
				}
				if root.json {
					return outputJSON(cmd.OutOrStdout(), entries)
				}
				printModels(cmd.OutOrStdout(), entries)
				return nil
			})
		},
	}
}

// modelLister is the model configuration source.
type modelLister interface {
	DefaultModelName(ctx context.Context) (string, error)
	ListModelConfigs(ctx context.Context) ([]model.ModelConfig, error)
}

// mergeModels combines configured models with the ones Ollama reports.
// Configured models come first in config order, then the remaining local
// models by name.
func mergeModels(ctx context.Context, provider modelLister, local []ollama.ModelInfo) ([]modelEntry, error) {
	configs, err := provider.ListModelConfigs(ctx)
	if err != nil {
		return nil, err
	}
	def, err := provider.DefaultModelName(ctx)
	if err != nil {
		return nil, err
	}

	installed := make(map[string]ollama.ModelInfo, len(local))
	for _, m := range local {
		installed[m.Name] = m
	}

	entries := make([]modelEntry, 0, len(configs)+len(local))
	seen := make(map[string]bool, len(configs))
	for _, c := range configs {
		e := modelEntry{
			Name:       c.Name,
			Provider:   c.ProviderOrDefault(),
			Configured: true,
			Default:    c.Name == def,
		}
		if info, ok := lookupLocal(installed, c.Name); ok && c.IsLocal() {
			e.Installed = true
			e.Size = info.FormatSize()
		}
		entries = append(entries, e)
		seen[c.Name] = true
	}

	var extra []modelEntry
	for _, m := range local {
		if seen[m.Name] || seen[strings.TrimSuffix(m.Name, ":latest")] {
			continue
		}
		extra = append(extra, modelEntry{
			Name:      m.Name,
			Provider:  model.ProviderOllama,
			Installed: true,
			Size:      m.FormatSize(),
		})
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i].Name < extra[j].Name })
	return append(entries, extra...), nil
}

// lookupLocal finds name among installed models, treating "x" and
// "x:latest" as the same model.
func lookupLocal(installed map[string]ollama.ModelInfo, name string) (ollama.ModelInfo, bool) {
	if m, ok := installed[name]; ok {
		return m, true
	}
	if !strings.Contains(name, ":") {
		m, ok := installed[name+":latest"]
		return m, ok
	}
	return ollama.ModelInfo{}, false
}

func printModels(w io.Writer, entries []modelEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No models configured.")
		return
	}

	const nameWidth, providerWidth, sizeWidth = 32, 10, 10
	fmt.Fprintln(w, util.PadRight("Model", nameWidth)+" "+util.PadRight("Provider", providerWidth)+" "+
		util.PadRight("Size", sizeWidth)+" Status")
	fmt.Fprintln(w, RenderSeparator(nameWidth+providerWidth+sizeWidth+20))

	for _, e := range entries {
		var status []string
		if e.Default {
			status = append(status, "default")
		}
		if e.Configured {
			status = append(status, "configured")
		}
		if e.Installed {
			status = append(status, "installed")
		}
		name := util.PadRight(util.TruncateWidth(e.Name, nameWidth), nameWidth)
		if e.Default {
			name = RenderConditional(SuccessStyle, name)
		}
		fmt.Fprintln(w, name+" "+util.PadRight(e.Provider, providerWidth)+" "+
			util.PadRight(e.Size, sizeWidth)+" "+strings.Join(status, ", "))
	}
}
