package main

import (
	"os"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"finanalyst/internal/adapters/ai"
	"finanalyst/internal/adapters/config"
	"finanalyst/pkg/errors"
)

type modelRow struct {
	Ref       string  `yaml:"ref"`
	Context   string  `yaml:"context"`
	InputUSD  float64 `yaml:"input_usd_per_1k"`
	OutputUSD float64 `yaml:"output_usd_per_1k"`
	Streaming bool    `yaml:"streaming"`
}

func newModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List priced models of the providers with a configured API key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			registry, err := ai.BuildRegistry(cfg.AI, nil)
			if err != nil {
				return err
			}

			byProvider, err := registry.ListModels(cmd.Context())
			if err != nil {
				return err
			}
			rows := modelRows(byProvider)

			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			if err := enc.Encode(rows); err != nil {
				return errors.Wrap(err, "encode models")
			}
			return enc.Close()
		},
	}
}

func modelRows(byProvider map[string][]ai.ModelInfo) []modelRow {
	var rows []modelRow
	for _, models := range byProvider {
		for _, m := range models {
			rows = append(rows, modelRow{
				Ref:       m.Ref(),
				Context:   humanize.Comma(int64(m.MaxTokens)) + " tokens",
				InputUSD:  m.InputCostPer1K,
				OutputUSD: m.OutputCostPer1K,
				Streaming: m.SupportsStreaming,
			})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Ref < rows[j].Ref })
	return rows
}

