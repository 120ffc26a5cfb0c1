package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/coah80/enhancer/internal/services"
)

func newDepsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deps",
		Short: "Check that the encoder binaries are installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			deps := services.CheckDependencies(cmd.Context(), cfg.FFmpegPath, cfg.FFprobePath)
			rows := make([][]string, 0, len(deps))
			for _, d := range deps {
				state := "✓ found"
				switch {
				case !d.Found && d.Required:
					state = "✗ missing (required)"
				case !d.Found:
					state = "- missing (optional)"
				}
				rows = append(rows, []string{d.Name, state, d.Path, d.Version})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Binary", "Status", "Path", "Version"}, rows))

			if missing := services.MissingRequired(deps); len(missing) > 0 {
				return fmt.Errorf("missing required dependencies: %s", strings.Join(missing, ", "))
			}
			return nil
		},
	}
}
