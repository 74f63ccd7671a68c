package commands

import (
	"encoding/json"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/millstone-labs/grainsql/internal/missing"
)

// NewStrategiesCommand creates the strategies command.
func NewStrategiesCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "strategies",
		Short: "List missing-value strategies",
		Long: `List the strategies available for filling NULLs produced by the
LEFT JOIN of features onto the grain.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			infos := missing.Strategies()

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Strategy", "Description", "SQL Example", "Best For"})
			for _, info := range infos {
				t.AppendRow(table.Row{
					info.Strategy,
					info.Description,
					info.SQLExample,
					strings.Join(info.BestFor, ", "),
				})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
