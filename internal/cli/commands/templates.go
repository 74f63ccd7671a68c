// Package commands implements the grainsql subcommands.
package commands

import (
	"encoding/json"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/millstone-labs/grainsql/internal/feature"
)

// NewTemplatesCommand creates the templates command.
func NewTemplatesCommand() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List available feature templates",
		Long: `List the feature templates the compiler can instantiate: rolling
aggregates, mode, percent-true, and recency, with the inputs each requires.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			infos := feature.Templates()

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Template", "Name", "Value Column", "Window", "Description"})
			for _, info := range infos {
				t.AppendRow(table.Row{
					info.Type,
					info.Name,
					yesNo(info.RequiresValueColumn),
					yesNo(info.RequiresWindowDays),
					info.Description,
				})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
