package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/millstone-labs/grainsql/internal/validate"
	"github.com/millstone-labs/grainsql/pkg/core"
)

// NewCheckCommand creates the check command.
func NewCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check <file.sql>",
		Short: "Statically check a SQL file",
		Long: `Check runs the offline validation passes on a SQL file: forbidden
statement keywords (DDL/DML) and time-leakage heuristics. No database
connection is made.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			sqlStr := string(content)
			location := filepath.Base(args[0])

			issues := validate.CheckForbiddenKeywords(sqlStr, location)
			leakage := validate.CheckLeakagePatterns(sqlStr)

			out := cmd.OutOrStdout()
			if len(issues) == 0 && len(leakage) == 0 {
				_, _ = fmt.Fprintf(out, "%s: no issues found\n", args[0])
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(out)
			t.SetStyle(table.StyleLight)
			t.AppendHeader(table.Row{"Severity", "Code", "Message"})
			for _, issue := range issues {
				t.AppendRow(table.Row{issue.Severity, issue.Code, issue.Message})
			}
			for _, msg := range leakage {
				t.AppendRow(table.Row{core.SeverityWarning, "LEAKAGE_PATTERN", msg})
			}
			t.Render()

			if len(issues) > 0 {
				return fmt.Errorf("%d error(s) found in %s", len(issues), args[0])
			}
			return nil
		},
	}
}
