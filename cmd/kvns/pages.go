package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wranglekit/kvns/internal/ui"
)

var pagesCmd = &cobra.Command{
	Use:     "pages <project>",
	GroupID: "namespaces",
	Short:   "Show the KV namespaces bound to a Pages project's production deployment",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bindings, err := current.client.Bindings(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if current.format != ui.FormatTable {
			return ui.Encode(cmd.OutOrStdout(), current.format, bindings)
		}
		if len(bindings) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), ui.RenderMuted("No KV namespaces bound to "+args[0]))
			return nil
		}

		rows := make([][]string, len(bindings))
		for i, b := range bindings {
			rows[i] = []string{b.Name, b.NamespaceID}
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.Table([]string{"BINDING", "NAMESPACE ID"}, rows))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pagesCmd)
}
