package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wranglekit/kvns/internal/kv/namespace"
	"github.com/wranglekit/kvns/internal/ui"
)

var listCmd = &cobra.Command{
	Use:     "list",
	GroupID: "namespaces",
	Short:   "List namespaces ordered by title",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		all, err := current.namespaces.List(cmd.Context())
		if err != nil {
			return err
		}
		if current.format != ui.FormatTable {
			return ui.Encode(cmd.OutOrStdout(), current.format, all)
		}
		if len(all) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), ui.RenderMuted("No namespaces"))
			return nil
		}

		rows := make([][]string, len(all))
		for i, ns := range all {
			rows[i] = []string{ns.Title, ns.ID}
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.Table([]string{"TITLE", "ID"}, rows))
		return nil
	},
}

var createCmd = &cobra.Command{
	Use:     "create <title>",
	GroupID: "namespaces",
	Short:   "Create a namespace",
	Long: `Create a namespace with the given title.

Titles are not unique server-side: creating a title that already exists
makes a second namespace with the same title.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := current.namespaces.Create(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		ns := namespace.Namespace{ID: id, Title: args[0]}
		if current.format != ui.FormatTable {
			return ui.Encode(cmd.OutOrStdout(), current.format, ns)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Created namespace %s %s\n",
			ui.RenderPass("✓"), ui.RenderAccent(ns.Title), ui.RenderMuted("("+id+")"))
		return nil
	},
}

var renameCmd = &cobra.Command{
	Use:     "rename <src> <dest>",
	GroupID: "namespaces",
	Short:   "Change a namespace's title",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := current.namespaces.Rename(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Renamed %s to %s\n",
			ui.RenderPass("✓"), args[0], ui.RenderAccent(args[1]))
		return nil
	},
}

var deleteYes bool

var deleteCmd = &cobra.Command{
	Use:     "delete <title>",
	GroupID: "namespaces",
	Short:   "Delete a namespace and everything in it",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ok, err := ui.Confirm(
			fmt.Sprintf("Delete namespace %q?", args[0]),
			"The namespace and all of its keys are removed permanently.",
			deleteYes,
		)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), ui.RenderWarn("Aborted"))
			return nil
		}

		id, err := current.namespaces.Delete(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted namespace %s %s\n",
			ui.RenderPass("✓"), args[0], ui.RenderMuted("("+id+")"))
		return nil
	},
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "Do not ask for confirmation")

	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(renameCmd)
	rootCmd.AddCommand(deleteCmd)
}
