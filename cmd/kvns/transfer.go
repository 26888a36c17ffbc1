package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/wranglekit/kvns/internal/kv/transfer"
	"github.com/wranglekit/kvns/internal/ui"
	"github.com/wranglekit/kvns/internal/watch"
)

// printResult writes r in the selected machine format, or the summary
// line for table output.
func printResult(w io.Writer, r *transfer.Result, summary string) error {
	if current.format != ui.FormatTable {
		return ui.Encode(w, current.format, r)
	}
	fmt.Fprintf(w, "%s %s %s\n", ui.RenderPass("✓"), summary, ui.RenderMuted("("+ui.Elapsed(r.Duration)+")"))
	return nil
}

var copyCmd = &cobra.Command{
	Use:     "copy <src> <dest>",
	GroupID: "transfer",
	Short:   "Copy every key of one namespace into another",
	Long: `Copy every key, with its expiration and metadata, from src into dest.

dest is created when no namespace has that title. Keys already in dest
that src does not have are left alone.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := current.engine.Copy(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		if r.Created && current.format == ui.FormatTable {
			fmt.Fprintf(cmd.OutOrStdout(), "%s Created namespace %s %s\n",
				ui.RenderAccent("+"), args[1], ui.RenderMuted("("+r.NamespaceID+")"))
		}
		return printResult(cmd.OutOrStdout(), r, fmt.Sprintf("Copied %s keys (%s) from %s to %s",
			ui.Count(r.Keys), ui.Bytes(r.Bytes), args[0], args[1]))
	},
}

var clearYes bool

var clearCmd = &cobra.Command{
	Use:     "clear <title>",
	GroupID: "transfer",
	Short:   "Delete every key in a namespace",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ok, err := ui.Confirm(
			fmt.Sprintf("Clear namespace %q?", args[0]),
			"Every key in the namespace is deleted. The namespace itself is kept.",
			clearYes,
		)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), ui.RenderWarn("Aborted"))
			return nil
		}

		r, err := current.engine.Clear(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), r, fmt.Sprintf("Cleared %s keys from %s", ui.Count(r.Keys), args[0]))
	},
}

var dumpSQLite bool

var dumpCmd = &cobra.Command{
	Use:     "dump <title> <dir>",
	GroupID: "transfer",
	Short:   "Write every key of a namespace to a directory, one file per key",
	Long: `Write every key of a namespace into dir, one file per key.

File names are the keys with unsafe bytes percent-escaped (a/b becomes
a%2Fb); file contents are the raw values. dir is created if missing and
existing files with the same names are overwritten.

With --sqlite the second argument is a SQLite database file instead, and
the dump keeps expirations and metadata. Each dump adds a new snapshot.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			r   *transfer.Result
			err error
		)
		if dumpSQLite {
			r, err = current.engine.DumpSnapshot(cmd.Context(), args[0], args[1])
		} else {
			r, err = current.engine.Dump(cmd.Context(), args[0], args[1])
		}
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), r, fmt.Sprintf("Dumped %s keys (%s) from %s to %s",
			ui.Count(r.Keys), ui.Bytes(r.Bytes), args[0], args[1]))
	},
}

var (
	restoreSQLite bool
	restoreFrom   string
	restoreWatch  bool
)

var restoreCmd = &cobra.Command{
	Use:     "restore <dir> <title>",
	GroupID: "transfer",
	Short:   "Upload a dump back into a namespace",
	Long: `Upload a dump directory (or with --sqlite, a snapshot database) into the
namespace titled title, creating it if needed.

--from picks which namespace's latest snapshot to restore from a database
holding several; it defaults to title.

--watch keeps running after the restore and mirrors later changes to the
directory into the namespace until interrupted.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, title := args[0], args[1]
		if restoreWatch && restoreSQLite {
			return fmt.Errorf("--watch cannot be combined with --sqlite")
		}

		var (
			r   *transfer.Result
			err error
		)
		if restoreSQLite {
			from := restoreFrom
			if from == "" {
				from = title
			}
			r, err = current.engine.RestoreSnapshot(cmd.Context(), src, from, title)
		} else {
			r, err = current.engine.Restore(cmd.Context(), src, title)
		}
		if err != nil {
			return err
		}
		if err := printResult(cmd.OutOrStdout(), r, fmt.Sprintf("Restored %s keys (%s) from %s to %s",
			ui.Count(r.Keys), ui.Bytes(r.Bytes), src, title)); err != nil {
			return err
		}
		if !restoreWatch {
			return nil
		}

		cfg := watch.DefaultConfig()
		cfg.Logger = current.logger("watch")
		mirror, err := watch.NewMirror(src, r.NamespaceID, current.engine, cfg)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s Watching %s for changes (Ctrl+C to stop)\n", ui.RenderAccent("●"), src)
		if err := mirror.Run(cmd.Context()); err != nil {
			return err
		}

		stats := mirror.Stats()
		fmt.Fprintf(cmd.OutOrStdout(), "%s Stopped watching: %d written, %d deleted",
			ui.RenderPass("✓"), stats.Puts, stats.Deletes)
		if stats.Errors > 0 {
			fmt.Fprintf(cmd.OutOrStdout(), ", %s", ui.RenderWarn(fmt.Sprintf("%d failed", stats.Errors)))
		}
		fmt.Fprintln(cmd.OutOrStdout())
		return nil
	},
}

var snapshotsCmd = &cobra.Command{
	Use:     "snapshots <file>",
	GroupID: "transfer",
	Short:   "List the snapshots stored in a SQLite dump file",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snaps, err := current.engine.ListSnapshots(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if current.format != ui.FormatTable {
			return ui.Encode(cmd.OutOrStdout(), current.format, snaps)
		}
		if len(snaps) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), ui.RenderMuted("No snapshots in "+args[0]))
			return nil
		}

		rows := make([][]string, len(snaps))
		for i, s := range snaps {
			rows[i] = []string{
				strconv.FormatInt(s.ID, 10),
				s.Namespace,
				s.TakenAt.UTC().Format(time.RFC3339),
				ui.Count(s.Keys),
			}
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.Table([]string{"ID", "NAMESPACE", "TAKEN", "KEYS"}, rows))
		return nil
	},
}

func init() {
	clearCmd.Flags().BoolVarP(&clearYes, "yes", "y", false, "Do not ask for confirmation")
	dumpCmd.Flags().BoolVar(&dumpSQLite, "sqlite", false, "Write a snapshot into a SQLite database instead of a directory")
	restoreCmd.Flags().BoolVar(&restoreSQLite, "sqlite", false, "Read the latest snapshot from a SQLite database")
	restoreCmd.Flags().StringVar(&restoreFrom, "from", "", "Namespace title the snapshot was taken of (default: the target title)")
	restoreCmd.Flags().BoolVarP(&restoreWatch, "watch", "w", false, "Keep mirroring directory changes into the namespace")

	rootCmd.AddCommand(copyCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(snapshotsCmd)
}
