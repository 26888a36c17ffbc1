package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/wranglekit/kvns/internal/kv"
	"github.com/wranglekit/kvns/internal/ui"
)

var keysCmd = &cobra.Command{
	Use:     "keys <title>",
	GroupID: "keys",
	Short:   "List the keys of a namespace",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		nsID, err := current.namespaces.Resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		keys, err := current.engine.ListKeys(cmd.Context(), nsID)
		if err != nil {
			return err
		}
		if current.format != ui.FormatTable {
			return ui.Encode(cmd.OutOrStdout(), current.format, keys)
		}
		if len(keys) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), ui.RenderMuted("No keys in "+args[0]))
			return nil
		}

		rows := make([][]string, len(keys))
		for i, k := range keys {
			expires := "-"
			if k.Expiration != nil {
				expires = k.Expiration.UTC().Format(time.RFC3339)
			}
			meta := "-"
			if len(k.Metadata) > 0 {
				b, err := json.Marshal(k.Metadata)
				if err != nil {
					return fmt.Errorf("failed to encode metadata of %q: %w", k.Name, err)
				}
				meta = string(b)
			}
			rows[i] = []string{k.Name, expires, meta}
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.Table([]string{"KEY", "EXPIRES", "METADATA"}, rows))
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:     "get <title> <key>",
	GroupID: "keys",
	Short:   "Print the raw value of a key",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, err := current.engine.Get(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(value)
		return err
	},
}

var (
	putExpires  string
	putTTL      time.Duration
	putMetadata string
)

var putCmd = &cobra.Command{
	Use:     "put <title> <key> <value>",
	GroupID: "keys",
	Short:   "Write a value to a key",
	Long: `Write a value to a key in an existing namespace. A value of "-" reads
the value from stdin.

--expires accepts an RFC3339 time, a Go duration ("90m") or a phrase such
as "in 2 hours" or "next friday". --ttl is a duration from now.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		title, name := args[0], args[1]

		value := []byte(args[2])
		if args[2] == "-" {
			var err error
			value, err = io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("failed to read value from stdin: %w", err)
			}
		}

		pair := kv.Pair{Key: kv.Key{Name: name}, Value: value}

		switch {
		case putExpires != "" && putTTL != 0:
			return fmt.Errorf("--expires and --ttl cannot be combined")
		case putExpires != "":
			at, err := kv.ParseExpiration(putExpires, time.Now())
			if err != nil {
				return err
			}
			pair.Key.Expiration = &at
		case putTTL < 0:
			return fmt.Errorf("--ttl must be positive")
		case putTTL > 0:
			at := time.Now().Add(putTTL).UTC()
			pair.Key.Expiration = &at
		}

		if putMetadata != "" {
			if err := json.Unmarshal([]byte(putMetadata), &pair.Key.Metadata); err != nil {
				return fmt.Errorf("--metadata must be a JSON object: %w", err)
			}
		}

		if err := current.engine.Put(cmd.Context(), title, pair); err != nil {
			return err
		}

		msg := fmt.Sprintf("%s Wrote %s to %s/%s", ui.RenderPass("✓"), ui.Bytes(int64(len(value))), title, name)
		if pair.Key.Expiration != nil {
			msg += ui.RenderMuted(" (expires " + pair.Key.Expiration.Format(time.RFC3339) + ")")
		}
		fmt.Fprintln(cmd.OutOrStdout(), msg)
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:     "rm <title> <key>",
	GroupID: "keys",
	Short:   "Delete one key",
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := current.engine.Delete(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted %s/%s\n", ui.RenderPass("✓"), args[0], args[1])
		return nil
	},
}

func init() {
	putCmd.Flags().StringVar(&putExpires, "expires", "", "When the key expires (RFC3339, duration or phrase)")
	putCmd.Flags().DurationVar(&putTTL, "ttl", 0, "Expire the key after this duration")
	putCmd.Flags().StringVar(&putMetadata, "metadata", "", "JSON object stored alongside the key")

	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(rmCmd)
}
