// Command kvns manages KV namespaces: listing, copying, clearing, dumping
// and restoring them, and inspecting which namespaces a Pages project binds.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/wranglekit/kvns/internal/api"
	"github.com/wranglekit/kvns/internal/config"
	"github.com/wranglekit/kvns/internal/kv/namespace"
	"github.com/wranglekit/kvns/internal/kv/transfer"
	"github.com/wranglekit/kvns/internal/ui"
)

var (
	configPath   string
	concurrency  int
	verbose      bool
	logFile      string
	strictTitles bool
	formatFlag   string
)

// app holds the collaborators built once per invocation.
type app struct {
	cfg        *config.Config
	format     ui.Format
	logOut     io.Writer
	logCloser  io.Closer
	client     *api.Client
	namespaces *namespace.Directory
	engine     *transfer.Engine
}

var current *app

var rootCmd = &cobra.Command{
	Use:   "kvns",
	Short: "Manage KV namespaces from the command line",
	Long: `kvns lists, creates, renames, copies, clears and dumps KV namespaces.

Credentials are read from wrangler.toml (account_id, api_token) or from the
CLOUDFLARE_ACCOUNT_ID and CLOUDFLARE_API_TOKEN environment variables.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		a, err := setup(cmd)
		if err != nil {
			return err
		}
		current = a
		return nil
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "namespaces", Title: "Namespace commands:"},
		&cobra.Group{ID: "keys", Title: "Key commands:"},
		&cobra.Group{ID: "transfer", Title: "Transfer commands:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", config.DefaultPath, "Path to the TOML config file")
	flags.IntVarP(&concurrency, "concurrency", "j", config.DefaultConcurrency, "Maximum concurrent value reads and file writes")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Log API requests and progress to stderr")
	flags.StringVar(&logFile, "log-file", "", "Also write logs to this file (rotated)")
	flags.BoolVar(&strictTitles, "strict-titles", false, "Fail when a title matches more than one namespace")
	flags.StringVarP(&formatFlag, "format", "o", string(ui.FormatTable), "Output format: table, json or yaml")
}

// setup loads configuration and wires the transport, directory and engine.
// Flags are looked up through cmd so the command tree does not refer to
// itself during package initialization.
func setup(cmd *cobra.Command) (*app, error) {
	format, err := ui.ParseFormat(formatFlag)
	if err != nil {
		return nil, err
	}

	v := viper.New()
	if err := v.BindPFlag(config.KeyConcurrency, cmd.Root().PersistentFlags().Lookup("concurrency")); err != nil {
		return nil, fmt.Errorf("failed to bind --concurrency: %w", err)
	}
	cfg, err := config.Load(configPath, v)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, format: format, logOut: io.Discard}
	switch {
	case logFile != "":
		lj := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		a.logCloser = lj
		a.logOut = lj
		if verbose {
			a.logOut = io.MultiWriter(os.Stderr, lj)
		}
	case verbose:
		a.logOut = os.Stderr
	}

	a.client, err = api.New(&api.Config{
		BaseURL:   cfg.BaseURL,
		AccountID: cfg.AccountID,
		APIToken:  cfg.APIToken,
		Logger:    a.logger("api"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create api client: %w", err)
	}

	a.namespaces = namespace.New(a.client, &namespace.Options{
		StrictTitles: strictTitles,
		Logger:       a.logger("namespace"),
	})
	a.engine = transfer.New(a.client, a.namespaces, &transfer.Config{
		Concurrency: cfg.Concurrency,
		Logger:      a.logger("transfer"),
	})

	a.logger("kvns").Printf("Loaded config from %q (concurrency %d)", cfg.Source, cfg.Concurrency)
	return a, nil
}

func (a *app) logger(component string) *log.Logger {
	return log.New(a.logOut, "["+component+"] ", log.LstdFlags)
}

// execute runs the root command and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	current = nil
	err := rootCmd.ExecuteContext(ctx)
	if current != nil && current.logCloser != nil {
		current.logCloser.Close()
	}
	if err != nil {
		fmt.Fprintf(stderr, "%s %v\n", ui.RenderFail("Error:"), err)
		return 1
	}
	return 0
}

func main() {
	ui.ConfigureColor(os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
