// Command civic is the municipal citizen assistant: it extracts and sanitizes
// structured cards from model answers, runs conversations against Gemini and
// serves the HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"civicbot/internal/config"
	"civicbot/internal/logging"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Loaded in PersistentPreRunE
	cfg    *config.Config
	logger *zap.Logger
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "civic",
	Short: "civic - municipal citizen assistant",
	Long: `civic answers citizen questions about events, places and municipal procedures.

Model answers carry structured cards (events, places, maps, document and online
procedure links) inside markers. civic extracts them, drops what cannot be
verified or was already shown, and renders the rest.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		lc := cfg.Logging.ToLogging()
		if verbose {
			lc.DebugMode = true
			lc.Format = "console"
		}
		if err := logging.Initialize(lc); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		logger = logging.Root()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "civicbot.yaml", "Path to the YAML config file")

	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the civic version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "civic %s\n", version)
	},
}
