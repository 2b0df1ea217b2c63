// Package cli builds the command line interface of the server.
//
//	ytdown serve  [--config path]   start the HTTP/websocket server
//	ytdown config [--config path]   print the effective configuration as YAML
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/priyankadasarigt/ytdown/internal"
	"github.com/priyankadasarigt/ytdown/pkg/logger"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var log = logger.Get("CLI")

// BuildCLI returns the root command, with the serve and config subcommands attached.
func BuildCLI(version string) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "ytdown",
		Short:         "ytdown: token-gated media download, merge and upload server",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", internal.DefaultConfigPath, "config file path")

	rootCmd.AddCommand(buildServeCommand(&configFile))
	rootCmd.AddCommand(buildConfigCommand(&configFile))

	return rootCmd
}

func buildServeCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := internal.LoadConfig(*configFile)
			if err != nil {
				return err
			}

			logger.SetMinLoggingLevel(logger.ParseLevel(config.LogLevel).Level())

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, *config)
		},
	}
}

func serve(ctx context.Context, config internal.Config) error {
	srv, err := internal.New(ctx, config)
	if err != nil {
		return fmt.Errorf("failed to initialise: %w", err)
	}

	log.Emit(logger.INFO, "Starting server (press Ctrl+C to stop)\n")
	return srv.Run(ctx)
}

func buildConfigCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := internal.LoadConfig(*configFile)
			if err != nil {
				return err
			}

			return printConfig(cmd.OutOrStdout(), *config)
		},
	}
}

// printConfig writes the configuration provided as YAML, with secrets redacted.
func printConfig(w io.Writer, config internal.Config) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(config.Redacted()); err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}

	return encoder.Close()
}

// Execute runs the root command, exiting with a non-zero status on failure.
func Execute(version string) {
	if err := BuildCLI(version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
