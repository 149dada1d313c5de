package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/relpack/internal/config"
	"github.com/oshokin/relpack/internal/logger"
	"github.com/oshokin/relpack/internal/service/packager"
	"github.com/oshokin/relpack/internal/version"
)

var (
	// configPath to the job file.
	configPath string
	// logLevel is the minimum level written to stderr.
	logLevel string
	// upgrade, stripDebugInfo and devMode override the job file when the flag is given.
	upgrade, stripDebugInfo, devMode bool

	// rootCmd packages the release described by the job file.
	rootCmd = &cobra.Command{
		Use:           "relpack",
		Short:         "Package an assembled release into a deployable tarball",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			level, ok := logger.ParseLogLevel(logLevel)
			if !ok {
				return fmt.Errorf("unknown log level %q", logLevel)
			}

			logger.SetLevel(level)

			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &packager.Options{
				ConfigPath:     configPath,
				Upgrade:        changed(cmd, "upgrade", upgrade),
				StripDebugInfo: changed(cmd, "strip-debug-info", stripDebugInfo),
				DevMode:        changed(cmd, "dev-mode", devMode),
			}

			desc, err := packager.Run(ctx, options)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), desc.Archive)

			return err
		},
	}

	// force lets init overwrite an existing job file.
	force bool

	// initCmd writes a starter job file.
	initCmd = &cobra.Command{
		Use:   "init [release-name]",
		Short: "Write a starter job file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := "app"
			if len(args) > 0 {
				name = args[0]
			}

			return packager.Init(cmd.Context(), configPath, name, force)
		},
	}
)

// Execute runs the relpack CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		logger.ErrorKV(context.Background(), "relpack failed", "error", err)
		os.Exit(1)
	}
}

// changed returns a pointer to value only when the flag was given on the command line.
func changed(cmd *cobra.Command, name string, value bool) *bool {
	if !cmd.Flags().Changed(name) {
		return nil
	}

	return &value
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to job file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.Flags().BoolVar(&upgrade, "upgrade", false, "package an upgrade release (requires relup)")
	rootCmd.Flags().BoolVar(&stripDebugInfo, "strip-debug-info", false, "strip debug chunks from compiled modules")
	rootCmd.Flags().BoolVar(&devMode, "dev-mode", false, "treat the release as a development build (symlinked libraries)")

	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing job file")

	rootCmd.AddCommand(initCmd)
}
