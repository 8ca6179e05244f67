package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rook-computer/scanout/internal/app"
	"github.com/rook-computer/scanout/internal/config"
	"github.com/rook-computer/scanout/internal/logging"
	"github.com/rook-computer/scanout/internal/state"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "scanout",
		Short: "Render frames straight to a display through DRM/KMS",
		Long: `scanout takes over a DRM output without a compositor and presents frames
from a test pattern or an image file, page-flipping on vblank.

The console framebuffer is restored on exit, including after Ctrl-C
or the exit key.`,
		Example: `  # Moving colour bars on the first connected output
  scanout

  # A still image on connector 42 at 1280x720, stop after 600 frames
  scanout --connector 42 --mode 1280x720 --source still --source-path photo.png --frames 600

  # Serve status and the on-screen frame at :8080
  scanout --listen :8080 --log-pretty`,
		SilenceUsage: true,
		RunE:         runRender,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is scanout.yaml in /etc/scanout or .)")
	config.Flags(root.PersistentFlags())

	root.AddCommand(newConfigCmd(), newModesCmd())
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(viper.New(), cfgFile, cmd.Flags())
}

func runRender(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// The console stays in graphics mode if we crash, so panics go to a file.
	logPath := cfg.StdioLog
	if logPath == "" {
		logPath = os.Getenv("SCANOUT_STDIO_LOG")
	}
	if logPath != "" {
		if err := redirectStdIO(logPath); err != nil {
			fmt.Fprintln(os.Stderr, "stdio log redirect error:", err)
		}
	}
	logging.Init(cfg.LogLevel, cfg.LogPretty, os.Stderr)
	logger := logging.Logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := app.New(cfg, state.NewStore(), &logger)
	if err := a.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("render failed")
		return err
	}
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
