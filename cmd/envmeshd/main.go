package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"envmesh/internal/buildinfo"
	"envmesh/internal/config"
	"envmesh/internal/daemon"
	"envmesh/internal/ipc"
	"envmesh/internal/logging"

	"github.com/spf13/cobra"
)

func main() {
	if err := logging.Configure(logging.LevelInfo); err != nil {
		_, _ = os.Stderr.WriteString("configure logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := rootCmd().Execute(); err != nil {
		slog.Error("command failed", "err", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string
	var dataDir string
	var debug bool

	cmd := &cobra.Command{
		Use:     "envmeshd",
		Short:   "EnvMesh sync daemon",
		Version: buildinfo.Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := logging.LevelInfo
			if debug {
				level = logging.LevelDebug
			}
			return logging.Configure(level)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if configPath == "" {
				configPath = config.Path()
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			if dataDir == "" {
				dataDir = ipc.DataDir()
			}
			if err := os.MkdirAll(dataDir, 0o755); err != nil {
				return err
			}

			d, err := daemon.New(cfg, dataDir)
			if err != nil {
				return err
			}
			return d.Run(ctx, ipc.Network(), ipc.Address())
		},
	}

	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	cmd.Flags().StringVar(&configPath, "config", "", "path to config.toml (default: "+config.Path()+")")
	cmd.Flags().StringVar(&dataDir, "data-dir", "", "persistent data directory (default: "+ipc.DataDir()+")")
	return cmd
}
