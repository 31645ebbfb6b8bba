package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pcbview/boardworker/internal/config"
	"github.com/pcbview/boardworker/internal/pipeline"
	"github.com/pcbview/boardworker/internal/remote"
	"github.com/pcbview/boardworker/internal/worker"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  = zerolog.Nop()
	logFile io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "boardworker",
	Short: "Background worker for the PCB board viewer",
	Long: `boardworker imports PCB designs (Gerber and Excellon files, zip archives
or links to them), renders them into layered views and thumbnails, packages
them into archives and keeps them in a local board store. Boards and comments
are pushed to the remote sync service.

Run 'boardworker serve' to expose the worker over a WebSocket, or use the
board commands to work with the local store directly.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v := viper.New()
		bindFlag(v, cmd, "store.path", "store")
		bindFlag(v, cmd, "log.level", "log-level")
		bindFlag(v, cmd, "remote.base_url", "remote")

		loaded, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded

		l, closer, err := config.NewLogger(cfg.Log, os.Stderr)
		if err != nil {
			return err
		}
		logger = l
		logFile = closer
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logFile != nil {
			_ = logFile.Close()
		}
	},
}

func bindFlag(v *viper.Viper, cmd *cobra.Command, key, flag string) {
	if f := cmd.Flags().Lookup(flag); f != nil {
		_ = v.BindPFlag(key, f)
	}
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "run", Title: "Running:"},
		&cobra.Group{ID: "boards", Title: "Boards:"},
	)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Config file (default: ./boardworker.yaml)")
	rootCmd.PersistentFlags().String("store", "", "Board database path")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("remote", "", "Remote sync service base URL")
}

// newWorker builds a worker from the loaded configuration.
func newWorker() (*worker.Worker, error) {
	rcfg := remote.DefaultConfig()
	rcfg.BaseURL = cfg.Remote.BaseURL
	rcfg.ProductName = cfg.Remote.ProductName
	rcfg.Timeout = cfg.Remote.Timeout
	rcfg.UploadRate = rateLimit(cfg.Remote.UploadRate)
	rcfg.UploadBurst = cfg.Remote.UploadBurst
	rcfg.Logger = logger

	rc, err := remote.NewWithConfig(rcfg)
	if err != nil {
		return nil, err
	}

	wcfg := worker.DefaultConfig()
	wcfg.StorePath = cfg.Store.Path
	wcfg.QueueSize = cfg.Worker.QueueSize
	wcfg.IdentityTimeout = cfg.Worker.IdentityTimeout
	wcfg.SyncTimeout = cfg.Worker.SyncTimeout
	wcfg.Logger = logger

	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	return worker.NewWithConfig(rc, pipeline.NewFetcher(cfg.Worker.FetchTimeout), wcfg)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
