package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pcbview/boardworker/internal/inbox"
	"github.com/pcbview/boardworker/internal/server"
	"github.com/pcbview/boardworker/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "run",
	Short:   "Run the worker behind a WebSocket server",
	Long: `Run the board worker and expose its message protocol over a WebSocket.

Clients send requests (CREATE_BOARD, GET_BOARD, ADD_COMMENT, ...) as JSON
envelopes {"type": ..., "payload": ...} and receive every notification the
worker emits.

Endpoints:
  ws://<addr>/ws     message protocol
  http://<addr>/health   readiness
  http://<addr>/metrics  Prometheus metrics

With --inbox, design files dropped into the directory are imported as new boards.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}
		if dir, _ := cmd.Flags().GetString("inbox"); dir != "" {
			cfg.Inbox.Dir = dir
		}

		w, err := newWorker()
		if err != nil {
			return err
		}

		scfg := server.DefaultConfig()
		scfg.Addr = cfg.Server.Addr
		scfg.OriginPatterns = cfg.Server.OriginPatterns
		scfg.Logger = logger
		srv, err := server.New(w, scfg)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return w.Run(gctx) })

		if cfg.Inbox.Dir != "" {
			icfg := inbox.DefaultConfig()
			icfg.DebounceInterval = cfg.Inbox.Debounce
			icfg.Logger = logger
			in, err := inbox.NewWithConfig(cfg.Inbox.Dir, w, icfg)
			if err != nil {
				cancel()
				_ = g.Wait()
				return err
			}
			g.Go(func() error { return in.Run(gctx) })
		}

		if err := srv.Start(); err != nil {
			cancel()
			_ = g.Wait()
			return err
		}

		fmt.Printf("%s Board worker listening on http://%s\n", ui.RenderPass("✓"), srv.Addr())
		fmt.Printf("   WebSocket: ws://%s/ws\n", srv.Addr())
		fmt.Printf("   Store:     %s\n", cfg.Store.Path)
		if cfg.Inbox.Dir != "" {
			fmt.Printf("   Inbox:     %s\n", cfg.Inbox.Dir)
		}
		fmt.Println("\nPress Ctrl+C to stop...")

		<-gctx.Done()

		fmt.Println("\nShutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("server shutdown")
		}

		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		fmt.Println("Board worker stopped")
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Address to listen on (default from config: 127.0.0.1:8080)")
	serveCmd.Flags().String("inbox", "", "Drop folder to import designs from")

	rootCmd.AddCommand(serveCmd)
}
