package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"imgsearch/internal/server"
	"imgsearch/internal/usecase"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the image search API",
	Long: `Serve POST /api/image-search and GET /healthz.

The request body is JSON {"image": "<base64>"} or a raw image/* body.
{"url": "..."} is accepted only with server.allow_url_queries. Send SIGHUP
to reload the vector store after re-indexing.

Examples:
  imgsearch serve
  imgsearch serve --addr :8080`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	dir := GetRootDir()
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	searchUC, closeStore, err := newSearchUseCase(ctx, cfg, dir, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if searchUC.Len() == 0 {
		logger.Warn("vector store is empty, searches will return no results")
	}

	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	srv := &http.Server{
		Addr: addr,
		Handler: server.NewHandler(searchUC, server.Options{
			MaxBodyBytes:    cfg.Server.MaxBodyBytes,
			AllowedOrigin:   cfg.Server.AllowedOrigin,
			TopK:            cfg.Retrieve.TopK,
			AllowURLQueries: cfg.Server.AllowURLQueries,
		}, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", "addr", addr, "vectors", searchUC.Len())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return reloadOnHangup(gctx, searchUC, logger)
	})

	return g.Wait()
}

func reloadOnHangup(ctx context.Context, uc *usecase.SearchUseCase, logger *slog.Logger) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			if err := uc.Reload(ctx); err != nil {
				logger.Error("reload failed", "error", err)
			}
		}
	}
}
