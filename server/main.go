package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"example.com/live_transcriber/pkg/config"
	"example.com/live_transcriber/pkg/logger"
	"example.com/live_transcriber/pkg/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Config{}, config.ServiceName).Fatal("Failed to load configuration", map[string]interface{}{"error": err})
	}

	log := logger.New(cfg.Log, config.ServiceName)
	if err := run(cfg, log); err != nil {
		log.Fatal("Server stopped", map[string]interface{}{"error": err})
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gin.SetMode(cfg.Server.Mode)

	if err := os.MkdirAll(cfg.Session.RecordingsDir, 0o755); err != nil {
		return err
	}

	st, err := store.Open(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer st.Close()

	srv := NewServer(cfg, st, log)
	httpServer := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Live transcription server starting", map[string]interface{}{
			"addr":      cfg.Server.Addr,
			"websocket": "/ws/transcription",
			"store":     cfg.Store.Driver,
		})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down", map[string]interface{}{"sessions": srv.Sessions().Len()})

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		srv.Sessions().StopAll(shutdownCtx)
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
