package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/comigor/healthchat-go/internal/facility"
	"github.com/comigor/healthchat-go/internal/history"
	"github.com/comigor/healthchat-go/internal/llm"
	"github.com/comigor/healthchat-go/internal/logger"
	"github.com/comigor/healthchat-go/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat backend",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if len(cfg.Auth.Users) == 0 {
			logger.L.Warn("no auth users configured; every request will be rejected")
		}

		db, err := history.Open(cfg.History.DBPath)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer db.Close()

		api := server.New(*cfg, db, llm.NewClient(cfg.LLM), facility.NewClient(cfg.Facility))

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
		srv := &http.Server{Addr: addr, Handler: api.Handler()}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()

		logger.L.Info("starting server", "address", addr, "model", cfg.LLM.Model)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L.Error("failed to start server", "error", err)
			return err
		}
		logger.L.Info("server stopped")
		return nil
	},
}
