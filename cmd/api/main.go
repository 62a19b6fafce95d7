package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"roomly/api/internal/app"
	"roomly/api/internal/authpw"
	"roomly/api/internal/config"
	"roomly/api/internal/email"
	"roomly/api/internal/search"
	"roomly/api/internal/session"
	"roomly/api/internal/store"
	"roomly/api/pkg/logging"
)

func main() {
	logging.Setup()
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		slog.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	users := store.NewPostgresStore(db)

	docs, err := store.OpenRedis(cfg.RedisURL, cfg.Namespace, cfg.StoreOpTimeout)
	if err != nil {
		slog.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	defer docs.Close()

	sessions := session.NewRedisStore(docs.Client(), cfg.Namespace)

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, app.GroupRecords{Docs: docs})
	go searchService.ReindexAll(ctx)

	mail := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})

	service := app.New(cfg, docs, users, sessions, authpw.NewService(users), mail, searchService)

	monitor := app.NewMonitor(service, docs, cfg.ExpiryTick)
	monitor.Start(ctx)
	defer monitor.Stop()

	httpServer := app.NewHTTPServer(service, searchService, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("roomly api listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown error", "error", err)
	}
}
