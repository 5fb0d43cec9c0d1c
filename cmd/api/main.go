package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/parley/backend/internal/config"
	"github.com/zhouzirui/parley/backend/internal/handler"
	"github.com/zhouzirui/parley/backend/internal/logging"
	"github.com/zhouzirui/parley/backend/internal/metrics"
	"github.com/zhouzirui/parley/backend/internal/model/catalog"
	"github.com/zhouzirui/parley/backend/internal/repository"
	"github.com/zhouzirui/parley/backend/internal/service/ai"
	"github.com/zhouzirui/parley/backend/internal/service/chat"
	"github.com/zhouzirui/parley/backend/internal/service/settings"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.WithError(err).Info("no .env file, continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}
	log := logging.New(cfg.Log)

	cat, err := catalog.Builtin()
	if err != nil {
		log.WithError(err).Fatal("failed to load model catalog")
	}

	store, err := repository.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.WithError(err).WithField("driver", cfg.Database.Driver).Fatal("failed to open database")
	}
	defer store.Close()

	cipher, err := settings.NewCipher(cfg.Security.EncryptionKey)
	if err != nil {
		log.WithError(err).Fatal("failed to initialise credential cipher")
	}
	if cipher == nil {
		log.Warn("SETTINGS_ENCRYPTION_KEY not set, provider keys are stored in plaintext")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	resolver := ai.NewResolver(cat, cfg.AI)
	orchestrator := chat.NewOrchestrator(store, resolver, m, log, cfg.AI.TitleMaxLength)

	router := handler.NewRouter(handler.Deps{
		Config:       cfg,
		Log:          log,
		Catalog:      cat,
		Orchestrator: orchestrator,
		History:      chat.NewService(store, log),
		Settings:     settings.NewService(store, cat, cipher, log),
		Gatherer:     reg,
		Ping:         store.Ping,
	})

	log.WithFields(logrus.Fields{
		"driver":           cfg.Database.Driver,
		"default_provider": cat.Default().Key,
		"auth":             cfg.Auth.Enabled(),
	}).Info("services initialised")

	startServer(ctx, log, cfg.Server, router)
}

func startServer(ctx context.Context, log logrus.FieldLogger, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Infof("Parley backend listening on %s", addr)
	if err := runServer(ctx, srv, serverCfg.ShutdownTimeout); err != nil {
		log.WithError(err).Fatal("server error")
	}
}

func runServer(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
