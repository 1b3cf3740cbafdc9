package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/punchamoorthee/escrowledger/internal/api"
	"github.com/punchamoorthee/escrowledger/internal/config"
	"github.com/punchamoorthee/escrowledger/internal/events"
	"github.com/punchamoorthee/escrowledger/internal/logging"
	"github.com/punchamoorthee/escrowledger/internal/service"
	"github.com/punchamoorthee/escrowledger/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger := logging.Setup(logging.Options{
		Service: "escrow-api",
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg.StoreType, cfg.DBSource, cfg.LevelDBPath)
	if err != nil {
		log.Fatalf("Unable to open %s store: %v", cfg.StoreType, err)
	}
	defer st.Close()

	publisher := events.NewPublisher("escrow-engine", cfg.WebhookURL, logger)
	go publisher.Run(ctx)

	svc, err := service.New(ctx, service.Config{
		EngineAddress: cfg.Engine(),
		Owner:         cfg.Owner(),
		TokenSymbol:   cfg.TokenSymbol,
		TokenDecimals: cfg.TokenDecimals,
		Store:         st,
		Emitter:       events.Fanout{events.Metrics{}, publisher},
		Logger:        logger,
	})
	if err != nil {
		log.Fatalf("Unable to start marketplace: %v", err)
	}

	handler := api.NewHandler(svc, api.Options{
		AuthSecret:         cfg.AuthSecret,
		TrustAccountHeader: cfg.Env == "development",
		RatePerMinute:      cfg.RatePerMinute,
		RateBurst:          cfg.RateBurst,
		DevTools:           cfg.EnableDevTools,
		Logger:             logger,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("server_starting", "port", cfg.Port, "store", cfg.StoreType,
			"engine", cfg.Engine().Hex(), "dev_tools", cfg.EnableDevTools)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown_failed", "error", err)
	}
	logger.Info("server_stopped")
}
