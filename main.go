package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appinventory "github.com/Zhima-Mochi/minishop-checkout/internal/application/inventory"
	apporder "github.com/Zhima-Mochi/minishop-checkout/internal/application/order"
	apppayment "github.com/Zhima-Mochi/minishop-checkout/internal/application/payment"
	apppricing "github.com/Zhima-Mochi/minishop-checkout/internal/application/pricing"
	"github.com/Zhima-Mochi/minishop-checkout/internal/config"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/gateway"
	infraobs "github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/observability/oteltrace"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/observability/zaplogger"
	"github.com/Zhima-Mochi/minishop-checkout/internal/infrastructure/outbox"
	"github.com/Zhima-Mochi/minishop-checkout/internal/pkg/logging"
	httppresentation "github.com/Zhima-Mochi/minishop-checkout/internal/presentation/http"
	workerpresentation "github.com/Zhima-Mochi/minishop-checkout/internal/presentation/worker"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load(getenvDefault("ENV_FILE", ".env"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	baseLogger := logging.MustNewLogger(cfg.ServiceName, cfg.Env)
	defer func() { _ = baseLogger.Sync() }()
	zap.ReplaceGlobals(baseLogger)

	systemLogger := logging.WithTrace(baseLogger, logging.SystemTraceID, logging.SystemSpanID)

	registry := prometrics.New("")
	tel := infraobs.New(oteltrace.New(cfg.ServiceName), zaplogger.New(baseLogger), registry)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, systemLogger)
	if err != nil {
		systemLogger.Fatal("store_open_failed", zap.Error(err))
	}
	defer st.Close()

	if cfg.SeedFile != "" {
		if err := seedStores(ctx, cfg.SeedFile, st); err != nil {
			systemLogger.Fatal("seed_failed", zap.String("file", cfg.SeedFile), zap.Error(err))
		}
		systemLogger.Info("seed_applied", zap.String("file", cfg.SeedFile))
	}

	// In-process event bus standing in for an outbox relay.
	bus := outbox.NewBus(tel)
	bus.Start(ctx)

	gw := gateway.NewSimulated(cfg.Gateway.KeyID, cfg.Gateway.KeySecret, cfg.Gateway.DeclineRate)

	builder := apppricing.NewBuilder(st.carts, st.catalog, cfg.Pricing, tel)
	reservations := appinventory.NewReservationManager(st.stock, st.reservations, bus, cfg.ReservationTTL, tel)
	sessions := apppayment.NewSessionManager(st.sessions, gw, tel)
	verifier := apppayment.NewVerifier(st.sessions, cfg.Gateway.KeySecret, tel)
	orchestrator := apporder.NewOrchestrator(builder, reservations, sessions, verifier, st.orders, bus, tel)
	statusService := apporder.NewStatusService(st.orders, reservations.Restocker(), bus, tel)

	subscriber := workerpresentation.NewSubscriber(bus, tel)
	appinventory.NewWorker(subscriber, reservations.Restocker(), tel).Start()
	apppayment.NewWorker(subscriber, apppayment.NewRefundUseCase(gw, tel), tel).Start()
	apporder.NewNotificationWorker(st.orders, subscriber, apporder.NewLogNotifier(tel), tel).Start()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	sweeperDone := make(chan struct{})
	go func() {
		defer close(sweeperDone)
		appinventory.NewSweeper(reservations, cfg.SweepInterval).Run(sweepCtx)
	}()

	handler := httppresentation.NewHandler(orchestrator, statusService, registry.Handler(), tel)
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		systemLogger.Info("http_server_start",
			zap.String("addr", server.Addr),
			zap.String("store_backend", cfg.StoreBackend),
			zap.String("session_backend", cfg.SessionBackend),
			zap.String("cart_backend", cfg.CartBackend),
		)
		err := server.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			systemLogger.Error("http_server_error",
				zap.Error(err),
			)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		systemLogger.Error("http_server_shutdown_error",
			zap.Error(err),
		)
	} else {
		systemLogger.Info("http_server_stopped")
	}

	stopSweep()
	<-sweeperDone
	if err := bus.Stop(shutdownCtx); err != nil {
		systemLogger.Warn("event_bus_stop_error", zap.Error(err))
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
