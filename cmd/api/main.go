package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"grievflow/auth"
	"grievflow/bid"
	"grievflow/completion"
	"grievflow/config"
	"grievflow/db"
	"grievflow/disagreement"
	"grievflow/escrow"
	"grievflow/eventlog"
	"grievflow/grievance"
	"grievflow/metrics"
	"grievflow/oracle"
	"grievflow/role"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg := config.Load(os.Getenv("GRIEVFLOW_CONFIG"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPoolWithOptions(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns: cfg.PoolMaxConns,
	})
	if err != nil {
		logger.Error("bootstrap database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	events := &eventlog.PGWriter{}

	authSvc := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)
	roleSvc := role.NewService(role.NewRepository(pool))
	oracleSvc := oracle.NewService(pool, oracle.NewRepository(pool), roleSvc, events)
	grievanceSvc := grievance.NewService(pool, grievance.NewRepository(pool), events)
	bidSvc := bid.NewService(pool, bid.NewRepository(pool), roleSvc, oracleSvc, events)
	treasury := escrow.NewLedger(pool)
	escrowSvc := escrow.NewService(pool, escrow.NewRepository(pool), roleSvc, treasury, events)
	completionSvc := completion.NewService(pool, completion.NewRepository(pool), roleSvc, escrowSvc, events)
	disagreementSvc := disagreement.NewService(pool, disagreement.NewRepository(pool), roleSvc, events)

	server := &Server{
		authService:         authSvc,
		grievanceService:    grievanceSvc,
		bidService:          bidSvc,
		escrowService:       escrowSvc,
		completionService:   completionSvc,
		disagreementService: disagreementSvc,
		oracleService:       oracleSvc,
		roleService:         roleSvc,
		metrics:             metrics.NewRegistry(),
		logger:              logger,
	}

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.routes(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()

	logger.Info("listening", "addr", cfg.ListenAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("serve", "error", err)
		os.Exit(1)
	}
}
