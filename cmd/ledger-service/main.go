package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/trialstock/trialstock-backend/internal/ledger/events"
	"github.com/trialstock/trialstock-backend/internal/ledger/handler"
	"github.com/trialstock/trialstock-backend/internal/ledger/repository"
	"github.com/trialstock/trialstock-backend/internal/ledger/service"
	"github.com/trialstock/trialstock-backend/pkg/config"
	"github.com/trialstock/trialstock-backend/pkg/database"
	"github.com/trialstock/trialstock-backend/pkg/httputil"
	"github.com/trialstock/trialstock-backend/pkg/logger"
	"github.com/trialstock/trialstock-backend/pkg/messaging"
	"github.com/trialstock/trialstock-backend/pkg/permissions"
)

func main() {
	cfg, err := config.LoadWithValidation("ledger-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New("ledger-service", cfg.Server.Environment)
	log.Info().Msg("starting Ledger Service")

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	ledgerPub, err := messaging.NewPublisher(rmq, messaging.ExchangeLedgerEvents, "ledger-service", log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create ledger event publisher")
	}
	auditPub, err := messaging.NewPublisher(rmq, messaging.ExchangeAuditEvents, "ledger-service", log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create audit event publisher")
	}
	publisher := events.NewAuditPublisher(ledgerPub, auditPub, log)

	// Repositories
	stockRepo := repository.NewStockItemRepository(db)
	movementRepo := repository.NewMovementRepository(db)
	batchRepo := repository.NewDestructionBatchRepository(db)

	// Services
	movementService := service.NewMovementService(db, stockRepo, movementRepo, publisher, log)
	destructionService := service.NewDestructionService(db, stockRepo, movementRepo, batchRepo, publisher, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Sweeper.Enabled {
		sweeper := service.NewExpirySweeper(db, stockRepo, publisher, cfg.Sweeper.Interval, log)
		sweeper.Start(ctx)
		defer sweeper.Stop()
	}

	// Handlers
	movementHandler := handler.NewMovementHandler(movementService, log)
	stockHandler := handler.NewStockHandler(movementService, log)
	destructionHandler := handler.NewDestructionHandler(destructionService, log)
	visitHandler := handler.NewVisitHandler(log)

	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  "ledger-service",
			"database": db.Health(r.Context()),
			"rabbitmq": rmq.Health(),
		})
	})

	r.Route("/api/v1/ledger", func(r chi.Router) {
		r.Use(httputil.Auth(&cfg.JWT))

		// Movements
		r.Route("/movements", func(r chi.Router) {
			r.With(httputil.RequirePermission(permissions.LedgerRead)).
				Get("/", movementHandler.List)

			r.Group(func(r chi.Router) {
				r.Use(httputil.RequirePermission(permissions.LedgerMovementsCreate))
				r.Post("/reception", movementHandler.Reception)
				r.Post("/dispensation", movementHandler.Dispensation)
				r.Post("/return", movementHandler.Return)
				r.Post("/destruction", movementHandler.Destruction)
				r.Post("/transfer", movementHandler.Transfer)
			})
		})

		// Stock items
		r.Route("/stock-items", func(r chi.Router) {
			r.With(httputil.RequirePermission(permissions.LedgerRead)).
				Get("/", stockHandler.List)
			r.With(httputil.RequirePermission(permissions.LedgerRead)).
				Get("/{id}", stockHandler.Get)
			r.With(httputil.RequirePermission(permissions.LedgerRead)).
				Get("/{id}/movements", movementHandler.History)
			r.With(httputil.RequirePermission(permissions.LedgerQuarantineManage)).
				Post("/{id}/quarantine", stockHandler.Quarantine)
			r.With(httputil.RequirePermission(permissions.LedgerQuarantineManage)).
				Post("/{id}/release", stockHandler.Release)
		})

		// Destruction
		r.Route("/destruction", func(r chi.Router) {
			r.With(httputil.RequirePermission(permissions.LedgerRead)).
				Get("/eligible", destructionHandler.ListEligible)
			r.With(httputil.RequirePermission(permissions.LedgerRead)).
				Get("/batches", destructionHandler.ListBatches)
			r.With(httputil.RequirePermission(permissions.LedgerRead)).
				Get("/batches/{id}", destructionHandler.GetBatch)
			r.With(
				httputil.RequirePermission(permissions.LedgerMovementsCreate),
				httputil.RequirePermission(permissions.LedgerDestructionCreate),
			).Post("/batches", destructionHandler.CreateBatch)
		})

		// Visit calendar
		r.With(httputil.RequirePermission(permissions.LedgerRead)).
			Post("/visit-calendar/generate", visitHandler.Generate)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}

	log.Info().Msg("stopped")
}
