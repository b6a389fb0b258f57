package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/pharmledger/pharmledger-backend/internal/ledger/consumers"
	"github.com/pharmledger/pharmledger-backend/internal/ledger/domain"
	"github.com/pharmledger/pharmledger-backend/internal/ledger/events"
	"github.com/pharmledger/pharmledger-backend/internal/ledger/handler"
	"github.com/pharmledger/pharmledger-backend/internal/ledger/pages"
	"github.com/pharmledger/pharmledger-backend/internal/ledger/repository"
	"github.com/pharmledger/pharmledger-backend/internal/ledger/service"
	"github.com/pharmledger/pharmledger-backend/internal/ledger/store"
	ledgersync "github.com/pharmledger/pharmledger-backend/internal/ledger/sync"
	"github.com/pharmledger/pharmledger-backend/pkg/config"
	"github.com/pharmledger/pharmledger-backend/pkg/database"
	"github.com/pharmledger/pharmledger-backend/pkg/httputil"
	"github.com/pharmledger/pharmledger-backend/pkg/logger"
	"github.com/pharmledger/pharmledger-backend/pkg/messaging"
	"github.com/pharmledger/pharmledger-backend/pkg/session"
)

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation("ledger-service")
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New("ledger-service", cfg.Server.Environment)
	log.Info().Msg("starting Ledger Service")

	// Connect to database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Connect to RabbitMQ
	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	// Initialize repositories
	ledgerRepo := repository.NewLedgerRepository(db)
	pharmacyRepo := repository.NewPharmacyRepository(db)
	staffRepo := repository.NewStaffRepository(db)
	pageRepo := repository.NewPageRepository(db)

	// In-memory ledger state and the coordinator driving debounced writes
	ledgerStore := store.New()
	coordinator := ledgersync.New(ledgerStore, ledgerRepo, nil, cfg.Sync, log)

	// Initialize event publisher, tagged with this session so our own
	// broadcasts are recognized and dropped on the way back in
	publisher, err := events.NewLedgerEventPublisher(rmq, coordinator.SessionID(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}
	coordinator.OnPersisted(func(ledger domain.MonthlyLedger) {
		publisher.PublishLedgerUpdated(context.Background(), ledger)
	})

	// Page projector over the ledger store
	projector := pages.New(ledgerStore, log)

	// Initialize services
	sessions := session.NewManager(&cfg.JWT)
	ledgerService := service.NewLedgerService(ledgerStore, coordinator, pharmacyRepo, publisher, log)
	pageService := service.NewPageService(projector, pageRepo, coordinator, publisher, log)
	reportService := service.NewReportService(ledgerStore, ledgerRepo, pharmacyRepo, cfg.Sync, log)
	adminService := service.NewAdminService(pharmacyRepo, staffRepo, sessions, log)

	// Initialize handlers
	ledgerHandler := handler.NewLedgerHandler(ledgerService, log)
	pageHandler := handler.NewPageHandler(pageService, log)
	reportHandler := handler.NewReportHandler(reportService, log)
	adminHandler := handler.NewAdminHandler(adminService, log)

	// Start ledger event consumer for cross-session broadcasts
	ledgerConsumer, err := consumers.NewLedgerEventConsumer(rmq, coordinator, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create ledger event consumer")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ledgerConsumer.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start ledger event consumer")
	}

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))

	// CORS - supports subdomain-based multi-tenancy
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc: func(r *http.Request, origin string) bool {
			if origin == "http://localhost:3000" || origin == "http://localhost:5173" {
				return true
			}
			// Allow *.localhost:3000 subdomains for development
			if strings.HasSuffix(origin, ".localhost:3000") {
				return true
			}
			// Allow pharmledger.de and its tenant subdomains
			return origin == "https://pharmledger.de" || strings.HasSuffix(origin, ".pharmledger.de")
		},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  "ledger-service",
			"database": db.Health(r.Context()),
			"rabbitmq": rmq.Health(),
		})
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Login is the only endpoint reachable without a session token
		r.Post("/auth/login", adminHandler.Login)

		r.Group(func(r chi.Router) {
			r.Use(httputil.SessionMiddleware(sessions))

			// Pharmacy administration
			r.Route("/pharmacies", func(r chi.Router) {
				r.Get("/", adminHandler.ListPharmacies)
				r.Post("/", adminHandler.CreatePharmacy)
				r.Get("/{pharmacyID}", adminHandler.GetPharmacy)
				r.Put("/{pharmacyID}/settings", adminHandler.UpdatePharmacySettings)
				r.Delete("/{pharmacyID}", adminHandler.DeletePharmacy)

				// Ledger months
				r.Route("/{pharmacyID}/ledgers/{month}", func(r chi.Router) {
					r.Post("/", ledgerHandler.OpenMonth)
					r.Get("/", ledgerHandler.GetMonth)
					r.Post("/flush", ledgerHandler.Flush)
					r.Post("/items", ledgerHandler.AddItem)
					r.Patch("/items/{index}", ledgerHandler.UpdateItem)
					r.Delete("/items/{index}", ledgerHandler.DeleteItem)
					r.Put("/items/{index}/dispense", ledgerHandler.SetDispense)
					r.Put("/items/{index}/incoming", ledgerHandler.SetIncoming)

					// Analytics over the same scope
					r.Get("/reports/shortage", reportHandler.Shortage)
					r.Get("/reports/consumption", reportHandler.Consumption)
					r.Get("/reports/valuation", reportHandler.Valuation)
					r.Get("/reports/incoming-by-source", reportHandler.IncomingBySource)
				})
			})

			// Staff administration
			r.Route("/staff", func(r chi.Router) {
				r.Get("/", adminHandler.ListStaff)
				r.Post("/", adminHandler.CreateStaff)
				r.Delete("/{staffID}", adminHandler.DeleteStaff)
			})

			// Custom pages
			r.Route("/pages", func(r chi.Router) {
				r.Get("/", pageHandler.List)
				r.Post("/", pageHandler.Create)
				r.Get("/{pageID}", pageHandler.Get)
				r.Delete("/{pageID}", pageHandler.Delete)
				r.Post("/{pageID}/items", pageHandler.AddItems)
				r.Delete("/{pageID}/items/{itemName}", pageHandler.RemoveItem)
				r.Put("/{pageID}/items/{itemName}/note", pageHandler.SetNote)
				r.Put("/{pageID}/items/{itemName}/everywhere", pageHandler.UpdateItemInBoth)
				r.Post("/{pageID}/sync", pageHandler.Sync)
			})
		})
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Cancel context to stop consumers
	cancel()

	// Push pending ledger edits before the process exits
	coordinator.FlushAll()
	coordinator.Close()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
