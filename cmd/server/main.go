package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-procurement-approvals/internal/client"
	"github.com/pesio-ai/be-procurement-approvals/internal/config"
	"github.com/pesio-ai/be-procurement-approvals/internal/database"
	"github.com/pesio-ai/be-procurement-approvals/internal/handler"
	"github.com/pesio-ai/be-procurement-approvals/internal/logger"
	"github.com/pesio-ai/be-procurement-approvals/internal/metrics"
	"github.com/pesio-ai/be-procurement-approvals/internal/middleware"
	"github.com/pesio-ai/be-procurement-approvals/internal/repository"
	"github.com/pesio-ai/be-procurement-approvals/internal/repository/memory"
	"github.com/pesio-ai/be-procurement-approvals/internal/service"
)

// stores groups the repository ports for the selected backend
type stores struct {
	projects     service.ProjectRegistry
	bands        service.ThresholdBandStore
	requisitions service.RequisitionStore
	decisions    service.DecisionStore
	history      service.StatusHistoryStore
	ping         func(context.Context) error
	close        func()
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Service.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	if err := run(cfg, log); err != nil {
		log.Error().Err(err).Msg("Service terminated")
		os.Exit(1)
	}
}

// run wires and serves the service until a signal arrives or a server fails.
// Every resource is released through defers before it returns.
func run(cfg *config.Config, log *logger.Logger) error {
	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Str("storage", cfg.Storage.Backend).
		Msg("Starting Procurement Approvals Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seed *config.Seed
	if cfg.Storage.SeedFile != "" {
		var err error
		seed, err = config.LoadSeed(cfg.Storage.SeedFile)
		if err != nil {
			return fmt.Errorf("load seed file %s: %w", cfg.Storage.SeedFile, err)
		}
	}

	// Initialize repositories
	var (
		st  *stores
		err error
	)
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		st, err = memoryStores(ctx, seed)
	default:
		st, err = postgresStores(ctx, cfg, seed, log)
	}
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	defer st.close()

	// External project registry overrides the local table
	if cfg.Projects.BaseURL != "" {
		st.projects = client.NewProjectsClient(cfg.Projects.BaseURL, cfg.Projects.Timeout)
		log.Info().Str("url", cfg.Projects.BaseURL).Msg("Using external project registry")
	}

	// Initialize notification publisher
	var notifier service.NotificationService = service.NopNotifier{}
	if cfg.NATS.URL != "" {
		nc, err := client.ConnectNATS(cfg.NATS.URL, cfg.NATS.Name, log.Logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := nc.Drain(); err != nil {
				log.Warn().Err(err).Msg("NATS drain failed")
			}
		}()
		notifier = client.NewNotificationPublisher(nc, cfg.NATS.SubjectPrefix, log.Logger)
		log.Info().Str("url", cfg.NATS.URL).Str("prefix", cfg.NATS.SubjectPrefix).Msg("NATS notification publisher initialized")
	} else {
		log.Warn().Msg("NATS_URL not set, notifications disabled")
	}

	m := metrics.New("procurement")

	// Initialize services
	resolver := service.NewApprovalResolver(st.projects, st.bands)
	ledger := service.NewApprovalLedger(st.decisions, st.requisitions, m, log)
	tracker := service.NewWorkflowStatusTracker(st.requisitions, st.history, st.projects, resolver, ledger, notifier, m, log)
	matrix := service.NewThresholdMatrixService(st.bands, st.projects, log)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(tracker, ledger, resolver, matrix, log)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := st.ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})
	mux.Handle("/metrics", m.Handler())

	httpHandler.RegisterRoutes(mux)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.Metrics(m)(h)
	h = middleware.RequestID(h)
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(cfg.Server.RequestTimeout)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// gRPC server
	grpcHandler := handler.NewGRPCHandler(tracker, resolver, log.Logger)

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		handler.UnaryRecovery(log.Logger),
		handler.UnaryLogging(log.Logger),
	))
	handler.RegisterApprovalServiceServer(grpcServer, grpcHandler)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(handler.ApprovalServiceName, healthpb.HealthCheckResponse_SERVING)

	if cfg.GRPC.Reflection {
		reflection.Register(grpcServer) // Enable reflection for debugging
	}

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
	if err != nil {
		return fmt.Errorf("create gRPC listener: %w", err)
	}

	serveErr := make(chan error, 2)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- fmt.Errorf("HTTP server: %w", err)
		}
	}()
	go func() {
		log.Info().Int("port", cfg.GRPC.Port).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			serveErr <- fmt.Errorf("gRPC server: %w", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var failure error
	select {
	case <-quit:
		log.Info().Msg("Shutting down server...")
	case failure = <-serveErr:
		log.Error().Err(failure).Msg("Server failed, shutting down")
	}
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	// Stop gRPC server gracefully
	grpcServer.GracefulStop()

	log.Info().Msg("Server stopped")
	return failure
}

func memoryStores(ctx context.Context, seed *config.Seed) (*stores, error) {
	store := memory.New()
	if seed != nil {
		if err := store.Load(ctx, seed); err != nil {
			return nil, fmt.Errorf("load seed: %w", err)
		}
	}
	return &stores{
		projects:     store.Projects(),
		bands:        store.Bands(),
		requisitions: store.Requisitions(),
		decisions:    store.Decisions(),
		history:      store.History(),
		ping:         func(context.Context) error { return nil },
		close:        func() {},
	}, nil
}

func postgresStores(ctx context.Context, cfg *config.Config, seed *config.Seed, log *logger.Logger) (*stores, error) {
	db, err := database.New(ctx, database.Config{
		DSN:         cfg.Database.DSN(),
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	})
	if err != nil {
		return nil, err
	}
	log.Info().Msg("Database connection established")

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info().Msg("Database migrations applied")
	}

	projectRepo := repository.NewProjectRepository(db)
	bandRepo := repository.NewThresholdBandRepository(db)
	decisionRepo := repository.NewApprovalDecisionRepository(db)

	if seed != nil {
		created, err := repository.ApplySeed(ctx, projectRepo, bandRepo, seed)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("apply seed: %w", err)
		}
		log.Info().Int("bands_created", created).Msg("Seed applied")
	}

	return &stores{
		projects:     projectRepo,
		bands:        bandRepo,
		requisitions: repository.NewRequisitionRepository(db, decisionRepo),
		decisions:    decisionRepo,
		history:      repository.NewStatusHistoryRepository(db),
		ping:         db.Ping,
		close:        db.Close,
	}, nil
}
