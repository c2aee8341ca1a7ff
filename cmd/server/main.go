package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/rpattn/tabimport/internal/audit"
	"github.com/rpattn/tabimport/internal/config"
	"github.com/rpattn/tabimport/internal/db"
	"github.com/rpattn/tabimport/internal/ledger"
	"github.com/rpattn/tabimport/internal/metadata"
	"github.com/rpattn/tabimport/internal/middleware"
	"github.com/rpattn/tabimport/internal/pipeline"
	"github.com/rpattn/tabimport/internal/recordstore"
	"github.com/rpattn/tabimport/internal/repository"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Setup database connection
	conn, err := db.NewConnection(ctx, cfg.DB)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	// Run migrations
	if err := db.RunMigrations(cfg.DB); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	pool := conn.Pool

	// Seed the baseline entity catalog so a fresh database can accept
	// imports immediately.
	store := recordstore.NewPostgresStore(pool)
	if err := ensureBaselineSchemas(ctx, store); err != nil {
		log.Fatalf("Failed to register baseline schemas: %v", err)
	}

	// Create repositories
	deps := pipeline.Deps{
		Jobs:       repository.NewJobRepository(pool),
		Files:      repository.NewSourceFileRepository(pool),
		Profiles:   repository.NewColumnProfileRepository(pool),
		Mappings:   repository.NewFieldMappingRepository(pool),
		Extensions: repository.NewSchemaExtensionRepository(pool),
		Staging:    repository.NewStagingRowRepository(pool),
		Errors:     repository.NewValidationErrorRepository(pool),
		Commits:    repository.NewCommitLogRepository(pool),
		Store:      store,
		Metadata:   metadata.NewPostgresService(pool),
		Sinks: []audit.Sink{
			audit.NewLogrusSink(logrus.StandardLogger()),
			audit.NewPostgresSink(pool),
		},
		Tx: conn,
	}

	// Post-commit hooks: committed invoices post a balanced GL voucher.
	hooks := pipeline.NewHookRegistry()
	glService := ledger.NewPostgresLedger(pool)
	hooks.Register("invoices", pipeline.NewInvoiceHook(glService, "1500", "3000", "EUR"))
	deps.Hooks = hooks

	service := pipeline.NewService(cfg.Pipeline, deps)

	// Setup CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	apiHandler := middleware.LoggingMiddleware(corsHandler.Handler(pipeline.NewHTTPHandler(service)))

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      apiHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting migration pipeline server on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// ensureBaselineSchemas registers the stock entity types. Idempotent:
// existing registrations are updated in place.
func ensureBaselineSchemas(ctx context.Context, store *recordstore.PostgresStore) error {
	if err := store.RegisterSchema(ctx, "customers", []recordstore.FieldSpec{
		{Name: "id", Nullable: false, HasDefault: true},
		{Name: "tenant_id", Nullable: false, HasDefault: true},
		{Name: "created_at", Nullable: false, HasDefault: true},
		{Name: "name", Nullable: false},
		{Name: "email", Nullable: true},
		{Name: "phone", Nullable: true},
	}, [][]string{{"email"}}); err != nil {
		return err
	}

	return store.RegisterSchema(ctx, "invoices", []recordstore.FieldSpec{
		{Name: "id", Nullable: false, HasDefault: true},
		{Name: "tenant_id", Nullable: false, HasDefault: true},
		{Name: "created_at", Nullable: false, HasDefault: true},
		{Name: "number", Nullable: false},
		{Name: "total", Nullable: false},
		{Name: "customer", Nullable: true},
		{Name: "issued_on", Nullable: true},
	}, [][]string{{"number"}})
}
