package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/easydata-inc/easydata-engine/pkg/audit"
	"github.com/easydata-inc/easydata-engine/pkg/config"
	"github.com/easydata-inc/easydata-engine/pkg/crypto"
	"github.com/easydata-inc/easydata-engine/pkg/database"
	"github.com/easydata-inc/easydata-engine/pkg/fanout"
	"github.com/easydata-inc/easydata-engine/pkg/handlers"
	"github.com/easydata-inc/easydata-engine/pkg/logging"
	"github.com/easydata-inc/easydata-engine/pkg/middleware"
	"github.com/easydata-inc/easydata-engine/pkg/ownership"
	"github.com/easydata-inc/easydata-engine/pkg/planner"
	"github.com/easydata-inc/easydata-engine/pkg/registry"
	"github.com/easydata-inc/easydata-engine/pkg/router"
	"github.com/easydata-inc/easydata-engine/pkg/schemacache"
	"github.com/easydata-inc/easydata-engine/pkg/session"
	"github.com/easydata-inc/easydata-engine/pkg/vault"

	// Registers the built-in engines.
	_ "github.com/easydata-inc/easydata-engine/pkg/engine/mongo"
	_ "github.com/easydata-inc/easydata-engine/pkg/engine/mssql"
	_ "github.com/easydata-inc/easydata-engine/pkg/engine/mysql"
	_ "github.com/easydata-inc/easydata-engine/pkg/engine/postgres"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Sugar().Infof("Starting easydata-engine %s (env: %s)", cfg.Version, cfg.Env)

	ctx := context.Background()

	// Engine database (audit records) plus migrations.
	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		logger.Sugar().Fatalf("Failed to connect to engine database: %v", err)
	}
	defer db.Close()

	sqlDB := stdlib.OpenDBFromPool(db.Pool)
	if err := database.RunMigrations(sqlDB, cfg.Database.MigrationsPath, logger); err != nil {
		logger.Sugar().Fatalf("Failed to run migrations: %v", err)
	}
	_ = sqlDB.Close()

	redisClient, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Sugar().Fatalf("Failed to connect to Redis: %v", err)
	}
	if redisClient == nil {
		logger.Sugar().Fatalf("Redis is required for schema cache and context routing")
	}

	encryptor, err := crypto.NewCredentialEncryptor(cfg.CredentialsKey)
	if err != nil {
		logger.Sugar().Fatalf("Failed to create credential encryptor: %v", err)
	}

	// Core subsystems.
	reg := registry.New(encryptor, logger)
	reg.SetSecurityAuditor(audit.NewSecurityAuditor(logger))

	vaultClient := vault.NewClient(&cfg.Vault, logger)

	sessions := session.NewManager(reg, time.Duration(cfg.Session.TTLMinutes)*time.Minute, logger)

	schemaStore := schemacache.NewRedisStore(redisClient, time.Duration(cfg.SchemaCache.TTLSeconds)*time.Second)
	schemaCache := schemacache.New(schemaStore, reg, time.Duration(cfg.SchemaCache.TTLSeconds)*time.Second, logger)

	listener := schemacache.NewListener(redisClient, cfg.SchemaCache.Channel, schemaCache, logger)
	listener.Start()

	ownershipClient := ownership.NewClient(cfg.Backend.BaseURL, cfg.Backend.APIToken,
		time.Duration(cfg.Backend.TimeoutSeconds)*time.Second, logger)

	contextStore := router.NewRedisContextStore(redisClient, time.Duration(cfg.Router.ContextTTLSeconds)*time.Second)
	contextRouter := router.New(contextStore, ownershipClient, router.NewRegexSwitchDetector(), cfg.Router, logger)

	queryPlanner, err := planner.New(cfg.Planner, logger)
	if err != nil {
		logger.Sugar().Fatalf("Failed to create planner: %v", err)
	}

	recorder := audit.NewPostgresRecorder(db, logger)
	coordinator := fanout.New(reg, schemaCache, queryPlanner, ownershipClient, recorder,
		time.Duration(cfg.Planner.SubQueryTimeoutSeconds)*time.Second, logger)

	// HTTP surface.
	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewConnectionsHandler(reg, sessions, logger).RegisterRoutes(mux)
	handlers.NewDatasourcesHandler(reg, sessions, vaultClient, schemaCache, logger).RegisterRoutes(mux)
	handlers.NewQueryHandler(reg, sessions, contextRouter, queryPlanner, schemaCache, coordinator, logger).RegisterRoutes(mux)

	handler := middleware.Chain(mux,
		middleware.Recover(logger),
		middleware.RequestLogger(logger),
	)

	server := &http.Server{
		Addr:    cfg.BindAddr + ":" + cfg.Port,
		Handler: handler,
	}

	go func() {
		logger.Sugar().Infof("Listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Sugar().Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown: stop accepting work, then drain connections.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Sugar().Warnf("HTTP shutdown: %v", err)
	}

	listener.Stop()
	sessions.Stop()
	reg.CloseAll(shutdownCtx)

	logger.Info("Shutdown complete")
}
