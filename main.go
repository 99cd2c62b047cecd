package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/geosql-gateway/pkg/adapters/datasource"
	"github.com/ekaya-inc/geosql-gateway/pkg/adapters/datasource/postgres"
	"github.com/ekaya-inc/geosql-gateway/pkg/apperrors"
	"github.com/ekaya-inc/geosql-gateway/pkg/catalog"
	"github.com/ekaya-inc/geosql-gateway/pkg/config"
	"github.com/ekaya-inc/geosql-gateway/pkg/handlers"
	"github.com/ekaya-inc/geosql-gateway/pkg/logging"
	"github.com/ekaya-inc/geosql-gateway/pkg/middleware"
	"github.com/ekaya-inc/geosql-gateway/pkg/retry"
	"github.com/ekaya-inc/geosql-gateway/pkg/rewrite"
	"github.com/ekaya-inc/geosql-gateway/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	sqlFlag := flag.String("sql", "", "check a single statement and print the result instead of serving")
	question := flag.String("question", "", "question used as rewrite intent for -sql")
	execute := flag.Bool("execute", false, "with -sql, run the statement if it is admitted")
	rowCap := flag.Int("row-cap", 0, "with -execute, maximum rows to return (0 uses the configured default)")
	flag.Parse()

	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env, cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Env),
		zap.String("database", fmt.Sprintf("%s@%s:%d/%s", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)),
		zap.Strings("allowed_schemas", cfg.Gateway.AllowedSchemas),
		zap.Strings("search_path", cfg.Gateway.SearchPath))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	overrides, err := config.LoadTableOverrides(cfg.Gateway.ContextOverridesFile)
	if err != nil {
		logger.Fatal("Failed to load context overrides", zap.Error(err))
	}

	startup := retry.DefaultConfig()
	startup.OnRetry = func(attempt int, err error) {
		logger.Warn("Database not ready, retrying",
			zap.Int("attempt", attempt),
			zap.String("error", logging.SanitizeError(err)))
	}

	var adapter *postgres.Adapter
	err = retry.DoIfRetryable(ctx, startup, func() error {
		a, err := postgres.NewAdapter(ctx, &postgres.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Database,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.MaxConnections,
		}, logger)
		if err != nil {
			return err
		}
		if err := a.TestConnection(ctx); err != nil {
			_ = a.Close()
			return err
		}
		adapter = a
		return nil
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.String("error", logging.SanitizeError(err)))
	}
	defer adapter.Close()

	cat := catalog.New(logger)
	discoverer := postgres.NewSchemaDiscoverer(adapter.Pool(), logger)
	if err := retry.DoIfRetryable(ctx, startup, func() error {
		return cat.Load(ctx, discoverer, cfg.Gateway.AllowedSchemas)
	}); err != nil {
		logger.Fatal("Failed to load schema catalog", zap.String("error", logging.SanitizeError(err)))
	}

	executor := postgres.NewQueryExecutor(adapter.Pool(), postgres.ExecutorConfig{
		Session: datasource.SessionSettings{
			StatementTimeout:         cfg.Gateway.StatementTimeout,
			IdleInTransactionTimeout: cfg.Gateway.IdleInTransactionTimeout,
			SearchPath:               cfg.Gateway.SearchPath,
		},
		ExplainTimeout: cfg.Gateway.ExplainTimeout,
		DefaultRowCap:  cfg.Gateway.DefaultRowCap,
	}, logger)

	gateway := services.NewQueryGateway(
		services.NewSchemaContextBuilder(cat, cfg.Gateway.ContextCharBudget, logger),
		rewrite.New(cat, logger),
		services.NewCostGate(executor, cfg.Gateway.CostCeiling, logger),
		executor,
		nil,
		overrides,
		logger,
	)

	if *sqlFlag != "" {
		code := checkOnce(ctx, gateway, services.QueryRequest{
			Question: *question,
			SQL:      *sqlFlag,
			Execute:  *execute,
			RowCap:   *rowCap,
		})
		_ = adapter.Close()
		_ = logger.Sync()
		os.Exit(code)
	}

	mux := http.NewServeMux()
	handlers.NewHealthHandler(cfg, adapter, cat, logger).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("Starting geosql-gateway",
		zap.String("addr", server.Addr),
		zap.Int("catalog_tables", cat.Len()))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

// checkOnce runs req through the gateway and prints the result and any
// rejection as JSON. The exit code is 0 only for admitted statements.
func checkOnce(ctx context.Context, gateway services.QueryGateway, req services.QueryRequest) int {
	result, err := gateway.Run(ctx, req)

	out := struct {
		*services.QueryResult
		Error     string `json:"error,omitempty"`
		ErrorKind string `json:"error_kind,omitempty"`
	}{QueryResult: result}
	if err != nil {
		out.Error = logging.SanitizeError(err)
		out.ErrorKind = apperrors.KindOf(err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(out); encErr != nil {
		log.Printf("Failed to encode result: %v", encErr)
		return 2
	}
	if err != nil {
		return 1
	}
	return 0
}
