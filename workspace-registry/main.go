package main

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/animus-labs/animus-pipelines/internal/platform/auditlog"
	"github.com/animus-labs/animus-pipelines/internal/platform/auth"
	"github.com/animus-labs/animus-pipelines/internal/platform/env"
	"github.com/animus-labs/animus-pipelines/internal/platform/httpserver"
	"github.com/animus-labs/animus-pipelines/internal/platform/postgres"
	"github.com/animus-labs/animus-pipelines/internal/repo/memory"
	repopg "github.com/animus-labs/animus-pipelines/internal/repo/postgres"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	storePostgres = "postgres"
	storeMemory   = "memory"
)

func main() {
	level, err := env.Level("REGISTRY_LOG_LEVEL", slog.LevelInfo)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("invalid env", "error", err)
		os.Exit(2)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpCfg, err := httpserver.ConfigFromEnv(serviceName, "REGISTRY", ":8080")
	if err != nil {
		logger.Error("invalid http config", "error", err)
		os.Exit(2)
	}
	publicURL := env.String("REGISTRY_PUBLIC_URL", "http://localhost"+httpCfg.Addr)
	storeKind := strings.ToLower(strings.TrimSpace(env.String("REGISTRY_STORE", storePostgres)))

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}

	var (
		db     *sql.DB
		s      stores
		sink   auditlog.Sink
		checks []httpserver.ReadinessCheck
	)
	switch storeKind {
	case storePostgres:
		dbCfg, err := postgres.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid database config", "error", err)
			os.Exit(2)
		}
		db, err = postgres.Open(ctx, dbCfg)
		if err != nil {
			logger.Error("database unavailable", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()
		if dbCfg.AutoMigrate {
			if err := postgres.Migrate(ctx, db, migrations, "migrations"); err != nil {
				logger.Error("database migration failed", "error", err)
				os.Exit(1)
			}
		}
		s = stores{
			Workspaces:   repopg.NewWorkspaceStore(db),
			Datasets:     repopg.NewDatasetStore(db),
			Environments: repopg.NewEnvironmentStore(db),
			Computes:     repopg.NewComputeStore(db),
			Pipelines:    repopg.NewPipelineStore(db),
		}
		sink = auditlog.SQLSink{DB: db}
		checks = append(checks, httpserver.ReadinessCheck{
			Name:  "postgres",
			Check: auth.WithTimeout(750*time.Millisecond, db.PingContext),
		})
	case storeMemory:
		mem := memory.New()
		s = stores{
			Workspaces:   mem.Workspaces(),
			Datasets:     mem.Datasets(),
			Environments: mem.Environments(),
			Computes:     mem.Computes(),
			Pipelines:    mem.Pipelines(),
		}
		sink = auditlog.LogSink{Logger: logger}
		logger.Warn("using in-memory store; data is lost on restart")
	default:
		logger.Error("invalid env", "error", fmt.Sprintf("REGISTRY_STORE must be one of: postgres, memory (got %q)", storeKind))
		os.Exit(2)
	}

	startupCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	authn, err := auth.NewAuthenticator(startupCtx, authCfg)
	cancel()
	if err != nil {
		logger.Error("auth init failed", "error", err)
		os.Exit(1)
	}
	if authCfg.Mode == auth.ModeDisabled {
		logger.Warn("authentication disabled; every caller is admin")
	}

	svc := newRegistryService(logger, s, sink, publicURL)
	handler, err := newHandler(logger, svc, authn, sink, checks...)
	if err != nil {
		logger.Error("handler init failed", "error", err)
		os.Exit(1)
	}

	if err := httpserver.Run(ctx, logger, httpCfg, httpserver.Wrap(logger, serviceName, handler)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// newHandler assembles the registry routes behind authentication and request
// validation. Health endpoints bypass both.
func newHandler(logger *slog.Logger, svc *registryService, authn auth.Authenticator, sink auditlog.Sink, checks ...httpserver.ReadinessCheck) (http.Handler, error) {
	validator, err := newRequestValidator()
	if err != nil {
		return nil, err
	}

	apiMux := http.NewServeMux()
	newRegistryAPI(logger, svc).register(apiMux)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc("/readyz", httpserver.ReadyzWithChecks(serviceName, checks...))
	mux.Handle("/", validator.Wrap(apiMux))

	audit := auditlog.AuthDenyFunc(sink, serviceName)
	return auth.Middleware{
		Logger:        logger,
		Authenticator: authn,
		Authorize:     auth.RouteRoleAuthorizer(),
		Audit: func(ctx context.Context, event auth.DenyEvent) error {
			auditCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
			defer cancel()
			return audit(auditCtx, event)
		},
		SkipPrefixes: []string{"/healthz", "/readyz"},
	}.Wrap(mux), nil
}
