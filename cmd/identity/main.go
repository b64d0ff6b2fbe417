package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/fieldcrew/identity/internal/app"
	"github.com/fieldcrew/identity/internal/assignments"
	"github.com/fieldcrew/identity/internal/grants"
	"github.com/fieldcrew/identity/internal/identity"
	"github.com/fieldcrew/identity/internal/observability"
	"github.com/fieldcrew/identity/internal/personnel"
	"github.com/fieldcrew/identity/internal/platform/cache"
	"github.com/fieldcrew/identity/internal/platform/db"
	"github.com/fieldcrew/identity/internal/platform/httpx"
	"github.com/fieldcrew/identity/internal/privileges"
	"github.com/fieldcrew/identity/internal/rbac"
	"github.com/fieldcrew/identity/internal/roles"
	"github.com/fieldcrew/identity/internal/shared"
	"github.com/fieldcrew/identity/internal/users"
	"github.com/fieldcrew/identity/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if cfg.DBMigrate {
		if err := db.Migrate(cfg.PGDSN, logger); err != nil {
			logger.Error("migrate database", slog.Any("error", err))
			os.Exit(1)
		}
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	errResp := httpx.ErrorResponder{Logger: logger, Production: cfg.IsProduction()}
	tx := db.NewTxManager(pool)

	authClient := identity.NewClient(identity.Config{
		BaseURL:    cfg.AuthServiceURL,
		ServiceKey: cfg.AuthServiceKey,
		Timeout:    cfg.ExternalTimeout,
		RetryCount: cfg.ExternalRetryCount,
	})
	verifier := identity.NewCachedVerifier(authClient, redisClient, cfg.TokenCacheTTL, logger)

	roleService := roles.NewService(roles.NewRepository(pool))
	catalog, err := roles.NewCatalog(roleService, cfg.RoleCacheSize)
	if err != nil {
		logger.Error("init role catalog", slog.Any("error", err))
		os.Exit(1)
	}
	privilegeService := privileges.NewService(privileges.NewRepository(pool))
	grantService := grants.NewService(grants.NewRepository(pool), roleService, privilegeService, tx)
	assignmentService := assignments.NewService(assignments.NewRepository(pool), roleService,
		assignments.WithApprovalRequired(cfg.AssignmentRequireApproved))
	resolver := rbac.NewResolver(assignmentService, grantService, catalog)

	queue := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue close", slog.Any("error", err))
		}
	}()

	userService := users.NewService(users.NewRepository(pool), assignmentService, tx, users.Options{
		ActiveOnCreate:    cfg.UserActiveOnCreate,
		InviteRedirectURL: cfg.AuthInviteRedirectURL,
	}, logger)
	userService.SetCredentialProvider(authClient)
	if cfg.PersonnelServiceURL != "" {
		userService.SetPersonnelDirectory(personnel.NewClient(cfg.PersonnelServiceURL, cfg.AuthServiceKey, cfg.ExternalTimeout))
	}
	userService.SetCleanupQueue(queue)
	userService.SetResolver(resolver)
	userService.SetAuditRecorder(shared.NewAuditLogger(pool))
	userService.SetCleanupObserver(metrics)

	guards := rbac.Middleware{
		Resolver: resolver,
		Verifier: verifier,
		Users:    userService,
		Logger:   logger,
		Metrics:  metrics,
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Authenticate:       guards.Authenticate,
		UsersHandler:       users.NewHandler(logger, userService, guards, errResp),
		RolesHandler:       roles.NewHandler(logger, roleService, guards, errResp),
		PrivilegesHandler:  privileges.NewHandler(logger, privilegeService, guards, errResp),
		GrantsHandler:      grants.NewHandler(logger, grantService, guards, errResp),
		AssignmentsHandler: assignments.NewHandler(logger, assignmentService, guards, errResp),
		PermissionsHandler: rbac.NewPermissionsHandler(resolver, errResp),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Readiness: []app.ReadinessChecker{
			db.NewReadinessChecker(pool),
			cache.NewReadinessChecker(redisClient),
		},
		Metrics: metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
