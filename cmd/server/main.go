// Package main is the entry point for the missions data API server binary.
// It dispatches its subcommands (serve, migrate, admin-token, issue-key and version)
// via a simple switch on os.Args so the binary's full CLI surface is readable in one
// place. The serve command runs migrations on startup so a freshly deployed container
// never needs a separate migration step.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/missionsdata/missions-api/internal/api"
	"github.com/missionsdata/missions-api/internal/auth"
	"github.com/missionsdata/missions-api/internal/config"
	"github.com/missionsdata/missions-api/internal/db"
	"github.com/missionsdata/missions-api/internal/db/models"
	"github.com/missionsdata/missions-api/internal/db/repositories"
	"github.com/missionsdata/missions-api/internal/jobs"
	"github.com/missionsdata/missions-api/internal/middleware"
	"github.com/missionsdata/missions-api/internal/safego"
	"github.com/missionsdata/missions-api/internal/telemetry"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const usage = `usage: server [command]

commands:
  serve                                   run the API server (default)
  migrate up|down                         apply or roll back database migrations
  admin-token <subject>                   mint an admin session token
  issue-key <name> <email> [description]  create an API key and print it once
  version                                 print the build version`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run(args []string) error {
	command := "serve"
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}

	if command == "version" {
		fmt.Printf("missions-api %s\n", version)
		return nil
	}

	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	switch command {
	case "serve":
		return serve(cfg, configPath)
	case "migrate":
		if len(args) != 1 {
			return fmt.Errorf("usage: migrate <up|down>")
		}
		return runMigrations(cfg, args[0])
	case "admin-token":
		if len(args) != 1 {
			return fmt.Errorf("usage: admin-token <subject>")
		}
		return adminToken(cfg, args[0])
	case "issue-key":
		if len(args) < 2 {
			return fmt.Errorf("usage: issue-key <name> <email> [usage description]")
		}
		return issueKey(cfg, args[0], args[1], strings.Join(args[2:], " "))
	default:
		return fmt.Errorf("unknown command: %s\n%s", command, usage)
	}
}

func serve(cfg *config.Config, configPath string) error {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	tokens, err := auth.NewAdminTokens(cfg.Auth.AdminSecret(), cfg.Auth.Admin.TokenTTL)
	if err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Connect(ctx, cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()
	slog.Info("connected to database",
		"host", cfg.Database.Host,
		"port", cfg.Database.Port,
		"name", cfg.Database.Name,
		"ssl_mode", cfg.Database.SSLMode,
	)

	telemetry.StartDBStatsCollector(ctx, database, 15*time.Second)

	if err := db.RunMigrations(database, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if v, dirty, err := db.GetMigrationVersion(database); err != nil {
		slog.Warn("failed to read migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", v, "dirty", dirty)
	}

	if err := config.Watch(configPath, func(next *config.Config) {
		telemetry.SetLevel(next.Logging.Level)
	}); err != nil {
		slog.Warn("config hot reload disabled", "error", err)
	}

	apiKeys := repositories.NewAPIKeyRepository(database)
	auditLogs := repositories.NewAuditRepository(database)

	var groups repositories.PeopleGroupReader = repositories.NewPeopleGroupRepository(db.Wrap(database))
	checks := map[string]api.ReadinessCheck{}
	if cfg.Cache.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
		})
		defer rdb.Close()
		groups = repositories.NewCachedPeopleGroups(groups, rdb, cfg.Cache.TTL)
		checks["cache"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
		slog.Info("people group cache enabled", "addr", cfg.Cache.Addr, "ttl", cfg.Cache.TTL)
	}

	meter := jobs.NewUsageMeter(apiKeys, cfg.Usage.FlushInterval)
	safego.Go("usage meter", func() { meter.Start(context.Background()) })

	if cfg.Telemetry.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.Metrics.Port)
		safego.Go("metrics server", func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("starting Prometheus metrics server", "addr", metricsAddr)
			srv := &http.Server{
				Addr:              metricsAddr,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "error", err)
			}
		})
	}

	router := api.NewRouter(cfg, api.Dependencies{
		DB:           database,
		PeopleGroups: groups,
		Keys:         auth.NewAuthorizer(apiKeys),
		Usage:        meter,
		APIKeys:      apiKeys,
		AuditLogs:    auditLogs,
		AdminTokens:  tokens,
		Checks:       checks,
		Version:      version,
	})

	server := &http.Server{
		Addr:              cfg.Server.GetAddress(),
		Handler:           middleware.MethodOverride(router),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", server.Addr,
			"base_url", cfg.Server.BaseURL,
			"tls", cfg.Security.TLS.Enabled,
			"version", version,
		)
		var err error
		if cfg.Security.TLS.Enabled {
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		meter.Stop()
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		meter.Stop()
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	// In-flight requests are drained; flush the usage they recorded.
	meter.Stop()

	slog.Info("server stopped gracefully")
	return nil
}

func runMigrations(cfg *config.Config, direction string) error {
	database, err := db.Connect(context.Background(), cfg.Database.GetDSN(), 1, 1)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	slog.Info("running migrations", "direction", direction)
	if err := db.RunMigrations(database, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	v, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}
	slog.Info("migration completed", "version", v, "dirty", dirty)
	return nil
}

// adminToken prints a signed admin session token for subject to stdout.
func adminToken(cfg *config.Config, subject string) error {
	tokens, err := auth.NewAdminTokens(cfg.Auth.AdminSecret(), cfg.Auth.Admin.TokenTTL)
	if err != nil {
		return err
	}
	token, err := tokens.Issue(subject)
	if err != nil {
		return err
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "token for %s expires in %s; sign in at /admin/login\n", subject, tokens.TTL())
	return nil
}

// issueKey creates an active API key and prints the raw key. Only its hash is stored, so
// this is the one time it can be seen.
func issueKey(cfg *config.Config, name, email, description string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	database, err := db.Connect(ctx, cfg.Database.GetDSN(), 1, 1)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	rawKey, hash, displayPrefix, err := auth.GenerateAPIKey(cfg.Auth.APIKeys.Prefix)
	if err != nil {
		return err
	}

	key := &models.APIKey{
		Name:             name,
		Email:            email,
		KeyHash:          hash,
		KeyPrefix:        displayPrefix,
		UsageDescription: description,
	}
	if err := repositories.NewAPIKeyRepository(database).Create(ctx, key); err != nil {
		return fmt.Errorf("failed to store api key: %w", err)
	}

	slog.Info("api key issued", "api_key_id", key.ID, "key_prefix", displayPrefix, "email", email)
	fmt.Println(rawKey)
	fmt.Fprintln(os.Stderr, "store this key now; it cannot be shown again")
	return nil
}
