package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/webibook/analytics/internal/api"
	"github.com/webibook/analytics/internal/catalog"
	"github.com/webibook/analytics/internal/config"
	"github.com/webibook/analytics/internal/engagement"
	"github.com/webibook/analytics/internal/identity"
	"github.com/webibook/analytics/internal/pkg/keylock"
	"github.com/webibook/analytics/internal/pkg/logger"
	"github.com/webibook/analytics/internal/report"
	"github.com/webibook/analytics/internal/store"
	"github.com/webibook/analytics/internal/subscription"
	"github.com/webibook/analytics/internal/visit"
)

const sessionTTL = 30 * 24 * time.Hour

// checkPortAvailable verifies that the target port is not already in use.
// This prevents confusion from stale processes occupying the port.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v", port, addr, err)
	}
	ln.Close()
	return nil
}

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.RedactPII != nil {
		logger.SetRedactPII(*cfg.Logging.RedactPII)
	}
	logger.Info("starting webibook analytics server")

	if err := checkPortAvailable(cfg.Server.Host, cfg.Server.Port); err != nil {
		logger.Error("pre-flight check failed", "error", err.Error())
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backing := buildStore(ctx, cfg)

	// Redis is optional; an empty addr keeps session state in-process.
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			logger.Warn("redis unreachable, using in-process session registry",
				"addr", cfg.Redis.Addr, "error", err.Error())
			redisClient.Close()
			redisClient = nil
		} else {
			logger.Info("redis connected", "addr", cfg.Redis.Addr)
		}
		pingCancel()
	}

	if cfg.Catalog.SeedFile != "" {
		if err := catalog.Seed(ctx, backing, cfg.Catalog.SeedFile); err != nil {
			logger.Error("seeding catalog", "error", err.Error())
			os.Exit(1)
		}
	}

	archiver, err := store.NewArchiver(ctx, cfg.Storage.S3Bucket, cfg.Storage.AWSRegion, cfg.Storage.AWSProfile)
	if err != nil {
		logger.Warn("snapshot archiver unavailable", "error", err.Error())
	}

	// All components share one lock map so that actor and event keys
	// serialize across packages.
	locks := keylock.New()
	signer := identity.NewJWTSigner(cfg.Auth.CredentialSecret,
		time.Duration(cfg.Auth.CredentialTTLHours)*time.Hour)
	resolver := identity.NewResolver(backing, signer, locks)
	agg := engagement.New(backing, locks)
	sessions := visit.NewSessionRegistry(redisClient, sessionTTL)
	visits := visit.NewEngine(backing, sessions, locks)
	subs := subscription.NewService(backing, locks)
	reports := report.NewBuilder(backing)

	apiServer := api.NewServer(resolver, agg, visits, subs, reports, archiver, cfg.Auth.AdminPassword)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      apiServer.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("listening", "addr", addr, "storage", cfg.Storage.Type)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err.Error())
			os.Exit(1)
		}
	}()

	<-done
	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err.Error())
	}
	if redisClient != nil {
		redisClient.Close()
	}
	logger.Info("server stopped")
}

// buildStore picks the configured backend. With DynamoDB the process wraps
// it in the failover layer so a table outage degrades to memory instead of
// taking the API down; if the table is unreachable at boot, memory is used
// from the start.
func buildStore(ctx context.Context, cfg *config.Config) store.Store {
	if cfg.Storage.Type != "dynamodb" {
		logger.Info("using in-memory storage")
		return store.NewMemory()
	}

	dyn, err := store.NewDynamo(ctx, cfg.Storage.DynamoDBTable, cfg.Storage.AWSRegion, cfg.Storage.AWSProfile)
	if err != nil {
		logger.Warn("dynamodb init failed, falling back to memory", "error", err.Error())
		return store.NewMemory()
	}
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := dyn.Ping(pingCtx); err != nil {
		logger.Warn("dynamodb unreachable, falling back to memory",
			"table", cfg.Storage.DynamoDBTable, "error", err.Error())
		return store.NewMemory()
	}
	logger.Info("dynamodb connected", "table", cfg.Storage.DynamoDBTable)
	return store.NewFailover(dyn, store.NewMemory())
}
