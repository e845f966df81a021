package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoPolymarket/perpgate/internal/chain"
	"github.com/GoPolymarket/perpgate/internal/config"
	"github.com/GoPolymarket/perpgate/internal/handler"
	"github.com/GoPolymarket/perpgate/internal/manager"
	"github.com/GoPolymarket/perpgate/internal/market"
	"github.com/GoPolymarket/perpgate/internal/middleware"
	"github.com/GoPolymarket/perpgate/internal/payload"
	"github.com/GoPolymarket/perpgate/internal/pkg/logger"
	"github.com/GoPolymarket/perpgate/internal/protocol"
	"github.com/GoPolymarket/perpgate/internal/repository"
	"github.com/GoPolymarket/perpgate/internal/service"
	"github.com/gin-gonic/gin"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.LogLevel)
	gin.SetMode(gin.ReleaseMode)

	// 2. Chain
	netCfg, err := cfg.ActiveNetwork()
	if err != nil {
		log.Fatalf("Invalid network config: %v", err)
	}
	deployment, err := protocol.DeploymentFromConfig(netCfg)
	if err != nil {
		log.Fatalf("Invalid deployment: %v", err)
	}
	dialCtx, cancelDial := context.WithTimeout(context.Background(), 15*time.Second)
	client, err := chain.Dial(dialCtx, netCfg, cfg.Chain)
	cancelDial()
	if err != nil {
		log.Fatalf("Failed to connect to chain: %v", err)
	}

	// 3. Persistence (Redis / Postgres > Memory)
	var (
		usageRepo   service.UsageRepo
		journal     service.SubmissionJournal
		idempotency middleware.IdempotencyStore
		seqOpts     []manager.SequenceOption
		cleanups    []func(context.Context, time.Duration) error
	)
	if cfg.Redis.Addr != "" {
		redisClient, err := repository.NewRedisClient(cfg)
		if err == nil {
			logger.Info("Connected to Redis")
			defer redisClient.Close()
			usageRepo = redisClient
			idempotency = repository.NewRedisIdempotencyStore(redisClient,
				time.Duration(cfg.Redis.IdempotencyTTLSeconds)*time.Second)
			seqOpts = append(seqOpts, manager.WithLocker(repository.NewSequenceLocker(redisClient), cfg.SequenceLockTTL()))
		} else {
			logger.Error("Failed to connect to Redis, falling back to memory", "error", err)
		}
	}
	if cfg.Database.DSN != "" {
		db, err := repository.NewDB(cfg)
		if err == nil {
			logger.Info("Connected to PostgreSQL")
			pgJournal := repository.NewPostgresJournal(db)
			journal = pgJournal
			cleanups = append(cleanups, pgJournal.Cleanup)
			if usageRepo == nil {
				pgUsage := repository.NewPostgresUsageRepo(db)
				usageRepo = pgUsage
				cleanups = append(cleanups, pgUsage.Cleanup)
			}
		} else {
			logger.Error("Failed to connect to DB, journal is in-memory only", "error", err)
		}
	}
	if usageRepo == nil {
		usageRepo = service.NewRiskUsageStore()
	}
	if journal == nil {
		journal = service.NewMemoryJournal(0)
	}
	if idempotency == nil {
		idempotency = middleware.NewInMemIdempotencyStore(time.Duration(cfg.Redis.IdempotencyTTLSeconds) * time.Second)
	}

	// 4. Market data
	var prices market.Provider
	if cfg.PriceFeed.URL != "" {
		feed := market.NewFeedService(cfg.PriceFeed.URL)
		symbols := cfg.PriceFeed.Symbols
		if len(symbols) == 0 {
			symbols = netCfg.Markets
		}
		feed.Subscribe(symbols)
		feed.Start()
		defer feed.Stop()
		prices = feed
	}

	// 5. Core services
	tenantManager, err := service.NewTenantManager(cfg)
	if err != nil {
		log.Fatalf("Failed to load tenants: %v", err)
	}
	builder, err := payload.NewBuilder(deployment)
	if err != nil {
		log.Fatalf("Failed to initialize payload builder: %v", err)
	}
	orchestrator := service.NewOrchestrator(client, manager.NewSequenceManager(seqOpts...), cfg.Chain.ConfirmationTimeout())
	query, err := service.NewQueryService(client, deployment)
	if err != nil {
		log.Fatalf("Failed to initialize query service: %v", err)
	}
	riskEngine := service.NewRiskEngine(usageRepo, prices, time.Duration(cfg.PriceFeed.StaleAfterSec)*time.Second)
	tradeSvc := service.NewTradeService(builder, orchestrator, riskEngine, journal)
	tradeSvc.SetReadOnly(cfg.ReadOnly)

	// 6. Router
	r := handler.NewRouter(cfg, handler.Deps{
		Trade:       tradeSvc,
		Query:       query,
		Tenants:     tenantManager,
		Prices:      prices,
		Idempotency: idempotency,
		Network:     deployment.Network,
	})

	bgCtx, stopBg := context.WithCancel(context.Background())
	defer stopBg()
	if len(cleanups) > 0 && cfg.Database.JournalRetentionDays > 0 {
		go runCleanup(bgCtx, cleanups, time.Duration(cfg.Database.JournalRetentionDays)*24*time.Hour)
	}

	// 7. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("PerpGate started", "port", cfg.Server.Port, "network", deployment.Network,
			"protocol", deployment.Protocol.Hex(), "read_only", cfg.ReadOnly)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	// 在途的确认轮询可能需要等到超时
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Chain.ConfirmationTimeout()+5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	logger.Info("Server exiting")
}

func runCleanup(ctx context.Context, cleanups []func(context.Context, time.Duration) error, retention time.Duration) {
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()
	for {
		for _, cleanup := range cleanups {
			if err := cleanup(ctx, retention); err != nil {
				logger.Warn("Retention cleanup failed", "error", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
