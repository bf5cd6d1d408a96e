// RegFabric compliance server. Runs the rule evaluation engine, the
// notification service, the regulatory event subscriber, the fraud scan
// worker pool, and the HTTP API in one process.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/compliance-ops/regfabric/pkg/activity"
	"github.com/compliance-ops/regfabric/pkg/api"
	"github.com/compliance-ops/regfabric/pkg/cleanup"
	"github.com/compliance-ops/regfabric/pkg/collab"
	"github.com/compliance-ops/regfabric/pkg/config"
	"github.com/compliance-ops/regfabric/pkg/database"
	"github.com/compliance-ops/regfabric/pkg/metrics"
	"github.com/compliance-ops/regfabric/pkg/models"
	"github.com/compliance-ops/regfabric/pkg/notify"
	"github.com/compliance-ops/regfabric/pkg/regmonitor"
	"github.com/compliance-ops/regfabric/pkg/rules"
	"github.com/compliance-ops/regfabric/pkg/scan"
	"github.com/compliance-ops/regfabric/pkg/secrets"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func setupLogging() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment", "error", err)
	}
	logger := setupLogging()

	httpPort := getEnv("HTTP_PORT", "8080")
	slog.Info("Starting RegFabric", "http_port", httpPort)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Database (migrations run inside NewClient)
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	// 3. Secrets cipher for channel credentials
	cipher, err := secrets.NewCipherFromEnv()
	if err != nil {
		slog.Error("Failed to initialize secrets cipher", "error", err)
		os.Exit(1)
	}
	if cipher == nil {
		slog.Warn("DATA_ENCRYPTION_KEY not set, channel credentials will be stored in plaintext")
	}

	registry := metrics.NewRegistry()

	// 4. Notification service
	channels := notify.NewChannelStore(dbClient, cipher)
	attempts := notify.NewAttemptStore(dbClient)
	notifier := notify.NewService(cfg.Notify, cfg.SMTP, channels, attempts, registry, logger)
	notifier.Start(ctx)

	// 5. Rule evaluation engine, fed by the transaction data source
	rulesStore := rules.NewStore(dbClient)
	dataSource := rules.NewStoreDataSource(dbClient)
	engine := rules.NewEngine(cfg.Engine, rulesStore, dataSource, notifier, registry, logger)
	engine.Start(ctx)

	// 6. Activity feed with websocket streaming
	feed := activity.NewFeed(cfg.Activity, registry, logger)
	feed.Start(ctx)
	stream := activity.NewStreamHub(feed, logger)

	// 7. Regulatory event subscriber. Persisted subscriptions are restored
	// and re-registered; matched events land in the activity feed.
	subStore := regmonitor.NewSubscriptionStore(dbClient)
	subscriber := regmonitor.NewSubscriber(cfg.Monitor, subStore, registry, logger)
	subs, err := subStore.List(ctx)
	if err != nil {
		slog.Error("Failed to restore regulatory subscriptions", "error", err)
		os.Exit(1)
	}
	for _, sub := range subs {
		if err := subscriber.Subscribe(ctx, sub.AgentID, sub.Filter, regulatoryFeedCallback(feed, sub.AgentID)); err != nil {
			slog.Error("Failed to restore subscription", "agent_id", sub.AgentID, "error", err)
			os.Exit(1)
		}
	}
	slog.Info("Regulatory subscriptions restored", "count", len(subs))
	subscriber.Start(ctx)

	// 8. Fraud scan worker pool (recovers orphaned jobs before claiming)
	scanStore := scan.NewStore(dbClient)
	pool := scan.NewPool(cfg.Scan, scanStore, registry, logger)
	if err := pool.Start(ctx); err != nil {
		slog.Error("Failed to start scan pool", "error", err)
		os.Exit(1)
	}

	// 9. Collaboration session manager
	var sessionStore *collab.SessionStore
	if cfg.Collab.EnablePersistence {
		sessionStore = collab.NewSessionStore(dbClient)
	}
	manager := collab.NewManager(cfg.Collab, sessionStore, logger)
	if err := manager.Start(ctx); err != nil {
		slog.Error("Failed to start collaboration manager", "error", err)
		os.Exit(1)
	}

	// 10. Retention sweeper
	sweeper := cleanup.NewService(cfg.Retention, dbClient, logger)
	sweeper.Start(ctx)

	// 11. HTTP API
	server := api.NewServer(api.Deps{
		DB:         dbClient,
		Rules:      rulesStore,
		Engine:     engine,
		Channels:   channels,
		Attempts:   attempts,
		Notifier:   notifier,
		Subscriber: subscriber,
		Feed:       feed,
		Stream:     stream,
		Scan:       scanStore,
		Collab:     manager,
		Metrics:    registry,
		JWTSecret:  cfg.JWTSecret,
	}, logger)

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	slog.Info("RegFabric started",
		"scan_workers", cfg.Scan.WorkerCount,
		"notify_workers", cfg.Notify.WorkerCount)

	if err := server.Run(runCtx, ":"+httpPort); err != nil {
		slog.Error("HTTP server error", "error", err)
	}

	// Shutdown in dependency order: stop producers before the services
	// they feed.
	slog.Info("Shutting down")
	engine.Stop()
	subscriber.Stop()
	pool.Stop()
	notifier.Stop()
	stream.CloseAll()
	feed.Stop()
	manager.Stop()
	sweeper.Stop()
	slog.Info("Shutdown complete")
}

// regulatoryFeedCallback records matched regulatory events as activity
// entries for the subscribing agent.
func regulatoryFeedCallback(feed *activity.Feed, agentID string) regmonitor.EventCallback {
	return func(ctx context.Context, e *models.RegulatoryEvent) {
		feed.Record(models.AgentActivityEvent{
			AgentID:      agentID,
			ActivityType: models.ActivityAlert,
			Severity:     models.Severity(e.Severity),
			Title:        e.Title,
			Description:  e.Description,
			Metadata: models.JSONMap{
				"change_id":   e.ChangeID,
				"source_name": e.SourceName,
				"change_type": e.Type,
			},
		})
	}
}
