package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/t77yq/apm-notifier/internal/classify"
	"github.com/t77yq/apm-notifier/internal/config"
	"github.com/t77yq/apm-notifier/internal/dedup"
	"github.com/t77yq/apm-notifier/internal/dispatch"
	"github.com/t77yq/apm-notifier/internal/event"
	"github.com/t77yq/apm-notifier/internal/monitor"
	"github.com/t77yq/apm-notifier/internal/registry"
	"github.com/t77yq/apm-notifier/internal/storage"
	"github.com/t77yq/apm-notifier/internal/webhook"
)

func main() {
	// Initialize logger
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Load configuration
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	if err := viper.ReadInConfig(); err != nil {
		logger.Fatal("Failed to read config file", zap.Error(err))
	}

	// Connect to NATS with more options
	opts := []nats.Option{
		nats.Name(viper.GetString("app.name")),
		nats.MaxReconnects(viper.GetInt("nats.max_reconnects")),
		nats.ReconnectWait(viper.GetDuration("nats.reconnect_wait")),
		nats.Timeout(viper.GetDuration("nats.connect_timeout")),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("NATS connection error",
				zap.String("subject", sub.Subject),
				zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	// Connect with retry
	var nc *nats.Conn
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(viper.GetString("nats.urls.0"), opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
	}
	defer nc.Close()

	logger.Info("Connected to NATS successfully",
		zap.String("url", nc.ConnectedUrl()))

	cfg := config.New(viper.GetViper())

	// Create delivery history storage
	dbPath := viper.GetString("history.db_path")
	if dbPath == "" {
		dbPath = "alert_history.db"
	}
	history, err := storage.NewSQLiteDeliveryHistory(logger, dbPath)
	if err != nil {
		logger.Fatal("Failed to create delivery history storage", zap.Error(err))
	}
	defer history.Close()

	// Build the delivery pipeline
	sendTimeout := viper.GetDuration("teams.send_timeout")
	if sendTimeout == 0 {
		sendTimeout = 10 * time.Second
	}
	sender := webhook.NewClient(sendTimeout)
	agents := registry.New()

	poolSize := viper.GetInt("dispatch.pool_size")
	if poolSize <= 0 {
		poolSize = 8
	}
	dispatcher, err := dispatch.New(logger, cfg, sender, dedup.NewGate(), agents, history, poolSize)
	if err != nil {
		logger.Fatal("Failed to create dispatcher", zap.Error(err))
	}

	texts := event.NewTextClient(nc)
	classifier := classify.New(logger, cfg, agents, texts, dispatcher)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Subscribe to server events
	subscriber := event.NewSubscriber(logger, nc, classifier, agents)
	if err := subscriber.Start(ctx); err != nil {
		logger.Fatal("Failed to start event subscriber", zap.Error(err))
	}

	// Start the thread-count poller
	poller := monitor.NewThreadPoller(logger, cfg, classifier, agents, event.NewAgentClient(nc), dispatcher)
	if err := poller.Start(ctx); err != nil {
		logger.Fatal("Failed to start thread poller", zap.Error(err))
	}

	// Publish our own health stats
	stats := monitor.NewStatsPublisher(logger, nc, dispatcher, viper.GetDuration("stats.interval"))
	stats.Start(ctx)

	// Answer delivery-history queries
	historySrv := event.NewHistoryServer(logger, nc, history)
	if err := historySrv.Start(ctx); err != nil {
		logger.Fatal("Failed to start history server", zap.Error(err))
	}

	// Prune old delivery records once a day
	retention := viper.GetDuration("history.retention")
	if retention == 0 {
		retention = 7 * 24 * time.Hour
	}
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := history.DeleteBefore(ctx, time.Now().Add(-retention)); err != nil {
					logger.Warn("Failed to prune delivery history", zap.Error(err))
				}
			}
		}
	}()

	logger.Info("Alert notifier started",
		zap.String("db_path", dbPath),
		zap.Int("pool_size", poolSize))

	// Setup signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	// Stop intake first, then drain pending deliveries. The context is
	// cancelled only after the drain so in-flight webhook calls are not
	// aborted mid-send.
	subscriber.Stop()
	historySrv.Stop()
	stats.Stop()
	poller.Stop()
	dispatcher.Close(30 * time.Second)
	cancel()

	logger.Info("Shutdown complete")
}
