package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gitlab.com/sayabot/api/crm-lead-router/internal/ai"
	"gitlab.com/sayabot/api/crm-lead-router/internal/config"
	"gitlab.com/sayabot/api/crm-lead-router/internal/healthcheck"
	"gitlab.com/sayabot/api/crm-lead-router/internal/httpapi"
	"gitlab.com/sayabot/api/crm-lead-router/internal/ingestion"
	"gitlab.com/sayabot/api/crm-lead-router/internal/jetstream"
	"gitlab.com/sayabot/api/crm-lead-router/internal/observer"
	"gitlab.com/sayabot/api/crm-lead-router/internal/outbound"
	"gitlab.com/sayabot/api/crm-lead-router/internal/storage"
	"gitlab.com/sayabot/api/crm-lead-router/internal/usecase"
	"gitlab.com/sayabot/api/crm-lead-router/internal/worker"
	"gitlab.com/sayabot/api/crm-lead-router/pkg/logger"
	"gitlab.com/sayabot/api/crm-lead-router/pkg/utils"
)

func main() {
	// Set timezone to UTC
	time.Local = time.UTC

	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Initialize(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	observer.InitMetrics(cfg.Metrics.Enabled)

	logger.Log.Info("Starting CRM Lead Router",
		zap.String("environment", cfg.Environment),
		zap.String("nats_url", cfg.NATS.URL),
		zap.Int("server_port", cfg.Server.Port),
	)

	// Postgres repository backs every store interface.
	repo, err := initPostgresRepo(cfg.Database.PostgresDSN, cfg.Database.PostgresAutoMigrate)
	if err != nil {
		logger.Log.Fatal("Failed to initialize Postgres repository", zap.Error(err))
	}

	jsClient, err := jetstream.NewClient(cfg.NATS.URL)
	if err != nil {
		logger.Log.Fatal("Failed to initialize JetStream client", zap.Error(err))
	}

	// Outbound senders, one per channel. The cloud sender only comes up
	// when a token is configured; the dispatcher skips absent channels.
	var cloudSender outbound.Sender
	if cfg.Cloud.AccessToken != "" {
		cloudSender = outbound.NewCloudSender(cfg.Cloud)
	} else {
		logger.Log.Warn("WhatsApp Cloud token not configured, cloud sends disabled")
	}
	gatewaySender := outbound.NewGatewaySender(jsClient, cfg.NATS.ReplySubject)
	if err := gatewaySender.Setup(context.Background(), cfg.NATS.ReplyStream); err != nil {
		logger.Log.Fatal("Failed to set up gateway reply stream", zap.Error(err))
	}
	dispatcher := outbound.NewDispatcher(
		cloudSender,
		gatewaySender,
		outbound.NewWebSender(),
	)

	// AI responder pool. Replies are generated off the webhook path.
	responder := ai.NewOpenAIResponder(cfg.AI)
	aiWorker, err := usecase.NewAIReplyWorker(cfg.AI, cfg.Leads.TrimKeepLast, repo, responder, dispatcher, logger.Log)
	if err != nil {
		logger.Log.Fatal("Failed to initialize AI reply worker pool", zap.Error(err))
	}

	mutes := usecase.NewMuteService(repo)
	leads := usecase.NewLeadService(repo, repo, cfg.Leads)
	assigns := usecase.NewAssignService(repo, repo, repo)
	stages := usecase.NewStageService(repo, repo)
	followups := usecase.NewFollowupService(repo, cfg.Followup)

	router := usecase.NewMessageRouter(repo, repo, mutes, leads, assigns, followups, aiWorker, dispatcher)

	// Gateway events arrive over JetStream.
	consumer := ingestion.NewGatewayConsumer(jsClient, router, cfg.NATS.Gateway)
	if err := consumer.Setup(); err != nil {
		logger.Log.Fatal("Failed to set up gateway consumer", zap.Error(err))
	}
	if err := consumer.Start(); err != nil {
		logger.Log.Fatal("Failed to start gateway consumer", zap.Error(err))
	}

	// Webhooks and the admin API share the fiber server.
	apiServer := httpapi.NewServer(cfg, router, repo, repo, repo, repo, leads, assigns, stages)
	utils.SafeGo(func() {
		if err := apiServer.Listen(); err != nil {
			logger.Log.Error("API server stopped unexpectedly", zap.Error(err))
		}
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("Panic in API server", zap.Any("panic", r), zap.ByteString("stack", stack))
	})

	// The follow-up worker coordinates with the handlers only through
	// Postgres; it gets its own cancellable lifecycle.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	followupWorker := worker.NewFollowupWorker(repo, repo, repo, repo, followups, dispatcher, cfg.Followup, logger.Log)
	var workerDone sync.WaitGroup
	workerDone.Add(1)
	utils.SafeGo(func() {
		defer workerDone.Done()
		followupWorker.Run(workerCtx)
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("Panic in followup worker", zap.Any("panic", r), zap.ByteString("stack", stack))
		workerDone.Done()
	})

	// Health and metrics on the dedicated port.
	healthServer := healthcheck.NewServer(strconv.Itoa(cfg.Metrics.Port), logger.Log)
	if cfg.Metrics.Enabled {
		healthServer.RegisterMetricsHandler(promhttp.Handler())
	}
	healthServer.Start()

	logger.Log.Info("CRM Lead Router started",
		zap.String("api", fmt.Sprintf("http://localhost:%d", cfg.Server.Port)),
		zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.Metrics.Port)),
	)

	// Wait for termination signal.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Log.Info("Received termination signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	logger.Log.Info("Starting graceful shutdown", zap.Duration("timeout", 30*time.Second))

	// Stop intake first so nothing new enters the pipeline.
	consumer.Stop()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("[shutdown] Error stopping API server", zap.Error(err))
	}

	// Then drain the background work.
	workerCancel()
	workerDone.Wait()
	aiWorker.Stop()

	var wg sync.WaitGroup
	wg.Add(2)

	utils.SafeGo(func() {
		defer wg.Done()
		if err := healthServer.Stop(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Error stopping health server", zap.Error(err))
		}
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping health server",
			zap.Any("panic", r), zap.ByteString("stack", stack))
		wg.Done()
	})

	utils.SafeGo(func() {
		defer wg.Done()
		if err := repo.Close(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Failed to close PostgreSQL connection", zap.Error(err))
		}
		jsClient.Close()
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while closing connections",
			zap.Any("panic", r), zap.ByteString("stack", stack))
		wg.Done()
	})

	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Log.Info("[shutdown] All components stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Log.Warn("[shutdown] Graceful shutdown timed out, forcing exit")
	}

	logger.Log.Info("CRM Lead Router shutdown complete")
}

func initPostgresRepo(dsn string, autoMigrate bool) (*storage.PostgresRepo, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	repo, err := storage.NewPostgresRepo(dsn, autoMigrate)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres repository: %w", err)
	}
	logger.Log.Info("Initialized PostgreSQL repository")
	return repo, nil
}
