// Command tester publishes synthetic gateway inbound events to the
// JetStream stream the router consumes, for load and soak testing.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"gitlab.com/sayabot/api/crm-lead-router/internal/channel"
	"gitlab.com/sayabot/api/crm-lead-router/internal/config"
	"gitlab.com/sayabot/api/crm-lead-router/internal/jetstream"
	"gitlab.com/sayabot/api/crm-lead-router/pkg/logger"
	"gitlab.com/sayabot/api/crm-lead-router/pkg/utils"
)

// publishTask is one synthetic event bound for a gateway subject.
type publishTask struct {
	subject string
	event   channel.GatewayEvent
	client  jetstream.ClientInterface
	wg      *sync.WaitGroup
}

var sampleTexts = []string{
	"Здравствуйте, сколько стоит?",
	"Хочу рассчитать стоимость для квартиры",
	"Можно замер на этой неделе?",
	"87015551234",
	"stop",
	"start",
	"Перезвоните мне, пожалуйста",
}

func main() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	natsURL := flag.String("url", cfg.NATS.URL, "NATS server URL")
	instancesStr := flag.String("instances", "inst-1,inst-2", "Comma-separated gateway instance ids")
	rate := flag.Int("rate", 50, "Target events per second")
	duration := flag.Duration("duration", time.Minute, "Load test duration")
	concurrency := flag.Int("concurrency", 10, "Number of concurrent publishers")
	contacts := flag.Int("contacts", 200, "Distinct synthetic contacts per instance")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flag.Parse()

	if err := logger.Initialize(*logLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	instances := strings.Split(*instancesStr, ",")
	if len(instances) == 0 || instances[0] == "" {
		logger.Log.Fatal("No gateway instances provided")
	}
	gofakeit.Seed(time.Now().UnixNano())

	natsClient, err := jetstream.NewClient(*natsURL)
	if err != nil {
		logger.Log.Fatal("Failed to connect to NATS", zap.String("url", *natsURL), zap.Error(err))
	}
	defer natsClient.Close()

	logger.Log.Info("Starting gateway event generator",
		zap.String("nats_url", *natsURL),
		zap.Strings("instances", instances),
		zap.Int("rate_per_sec", *rate),
		zap.Duration("duration", *duration),
		zap.Int("concurrency", *concurrency))

	var wg sync.WaitGroup
	pool, err := ants.NewPoolWithFunc(*concurrency, publishWorker)
	if err != nil {
		logger.Log.Fatal("Failed to create publisher pool", zap.Error(err))
	}
	defer pool.Release()

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Log.Info("Received termination signal", zap.String("signal", sig.String()))
		cancel()
	}()

	ticker := time.NewTicker(time.Second / time.Duration(*rate))
	defer ticker.Stop()

	published := 0
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			instance := instances[rand.Intn(len(instances))]
			task := publishTask{
				subject: fmt.Sprintf("v1.gateway.%s", instance),
				event:   syntheticEvent(instance, *contacts),
				client:  natsClient,
				wg:      &wg,
			}
			wg.Add(1)
			if err := pool.Invoke(task); err != nil {
				wg.Done()
				logger.Log.Warn("Failed to submit publish task", zap.Error(err))
				continue
			}
			published++
		}
	}

	wg.Wait()
	logger.Log.Info("Generator finished", zap.Int("events_submitted", published))
}

// syntheticEvent builds one plausible inbound gateway event. Contacts
// repeat so dedup and conversation reuse paths get exercised.
func syntheticEvent(instanceID string, contacts int) channel.GatewayEvent {
	phone := fmt.Sprintf("7701%07d", rand.Intn(contacts))
	return channel.GatewayEvent{
		InstanceID: instanceID,
		RemoteJID:  phone + "@s.whatsapp.net",
		MessageID:  uuid.NewString(),
		SenderName: gofakeit.Name(),
		Text:       sampleTexts[rand.Intn(len(sampleTexts))],
		Timestamp:  utils.Now().Unix(),
	}
}

func publishWorker(data interface{}) {
	task, ok := data.(publishTask)
	if !ok {
		logger.Log.Error("Invalid task type submitted to publisher pool")
		return
	}
	defer task.wg.Done()

	payload := utils.MustMarshalJSON(task.event)
	if err := task.client.Publish(task.subject, payload, nil); err != nil {
		logger.Log.Error("Failed to publish gateway event",
			zap.String("subject", task.subject),
			zap.Error(err))
	}
}
