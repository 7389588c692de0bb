package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"gitlab.com/sayabot/api/crm-lead-router/internal/config"
	"gitlab.com/sayabot/api/crm-lead-router/internal/model"
	"gitlab.com/sayabot/api/crm-lead-router/internal/observer"
	"gitlab.com/sayabot/api/crm-lead-router/internal/storage"
	"gitlab.com/sayabot/api/crm-lead-router/pkg/logger"
)

// ReplySender delivers an outbound text to a contact on a channel.
// Implemented by the outbound dispatcher; the usecase layer never talks
// to channel APIs directly.
type ReplySender interface {
	SendText(ctx context.Context, kind model.ChannelKind, channelIdentity, externalID, text string) error
}

// Responder produces an assistant reply from the tenant prompt and the
// conversation history.
type Responder interface {
	Respond(ctx context.Context, systemPrompt string, history []model.ConversationMessage) (string, error)
}

// AIReplyTask holds the data for one queued AI reply.
type AIReplyTask struct {
	Ctx             context.Context // Context derived for the task, NOT the original request context
	Tenant          *model.Tenant
	ConversationID  int64
	ChannelKind     model.ChannelKind
	ChannelIdentity string
	ExternalID      string
}

// IAIReplyWorker defines the interface for the AI reply worker pool.
type IAIReplyWorker interface {
	SubmitTask(task AIReplyTask) error
	Stop()
}

// AIReplyWorker generates and delivers AI replies off the routing path.
// The router enqueues a task and acks the inbound message immediately;
// a slow model call never blocks ingestion.
type AIReplyWorker struct {
	pool       *ants.PoolWithFunc
	convRepo   storage.ConversationRepo
	responder  Responder
	sender     ReplySender
	cfg        config.AIConfig
	keepLast   int
	baseLogger *zap.Logger
}

// Ensure AIReplyWorker implements IAIReplyWorker
var _ IAIReplyWorker = (*AIReplyWorker)(nil)

// NewAIReplyWorker creates and initializes the AI reply worker pool.
func NewAIReplyWorker(
	cfg config.AIConfig,
	keepLast int,
	convRepo storage.ConversationRepo,
	responder Responder,
	sender ReplySender,
	baseLogger *zap.Logger,
) (*AIReplyWorker, error) {
	worker := &AIReplyWorker{
		convRepo:   convRepo,
		responder:  responder,
		sender:     sender,
		cfg:        cfg,
		keepLast:   keepLast,
		baseLogger: baseLogger.Named("ai_reply_worker"),
	}

	pool, err := ants.NewPoolWithFunc(cfg.PoolSize, func(i interface{}) {
		task, ok := i.(AIReplyTask)
		if !ok {
			worker.baseLogger.Error("Invalid task data type received", zap.Any("data", i))
			return
		}
		worker.processReplyTask(task)
	},
		ants.WithExpiryDuration(cfg.ExpiryTime),
		ants.WithNonblocking(false),
		ants.WithMaxBlockingTasks(cfg.PoolSize*2),
		ants.WithPanicHandler(func(err interface{}) {
			worker.baseLogger.Error("Panic recovered in AI reply worker", zap.Any("panic_error", err), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create AI reply worker pool: %w", err)
	}
	worker.pool = pool
	worker.baseLogger.Info("AI reply worker pool initialized",
		zap.Int("pool_size", cfg.PoolSize),
		zap.Int("context_limit", cfg.ContextLimit),
		zap.Duration("request_timeout", cfg.RequestTimeout),
	)
	return worker, nil
}

// SubmitTask queues one AI reply. Blocks up to the pool's blocking limit
// when every worker is busy.
func (w *AIReplyWorker) SubmitTask(task AIReplyTask) error {
	observer.SetAIPoolQueueLength(w.pool.Waiting())

	if err := w.pool.Invoke(task); err != nil {
		w.baseLogger.Warn("Failed to submit AI reply task to pool",
			zap.Int64("conversation_id", task.ConversationID),
			zap.Error(err),
		)
		observer.IncAIReply(task.Tenant.ID, "submit_error")
		if errors.Is(err, ants.ErrPoolOverload) {
			return fmt.Errorf("ai reply pool overload: %w", err)
		}
		return fmt.Errorf("failed to invoke ai reply task: %w", err)
	}
	return nil
}

// processReplyTask is the actual logic executed by a worker goroutine.
func (w *AIReplyWorker) processReplyTask(task AIReplyTask) {
	log := logger.FromContextOr(task.Ctx, w.baseLogger).With(
		zap.Int64("conversation_id", task.ConversationID),
		zap.Int64("tenant_id", task.Tenant.ID),
	)
	ctx := logger.WithLogger(task.Ctx, log)

	history, err := w.convRepo.RecentMessages(ctx, task.ConversationID, w.cfg.ContextLimit)
	if err != nil {
		log.Error("Failed to load conversation context", zap.Error(err))
		observer.IncAIReply(task.Tenant.ID, "context_error")
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, w.cfg.RequestTimeout)
	defer cancel()

	start := time.Now()
	reply, err := w.responder.Respond(reqCtx, task.Tenant.AIPrompt, history)
	observer.ObserveAIRequestDuration(task.Tenant.ID, time.Since(start))
	if err != nil {
		log.Error("AI completion failed", zap.Error(err))
		observer.IncAIReply(task.Tenant.ID, "model_error")
		return
	}
	if reply == "" {
		observer.IncAIReply(task.Tenant.ID, "empty")
		return
	}

	// The reply becomes history before delivery so a send retry can see
	// it and a crashed send loses at most the outbound hop.
	if _, err := w.convRepo.AppendMessage(ctx, model.ConversationMessage{
		ConversationID: task.ConversationID,
		Role:           model.RoleAssistant,
		Content:        reply,
	}); err != nil {
		log.Error("Failed to store assistant reply", zap.Error(err))
		observer.IncAIReply(task.Tenant.ID, "store_error")
		return
	}

	if err := w.sender.SendText(ctx, task.ChannelKind, task.ChannelIdentity, task.ExternalID, reply); err != nil {
		log.Error("Failed to deliver AI reply", zap.Error(err))
		observer.IncAIReply(task.Tenant.ID, "send_error")
		return
	}

	if trimmed, err := w.convRepo.TrimMessages(ctx, task.ConversationID, w.keepLast); err != nil {
		log.Warn("Failed to trim conversation history", zap.Error(err))
	} else if trimmed > 0 {
		log.Debug("Trimmed conversation history", zap.Int64("deleted", trimmed))
	}

	observer.IncAIReply(task.Tenant.ID, "success")
	log.Debug("Delivered AI reply", zap.Int("history_len", len(history)))
}

// Stop gracefully shuts down the worker pool.
func (w *AIReplyWorker) Stop() {
	if w.pool != nil {
		w.baseLogger.Info("Releasing AI reply worker pool")
		start := time.Now()
		w.pool.Release()
		w.baseLogger.Info("AI reply worker pool released", zap.Duration("duration", time.Since(start)))
	}
}
