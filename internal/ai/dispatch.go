package ai

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/oratify/backend/internal/models"
	"github.com/oratify/backend/internal/realtime"
	"github.com/oratify/backend/pkg/queue"
)

// InlineDispatcher answers questions in-process: a goroutine per question,
// bounded by the configured timeout. Suitable for single-instance deployments
// without the background worker.
type InlineDispatcher struct {
	client      *Client
	store       realtime.Store
	broadcaster *realtime.Broadcaster
	timeout     time.Duration
	logger      *zap.Logger
}

// NewInlineDispatcher creates an in-process question dispatcher.
func NewInlineDispatcher(client *Client, store realtime.Store, broadcaster *realtime.Broadcaster, timeout time.Duration, logger *zap.Logger) *InlineDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InlineDispatcher{
		client:      client,
		store:       store,
		broadcaster: broadcaster,
		timeout:     timeout,
		logger:      logger,
	}
}

// Dispatch answers the question asynchronously. The caller's context is not
// reused: the socket request completes immediately while the answer is
// generated against its own deadline.
func (d *InlineDispatcher) Dispatch(_ context.Context, req realtime.AnswerRequest) error {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		Answer(ctx, d.client, d.store, d.broadcaster, req, d.logger)
	}()
	return nil
}

// QueueDispatcher hands questions to the background worker via the Redis job
// queue. The worker generates the answer and routes it back over pub/sub.
type QueueDispatcher struct {
	queue *queue.Queue
}

// NewQueueDispatcher creates a queue-backed question dispatcher.
func NewQueueDispatcher(q *queue.Queue) *QueueDispatcher {
	return &QueueDispatcher{queue: q}
}

// Dispatch enqueues an AI answering job.
func (d *QueueDispatcher) Dispatch(ctx context.Context, req realtime.AnswerRequest) error {
	return d.queue.EnqueueAIAnswer(ctx, queue.AIAnswerPayload{
		SessionID:    req.SessionID,
		QuestionID:   req.QuestionID,
		SlideID:      req.SlideID,
		ConnectionID: req.ConnectionID,
		Question:     req.Question,
	})
}

// Answer generates, persists, and delivers one AI answer. Shared by the
// inline dispatcher and the background worker.
func Answer(ctx context.Context, client *Client, store realtime.Store, broadcaster *realtime.Broadcaster, req realtime.AnswerRequest, logger *zap.Logger) {
	var slideContext string
	if slide, err := store.GetSlide(ctx, req.SlideID); err == nil {
		slideContext = string(slide.Content)
	}

	answer, err := client.Answer(ctx, req.Question, slideContext)
	if err != nil {
		// The question already reached the speaker; a failed answer is logged
		// and the asker simply receives nothing.
		logger.Warn("AI answer failed",
			zap.String("question_id", req.QuestionID.String()),
			zap.Error(err))
		return
	}

	content, _ := json.Marshal(models.AIAnswerContent{
		Type:     models.ResponseKindAIAnswer,
		Question: req.Question,
		Answer:   answer,
	})
	row := &models.Response{
		SessionID:    req.SessionID,
		SlideID:      req.SlideID,
		Content:      content,
		IsAIResponse: true,
	}
	if err := store.CreateResponse(ctx, row); err != nil {
		logger.Error("persist AI answer",
			zap.String("question_id", req.QuestionID.String()),
			zap.Error(err))
	}

	broadcaster.Personal(req.SessionID, req.ConnectionID, realtime.TypeAIResponse, realtime.AIResponsePayload{
		QuestionID:   req.QuestionID.String(),
		SlideID:      req.SlideID.String(),
		QuestionText: req.Question,
		ResponseText: answer,
	})
}
