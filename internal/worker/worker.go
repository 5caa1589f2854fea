package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/oratify/backend/internal/ai"
	"github.com/oratify/backend/internal/realtime"
	"github.com/oratify/backend/pkg/queue"
)

// AnswerProcessor processes AI answering jobs: generate the answer, persist
// it, and route it back to the asking connection over the session channel.
type AnswerProcessor struct {
	client      *ai.Client
	store       realtime.Store
	broadcaster *realtime.Broadcaster
	queue       *queue.Queue
	timeout     time.Duration
	logger      *zap.Logger
}

// NewAnswerProcessor creates an AI answer processor.
func NewAnswerProcessor(client *ai.Client, store realtime.Store, broadcaster *realtime.Broadcaster, q *queue.Queue, timeout time.Duration, logger *zap.Logger) *AnswerProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnswerProcessor{
		client:      client,
		store:       store,
		broadcaster: broadcaster,
		queue:       q,
		timeout:     timeout,
		logger:      logger,
	}
}

// Process executes one AI answering job.
func (p *AnswerProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeAIAnswer {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.AIAnswerPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	jobCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	ai.Answer(jobCtx, p.client, p.store, p.broadcaster, realtime.AnswerRequest{
		SessionID:    payload.SessionID,
		QuestionID:   payload.QuestionID,
		SlideID:      payload.SlideID,
		ConnectionID: payload.ConnectionID,
		Question:     payload.Question,
	}, p.logger)
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *AnswerProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("answer worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
		}
	}
}

// SessionCleaner periodically ends sessions that have been live longer than
// the retention window.
type SessionCleaner struct {
	repo     ExpiredSessionStore
	interval time.Duration
	maxAge   time.Duration
	logger   *zap.Logger
}

// ExpiredSessionStore ends long-running sessions in bulk.
type ExpiredSessionStore interface {
	CleanupExpired(ctx context.Context, maxAge time.Duration) (int, error)
}

// NewSessionCleaner creates a cleaner that runs every interval and ends
// sessions live for longer than maxAge.
func NewSessionCleaner(repo ExpiredSessionStore, interval, maxAge time.Duration, logger *zap.Logger) *SessionCleaner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionCleaner{repo: repo, interval: interval, maxAge: maxAge, logger: logger}
}

// Run starts the cleanup loop.
func (c *SessionCleaner) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("session cleaner stopping")
			return
		case <-ticker.C:
			n, err := c.repo.CleanupExpired(ctx, c.maxAge)
			if err != nil {
				c.logger.Warn("session cleanup failed", zap.Error(err))
				continue
			}
			if n > 0 {
				c.logger.Info("expired sessions ended", zap.Int("count", n))
			}
		}
	}
}
