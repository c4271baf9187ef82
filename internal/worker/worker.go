// Package worker drains the notification queue.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/campus-talks/backend/internal/notify"
	"github.com/campus-talks/backend/pkg/queue"
)

// JobSource is the part of queue.Queue the processor consumes.
type JobSource interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// NotificationProcessor hands queued notifications to a Notifier.
type NotificationProcessor struct {
	queue    JobSource
	notifier notify.Notifier
	backoff  time.Duration
	logger   *zap.Logger
}

// NewNotificationProcessor creates a notification processor.
func NewNotificationProcessor(q JobSource, n notify.Notifier, logger *zap.Logger) *NotificationProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationProcessor{queue: q, notifier: n, backoff: queue.RetryBackoff, logger: logger}
}

// Process delivers one notification job.
func (p *NotificationProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeNotification {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var n notify.Notification
	if err := json.Unmarshal(job.Payload, &n); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if err := p.notifier.Notify(ctx, n); err != nil {
		return fmt.Errorf("deliver %s: %w", n.Event, err)
	}
	p.logger.Debug("notification delivered", zap.String("job_id", job.ID), zap.String("event", string(n.Event)))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *NotificationProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("notification worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *NotificationProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
