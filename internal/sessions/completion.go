package sessions

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/campus-talks/backend/internal/models"
	"github.com/campus-talks/backend/internal/notify"
	"github.com/campus-talks/backend/pkg/docstore"
)

// CompletionJob is the single writer of the approved to completed
// transition. Readers project the same result with DeriveStatus, so running
// it late changes nothing they see.
type CompletionJob struct {
	repo   *Repository
	notify *notify.Dispatcher
	logger *zap.Logger
	now    func() time.Time
}

// NewCompletionJob creates the job.
func NewCompletionJob(repo *Repository, d *notify.Dispatcher, logger *zap.Logger) *CompletionJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CompletionJob{repo: repo, notify: d, logger: logger, now: time.Now}
}

// SetClock overrides the time source.
func (j *CompletionJob) SetClock(now func() time.Time) { j.now = now }

// RunOnce persists completion for every approved session whose date has
// passed and returns how many it moved. It is safe to run concurrently with
// itself: each move is a compare-and-swap on status.
func (j *CompletionJob) RunOnce(ctx context.Context) (int, error) {
	now := j.now()
	due, err := j.repo.Query(ctx, docstore.Query{
		Where: []docstore.Cond{docstore.Eq("status", models.SessionApproved)},
	})
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, sess := range due {
		if DeriveStatus(sess, now) != models.SessionCompleted {
			continue
		}
		_, err := j.repo.Transition(ctx, sess.ID, []models.SessionStatus{models.SessionApproved}, map[string]interface{}{
			"status":      models.SessionCompleted,
			"completedAt": now.UTC(),
		})
		if errors.Is(err, docstore.ErrConditionFailed) {
			continue
		}
		if err != nil {
			j.logger.Warn("complete session failed", zap.String("session_id", sess.ID), zap.Error(err))
			continue
		}
		moved++
		j.notify.Send(ctx, notify.Notification{Event: notify.EventSessionCompleted, SubjectID: sess.ID, RecipientID: sess.AuthorID})
	}
	if moved > 0 {
		j.logger.Info("sessions completed", zap.Int("count", moved))
	}
	return moved, nil
}

// Run calls RunOnce every interval until ctx is done.
func (j *CompletionJob) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := j.RunOnce(ctx); err != nil {
			j.logger.Warn("completion run failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			j.logger.Info("completion job stopping")
			return
		case <-ticker.C:
		}
	}
}
