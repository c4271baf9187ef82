// Package notify reports workflow outcomes to whoever needs to hear about
// them. Delivery never affects the state machines: a failed notification is
// logged and the committed transition stands.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/campus-talks/backend/pkg/queue"
)

// Event names a workflow outcome.
type Event string

const (
	EventSessionApproved          Event = "session.approved"
	EventSessionRejected          Event = "session.rejected"
	EventSessionCompleted         Event = "session.completed"
	EventRegistrationConfirmed    Event = "registration.confirmed"
	EventProposalApproved         Event = "proposal.approved"
	EventProposalRejected         Event = "proposal.rejected"
	EventInterviewScheduled       Event = "proposal.interview_scheduled"
	EventProposalFinalApproved    Event = "proposal.final_approved"
	EventProposalFinalDisapproved Event = "proposal.final_disapproved"
	EventSpeakerPromoted          Event = "user.promoted"
	EventPromotionTargetNotFound  Event = "user.promotion_target_not_found"
)

// Notification is one outcome addressed to a user.
type Notification struct {
	Event          Event             `json:"event"`
	SubjectID      string            `json:"subjectId"`
	RecipientID    string            `json:"recipientId,omitempty"`
	RecipientEmail string            `json:"recipientEmail,omitempty"`
	Message        string            `json:"message,omitempty"`
	Data           map[string]string `json:"data,omitempty"`
	At             time.Time         `json:"at"`
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, n Notification) error

// Notify implements Notifier.
func (f Func) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (l *LogNotifier) Notify(ctx context.Context, n Notification) error {
	l.logger.Info("notification",
		zap.String("event", string(n.Event)),
		zap.String("subject_id", n.SubjectID),
		zap.String("recipient_id", n.RecipientID),
		zap.String("recipient_email", n.RecipientEmail),
		zap.String("message", n.Message),
	)
	return nil
}

// Enqueuer is the part of queue.Queue the notifier needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, typ queue.JobType, payload interface{}) error
}

// QueueNotifier hands notifications to the worker through the job queue.
type QueueNotifier struct {
	q Enqueuer
}

// NewQueueNotifier creates a queue-backed notifier.
func NewQueueNotifier(q Enqueuer) *QueueNotifier {
	return &QueueNotifier{q: q}
}

// Notify implements Notifier.
func (q *QueueNotifier) Notify(ctx context.Context, n Notification) error {
	return q.q.Enqueue(ctx, queue.JobTypeNotification, n)
}

// Dispatcher stamps and sends notifications, logging failures instead of
// returning them.
type Dispatcher struct {
	notifier Notifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewDispatcher wraps n. A nil n drops every notification.
func NewDispatcher(n Notifier, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{notifier: n, logger: logger, now: time.Now}
}

// Send delivers n.
func (d *Dispatcher) Send(ctx context.Context, n Notification) {
	if d == nil || d.notifier == nil {
		return
	}
	if n.At.IsZero() {
		n.At = d.now().UTC()
	}
	if err := d.notifier.Notify(ctx, n); err != nil {
		d.logger.Warn("notification dispatch failed",
			zap.String("event", string(n.Event)),
			zap.String("subject_id", n.SubjectID),
			zap.Error(err),
		)
	}
}
