// Package registrations runs the registration ledger: seat reservation,
// optional payment capture, the composite-key fact and the attendee count
// recomputed from it.
package registrations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/campus-talks/backend/internal/apperr"
	"github.com/campus-talks/backend/internal/authz"
	"github.com/campus-talks/backend/internal/counter"
	"github.com/campus-talks/backend/internal/models"
	"github.com/campus-talks/backend/internal/notify"
	"github.com/campus-talks/backend/internal/sessions"
	"github.com/campus-talks/backend/pkg/docstore"
)

// RegisterInput carries the explicit confirmation paid sessions need.
type RegisterInput struct {
	Confirm bool `json:"confirm"`
}

// Service runs registration actions.
type Service struct {
	repo      *Repository
	sessions  *sessions.Repository
	guard     *authz.Guard
	payments  PaymentGateway
	seats     *counter.Atomic
	attendees *counter.Reconciler
	notify    *notify.Dispatcher
	logger    *zap.Logger
	now       func() time.Time
}

// NewService creates a registration service.
func NewService(store docstore.Store, guard *authz.Guard, payments PaymentGateway, d *notify.Dispatcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:      NewRepository(store),
		sessions:  sessions.NewRepository(store),
		guard:     guard,
		payments:  payments,
		seats:     counter.NewAtomic(store, models.CollectionSessions, "reservedSeats"),
		attendees: counter.NewReconciler(store, NewAttendeeCounter(store), "sessionId", logger),
		notify:    d,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Repository returns the registration ledger.
func (s *Service) Repository() *Repository { return s.repo }

// Register records the caller's registration for sessionID. A repeat call
// returns AlreadyRegistered with the existing fact and no side effects.
func (s *Service) Register(ctx context.Context, actor authz.Identity, sessionID string, in RegisterInput) (models.Registration, error) {
	profile, err := s.guard.Check(ctx, actor, authz.ActionRegister)
	if err != nil {
		return models.Registration{}, err
	}
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return models.Registration{}, err
	}
	if st := sessions.DeriveStatus(sess, s.now()); st != models.SessionApproved {
		return models.Registration{}, apperr.New(apperr.KindInvalidTransition, "registration is closed: session is %s", st)
	}
	if sess.IsPaid() && !in.Confirm {
		return models.Registration{}, apperr.Validation("confirm", "is required for paid sessions")
	}

	existing, err := s.repo.Get(ctx, sessionID, profile.UID)
	reactivate := false
	switch {
	case err == nil && !existing.Cancelled:
		return existing, apperr.New(apperr.KindAlreadyRegistered, "you are already registered for this session")
	case err == nil:
		reactivate = true
	case !errors.Is(err, docstore.ErrNotFound):
		return models.Registration{}, fmt.Errorf("load registration: %w", err)
	}

	if err := s.reserveSeat(ctx, sess); err != nil {
		return models.Registration{}, err
	}

	reg := models.Registration{
		ID:            models.RegistrationID(sessionID, profile.UID),
		SessionID:     sessionID,
		AttendeeID:    profile.UID,
		AttendeeName:  profile.Name,
		AttendeeEmail: profile.Email,
		CreatedAt:     s.now().UTC(),
		PaymentStatus: models.PaymentStatusFree,
	}
	if sess.IsPaid() {
		payment, err := s.payments.Capture(ctx, PaymentRequest{SessionID: sessionID, AttendeeID: profile.UID, Amount: sess.Price})
		if err != nil {
			s.releaseSeat(ctx, sessionID)
			return models.Registration{}, apperr.New(apperr.KindPaymentFailed, "payment could not be captured: %v", err)
		}
		reg.PaymentAmount = payment.Amount
		reg.PaymentStatus = models.PaymentStatusPaid
		reg.PaymentRef = payment.Ref
	}

	if err := s.write(ctx, reg, reactivate); err != nil {
		s.releaseSeat(ctx, sessionID)
		s.refund(ctx, reg)
		if errors.Is(err, apperr.ErrAlreadyRegistered) {
			cur, _ := s.repo.Get(ctx, sessionID, profile.UID)
			return cur, err
		}
		return models.Registration{}, err
	}

	s.attendees.Reconcile(ctx, sessionID)
	s.logger.Info("registered", zap.String("session_id", sessionID), zap.String("attendee_id", profile.UID))
	s.notify.Send(ctx, notify.Notification{
		Event:          notify.EventRegistrationConfirmed,
		SubjectID:      sessionID,
		RecipientID:    profile.UID,
		RecipientEmail: profile.Email,
	})
	return reg, nil
}

// write stores the fact. Losing a race to a concurrent registration of the
// same pair reports AlreadyRegistered.
func (s *Service) write(ctx context.Context, reg models.Registration, reactivate bool) error {
	if reactivate {
		err := s.repo.Reactivate(ctx, reg)
		if errors.Is(err, docstore.ErrConditionFailed) {
			return apperr.New(apperr.KindAlreadyRegistered, "you are already registered for this session")
		}
		return err
	}
	created, err := s.repo.Insert(ctx, reg)
	if err != nil {
		return err
	}
	if !created {
		return apperr.New(apperr.KindAlreadyRegistered, "you are already registered for this session")
	}
	return nil
}

// reserveSeat takes one seat, bounded by maxAttendees when set. The bound is
// a conditional increment, so concurrent callers cannot overshoot.
func (s *Service) reserveSeat(ctx context.Context, sess models.Session) error {
	approved := docstore.Eq("status", models.SessionApproved)
	var err error
	if sess.MaxAttendees != nil {
		_, err = s.seats.IncrementBelow(ctx, sess.ID, *sess.MaxAttendees, approved)
	} else {
		_, err = s.seats.Increment(ctx, sess.ID, approved)
	}
	if !errors.Is(err, docstore.ErrConditionFailed) {
		return err
	}
	cur, getErr := s.sessions.Get(ctx, sess.ID)
	if getErr != nil {
		return getErr
	}
	if cur.Status != models.SessionApproved {
		return apperr.New(apperr.KindInvalidTransition, "registration is closed: session is %s", sessions.DeriveStatus(cur, s.now()))
	}
	return apperr.New(apperr.KindCapacityExceeded, "session is full")
}

func (s *Service) releaseSeat(ctx context.Context, sessionID string) {
	if _, err := s.seats.Decrement(ctx, sessionID); err != nil {
		s.logger.Warn("release seat failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (s *Service) refund(ctx context.Context, reg models.Registration) {
	if reg.PaymentRef == "" {
		return
	}
	if err := s.payments.Refund(ctx, reg.PaymentRef); err != nil {
		s.logger.Warn("refund failed", zap.String("payment_ref", reg.PaymentRef), zap.Error(err))
	}
}

// Unregister cancels the caller's registration and frees the seat.
func (s *Service) Unregister(ctx context.Context, actor authz.Identity, sessionID string) error {
	profile, err := s.guard.Check(ctx, actor, authz.ActionUnregister)
	if err != nil {
		return err
	}
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if st := sessions.DeriveStatus(sess, s.now()); st == models.SessionCompleted {
		return apperr.New(apperr.KindInvalidTransition, "cannot unregister from a completed session")
	}
	reg, err := s.repo.Get(ctx, sessionID, profile.UID)
	if errors.Is(err, docstore.ErrNotFound) {
		return apperr.New(apperr.KindNotRegistered, "you are not registered for this session")
	}
	if err != nil {
		return err
	}
	set := map[string]interface{}{"cancelledAt": s.now().UTC()}
	if reg.PaymentStatus == models.PaymentStatusPaid {
		set["paymentStatus"] = models.PaymentStatusRefunded
	}
	err = s.repo.Cancel(ctx, reg.ID, set)
	if errors.Is(err, docstore.ErrConditionFailed) {
		return apperr.New(apperr.KindNotRegistered, "you are not registered for this session")
	}
	if err != nil {
		return fmt.Errorf("cancel registration: %w", err)
	}
	s.releaseSeat(ctx, sessionID)
	s.refund(ctx, reg)
	s.attendees.Reconcile(ctx, sessionID)
	s.logger.Info("unregistered", zap.String("session_id", sessionID), zap.String("attendee_id", profile.UID))
	return nil
}

// List returns the active registrations of a session. Faculty see every
// session; speakers see their own.
func (s *Service) List(ctx context.Context, actor authz.Identity, sessionID string) ([]models.Registration, error) {
	profile, err := s.guard.Check(ctx, actor, authz.ActionViewRegistrations)
	if err != nil {
		return nil, err
	}
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if profile.Role == models.RoleSpeaker && sess.AuthorID != profile.UID {
		return nil, apperr.New(apperr.KindPermissionDenied, "only the session author can list its registrations")
	}
	return s.repo.ListActive(ctx, sessionID)
}
