// Package feedback stores one rating per attendee and session and derives
// the session's rating aggregate from those facts.
package feedback

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/campus-talks/backend/internal/apperr"
	"github.com/campus-talks/backend/internal/authz"
	"github.com/campus-talks/backend/internal/ledger"
	"github.com/campus-talks/backend/internal/models"
	"github.com/campus-talks/backend/internal/registrations"
	"github.com/campus-talks/backend/internal/sessions"
	"github.com/campus-talks/backend/internal/validate"
	"github.com/campus-talks/backend/pkg/docstore"
)

// SubmitInput is a rating with an optional comment.
type SubmitInput struct {
	Rating  int    `json:"rating" validate:"min=1,max=5"`
	Comment string `json:"comment" validate:"max=150"`
}

// Service handles feedback submission.
type Service struct {
	facts         *ledger.Ledger
	sessions      *sessions.Repository
	registrations *registrations.Repository
	guard         *authz.Guard
	logger        *zap.Logger
	now           func() time.Time
}

// NewService creates a feedback service.
func NewService(store docstore.Store, guard *authz.Guard, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		facts:         ledger.New(store, models.CollectionFeedback),
		sessions:      sessions.NewRepository(store),
		registrations: registrations.NewRepository(store),
		guard:         guard,
		logger:        logger,
		now:           time.Now,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Submit records the caller's feedback for sessionID. A second submission
// overwrites the first; createdAt keeps the original time.
func (s *Service) Submit(ctx context.Context, actor authz.Identity, sessionID string, in SubmitInput) (models.Feedback, error) {
	profile, err := s.guard.Check(ctx, actor, authz.ActionSubmitFeedback)
	if err != nil {
		return models.Feedback{}, err
	}
	if err := validate.Struct(in); err != nil {
		return models.Feedback{}, err
	}
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return models.Feedback{}, err
	}
	if st := sessions.DeriveStatus(sess, s.now()); st != models.SessionCompleted {
		return models.Feedback{}, apperr.New(apperr.KindInvalidTransition, "feedback opens once the session is completed; it is %s", st)
	}
	active, err := s.registrations.IsActive(ctx, sessionID, profile.UID)
	if err != nil {
		return models.Feedback{}, fmt.Errorf("check registration: %w", err)
	}
	if !active {
		return models.Feedback{}, apperr.New(apperr.KindNotRegistered, "only registered attendees can rate this session")
	}

	now := s.now().UTC()
	fb := models.Feedback{
		ID:         docstore.Key(sessionID, profile.UID),
		SessionID:  sessionID,
		AttendeeID: profile.UID,
		Rating:     in.Rating,
		Comment:    in.Comment,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	created, err := s.facts.Record(ctx, fb.ID, fb)
	if err != nil {
		return models.Feedback{}, err
	}
	if !created {
		err = s.facts.Amend(ctx, fb.ID, docstore.Mutation{Set: map[string]interface{}{
			"rating":    fb.Rating,
			"comment":   fb.Comment,
			"updatedAt": now,
		}})
		if err != nil {
			return models.Feedback{}, fmt.Errorf("update feedback: %w", err)
		}
		if err := s.facts.Get(ctx, fb.ID, &fb); err != nil {
			return models.Feedback{}, fmt.Errorf("reload feedback: %w", err)
		}
	}
	s.logger.Info("feedback recorded",
		zap.String("session_id", sessionID),
		zap.String("attendee_id", profile.UID),
		zap.Int("rating", fb.Rating),
		zap.Bool("overwrite", !created),
	)
	return fb, nil
}
