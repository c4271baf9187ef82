// Package users owns user profiles: registration records, faculty approval
// and the one-way promotion of a student to speaker.
package users

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/campus-talks/backend/internal/apperr"
	"github.com/campus-talks/backend/internal/authz"
	"github.com/campus-talks/backend/internal/models"
)

// Service runs user actions.
type Service struct {
	repo   *Repository
	guard  *authz.Guard
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a user service.
func NewService(repo *Repository, guard *authz.Guard, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, guard: guard, logger: logger, now: time.Now}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// ApproveFaculty lets an approved faculty member approve another faculty account.
func (s *Service) ApproveFaculty(ctx context.Context, actor authz.Identity, uid string) (models.UserProfile, error) {
	if _, err := s.guard.Check(ctx, actor, authz.ActionApproveFaculty); err != nil {
		return models.UserProfile{}, err
	}
	p, err := s.repo.ApproveFaculty(ctx, uid)
	if err != nil {
		return models.UserProfile{}, err
	}
	s.logger.Info("faculty approved", zap.String("uid", uid), zap.String("by", actor.UID))
	return p, nil
}

// Promotion is the outcome of a speaker promotion attempt.
type Promotion struct {
	Profile  models.UserProfile
	Promoted bool
}

// PromoteSpeaker resolves the target by studentID, falling back to email,
// and promotes it once. An unresolved target returns
// PromotionTargetNotFound.
func (s *Service) PromoteSpeaker(ctx context.Context, studentID, email, by string) (Promotion, error) {
	target, err := s.resolve(ctx, studentID, email)
	if err != nil {
		return Promotion{}, err
	}
	p, promoted, err := s.repo.PromoteToSpeaker(ctx, target.UID, by, s.now())
	if err != nil {
		return Promotion{}, err
	}
	if promoted {
		s.logger.Info("user promoted to speaker", zap.String("uid", p.UID), zap.String("by", by))
	}
	return Promotion{Profile: p, Promoted: promoted}, nil
}

func (s *Service) resolve(ctx context.Context, studentID, email string) (models.UserProfile, error) {
	if studentID != "" {
		p, err := s.repo.GetProfile(ctx, studentID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, authz.ErrProfileNotFound) {
			return models.UserProfile{}, err
		}
	}
	if email != "" {
		p, err := s.repo.FindByEmail(ctx, email)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, authz.ErrProfileNotFound) {
			return models.UserProfile{}, err
		}
	}
	return models.UserProfile{}, apperr.New(apperr.KindPromotionTargetNotFound,
		"no user matches student %q or email %q", studentID, email)
}
