// Package sessions runs the session lifecycle: proposal, faculty review,
// upvoting and the time-based move to completed.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campus-talks/backend/internal/apperr"
	"github.com/campus-talks/backend/internal/authz"
	"github.com/campus-talks/backend/internal/models"
	"github.com/campus-talks/backend/internal/notify"
	"github.com/campus-talks/backend/internal/validate"
	"github.com/campus-talks/backend/internal/votes"
	"github.com/campus-talks/backend/pkg/docstore"
)

// RatingSource supplies the feedback aggregate shown with a session.
type RatingSource interface {
	Rating(ctx context.Context, sessionID string) (models.Rating, error)
}

// ProposeInput is a new session.
type ProposeInput struct {
	Title        string     `json:"title" validate:"notblank,max=200"`
	Description  string     `json:"description" validate:"max=5000"`
	Date         *time.Time `json:"date"`
	MaxAttendees *int       `json:"maxAttendees" validate:"omitempty,min=1"`
	Price        float64    `json:"price" validate:"gte=0"`
}

// RejectInput carries the mandatory rejection reason.
type RejectInput struct {
	Reason string `json:"reason" validate:"notblank,max=1000"`
}

// Decision is a faculty review outcome.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// BulkReviewInput applies one decision to several sessions.
type BulkReviewInput struct {
	IDs      []string `json:"ids" validate:"required,min=1,dive,notblank"`
	Decision Decision `json:"decision" validate:"oneof=approve reject"`
	Reason   string   `json:"reason"`
}

// ListFilter narrows List. Status matches the projected status.
type ListFilter struct {
	Status   models.SessionStatus
	AuthorID string
}

// Service runs session actions.
type Service struct {
	repo    *Repository
	guard   *authz.Guard
	votes   *votes.VoteLedger
	ratings RatingSource
	notify  *notify.Dispatcher
	logger  *zap.Logger
	now     func() time.Time
}

// NewService creates a session service. ratings may be nil.
func NewService(repo *Repository, guard *authz.Guard, v *votes.VoteLedger, ratings RatingSource, d *notify.Dispatcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, guard: guard, votes: v, ratings: ratings, notify: d, logger: logger, now: time.Now}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Propose creates a session. Students suggest topics (proposed); faculty and
// speakers submit talks for review (pending).
func (s *Service) Propose(ctx context.Context, actor authz.Identity, in ProposeInput) (models.Session, error) {
	profile, err := s.guard.Check(ctx, actor, authz.ActionProposeSession)
	if err != nil {
		return models.Session{}, err
	}
	if err := validate.Struct(in); err != nil {
		return models.Session{}, err
	}
	status := models.SessionPending
	if profile.Role == models.RoleStudent {
		status = models.SessionProposed
	}
	var date *time.Time
	if in.Date != nil {
		d := in.Date.UTC()
		date = &d
	}
	sess := models.Session{
		ID:           uuid.New().String(),
		Title:        in.Title,
		Description:  in.Description,
		AuthorID:     profile.UID,
		AuthorName:   profile.Name,
		Status:       status,
		CreatedAt:    s.now().UTC(),
		Date:         date,
		MaxAttendees: in.MaxAttendees,
		Price:        in.Price,
	}
	if err := s.repo.Create(ctx, sess); err != nil {
		return models.Session{}, err
	}
	s.logger.Info("session proposed", zap.String("session_id", sess.ID), zap.String("status", string(status)))
	return sess, nil
}

// Get returns the session view with projected status and rating.
func (s *Service) Get(ctx context.Context, id string) (models.SessionView, error) {
	sess, err := s.repo.Get(ctx, id)
	if err != nil {
		return models.SessionView{}, err
	}
	return s.view(ctx, sess), nil
}

// List returns session views, newest first.
func (s *Service) List(ctx context.Context, f ListFilter) ([]models.SessionView, error) {
	q := docstore.Query{OrderBy: "createdAt", Desc: true}
	if f.Status != "" {
		q.Where = append(q.Where, docstore.In("status", storedCandidates(f.Status)...))
	}
	if f.AuthorID != "" {
		q.Where = append(q.Where, docstore.Eq("authorId", f.AuthorID))
	}
	list, err := s.repo.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]models.SessionView, 0, len(list))
	for _, sess := range list {
		if f.Status != "" && DeriveStatus(sess, now) != f.Status {
			continue
		}
		out = append(out, s.view(ctx, sess))
	}
	return out, nil
}

// Ranked returns student topic suggestions ordered by upvotes, most first.
func (s *Service) Ranked(ctx context.Context, limit int) ([]models.SessionView, error) {
	list, err := s.repo.Query(ctx, docstore.Query{
		Where: []docstore.Cond{docstore.Eq("status", models.SessionProposed)},
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Upvotes != list[j].Upvotes {
			return list[i].Upvotes > list[j].Upvotes
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	out := make([]models.SessionView, len(list))
	for i, sess := range list {
		out[i] = s.view(ctx, sess)
	}
	return out, nil
}

func (s *Service) view(ctx context.Context, sess models.Session) models.SessionView {
	v := models.SessionView{Session: Project(sess, s.now())}
	if s.ratings == nil {
		return v
	}
	r, err := s.ratings.Rating(ctx, sess.ID)
	if err != nil {
		s.logger.Warn("rating unavailable", zap.String("session_id", sess.ID), zap.Error(err))
		return v
	}
	v.AverageRating, v.RatingCount = r.Average, r.Count
	return v
}

// Approve moves a proposed or pending session to approved.
func (s *Service) Approve(ctx context.Context, actor authz.Identity, id string) (models.Session, error) {
	if _, err := s.guard.Check(ctx, actor, authz.ActionReviewSession); err != nil {
		return models.Session{}, err
	}
	sess, err := s.repo.Transition(ctx, id, reviewable, approveFields(actor.UID, s.now()))
	if err != nil {
		return models.Session{}, s.transitionError(ctx, id, "approve", err)
	}
	s.logger.Info("session approved", zap.String("session_id", id), zap.String("by", actor.UID))
	s.notify.Send(ctx, notify.Notification{Event: notify.EventSessionApproved, SubjectID: id, RecipientID: sess.AuthorID})
	return Project(sess, s.now()), nil
}

// Reject moves a proposed or pending session to rejected. The reason is
// stored verbatim.
func (s *Service) Reject(ctx context.Context, actor authz.Identity, id string, in RejectInput) (models.Session, error) {
	if _, err := s.guard.Check(ctx, actor, authz.ActionReviewSession); err != nil {
		return models.Session{}, err
	}
	if err := validate.Struct(in); err != nil {
		return models.Session{}, err
	}
	sess, err := s.repo.Transition(ctx, id, reviewable, rejectFields(actor.UID, in.Reason))
	if err != nil {
		return models.Session{}, s.transitionError(ctx, id, "reject", err)
	}
	s.logger.Info("session rejected", zap.String("session_id", id), zap.String("by", actor.UID))
	s.notify.Send(ctx, notify.Notification{Event: notify.EventSessionRejected, SubjectID: id, RecipientID: sess.AuthorID, Message: in.Reason})
	return sess, nil
}

// BulkReview applies one decision to every selected session in a single
// atomic batch. When any session is not reviewable nothing changes and the
// error lists the offending ids.
func (s *Service) BulkReview(ctx context.Context, actor authz.Identity, in BulkReviewInput) ([]models.Session, error) {
	if _, err := s.guard.Check(ctx, actor, authz.ActionReviewSession); err != nil {
		return nil, err
	}
	if err := validate.Struct(in); err != nil {
		return nil, err
	}
	if in.Decision == DecisionReject {
		if err := validate.Struct(RejectInput{Reason: in.Reason}); err != nil {
			return nil, err
		}
	}
	ids := dedupe(in.IDs)
	set := approveFields(actor.UID, s.now())
	event := notify.EventSessionApproved
	if in.Decision == DecisionReject {
		set = rejectFields(actor.UID, in.Reason)
		event = notify.EventSessionRejected
	}
	err := s.repo.TransitionAll(ctx, ids, reviewable, set)
	var batchErr *docstore.BatchError
	if errors.As(err, &batchErr) {
		return nil, &apperr.Error{Kind: apperr.KindInvalidTransition, Message: "bulk review rejected, no session was changed", IDs: batchErr.Failed}
	}
	if err != nil {
		return nil, fmt.Errorf("bulk review: %w", err)
	}
	s.logger.Info("sessions reviewed", zap.Int("count", len(ids)), zap.String("decision", string(in.Decision)), zap.String("by", actor.UID))

	out := make([]models.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		s.notify.Send(ctx, notify.Notification{Event: event, SubjectID: id, RecipientID: sess.AuthorID, Message: in.Reason})
		out = append(out, Project(sess, s.now()))
	}
	return out, nil
}

// Upvote records a permanent ranking vote.
func (s *Service) Upvote(ctx context.Context, actor authz.Identity, id string) (int, error) {
	if _, err := s.guard.Check(ctx, actor, authz.ActionUpvote); err != nil {
		return 0, err
	}
	return s.votes.Permanent().Upvote(ctx, id, actor.UID)
}

// ToggleUpvote flips the caller's browsing vote.
func (s *Service) ToggleUpvote(ctx context.Context, actor authz.Identity, id string) (bool, int, error) {
	if _, err := s.guard.Check(ctx, actor, authz.ActionUpvote); err != nil {
		return false, 0, err
	}
	return s.votes.Toggleable().Toggle(ctx, id, actor.UID)
}

var reviewable = []models.SessionStatus{models.SessionProposed, models.SessionPending}

func approveFields(by string, at time.Time) map[string]interface{} {
	return map[string]interface{}{
		"status":          models.SessionApproved,
		"approvedBy":      by,
		"approvedAt":      at.UTC(),
		"rejectionReason": nil,
		"reviewedBy":      by,
	}
}

func rejectFields(by, reason string) map[string]interface{} {
	return map[string]interface{}{
		"status":          models.SessionRejected,
		"rejectionReason": reason,
		"reviewedBy":      by,
	}
}

// transitionError turns a failed compare-and-swap into the caller-facing
// refusal, naming the state the session is actually in.
func (s *Service) transitionError(ctx context.Context, id, action string, err error) error {
	if errors.Is(err, docstore.ErrNotFound) {
		return apperr.New(apperr.KindNotFound, "session %s not found", id)
	}
	if !errors.Is(err, docstore.ErrConditionFailed) {
		return fmt.Errorf("%s session %s: %w", action, id, err)
	}
	cur, getErr := s.repo.Get(ctx, id)
	if getErr != nil {
		return getErr
	}
	return apperr.New(apperr.KindInvalidTransition, "cannot %s a session that is %s", action, DeriveStatus(cur, s.now()))
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
