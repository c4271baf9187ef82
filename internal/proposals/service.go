// Package proposals runs the speaker proposal pipeline: faculty review,
// interview scheduling and the final decision that promotes a student to
// speaker.
package proposals

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/campus-talks/backend/internal/apperr"
	"github.com/campus-talks/backend/internal/authz"
	"github.com/campus-talks/backend/internal/models"
	"github.com/campus-talks/backend/internal/notify"
	"github.com/campus-talks/backend/internal/users"
	"github.com/campus-talks/backend/internal/validate"
	"github.com/campus-talks/backend/pkg/docstore"
)

// Interview date and time formats.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Promoter turns the proposal's student into a speaker.
type Promoter interface {
	PromoteSpeaker(ctx context.Context, studentID, email, by string) (users.Promotion, error)
}

// SubmitInput is a speaker application. Name and email default to the
// caller's profile.
type SubmitInput struct {
	Name     string `json:"name" validate:"notblank,max=200"`
	Email    string `json:"email" validate:"required,email"`
	LinkedIn string `json:"linkedin" validate:"omitempty,url"`
	Phone    string `json:"phone" validate:"max=32"`
	Year     string `json:"year" validate:"notblank,max=32"`
	Resume   string `json:"resume" validate:"required,url"`
}

// RejectInput carries the mandatory rejection message.
type RejectInput struct {
	Message string `json:"message" validate:"notblank,max=1000"`
}

// ScheduleInput sets the interview. All three fields are required.
type ScheduleInput struct {
	Date  string `json:"date" validate:"required,datetime=2006-01-02"`
	Time  string `json:"time" validate:"required,datetime=15:04"`
	Venue string `json:"venue" validate:"notblank,max=200"`
}

// Decision is the final outcome after the interview.
type Decision string

const (
	DecisionApprove    Decision = "approve"
	DecisionDisapprove Decision = "disapprove"
)

// FinalizeInput is the final decision. Disapproval needs a message.
type FinalizeInput struct {
	Decision Decision `json:"decision" validate:"oneof=approve disapprove"`
	Message  string   `json:"message" validate:"max=1000"`
}

// Finalization is the committed final decision. Warning is set when the
// decision stands but the promotion could not be applied.
type Finalization struct {
	Proposal  models.SpeakerProposal `json:"proposal"`
	Promotion *users.Promotion       `json:"promotion,omitempty"`
	Warning   string                 `json:"warning,omitempty"`
}

// ListFilter narrows List. Status matches the projected status.
type ListFilter struct {
	Status    models.ProposalStatus
	StudentID string
}

// Service runs proposal actions.
type Service struct {
	repo     *Repository
	guard    *authz.Guard
	promoter Promoter
	resumes  ResumeStore
	notify   *notify.Dispatcher
	logger   *zap.Logger
	now      func() time.Time
	loc      *time.Location
}

// NewService creates a proposal service. resumes may be nil when resume
// storage is not configured.
func NewService(repo *Repository, guard *authz.Guard, promoter Promoter, resumes ResumeStore, d *notify.Dispatcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:     repo,
		guard:    guard,
		promoter: promoter,
		resumes:  resumes,
		notify:   d,
		logger:   logger,
		now:      time.Now,
		loc:      time.UTC,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// SetLocation sets the zone interview dates and times are given in.
func (s *Service) SetLocation(loc *time.Location) {
	if loc != nil {
		s.loc = loc
	}
}

// Submit records a new application. Students may apply again later; each
// submission is its own proposal.
func (s *Service) Submit(ctx context.Context, actor authz.Identity, in SubmitInput) (models.SpeakerProposal, error) {
	profile, err := s.guard.Check(ctx, actor, authz.ActionSubmitProposal)
	if err != nil {
		return models.SpeakerProposal{}, err
	}
	if strings.TrimSpace(in.Name) == "" {
		in.Name = profile.Name
	}
	if strings.TrimSpace(in.Email) == "" {
		in.Email = profile.Email
	}
	if err := validate.Struct(in); err != nil {
		return models.SpeakerProposal{}, err
	}
	now := s.now().UTC()
	p := models.SpeakerProposal{
		ID:        docstore.Key(profile.UID, strconv.FormatInt(now.UnixMilli(), 10)),
		StudentID: profile.UID,
		Name:      strings.TrimSpace(in.Name),
		Email:     models.NormalizeEmail(in.Email),
		LinkedIn:  in.LinkedIn,
		Phone:     in.Phone,
		Year:      in.Year,
		Resume:    in.Resume,
		Status:    models.ProposalPending,
		CreatedAt: now,
	}
	created, err := s.repo.Create(ctx, p)
	if err != nil {
		return models.SpeakerProposal{}, err
	}
	if !created {
		// Same student, same millisecond: a double submit.
		return s.repo.Get(ctx, p.ID)
	}
	s.logger.Info("speaker proposal submitted", zap.String("proposal_id", p.ID), zap.String("student_id", p.StudentID))
	return p, nil
}

// Get returns a proposal with its projected status. Students only see
// their own proposals.
func (s *Service) Get(ctx context.Context, actor authz.Identity, id string) (models.SpeakerProposal, error) {
	profile, err := s.guard.Check(ctx, actor, authz.ActionViewProposals)
	if err != nil {
		return models.SpeakerProposal{}, err
	}
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return models.SpeakerProposal{}, err
	}
	if profile.Role == models.RoleStudent && p.StudentID != profile.UID {
		return models.SpeakerProposal{}, apperr.New(apperr.KindPermissionDenied, "proposal belongs to another student")
	}
	return Project(p, s.now()), nil
}

// List returns proposals newest first. Students are limited to their own.
func (s *Service) List(ctx context.Context, actor authz.Identity, f ListFilter) ([]models.SpeakerProposal, error) {
	profile, err := s.guard.Check(ctx, actor, authz.ActionViewProposals)
	if err != nil {
		return nil, err
	}
	if profile.Role == models.RoleStudent {
		f.StudentID = profile.UID
	}
	q := docstore.Query{OrderBy: "createdAt", Desc: true}
	if f.Status != "" {
		q.Where = append(q.Where, docstore.In("status", storedCandidates(f.Status)...))
	}
	if f.StudentID != "" {
		q.Where = append(q.Where, docstore.Eq("studentId", f.StudentID))
	}
	list, err := s.repo.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	now := s.now()
	out := make([]models.SpeakerProposal, 0, len(list))
	for _, p := range list {
		p = Project(p, now)
		if f.Status != "" && p.Status != f.Status {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// Approve accepts a pending proposal for interview.
func (s *Service) Approve(ctx context.Context, actor authz.Identity, id string) (models.SpeakerProposal, error) {
	if _, err := s.guard.Check(ctx, actor, authz.ActionReviewProposal); err != nil {
		return models.SpeakerProposal{}, err
	}
	p, err := s.repo.Transition(ctx, id, []docstore.Cond{docstore.Eq("status", models.ProposalPending)}, map[string]interface{}{
		"status":     models.ProposalApproved,
		"reviewedBy": actor.UID,
		"reviewedAt": s.now().UTC(),
	})
	if err != nil {
		return models.SpeakerProposal{}, s.transitionError(ctx, id, "approve", err)
	}
	s.logger.Info("speaker proposal approved", zap.String("proposal_id", id), zap.String("by", actor.UID))
	s.send(ctx, notify.EventProposalApproved, p, "", nil)
	return p, nil
}

// Reject turns a pending proposal down. The message is stored verbatim.
func (s *Service) Reject(ctx context.Context, actor authz.Identity, id string, in RejectInput) (models.SpeakerProposal, error) {
	if _, err := s.guard.Check(ctx, actor, authz.ActionReviewProposal); err != nil {
		return models.SpeakerProposal{}, err
	}
	if err := validate.Struct(in); err != nil {
		return models.SpeakerProposal{}, err
	}
	p, err := s.repo.Transition(ctx, id, []docstore.Cond{docstore.Eq("status", models.ProposalPending)}, map[string]interface{}{
		"status":           models.ProposalRejected,
		"rejectionMessage": in.Message,
		"reviewedBy":       actor.UID,
		"reviewedAt":       s.now().UTC(),
	})
	if err != nil {
		return models.SpeakerProposal{}, s.transitionError(ctx, id, "reject", err)
	}
	s.logger.Info("speaker proposal rejected", zap.String("proposal_id", id), zap.String("by", actor.UID))
	s.send(ctx, notify.EventProposalRejected, p, in.Message, nil)
	return p, nil
}

// Schedule sets the interview of an approved proposal. A scheduled
// interview can be moved until it has taken place.
func (s *Service) Schedule(ctx context.Context, actor authz.Identity, id string, in ScheduleInput) (models.SpeakerProposal, error) {
	if _, err := s.guard.Check(ctx, actor, authz.ActionScheduleInterview); err != nil {
		return models.SpeakerProposal{}, err
	}
	if err := validate.Struct(in); err != nil {
		return models.SpeakerProposal{}, err
	}
	at, err := time.ParseInLocation(DateLayout+" "+TimeLayout, in.Date+" "+in.Time, s.loc)
	if err != nil {
		return models.SpeakerProposal{}, apperr.Validation("date", "is not a valid date")
	}
	now := s.now()
	if !at.After(now) {
		return models.SpeakerProposal{}, apperr.Validation("time", "must be in the future")
	}

	cur, err := s.repo.Get(ctx, id)
	if err != nil {
		return models.SpeakerProposal{}, err
	}
	var when []docstore.Cond
	switch DeriveStatus(cur, now) {
	case models.ProposalApproved:
		when = []docstore.Cond{docstore.Eq("status", models.ProposalApproved)}
	case models.ProposalScheduled:
		when = []docstore.Cond{docstore.Eq("status", models.ProposalScheduled), sameInterview(cur)}
	default:
		return models.SpeakerProposal{}, apperr.New(apperr.KindInvalidTransition,
			"cannot schedule an interview for a proposal that is %s", DeriveStatus(cur, now))
	}
	p, err := s.repo.Transition(ctx, id, when, map[string]interface{}{
		"status":             models.ProposalScheduled,
		"interviewDate":      in.Date,
		"interviewTime":      in.Time,
		"interviewVenue":     strings.TrimSpace(in.Venue),
		"interviewTimestamp": at.UTC(),
	})
	if err != nil {
		return models.SpeakerProposal{}, s.transitionError(ctx, id, "schedule", err)
	}
	s.logger.Info("interview scheduled",
		zap.String("proposal_id", id),
		zap.Time("at", at),
		zap.Bool("rescheduled", cur.Status == models.ProposalScheduled),
	)
	s.send(ctx, notify.EventInterviewScheduled, p, "", map[string]string{
		"date":  in.Date,
		"time":  in.Time,
		"venue": p.InterviewVenue,
	})
	return Project(p, s.now()), nil
}

// Finalize records the decision after the interview. It applies at most
// once: a second call, concurrent or late, gets AlreadyFinalized with the
// committed proposal. Approval promotes the student; a promotion failure
// is reported as a warning and does not undo the decision.
func (s *Service) Finalize(ctx context.Context, actor authz.Identity, id string, in FinalizeInput) (Finalization, error) {
	if _, err := s.guard.Check(ctx, actor, authz.ActionFinalizeProposal); err != nil {
		return Finalization{}, err
	}
	if err := validate.Struct(in); err != nil {
		return Finalization{}, err
	}
	if in.Decision == DecisionDisapprove && strings.TrimSpace(in.Message) == "" {
		return Finalization{}, apperr.Validation("message", "is required")
	}

	cur, err := s.repo.Get(ctx, id)
	if err != nil {
		return Finalization{}, err
	}
	if finalized(cur.Status) {
		return Finalization{Proposal: cur}, alreadyFinalized(cur)
	}
	if st := DeriveStatus(cur, s.now()); st != models.ProposalInterviewCompleted {
		return Finalization{}, apperr.New(apperr.KindInvalidTransition, "cannot finalize a proposal that is %s", st)
	}

	set := map[string]interface{}{
		"status":      models.ProposalFinalApproved,
		"finalizedBy": actor.UID,
		"finalizedAt": s.now().UTC(),
	}
	event := notify.EventProposalFinalApproved
	if in.Decision == DecisionDisapprove {
		set["status"] = models.ProposalFinalDisapproved
		set["disapprovalMessage"] = in.Message
		event = notify.EventProposalFinalDisapproved
	}
	p, err := s.repo.Transition(ctx, id, []docstore.Cond{
		docstore.Eq("status", models.ProposalScheduled),
		sameInterview(cur),
	}, set)
	if errors.Is(err, docstore.ErrConditionFailed) {
		latest, getErr := s.repo.Get(ctx, id)
		if getErr != nil {
			return Finalization{}, getErr
		}
		if finalized(latest.Status) {
			return Finalization{Proposal: latest}, alreadyFinalized(latest)
		}
		return Finalization{}, apperr.New(apperr.KindInvalidTransition, "cannot finalize a proposal that is %s", DeriveStatus(latest, s.now()))
	}
	if err != nil {
		return Finalization{}, s.transitionError(ctx, id, "finalize", err)
	}
	s.logger.Info("speaker proposal finalized", zap.String("proposal_id", id), zap.String("status", string(p.Status)), zap.String("by", actor.UID))
	s.send(ctx, event, p, in.Message, nil)

	out := Finalization{Proposal: p}
	if p.Status == models.ProposalFinalApproved {
		s.promote(ctx, actor, &out)
	}
	return out, nil
}

func (s *Service) promote(ctx context.Context, actor authz.Identity, out *Finalization) {
	p := out.Proposal
	promo, err := s.promoter.PromoteSpeaker(ctx, p.StudentID, p.Email, actor.UID)
	switch {
	case errors.Is(err, apperr.ErrPromotionTargetNotFound):
		s.logger.Warn("promotion target not found",
			zap.String("proposal_id", p.ID),
			zap.String("student_id", p.StudentID),
			zap.String("email", p.Email),
		)
		out.Warning = err.Error()
		s.notify.Send(ctx, notify.Notification{
			Event:       notify.EventPromotionTargetNotFound,
			SubjectID:   p.ID,
			RecipientID: actor.UID,
			Message:     err.Error(),
		})
	case err != nil:
		s.logger.Error("promotion failed", zap.String("proposal_id", p.ID), zap.Error(err))
		out.Warning = "promotion failed: " + err.Error()
	default:
		out.Promotion = &promo
		if promo.Promoted {
			s.notify.Send(ctx, notify.Notification{
				Event:          notify.EventSpeakerPromoted,
				SubjectID:      promo.Profile.UID,
				RecipientID:    promo.Profile.UID,
				RecipientEmail: promo.Profile.Email,
			})
		}
	}
}

func (s *Service) send(ctx context.Context, event notify.Event, p models.SpeakerProposal, message string, data map[string]string) {
	s.notify.Send(ctx, notify.Notification{
		Event:          event,
		SubjectID:      p.ID,
		RecipientID:    p.StudentID,
		RecipientEmail: p.Email,
		Message:        message,
		Data:           data,
	})
}

// transitionError turns a failed compare-and-swap into the caller-facing
// refusal, naming the state the proposal is actually in.
func (s *Service) transitionError(ctx context.Context, id, action string, err error) error {
	if errors.Is(err, docstore.ErrNotFound) {
		return apperr.New(apperr.KindNotFound, "proposal %s not found", id)
	}
	if !errors.Is(err, docstore.ErrConditionFailed) {
		return fmt.Errorf("%s proposal %s: %w", action, id, err)
	}
	cur, getErr := s.repo.Get(ctx, id)
	if getErr != nil {
		return getErr
	}
	return apperr.New(apperr.KindInvalidTransition, "cannot %s a proposal that is %s", action, DeriveStatus(cur, s.now()))
}

// sameInterview holds while the interview time read in p is unchanged.
func sameInterview(p models.SpeakerProposal) docstore.Cond {
	if p.InterviewTimestamp == nil {
		return docstore.Absent("interviewTimestamp")
	}
	return docstore.Eq("interviewTimestamp", *p.InterviewTimestamp)
}

func finalized(st models.ProposalStatus) bool {
	return st == models.ProposalFinalApproved || st == models.ProposalFinalDisapproved
}

func alreadyFinalized(p models.SpeakerProposal) error {
	return apperr.New(apperr.KindAlreadyFinalized, "proposal is already %s", p.Status)
}
