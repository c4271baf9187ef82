// Package authz is the role gate consulted by every workflow before a
// transition. Roles are read from the stored user profile, so a promotion
// takes effect without waiting for a fresh token.
package authz

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/campus-talks/backend/internal/apperr"
	"github.com/campus-talks/backend/internal/models"
)

// Identity is the caller as issued by the authorization provider.
type Identity struct {
	UID   string
	Role  models.Role
	Email string
	Name  string
}

// Action is a guarded workflow action.
type Action string

const (
	ActionProposeSession    Action = "session.propose"
	ActionReviewSession     Action = "session.review"
	ActionViewRegistrations Action = "session.registrations"
	ActionRegister          Action = "registration.create"
	ActionUnregister        Action = "registration.cancel"
	ActionUpvote            Action = "session.upvote"
	ActionSubmitFeedback    Action = "feedback.submit"
	ActionSubmitProposal    Action = "proposal.submit"
	ActionViewProposals     Action = "proposal.view"
	ActionReviewProposal    Action = "proposal.review"
	ActionScheduleInterview Action = "proposal.schedule"
	ActionFinalizeProposal  Action = "proposal.finalize"
	ActionApproveFaculty    Action = "user.approve_faculty"
)

var policy = map[Action][]models.Role{
	ActionProposeSession:    {models.RoleStudent, models.RoleFaculty, models.RoleSpeaker},
	ActionReviewSession:     {models.RoleFaculty},
	ActionViewRegistrations: {models.RoleFaculty, models.RoleSpeaker},
	ActionRegister:          {models.RoleStudent},
	ActionUnregister:        {models.RoleStudent},
	ActionUpvote:            {models.RoleStudent, models.RoleSpeaker},
	ActionSubmitFeedback:    {models.RoleStudent},
	ActionSubmitProposal:    {models.RoleStudent},
	ActionViewProposals:     {models.RoleStudent, models.RoleFaculty},
	ActionReviewProposal:    {models.RoleFaculty},
	ActionScheduleInterview: {models.RoleFaculty},
	ActionFinalizeProposal:  {models.RoleFaculty},
	ActionApproveFaculty:    {models.RoleFaculty},
}

// ErrProfileNotFound is returned by a ProfileSource for unknown users.
var ErrProfileNotFound = errors.New("authz: profile not found")

// ProfileSource resolves the stored profile of a caller.
type ProfileSource interface {
	GetProfile(ctx context.Context, uid string) (models.UserProfile, error)
}

// Guard checks actions against the role policy.
type Guard struct {
	profiles ProfileSource
	logger   *zap.Logger
}

// NewGuard creates a guard.
func NewGuard(profiles ProfileSource, logger *zap.Logger) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{profiles: profiles, logger: logger}
}

// Allowed reports whether role may perform action, ignoring approval state.
func Allowed(role models.Role, action Action) bool {
	for _, r := range policy[action] {
		if r == role {
			return true
		}
	}
	return false
}

// Check returns the caller's stored profile when action is permitted, or a
// PermissionDenied error. Faculty must be approved to act as faculty.
func (g *Guard) Check(ctx context.Context, id Identity, action Action) (models.UserProfile, error) {
	if id.UID == "" {
		return models.UserProfile{}, g.deny(id, action, "missing identity")
	}
	profile, err := g.profiles.GetProfile(ctx, id.UID)
	if errors.Is(err, ErrProfileNotFound) {
		return models.UserProfile{}, g.deny(id, action, "unknown user")
	}
	if err != nil {
		return models.UserProfile{}, fmt.Errorf("load profile: %w", err)
	}
	if !Allowed(profile.Role, action) {
		return models.UserProfile{}, g.deny(id, action, fmt.Sprintf("role %s may not perform %s", profile.Role, action))
	}
	if profile.Role == models.RoleFaculty && !profile.IsApproved {
		return models.UserProfile{}, g.deny(id, action, "faculty account is not approved yet")
	}
	return profile, nil
}

func (g *Guard) deny(id Identity, action Action, reason string) error {
	g.logger.Warn("permission denied",
		zap.String("uid", id.UID),
		zap.String("action", string(action)),
		zap.String("reason", reason),
	)
	return apperr.New(apperr.KindPermissionDenied, "%s", reason)
}
