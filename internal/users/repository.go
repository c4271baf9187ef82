package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/campus-talks/backend/internal/apperr"
	"github.com/campus-talks/backend/internal/authz"
	"github.com/campus-talks/backend/internal/models"
	"github.com/campus-talks/backend/pkg/docstore"
)

var _ authz.ProfileSource = (*Repository)(nil)

// Repository handles user profile and credential documents.
type Repository struct {
	store docstore.Store
}

// NewRepository creates a user repository.
func NewRepository(store docstore.Store) *Repository {
	return &Repository{store: store}
}

// Create writes the profile and its login credentials in one batch. A taken
// email is reported as a validation error on the email field.
func (r *Repository) Create(ctx context.Context, profile models.UserProfile, creds models.Credentials) error {
	profile.Email = models.NormalizeEmail(profile.Email)
	creds.Email = profile.Email
	creds.UID = profile.UID
	err := r.store.Batch(ctx, []docstore.Write{
		{Kind: docstore.WriteCreate, Collection: models.CollectionCredentials, ID: creds.Email, Data: creds},
		{Kind: docstore.WriteCreate, Collection: models.CollectionUsers, ID: profile.UID, Data: profile},
	})
	if errors.Is(err, docstore.ErrConditionFailed) || errors.Is(err, docstore.ErrExists) {
		return apperr.Validation("email", "is already registered")
	}
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetProfile returns the profile for uid or authz.ErrProfileNotFound.
func (r *Repository) GetProfile(ctx context.Context, uid string) (models.UserProfile, error) {
	doc, err := r.store.Get(ctx, models.CollectionUsers, uid)
	if errors.Is(err, docstore.ErrNotFound) {
		return models.UserProfile{}, authz.ErrProfileNotFound
	}
	if err != nil {
		return models.UserProfile{}, err
	}
	var p models.UserProfile
	return p, doc.Decode(&p)
}

// FindByEmail returns the profile registered with email.
func (r *Repository) FindByEmail(ctx context.Context, email string) (models.UserProfile, error) {
	docs, err := r.store.Query(ctx, models.CollectionUsers, docstore.Query{
		Where: []docstore.Cond{docstore.Eq("email", models.NormalizeEmail(email))},
		Limit: 1,
	})
	if err != nil {
		return models.UserProfile{}, fmt.Errorf("find user by email: %w", err)
	}
	if len(docs) == 0 {
		return models.UserProfile{}, authz.ErrProfileNotFound
	}
	var p models.UserProfile
	return p, docs[0].Decode(&p)
}

// GetCredentials returns the login record for email.
func (r *Repository) GetCredentials(ctx context.Context, email string) (models.Credentials, error) {
	doc, err := r.store.Get(ctx, models.CollectionCredentials, models.NormalizeEmail(email))
	if err != nil {
		return models.Credentials{}, err
	}
	var c models.Credentials
	return c, doc.Decode(&c)
}

// PromoteToSpeaker turns a student into a speaker and writes the promotion
// audit fields. It reports false when the user was already promoted; the
// audit fields are written at most once. Any other account, such as a
// faculty profile reached through the email fallback, is left alone and
// reported as PromotionTargetNotFound.
func (r *Repository) PromoteToSpeaker(ctx context.Context, uid, by string, at time.Time) (models.UserProfile, bool, error) {
	doc, err := r.store.Update(ctx, models.CollectionUsers, uid, docstore.Mutation{
		If: []docstore.Cond{
			docstore.Absent("promotedAt"),
			docstore.Eq("role", models.RoleStudent),
		},
		Set: map[string]interface{}{
			"role":       models.RoleSpeaker,
			"promotedBy": by,
			"promotedAt": at.UTC(),
		},
	})
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		return models.UserProfile{}, false, authz.ErrProfileNotFound
	case errors.Is(err, docstore.ErrConditionFailed):
		p, err := r.GetProfile(ctx, uid)
		if err != nil {
			return models.UserProfile{}, false, err
		}
		if p.PromotedAt == nil {
			return models.UserProfile{}, false, apperr.New(apperr.KindPromotionTargetNotFound,
				"user %s is a %s account, not a student", uid, p.Role)
		}
		return p, false, nil
	case err != nil:
		return models.UserProfile{}, false, fmt.Errorf("promote %s: %w", uid, err)
	}
	var p models.UserProfile
	return p, true, doc.Decode(&p)
}

// ApproveFaculty marks a faculty account as approved.
func (r *Repository) ApproveFaculty(ctx context.Context, uid string) (models.UserProfile, error) {
	doc, err := r.store.Update(ctx, models.CollectionUsers, uid, docstore.Mutation{
		If:  []docstore.Cond{docstore.Eq("role", models.RoleFaculty)},
		Set: map[string]interface{}{"isApproved": true},
	})
	switch {
	case errors.Is(err, docstore.ErrNotFound):
		return models.UserProfile{}, apperr.New(apperr.KindNotFound, "user %s not found", uid)
	case errors.Is(err, docstore.ErrConditionFailed):
		return models.UserProfile{}, apperr.New(apperr.KindInvalidTransition, "user %s is not a faculty account", uid)
	case err != nil:
		return models.UserProfile{}, fmt.Errorf("approve faculty %s: %w", uid, err)
	}
	var p models.UserProfile
	return p, doc.Decode(&p)
}
