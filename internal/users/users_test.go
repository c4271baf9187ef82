package users

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-talks/backend/internal/apperr"
	"github.com/campus-talks/backend/internal/authz"
	"github.com/campus-talks/backend/internal/middleware"
	"github.com/campus-talks/backend/internal/models"
	"github.com/campus-talks/backend/pkg/docstore/memstore"
)

func newService(t *testing.T) (*Service, *Repository) {
	t.Helper()
	repo := NewRepository(memstore.New())
	ctx := context.Background()
	seed := []models.UserProfile{
		{UID: "stu", Email: "Stu@Uni.edu", Role: models.RoleStudent},
		{UID: "fac", Email: "fac@uni.edu", Role: models.RoleFaculty, IsApproved: true},
		{UID: "fac-new", Email: "new@uni.edu", Role: models.RoleFaculty},
	}
	for _, p := range seed {
		require.NoError(t, repo.Create(ctx, p, models.Credentials{PasswordHash: "x"}))
	}
	svc := NewService(repo, authz.NewGuard(repo, nil), nil)
	svc.SetClock(func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) })
	return svc, repo
}

func TestCreateRejectsDuplicateEmail(t *testing.T) {
	_, repo := newService(t)
	err := repo.Create(context.Background(), models.UserProfile{UID: "other", Email: "stu@uni.edu"}, models.Credentials{})
	assert.True(t, errors.Is(err, apperr.ErrValidation))
	_, err = repo.GetProfile(context.Background(), "other")
	assert.ErrorIs(t, err, authz.ErrProfileNotFound)
}

func TestPromoteSpeakerOnce(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	promoted := 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.PromoteSpeaker(ctx, "stu", "", "fac")
			if err == nil && res.Promoted {
				mu.Lock()
				promoted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, promoted)

	p, err := repo.GetProfile(ctx, "stu")
	require.NoError(t, err)
	assert.Equal(t, models.RoleSpeaker, p.Role)
	require.NotNil(t, p.PromotedAt)
	require.NotNil(t, p.PromotedBy)
	assert.Equal(t, "fac", *p.PromotedBy)
}

func TestPromoteResolvesByEmail(t *testing.T) {
	svc, _ := newService(t)
	res, err := svc.PromoteSpeaker(context.Background(), "stale-id", "STU@uni.edu", "fac")
	require.NoError(t, err)
	assert.True(t, res.Promoted)
	assert.Equal(t, "stu", res.Profile.UID)
}

func TestPromoteTargetNotFound(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.PromoteSpeaker(context.Background(), "", "ghost@uni.edu", "fac")
	assert.True(t, errors.Is(err, apperr.ErrPromotionTargetNotFound))
}

func TestPromoteLeavesFacultyAlone(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()

	_, err := svc.PromoteSpeaker(ctx, "", "fac@uni.edu", "fac-new")
	assert.True(t, errors.Is(err, apperr.ErrPromotionTargetNotFound), "got %v", err)

	p, err := repo.GetProfile(ctx, "fac")
	require.NoError(t, err)
	assert.Equal(t, models.RoleFaculty, p.Role)
	assert.Nil(t, p.PromotedAt)
	assert.Nil(t, p.PromotedBy)

	// A repeat on an already promoted student is still a quiet no-op.
	_, err = svc.PromoteSpeaker(ctx, "stu", "", "fac")
	require.NoError(t, err)
	res, err := svc.PromoteSpeaker(ctx, "stu", "", "fac")
	require.NoError(t, err)
	assert.False(t, res.Promoted)
	assert.Equal(t, models.RoleSpeaker, res.Profile.Role)
}

func TestApproveFaculty(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.ApproveFaculty(ctx, authz.Identity{UID: "fac-new"}, "fac-new")
	assert.True(t, errors.Is(err, apperr.ErrPermissionDenied))

	p, err := svc.ApproveFaculty(ctx, authz.Identity{UID: "fac"}, "fac-new")
	require.NoError(t, err)
	assert.True(t, p.IsApproved)

	_, err = svc.ApproveFaculty(ctx, authz.Identity{UID: "fac"}, "stu")
	assert.True(t, errors.Is(err, apperr.ErrInvalidTransition))
}

func TestApproveFacultyHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc, _ := newService(t)
	h := NewHandler(svc, nil)
	r := gin.New()
	r.POST("/users/:id/approve-faculty", func(c *gin.Context) {
		c.Set(middleware.ContextUserID, c.GetHeader("X-User"))
	}, h.ApproveFaculty)

	req := httptest.NewRequest(http.MethodPost, "/users/fac-new/approve-faculty", nil)
	req.Header.Set("X-User", "stu")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/users/fac-new/approve-faculty", nil)
	req.Header.Set("X-User", "fac")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
