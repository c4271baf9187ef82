package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/campus-talks/backend/internal/apperr"
	"github.com/campus-talks/backend/internal/auth"
	"github.com/campus-talks/backend/internal/authz"
	"github.com/campus-talks/backend/internal/models"
	"github.com/campus-talks/backend/internal/users"
	"github.com/campus-talks/backend/pkg/docstore/memstore"
)

func init() {
	auth.PasswordCost = bcrypt.MinCost
	gin.SetMode(gin.TestMode)
}

func post(r *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterAndLogin(t *testing.T) {
	repo := users.NewRepository(memstore.New())
	jwtSvc := auth.NewJWTService("secret", 1)
	h := auth.NewHandler(repo, jwtSvc, nil)
	r := gin.New()
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)

	w := post(r, "/auth/register", auth.RegisterRequest{Email: "Prof@Uni.edu", Password: "secret1", Name: "Prof", Role: "faculty"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = post(r, "/auth/register", auth.RegisterRequest{Email: "prof@uni.edu", Password: "secret1", Name: "Dup"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = post(r, "/auth/register", auth.RegisterRequest{Email: "x@uni.edu", Password: "secret1", Name: "X", Role: "speaker"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = post(r, "/auth/login", auth.LoginRequest{Email: "prof@uni.edu", Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = post(r, "/auth/login", auth.LoginRequest{Email: "prof@uni.edu", Password: "secret1"})
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data auth.TokenResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, models.RoleFaculty, body.Data.User.Role)
	assert.False(t, body.Data.User.IsApproved)

	claims, err := jwtSvc.Validate(body.Data.Token)
	require.NoError(t, err)
	p, err := repo.GetProfile(context.Background(), claims.UserID)
	require.NoError(t, err)
	assert.Equal(t, "prof@uni.edu", p.Email)
}

func registerIdentity(t *testing.T, r *gin.Engine, jwtSvc *auth.JWTService, req auth.RegisterRequest) (authz.Identity, models.UserProfile) {
	t.Helper()
	w := post(r, "/auth/register", req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var body struct {
		Data auth.TokenResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	claims, err := jwtSvc.Validate(body.Data.Token)
	require.NoError(t, err)
	return claims.Identity(), body.Data.User
}

func TestBootstrapFacultyApprovesOthers(t *testing.T) {
	ctx := context.Background()
	repo := users.NewRepository(memstore.New())
	jwtSvc := auth.NewJWTService("secret", 1)
	h := auth.NewHandler(repo, jwtSvc, nil)
	h.SetBootstrapFaculty([]string{" Dean@Uni.edu "})
	r := gin.New()
	r.POST("/auth/register", h.Register)
	userSvc := users.NewService(repo, authz.NewGuard(repo, nil), nil)

	dean, deanProfile := registerIdentity(t, r, jwtSvc, auth.RegisterRequest{Email: "dean@uni.edu", Password: "secret1", Name: "Dean", Role: "faculty"})
	assert.True(t, deanProfile.IsApproved)
	prof, profProfile := registerIdentity(t, r, jwtSvc, auth.RegisterRequest{Email: "prof@uni.edu", Password: "secret1", Name: "Prof", Role: "faculty"})
	assert.False(t, profProfile.IsApproved)

	_, err := userSvc.ApproveFaculty(ctx, prof, dean.UID)
	assert.Equal(t, apperr.KindPermissionDenied, apperr.KindOf(err), "got %v", err)

	p, err := userSvc.ApproveFaculty(ctx, dean, prof.UID)
	require.NoError(t, err)
	assert.True(t, p.IsApproved)

	stored, err := repo.GetProfile(ctx, prof.UID)
	require.NoError(t, err)
	assert.True(t, stored.IsApproved)
}
