package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/campus-talks/backend/internal/apperr"
	"github.com/campus-talks/backend/internal/models"
	"github.com/campus-talks/backend/pkg/response"
)

// RegisterRequest is the body for POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Name     string `json:"name" binding:"required"`
	Role     string `json:"role"` // optional, defaults to student
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// TokenResponse is the auth response with JWT.
type TokenResponse struct {
	Token string             `json:"token"`
	User  models.UserProfile `json:"user"`
}

// Accounts is the user storage auth needs.
type Accounts interface {
	Create(ctx context.Context, profile models.UserProfile, creds models.Credentials) error
	GetCredentials(ctx context.Context, email string) (models.Credentials, error)
	GetProfile(ctx context.Context, uid string) (models.UserProfile, error)
}

// Handler handles auth HTTP endpoints.
type Handler struct {
	accounts Accounts
	jwt      *JWTService
	logger   *zap.Logger
	// faculty emails stored approved on registration
	bootstrap map[string]bool
}

// NewHandler creates an auth handler.
func NewHandler(accounts Accounts, jwt *JWTService, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{accounts: accounts, jwt: jwt, logger: logger}
}

// SetBootstrapFaculty lists the emails whose faculty registrations are
// stored approved. Everyone else waits for an approved faculty member.
func (h *Handler) SetBootstrapFaculty(emails []string) {
	h.bootstrap = make(map[string]bool, len(emails))
	for _, e := range emails {
		h.bootstrap[models.NormalizeEmail(e)] = true
	}
}

// Register handles POST /auth/register. Speakers are made by promotion, so
// only student and faculty can be chosen here. Faculty start unapproved
// unless their email is on the bootstrap list.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	role := models.RoleStudent
	switch models.Role(req.Role) {
	case "", models.RoleStudent:
	case models.RoleFaculty:
		role = models.RoleFaculty
	default:
		response.BadRequest(c, "invalid role")
		return
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		response.Internal(c, "failed to hash password")
		return
	}

	profile := models.UserProfile{
		UID:       uuid.New().String(),
		Email:     models.NormalizeEmail(req.Email),
		Name:      req.Name,
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}
	if role == models.RoleFaculty && h.bootstrap[profile.Email] {
		profile.IsApproved = true
		h.logger.Info("bootstrap faculty registered", zap.String("uid", profile.UID), zap.String("email", profile.Email))
	}
	err = h.accounts.Create(c.Request.Context(), profile, models.Credentials{PasswordHash: hash})
	if apperr.KindOf(err) == apperr.KindValidation {
		response.Error(c, err)
		return
	}
	if err != nil {
		h.logger.Error("create user failed", zap.Error(err))
		response.Internal(c, "failed to create user")
		return
	}

	token, err := h.jwt.Generate(profile)
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}

	response.Created(c, TokenResponse{Token: token, User: profile})
}

// Login handles POST /auth/login. The token carries the role stored at
// login time.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	creds, err := h.accounts.GetCredentials(c.Request.Context(), req.Email)
	if err != nil {
		response.Unauthorized(c, "invalid email or password")
		return
	}

	if !CheckPassword(req.Password, creds.PasswordHash) {
		response.Unauthorized(c, "invalid email or password")
		return
	}

	profile, err := h.accounts.GetProfile(c.Request.Context(), creds.UID)
	if err != nil {
		h.logger.Error("credentials without profile", zap.String("uid", creds.UID), zap.Error(err))
		response.Internal(c, "failed to load profile")
		return
	}

	token, err := h.jwt.Generate(profile)
	if err != nil {
		response.Internal(c, "failed to generate token")
		return
	}

	c.JSON(http.StatusOK, response.Body{Success: true, Data: TokenResponse{Token: token, User: profile}})
}
