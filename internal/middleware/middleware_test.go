package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campus-talks/backend/internal/auth"
	"github.com/campus-talks/backend/internal/authz"
	"github.com/campus-talks/backend/internal/models"
)

func init() { gin.SetMode(gin.TestMode) }

func router(jwtSvc *auth.JWTService, seen *authz.Identity) *gin.Engine {
	r := gin.New()
	r.Use(CORS("http://localhost:3000"))
	g := r.Group("/", JWT(jwtSvc))
	g.GET("/me", func(c *gin.Context) {
		*seen = Identity(c)
		c.Status(http.StatusOK)
	})
	g.GET("/faculty", RequireRole(models.RoleFaculty), func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestJWTSetsIdentity(t *testing.T) {
	jwtSvc := auth.NewJWTService("secret", 1)
	token, err := jwtSvc.Generate(models.UserProfile{UID: "u1", Email: "s@uni.edu", Name: "Sam", Role: models.RoleStudent})
	require.NoError(t, err)

	var seen authz.Identity
	r := router(jwtSvc, &seen)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, authz.Identity{UID: "u1", Role: models.RoleStudent, Email: "s@uni.edu", Name: "Sam"}, seen)

	req = httptest.NewRequest(http.MethodGet, "/me?token="+token, nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/faculty", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestJWTRejectsMissingToken(t *testing.T) {
	var seen authz.Identity
	r := router(auth.NewJWTService("secret", 1), &seen)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer junk")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	var seen authz.Identity
	r := router(auth.NewJWTService("secret", 1), &seen)
	req := httptest.NewRequest(http.MethodOptions, "/me", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestOriginSet(t *testing.T) {
	set := parseOrigins(" http://a.edu/, http://b.edu ")
	assert.Equal(t, "http://a.edu", set.allow("http://a.edu"))
	assert.Equal(t, "", set.allow("http://evil.com"))
	assert.Equal(t, "", set.allow(""))
	assert.Equal(t, "*", parseOrigins("*").allow("http://x"))
	assert.Equal(t, "*", parseOrigins("").allow("http://x"))
}
