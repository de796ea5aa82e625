package authz

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seatsync/seatsync/internal/identity"
)

func setupRouter(provider identity.Provider, roles ...string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	group := r.Group("/", Authenticate(provider))
	handlers := []gin.HandlerFunc{}
	if len(roles) > 0 {
		handlers = append(handlers, RequireRoles(roles...))
	}
	handlers = append(handlers, func(c *gin.Context) {
		p, _ := GetPrincipal(c)
		c.JSON(http.StatusOK, gin.H{"externalId": p.ExternalID})
	})
	group.GET("/protected", handlers...)
	return r
}

func doGet(r *gin.Engine, authHeader string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthenticate(t *testing.T) {
	provider := identity.NewMemoryProvider()
	provider.AddToken("good-token", &identity.Principal{
		ExternalID: "ext-1",
		Email:      "user@example.com",
	})
	r := setupRouter(provider)

	t.Run("missing header", func(t *testing.T) {
		w := doGet(r, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Contains(t, w.Body.String(), "invalid_credentials")
	})

	t.Run("malformed header", func(t *testing.T) {
		w := doGet(r, "Basic abc123")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unknown token", func(t *testing.T) {
		w := doGet(r, "Bearer nope")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		w := doGet(r, "Bearer good-token")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "ext-1")
	})

	t.Run("bearer is case-insensitive", func(t *testing.T) {
		w := doGet(r, "bearer good-token")
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestRequireRoles(t *testing.T) {
	provider := identity.NewMemoryProvider()
	provider.AddToken("admin-token", &identity.Principal{
		ExternalID: "ext-admin",
		Claims:     map[string]interface{}{identity.ClaimRole: "ADMIN"},
	})
	provider.AddToken("user-token", &identity.Principal{
		ExternalID: "ext-user",
		Claims:     map[string]interface{}{identity.ClaimRole: "USER"},
	})
	provider.AddToken("no-role-token", &identity.Principal{
		ExternalID: "ext-none",
	})

	r := setupRouter(provider, "ADMIN", "SUPER_ADMIN")

	t.Run("allowed role", func(t *testing.T) {
		w := doGet(r, "Bearer admin-token")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("wrong role", func(t *testing.T) {
		w := doGet(r, "Bearer user-token")
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Contains(t, w.Body.String(), "forbidden")
	})

	t.Run("no role claim", func(t *testing.T) {
		w := doGet(r, "Bearer no-role-token")
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestRequireRoles_NoRolesListed(t *testing.T) {
	provider := identity.NewMemoryProvider()
	provider.AddToken("user-token", &identity.Principal{ExternalID: "ext-user"})
	r := setupRouter(provider)

	w := doGet(r, "Bearer user-token")
	assert.Equal(t, http.StatusOK, w.Code)
}
