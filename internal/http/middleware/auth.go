package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tadast/signonotron2/internal/domain"
	"github.com/tadast/signonotron2/internal/service"
)

const ginActorKey = "currentActor"

// Auth resolves the bearer session token to the acting user and attaches it
// to the Gin and request contexts.
type Auth struct {
	Accounts *service.AccountService
}

// RequireActor ensures the request carries a valid session.
func (m *Auth) RequireActor(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_session", "error_description": "Authorization header required."})
		return
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_session", "error_description": "Bearer token required."})
		return
	}

	actor, err := m.Accounts.UserFromSession(c.Request.Context(), parts[1])
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid_session", "error_description": "Invalid or expired session."})
		return
	}

	c.Set(ginActorKey, actor)
	c.Next()
}

// GetActor exposes the acting user to handlers.
func GetActor(c *gin.Context) (domain.User, bool) {
	value, ok := c.Get(ginActorKey)
	if !ok {
		return domain.User{}, false
	}
	actor, ok := value.(domain.User)
	return actor, ok
}
