package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"inmo-market/internal/domain"
	"inmo-market/internal/service"
)

const authIdentityKey = "auth_identity"

// RequireAuth valida el access token y confirma que la sesion referida sigue
// viva antes de adjuntar la identidad al request. El motivo concreto del
// rechazo nunca se distingue hacia el cliente.
func RequireAuth(tokens *service.TokenService, sessions *service.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authIdentity, ok := resolveIdentity(c, tokens, sessions)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Set(authIdentityKey, authIdentity)
		c.Next()
	}
}

// OptionalAuth corre la misma verificacion pero nunca rechaza: ante token
// ausente o invalido el handler sigue como anonimo. Permite servir callers
// autenticados y anonimos desde una misma ruta.
func OptionalAuth(tokens *service.TokenService, sessions *service.SessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if authIdentity, ok := resolveIdentity(c, tokens, sessions); ok {
			c.Set(authIdentityKey, authIdentity)
		}
		c.Next()
	}
}

// RequireRole exige un rol concreto; debe montarse despues de RequireAuth.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authIdentity, ok := GetAuthIdentity(c)
		if !ok || authIdentity.Role != role {
			c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func resolveIdentity(c *gin.Context, tokens *service.TokenService, sessions *service.SessionService) (domain.AuthIdentity, bool) {
	if tokens == nil || sessions == nil {
		return domain.AuthIdentity{}, false
	}

	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" || !strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return domain.AuthIdentity{}, false
	}
	token := strings.TrimSpace(header[len("Bearer "):])

	claims, err := tokens.VerifyAccess(token)
	if err != nil {
		return domain.AuthIdentity{}, false
	}
	identity, err := sessions.Validate(c.Request.Context(), claims)
	if err != nil {
		return domain.AuthIdentity{}, false
	}
	return domain.AuthIdentity{
		ID:        identity.ID,
		Email:     identity.Email,
		Role:      identity.Role,
		SessionID: claims.SessionID,
	}, true
}

// GetAuthIdentity obtiene la identidad adjuntada por el middleware.
func GetAuthIdentity(c *gin.Context) (domain.AuthIdentity, bool) {
	val, ok := c.Get(authIdentityKey)
	if !ok {
		return domain.AuthIdentity{}, false
	}
	authIdentity, ok := val.(domain.AuthIdentity)
	return authIdentity, ok
}
