package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"inmo-market/internal/domain"
	"inmo-market/internal/metrics"
	"inmo-market/internal/service"
)

// AuthHandler mantiene dependencias para los endpoints de identidad.
type AuthHandler struct {
	logger      *zap.Logger
	identitySrv *service.IdentityService
	sessionSrv  *service.SessionService
}

func NewAuthHandler(logger *zap.Logger, identitySrv *service.IdentityService, sessionSrv *service.SessionService) *AuthHandler {
	return &AuthHandler{
		logger:      logger,
		identitySrv: identitySrv,
		sessionSrv:  sessionSrv,
	}
}

// Register maneja POST /auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Email       string `json:"email" binding:"required,email"`
		DisplayName string `json:"display_name"`
		Password    string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid register request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	identity, err := h.identitySrv.Register(c.Request.Context(), service.RegisterInput{
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Password:    req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmailTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
		case errors.Is(err, service.ErrInvalidEmail), errors.Is(err, service.ErrInvalidCredentials):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		default:
			h.logger.Error("register failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not register"})
		}
		return
	}

	tokens, err := h.sessionSrv.Login(c.Request.Context(), identity, deviceContextFrom(c))
	if err != nil {
		h.logger.Error("session create failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue tokens"})
		return
	}
	metrics.LoginsTotal.Inc()
	c.JSON(http.StatusCreated, gin.H{"user": identity, "tokens": tokens})
}

// Login maneja POST /auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid login request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	identity, err := h.identitySrv.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrRateLimited):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
		case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrIdentityInactive):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		default:
			h.logger.Error("login failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not login"})
		}
		return
	}

	tokens, err := h.sessionSrv.Login(c.Request.Context(), identity, deviceContextFrom(c))
	if err != nil {
		h.logger.Error("session create failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not issue tokens"})
		return
	}
	metrics.LoginsTotal.Inc()
	c.JSON(http.StatusOK, gin.H{"user": identity, "tokens": tokens})
}

// Refresh maneja POST /auth/refresh. Cualquier fallo logico de auth se
// responde como 401 sin detallar el motivo.
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid refresh request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	tokens, err := h.sessionSrv.Refresh(c.Request.Context(), req.RefreshToken, deviceContextFrom(c))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidToken),
			errors.Is(err, service.ErrSessionExpired),
			errors.Is(err, service.ErrSessionNotFound),
			errors.Is(err, service.ErrIdentityInactive):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		default:
			h.logger.Error("refresh failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not refresh"})
		}
		return
	}
	metrics.RefreshesTotal.Inc()
	c.JSON(http.StatusOK, gin.H{"tokens": tokens})
}

// Logout maneja POST /auth/logout. Sin session_id cierra todas las sesiones;
// desde la perspectiva del caller nunca falla.
func (h *AuthHandler) Logout(c *gin.Context) {
	authIdentity, ok := GetAuthIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req struct {
		SessionID string `json:"session_id"`
	}
	_ = c.ShouldBindJSON(&req)

	if err := h.sessionSrv.Logout(c.Request.Context(), authIdentity.ID, req.SessionID); err != nil {
		// Solo fallos de infraestructura llegan aca; el logout logico es
		// idempotente.
		h.logger.Error("logout failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not logout"})
		return
	}
	c.Status(http.StatusNoContent)
}

// ListSessions maneja GET /auth/sessions.
func (h *AuthHandler) ListSessions(c *gin.Context) {
	authIdentity, ok := GetAuthIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sessions, err := h.sessionSrv.ListSessions(c.Request.Context(), authIdentity.ID)
	if err != nil {
		h.logger.Error("list sessions failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list sessions"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions":           sessions,
		"current_session_id": authIdentity.SessionID,
	})
}

// TerminateSession maneja DELETE /auth/sessions/:id.
func (h *AuthHandler) TerminateSession(c *gin.Context) {
	authIdentity, ok := GetAuthIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sessionID := c.Param("id")
	if err := h.sessionSrv.TerminateSession(c.Request.Context(), authIdentity.ID, sessionID); err != nil {
		h.logger.Error("terminate session failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not terminate session"})
		return
	}
	c.Status(http.StatusNoContent)
}

// TerminateOthers maneja POST /auth/sessions/terminate-others: cierra todas
// las sesiones salvo la del caller.
func (h *AuthHandler) TerminateOthers(c *gin.Context) {
	authIdentity, ok := GetAuthIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if err := h.sessionSrv.TerminateAllExcept(c.Request.Context(), authIdentity.ID, authIdentity.SessionID); err != nil {
		h.logger.Error("terminate others failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not terminate sessions"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Me maneja GET /me. Es una ruta public-optional: con identidad adjunta
// responde el perfil, sin ella responde como anonimo.
func (h *AuthHandler) Me(c *gin.Context) {
	if authIdentity, ok := GetAuthIdentity(c); ok {
		c.JSON(http.StatusOK, gin.H{"authenticated": true, "identity": authIdentity})
		return
	}
	c.JSON(http.StatusOK, gin.H{"authenticated": false})
}

func deviceContextFrom(c *gin.Context) domain.DeviceContext {
	return domain.DeviceContext{
		IPAddress: c.ClientIP(),
		UserAgent: c.GetHeader("User-Agent"),
	}
}
