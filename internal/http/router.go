package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"inmo-market/internal/presence"
	"inmo-market/internal/service"
)

// NewRouter configura el router de Gin con middlewares y rutas, y monta el
// handshake websocket fuera de gin: el writer envuelto de gin no permite el
// hijack de la conexion, asi que /ws va directo sobre un http.ServeMux.
func NewRouter(
	logger *zap.Logger,
	tokens *service.TokenService,
	sessions *service.SessionService,
	authH *AuthHandler,
	presenceH *PresenceHandler,
	gateway *presence.Gateway,
) http.Handler {
	r := gin.New()

	// Middlewares basicos: logging y recovery.
	r.Use(zapLoggerMiddleware(logger), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := r.Group("/auth")
	auth.POST("/register", authH.Register)
	auth.POST("/login", authH.Login)
	auth.POST("/refresh", authH.Refresh)
	auth.POST("/logout", RequireAuth(tokens, sessions), authH.Logout)
	auth.GET("/sessions", RequireAuth(tokens, sessions), authH.ListSessions)
	auth.DELETE("/sessions/:id", RequireAuth(tokens, sessions), authH.TerminateSession)
	auth.POST("/sessions/terminate-others", RequireAuth(tokens, sessions), authH.TerminateOthers)

	r.GET("/me", OptionalAuth(tokens, sessions), authH.Me)

	admin := r.Group("/presence", RequireAuth(tokens, sessions), RequireRole("admin"))
	admin.GET("/stats", presenceH.Stats)
	admin.POST("/notify", presenceH.Notify)
	admin.POST("/broadcast", presenceH.Broadcast)

	// El handshake websocket verifica el token por su cuenta y se queda con
	// el ResponseWriter crudo.
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gateway.HandleWS)
	mux.Handle("/", r)
	return mux
}

// zapLoggerMiddleware crea un middleware simple de logging con zap.
func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
