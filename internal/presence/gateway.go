package presence

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"inmo-market/internal/metrics"
	"inmo-market/internal/service"
)

const (
	defaultQueueSize    = 64
	defaultWriteTimeout = 5 * time.Second
	maxFrameBytes       = 32 * 1024
)

// Gateway autentica conexiones realtime, las registra en el Registry y
// expone las primitivas de multicast que consumen los colaboradores (por
// ejemplo el despacho de notificaciones). El accept verifica el token de
// forma stateless: no toca el store en el camino sensible a carreras.
type Gateway struct {
	logger   *zap.Logger
	tokens   *service.TokenService
	registry *Registry

	originPatterns []string
	queueSize      int
	writeTimeout   time.Duration

	mu      sync.RWMutex
	clients map[string]*client
}

// Stats resume el estado del gateway para la vista administrativa.
type Stats struct {
	OnlineIdentities int            `json:"online_identities"`
	Connections      map[string]int `json:"connections"`
}

func NewGateway(logger *zap.Logger, tokens *service.TokenService, registry *Registry, originPatterns []string) *Gateway {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Gateway{
		logger:         logger,
		tokens:         tokens,
		registry:       registry,
		originPatterns: originPatterns,
		queueSize:      defaultQueueSize,
		writeTimeout:   defaultWriteTimeout,
		clients:        make(map[string]*client),
	}
}

// Registry expone el registro subyacente (lo consultan tests y stats).
func (g *Gateway) Registry() *Registry { return g.registry }

// HandleWS maneja GET /ws: upgrade, autenticacion y loop de la conexion.
// Se monta directo sobre el http.ResponseWriter crudo; el hijack del
// handshake no funciona detras del writer envuelto de gin.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		g.logger.Warn("ws accept failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	token := bearerToken(r)
	if token == "" {
		g.rejectConn(ctx, conn, "missing token")
		return
	}
	claims, err := g.tokens.VerifyAccess(token)
	if err != nil {
		g.rejectConn(ctx, conn, "unauthorized")
		return
	}

	connectionID := uuid.NewString()
	cl := newClient(connectionID, claims.UserID, claims.Role, g.queueSize)

	g.register(cl)

	var shutdownOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		shutdownOnce.Do(func() {
			g.unregister(cl)
			cl.close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}
	defer shutdown(websocket.StatusNormalClosure, "bye")

	cl.enqueue(Envelope{Event: "connected", Data: map[string]any{
		"identity_id": cl.identityID,
		"connections": g.registry.ConnectionCount(cl.identityID),
	}})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-cl.done:
				return
			case env := <-cl.send:
				if err := g.writeEnvelope(ctx, conn, env); err != nil {
					g.logger.Info("ws write failed",
						zap.String("connection_id", cl.connectionID),
						zap.Error(err),
					)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	for {
		var inbound struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			shutdown(websocket.StatusNormalClosure, "peer closed")
			break
		}
		switch inbound.Event {
		case "ping":
			var data any
			if len(inbound.Data) > 0 {
				_ = json.Unmarshal(inbound.Data, &data)
			}
			cl.enqueue(Envelope{Event: "pong", Data: data})
		case "status":
			// Reconciliacion del lado cliente tras una reconexion.
			cl.enqueue(Envelope{Event: "status", Data: map[string]any{
				"identity_id": cl.identityID,
				"online":      g.registry.IsOnline(cl.identityID),
				"connections": g.registry.ConnectionCount(cl.identityID),
			}})
		default:
			// Eventos desconocidos se ignoran: el gateway no interpreta
			// payloads de colaboradores.
		}
	}
	<-writerDone
}

// SendToUser emite a todas las conexiones abiertas de la identidad. Si no
// hay ninguna es un no-op sin error: el evento debe estar persistido por el
// caller y ser visible por pull tras reconectar.
func (g *Gateway) SendToUser(identityID, event string, payload any) int {
	connIDs := g.registry.Connections(identityID)
	if len(connIDs) == 0 {
		return 0
	}
	env := Envelope{Event: event, Data: payload}
	delivered := 0
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, connID := range connIDs {
		if cl, ok := g.clients[connID]; ok && cl.enqueue(env) {
			delivered++
		}
	}
	return delivered
}

// BroadcastToRole emite a todas las conexiones cuyo token traia el rol dado.
func (g *Gateway) BroadcastToRole(role, event string, payload any) int {
	env := Envelope{Event: event, Data: payload}
	delivered := 0
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, cl := range g.clients {
		if cl.role == role && cl.enqueue(env) {
			delivered++
		}
	}
	return delivered
}

// BroadcastAll emite a todas las conexiones abiertas.
func (g *Gateway) BroadcastAll(event string, payload any) int {
	env := Envelope{Event: event, Data: payload}
	delivered := 0
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, cl := range g.clients {
		if cl.enqueue(env) {
			delivered++
		}
	}
	return delivered
}

// Stats devuelve identidades online y conexiones por identidad.
func (g *Gateway) Stats() Stats {
	connections := g.registry.Stats()
	return Stats{
		OnlineIdentities: len(connections),
		Connections:      connections,
	}
}

func (g *Gateway) register(cl *client) {
	g.mu.Lock()
	g.clients[cl.connectionID] = cl
	g.mu.Unlock()
	g.registry.Register(cl.identityID, cl.connectionID)

	metrics.WSConnectionsOpen.Inc()
	metrics.OnlineIdentities.Set(float64(len(g.registry.OnlineIdentityIDs())))

	g.logger.Info("ws connected",
		zap.String("identity_id", cl.identityID),
		zap.String("connection_id", cl.connectionID),
		zap.Int("connections", g.registry.ConnectionCount(cl.identityID)),
	)
}

func (g *Gateway) unregister(cl *client) {
	g.mu.Lock()
	delete(g.clients, cl.connectionID)
	g.mu.Unlock()
	g.registry.Unregister(cl.connectionID)

	metrics.WSConnectionsOpen.Dec()
	metrics.OnlineIdentities.Set(float64(len(g.registry.OnlineIdentityIDs())))

	remaining := g.registry.ConnectionCount(cl.identityID)
	g.logger.Info("ws disconnected",
		zap.String("identity_id", cl.identityID),
		zap.String("connection_id", cl.connectionID),
		zap.Bool("offline", remaining == 0),
		zap.Int("connections", remaining),
	)
}

// rejectConn emite un evento de error generico y cierra; nunca tumba el
// gateway ni afecta otras conexiones.
func (g *Gateway) rejectConn(ctx context.Context, conn *websocket.Conn, message string) {
	_ = g.writeEnvelope(ctx, conn, Envelope{Event: "error", Data: map[string]any{"message": message}})
	_ = conn.Close(websocket.StatusPolicyViolation, message)
	g.logger.Info("ws rejected", zap.String("reason", message))
}

func (g *Gateway) writeEnvelope(ctx context.Context, conn *websocket.Conn, env Envelope) error {
	writeCtx, cancel := context.WithTimeout(ctx, g.writeTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, env)
}

// bearerToken extrae el token del handshake: primero el header Authorization
// y como alternativa el query param token (clientes browser sin headers).
func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header != "" && strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[len("Bearer "):])
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
