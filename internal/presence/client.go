package presence

import "sync"

// Envelope es el sobre JSON que viaja por el websocket en ambos sentidos.
// El gateway trata event y data como opacos para los colaboradores.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// client representa una conexion websocket autenticada.
//
// send no se cierra nunca desde el servidor: cerrarlo seria una carrera con
// los broadcasters concurrentes. done señala el apagado y Close es
// idempotente (patron tomado del write pump del gateway realtime).
type client struct {
	connectionID string
	identityID   string
	role         string
	send         chan Envelope

	done      chan struct{}
	closeOnce sync.Once
}

func newClient(connectionID, identityID, role string, queueSize int) *client {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &client{
		connectionID: connectionID,
		identityID:   identityID,
		role:         role,
		send:         make(chan Envelope, queueSize),
		done:         make(chan struct{}),
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// enqueue intenta encolar sin bloquear; si la cola del cliente esta llena el
// evento se descarta (el emisor debe tenerlo persistido para pull).
func (c *client) enqueue(env Envelope) bool {
	select {
	case <-c.done:
		return false
	case c.send <- env:
		return true
	default:
		return false
	}
}
