package presence

import "sync"

// Registry es el indice bidireccional en memoria de conexiones realtime:
// identityID -> set de connectionIDs y, al reves, connectionID -> identityID
// para desmontar en O(1). No persiste nada: tras un reinicio arranca vacio y
// reconectar es responsabilidad del cliente.
//
// Invariante: ambos mapas se mutan bajo el mismo mutex y siempre quedan
// mutuamente consistentes.
type Registry struct {
	mu      sync.RWMutex
	forward map[string]map[string]struct{}
	reverse map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		forward: make(map[string]map[string]struct{}),
		reverse: make(map[string]string),
	}
}

// Register agrega la conexion al set de la identidad, creandolo si no existe.
func (r *Registry) Register(identityID, connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.forward[identityID]
	if !ok {
		set = make(map[string]struct{})
		r.forward[identityID] = set
	}
	set[connectionID] = struct{}{}
	r.reverse[connectionID] = identityID
}

// Unregister quita la conexion; si el set de la identidad queda vacio se
// elimina la entrada completa. Es un no-op si la conexion nunca se registro.
func (r *Registry) Unregister(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	identityID, ok := r.reverse[connectionID]
	if !ok {
		return
	}
	delete(r.reverse, connectionID)
	set := r.forward[identityID]
	delete(set, connectionID)
	if len(set) == 0 {
		delete(r.forward, identityID)
	}
}

// IsOnline indica si la identidad tiene al menos una conexion abierta.
func (r *Registry) IsOnline(identityID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.forward[identityID]) > 0
}

// ConnectionCount devuelve cuantas conexiones abiertas tiene la identidad.
func (r *Registry) ConnectionCount(identityID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.forward[identityID])
}

// Connections devuelve una copia del set de conexiones de la identidad.
func (r *Registry) Connections(identityID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.forward[identityID]
	if len(set) == 0 {
		return nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}

// OnlineIdentityIDs devuelve las identidades con conexiones abiertas.
func (r *Registry) OnlineIdentityIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.forward))
	for id := range r.forward {
		ids = append(ids, id)
	}
	return ids
}

// Stats devuelve el conteo de conexiones por identidad, para visibilidad
// operacional.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := make(map[string]int, len(r.forward))
	for id, set := range r.forward {
		stats[id] = len(set)
	}
	return stats
}
