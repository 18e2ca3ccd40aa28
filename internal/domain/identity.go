package domain

import "time"

// Identity es el registro durable de un usuario del marketplace.
// Las sesiones viven embebidas en el registro, no como agregado aparte.
type Identity struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name,omitempty"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	Sessions     []Session `json:"-"`
	Version      int64     `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Session representa un dispositivo/navegador autenticado.
type Session struct {
	ID           string    `json:"id"`
	RefreshToken string    `json:"-"`
	Device       string    `json:"device,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	Location     string    `json:"location,omitempty"`
	IsActive     bool      `json:"is_active"`
	LastActiveAt time.Time `json:"last_active_at"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired indica si la sesion ya paso su fecha limite.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// FindSession busca una sesion por id dentro de la lista embebida.
func (i *Identity) FindSession(sessionID string) (Session, bool) {
	for _, s := range i.Sessions {
		if s.ID == sessionID {
			return s, true
		}
	}
	return Session{}, false
}
