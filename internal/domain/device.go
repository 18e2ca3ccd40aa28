package domain

// DeviceContext agrupa los metadatos del cliente derivados del request.
// Son strings opacos: no se interpretan mas alla de mostrarlos.
type DeviceContext struct {
	IPAddress string
	UserAgent string
	Location  string
}

// AuthIdentity es la referencia canonica de identidad que el middleware
// adjunta al request y que consumen todos los colaboradores aguas abajo.
type AuthIdentity struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role"`
	SessionID string `json:"session_id"`
}
