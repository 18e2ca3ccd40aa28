package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"inmo-market/internal/domain"
)

// ErrVersionConflict indica que otro proceso actualizo la lista de sesiones
// despues de nuestra lectura; el caller debe releer y reintentar.
var ErrVersionConflict = errors.New("identity version conflict")

// ErrDuplicateEmail indica que el email ya existe; la constraint unique es
// la que decide, no el chequeo previo del servicio.
var ErrDuplicateEmail = errors.New("duplicate email")

const uniqueViolationCode = "23505"

// IdentityRepository define el contrato de persistencia para identidades.
// La lista de sesiones se actualiza siempre via read-modify-write con
// control optimista de version, nunca con overwrite ciego.
type IdentityRepository interface {
	Create(ctx context.Context, identity domain.Identity) error
	GetByID(ctx context.Context, id string) (domain.Identity, error)
	GetByEmail(ctx context.Context, email string) (domain.Identity, error)
	UpdateSessions(ctx context.Context, id string, expectedVersion int64, sessions []domain.Session) error
	SetActive(ctx context.Context, id string, active bool) error
	IDsWithSessions(ctx context.Context) ([]string, error)
}

// PgIdentityRepository implementa IdentityRepository usando pgxpool.
type PgIdentityRepository struct {
	pool *pgxpool.Pool
}

func NewPgIdentityRepository(pool *pgxpool.Pool) *PgIdentityRepository {
	return &PgIdentityRepository{pool: pool}
}

// sessionRecord es la forma persistida de una sesion dentro de la columna
// JSONB. Se separa del domain.Session para que el refresh token se guarde
// sin exponerse jamas en respuestas JSON del API.
type sessionRecord struct {
	ID           string    `json:"id"`
	RefreshToken string    `json:"refresh_token"`
	Device       string    `json:"device,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	Location     string    `json:"location,omitempty"`
	IsActive     bool      `json:"is_active"`
	LastActiveAt time.Time `json:"last_active_at"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func toRecords(sessions []domain.Session) []sessionRecord {
	records := make([]sessionRecord, 0, len(sessions))
	for _, s := range sessions {
		records = append(records, sessionRecord(s))
	}
	return records
}

func fromRecords(records []sessionRecord) []domain.Session {
	sessions := make([]domain.Session, 0, len(records))
	for _, r := range records {
		sessions = append(sessions, domain.Session(r))
	}
	return sessions
}

func (r *PgIdentityRepository) Create(ctx context.Context, identity domain.Identity) error {
	raw, err := json.Marshal(toRecords(identity.Sessions))
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO identities (id, email, display_name, role, password_hash, is_active, sessions, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = r.pool.Exec(ctx, query,
		identity.ID,
		identity.Email,
		identity.DisplayName,
		identity.Role,
		identity.PasswordHash,
		identity.IsActive,
		raw,
		identity.Version,
		identity.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		return ErrDuplicateEmail
	}
	return err
}

func (r *PgIdentityRepository) GetByID(ctx context.Context, id string) (domain.Identity, error) {
	const query = `
		SELECT id, email, display_name, role, password_hash, is_active, sessions, version, created_at
		FROM identities
		WHERE id = $1
	`
	return r.scanIdentity(r.pool.QueryRow(ctx, query, id))
}

func (r *PgIdentityRepository) GetByEmail(ctx context.Context, email string) (domain.Identity, error) {
	const query = `
		SELECT id, email, display_name, role, password_hash, is_active, sessions, version, created_at
		FROM identities
		WHERE email = $1
	`
	return r.scanIdentity(r.pool.QueryRow(ctx, query, email))
}

func (r *PgIdentityRepository) scanIdentity(row pgx.Row) (domain.Identity, error) {
	var (
		identity domain.Identity
		raw      []byte
	)
	err := row.Scan(
		&identity.ID,
		&identity.Email,
		&identity.DisplayName,
		&identity.Role,
		&identity.PasswordHash,
		&identity.IsActive,
		&raw,
		&identity.Version,
		&identity.CreatedAt,
	)
	if err != nil {
		return domain.Identity{}, err
	}
	var records []sessionRecord
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &records); err != nil {
			return domain.Identity{}, err
		}
	}
	identity.Sessions = fromRecords(records)
	return identity, nil
}

// UpdateSessions reemplaza la lista de sesiones solo si la version leida
// sigue vigente; incrementa la version en la misma sentencia.
func (r *PgIdentityRepository) UpdateSessions(ctx context.Context, id string, expectedVersion int64, sessions []domain.Session) error {
	raw, err := json.Marshal(toRecords(sessions))
	if err != nil {
		return err
	}
	const query = `
		UPDATE identities
		SET sessions = $2, version = version + 1
		WHERE id = $1 AND version = $3
	`
	tag, err := r.pool.Exec(ctx, query, id, raw, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

func (r *PgIdentityRepository) SetActive(ctx context.Context, id string, active bool) error {
	const query = `UPDATE identities SET is_active = $2 WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// IDsWithSessions enumera las identidades con al menos una sesion; lo usa
// el barrido periodico de sesiones expiradas.
func (r *PgIdentityRepository) IDsWithSessions(ctx context.Context) ([]string, error) {
	const query = `SELECT id FROM identities WHERE jsonb_array_length(sessions) > 0`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
