package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"inmo-market/internal/domain"
	"inmo-market/internal/repository"
)

// IdentityService coordina registro y autenticacion de identidades.
type IdentityService struct {
	logger       *zap.Logger
	identities   repository.IdentityRepository
	loginLimiter LoginRateLimiter
}

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrEmailTaken         = errors.New("email already registered")
	ErrRateLimited        = errors.New("rate limited")
)

const defaultRole = "user"

// Hash bcrypt de una cadena arbitraria, usado solo para igualar tiempos.
const dummyPasswordHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

func NewIdentityService(logger *zap.Logger, identities repository.IdentityRepository, loginLimiter LoginRateLimiter) *IdentityService {
	if loginLimiter == nil {
		loginLimiter = NewLoginRateLimiter(time.Minute, 10)
	}
	return &IdentityService{
		logger:       logger,
		identities:   identities,
		loginLimiter: loginLimiter,
	}
}

type RegisterInput struct {
	Email       string
	DisplayName string
	Password    string
	Role        string
}

// Register crea una identidad nueva con la password hasheada via bcrypt.
func (s *IdentityService) Register(ctx context.Context, input RegisterInput) (domain.Identity, error) {
	emailAddr := normalizeEmail(input.Email)
	if emailAddr == "" {
		return domain.Identity{}, ErrInvalidEmail
	}
	password := strings.TrimSpace(input.Password)
	if password == "" {
		return domain.Identity{}, ErrInvalidCredentials
	}

	if _, err := s.identities.GetByEmail(ctx, emailAddr); err == nil {
		return domain.Identity{}, ErrEmailTaken
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Identity{}, err
	}

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return domain.Identity{}, err
	}

	role := strings.ToLower(strings.TrimSpace(input.Role))
	if role == "" {
		role = defaultRole
	}

	identity := domain.Identity{
		ID:           uuid.NewString(),
		Email:        emailAddr,
		DisplayName:  strings.TrimSpace(input.DisplayName),
		Role:         role,
		PasswordHash: string(hashBytes),
		IsActive:     true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.identities.Create(ctx, identity); err != nil {
		// Dos registros concurrentes pueden pasar ambos el chequeo previo;
		// la constraint unique resuelve al perdedor.
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return domain.Identity{}, ErrEmailTaken
		}
		return domain.Identity{}, err
	}
	return identity, nil
}

// Authenticate valida email+password y devuelve la identidad viva.
func (s *IdentityService) Authenticate(ctx context.Context, emailAddr, password string) (domain.Identity, error) {
	emailAddr = normalizeEmail(emailAddr)
	password = strings.TrimSpace(password)
	if emailAddr == "" || password == "" {
		return domain.Identity{}, ErrInvalidCredentials
	}

	if s.loginLimiter != nil && !s.loginLimiter.Allow(emailAddr) {
		return domain.Identity{}, ErrRateLimited
	}

	identity, err := s.identities.GetByEmail(ctx, emailAddr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Compare ficticio para no filtrar la existencia de la cuenta
			// por timing.
			_ = bcrypt.CompareHashAndPassword([]byte(dummyPasswordHash), []byte(password))
			return domain.Identity{}, ErrInvalidCredentials
		}
		return domain.Identity{}, err
	}
	if identity.PasswordHash == "" {
		return domain.Identity{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(identity.PasswordHash), []byte(password)); err != nil {
		return domain.Identity{}, ErrInvalidCredentials
	}
	if !identity.IsActive {
		return domain.Identity{}, ErrIdentityInactive
	}
	return identity, nil
}

// Deactivate apaga la cuenta; los access tokens vigentes dejan de validar
// en el proximo request protegido.
func (s *IdentityService) Deactivate(ctx context.Context, identityID string) error {
	if err := s.identities.SetActive(ctx, identityID, false); err != nil {
		return err
	}
	s.logger.Info("identity deactivated", zap.String("identity_id", identityID))
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// LoginRateLimiter limita la frecuencia de intentos de login por clave.
type LoginRateLimiter interface {
	Allow(key string) bool
}

type loginRateLimiter struct {
	mu     sync.Mutex
	window time.Duration
	max    int
	hits   map[string][]time.Time
}

// NewLoginRateLimiter crea un rate limiter en memoria.
func NewLoginRateLimiter(window time.Duration, max int) LoginRateLimiter {
	if max <= 0 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &loginRateLimiter{
		window: window,
		max:    max,
		hits:   make(map[string][]time.Time),
	}
}

func (l *loginRateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now().UTC()
	cutoff := now.Add(-l.window)
	entries := l.hits[key]
	kept := entries[:0]
	for _, ts := range entries {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.hits[key] = kept
		return false
	}
	kept = append(kept, now)
	l.hits[key] = kept
	return true
}
