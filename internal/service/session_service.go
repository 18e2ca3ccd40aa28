package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"inmo-market/internal/domain"
	"inmo-market/internal/repository"
)

// SessionService orquesta login/refresh/logout sobre la lista de sesiones
// embebida en cada identidad. Toda mutacion es read-modify-write contra el
// estado persistido mas reciente, con reintento optimista ante conflicto.
type SessionService struct {
	logger *zap.Logger
	repo   repository.IdentityRepository
	tokens *TokenService
}

var (
	ErrSessionExpired   = errors.New("session expired")
	ErrSessionNotFound  = errors.New("session not found")
	ErrIdentityInactive = errors.New("identity inactive")
)

const (
	// Techo de sesiones por identidad; al superarlo se desaloja la menos
	// recientemente activa.
	maxSessionsPerIdentity = 10

	sessionWriteRetries = 3
)

func NewSessionService(logger *zap.Logger, repo repository.IdentityRepository, tokens *TokenService) *SessionService {
	return &SessionService{
		logger: logger,
		repo:   repo,
		tokens: tokens,
	}
}

// Login crea una sesion nueva para la identidad, la persiste y devuelve el
// par de tokens que la referencia. De paso purga sesiones vencidas y aplica
// el techo por identidad.
func (s *SessionService) Login(ctx context.Context, identity domain.Identity, device domain.DeviceContext) (TokenPair, error) {
	sessionID := uuid.NewString()
	pair, err := s.tokens.IssuePair(identity, sessionID)
	if err != nil {
		return TokenPair{}, err
	}

	now := time.Now().UTC()
	session := domain.Session{
		ID:           sessionID,
		RefreshToken: pair.RefreshToken,
		Device:       deviceLabel(device.UserAgent),
		IPAddress:    device.IPAddress,
		UserAgent:    device.UserAgent,
		Location:     device.Location,
		IsActive:     true,
		LastActiveAt: now,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.tokens.RefreshTTL()),
	}

	err = s.mutateSessions(ctx, identity.ID, func(current *domain.Identity) bool {
		current.Sessions = pruneExpired(current.Sessions, now)
		current.Sessions = append(current.Sessions, session)
		current.Sessions = enforceCeiling(current.Sessions, maxSessionsPerIdentity)
		return true
	})
	if err != nil {
		return TokenPair{}, err
	}

	s.logger.Info("session created",
		zap.String("identity_id", identity.ID),
		zap.String("session_id", sessionID),
		zap.String("ip", device.IPAddress),
	)
	return pair, nil
}

// Refresh rota el refresh token de una sesion existente sin cambiar su id.
// Un token ya superado por una rotacion anterior falla con ErrSessionNotFound.
func (s *SessionService) Refresh(ctx context.Context, refreshToken string, device domain.DeviceContext) (TokenPair, error) {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return TokenPair{}, ErrInvalidToken
	}

	identity, err := s.repo.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TokenPair{}, ErrSessionNotFound
		}
		return TokenPair{}, err
	}
	if !identity.IsActive {
		return TokenPair{}, ErrIdentityInactive
	}

	now := time.Now().UTC()
	session, ok := identity.FindSession(claims.SessionID)
	if !ok || session.RefreshToken != refreshToken {
		return TokenPair{}, ErrSessionNotFound
	}
	if session.Expired(now) {
		// La sesion vencida se purga como efecto colateral del intento.
		if err := s.removeSessions(ctx, identity.ID, func(sess domain.Session) bool {
			return sess.ID == claims.SessionID
		}); err != nil {
			s.logger.Warn("purge expired session failed", zap.Error(err))
		}
		return TokenPair{}, ErrSessionExpired
	}

	pair, err := s.tokens.IssuePair(identity, claims.SessionID)
	if err != nil {
		return TokenPair{}, err
	}

	err = s.mutateSessions(ctx, identity.ID, func(current *domain.Identity) bool {
		for i := range current.Sessions {
			if current.Sessions[i].ID != claims.SessionID {
				continue
			}
			// Si otro refresh gano la carrera, el token guardado ya no es el
			// nuestro: el perdedor debe volver a autenticarse.
			if current.Sessions[i].RefreshToken != refreshToken {
				return false
			}
			current.Sessions[i].RefreshToken = pair.RefreshToken
			current.Sessions[i].LastActiveAt = now
			current.Sessions[i].IPAddress = device.IPAddress
			current.Sessions[i].UserAgent = device.UserAgent
			if device.UserAgent != "" {
				current.Sessions[i].Device = deviceLabel(device.UserAgent)
			}
			if device.Location != "" {
				current.Sessions[i].Location = device.Location
			}
			return true
		}
		return false
	})
	if err != nil {
		if errors.Is(err, errNoMutation) {
			return TokenPair{}, ErrSessionNotFound
		}
		return TokenPair{}, err
	}
	return pair, nil
}

// Validate comprueba que los claims de un access token siguen respaldados
// por una sesion viva. Es el camino caliente del AuthGuard: solo lee, nunca
// muta (last_active_at se actualiza en login/refresh, no aqui).
func (s *SessionService) Validate(ctx context.Context, claims Claims) (domain.Identity, error) {
	identity, err := s.repo.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Identity{}, ErrSessionNotFound
		}
		return domain.Identity{}, err
	}
	if !identity.IsActive {
		return domain.Identity{}, ErrIdentityInactive
	}
	session, ok := identity.FindSession(claims.SessionID)
	if !ok {
		return domain.Identity{}, ErrSessionNotFound
	}
	if session.Expired(time.Now().UTC()) {
		return domain.Identity{}, ErrSessionExpired
	}
	return identity, nil
}

// Logout elimina una sesion (o todas si sessionID es vacio). Es idempotente:
// "ya estaba cerrada" y "cerrada con exito" son indistinguibles.
func (s *SessionService) Logout(ctx context.Context, identityID, sessionID string) error {
	err := s.removeSessions(ctx, identityID, func(sess domain.Session) bool {
		return sessionID == "" || sess.ID == sessionID
	})
	if err != nil {
		if errors.Is(err, errNoMutation) || errors.Is(err, pgx.ErrNoRows) {
			s.logger.Info("logout without matching session",
				zap.String("identity_id", identityID),
				zap.String("session_id", sessionID),
			)
			return nil
		}
		return err
	}
	return nil
}

// ListSessions devuelve las sesiones de la identidad sin el refresh token.
func (s *SessionService) ListSessions(ctx context.Context, identityID string) ([]domain.Session, error) {
	identity, err := s.repo.GetByID(ctx, identityID)
	if err != nil {
		return nil, err
	}
	sessions := make([]domain.Session, 0, len(identity.Sessions))
	for _, sess := range identity.Sessions {
		sess.RefreshToken = ""
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// TerminateSession cierra una sesion concreta desde la vista administrativa.
func (s *SessionService) TerminateSession(ctx context.Context, identityID, sessionID string) error {
	return s.Logout(ctx, identityID, sessionID)
}

// TerminateAllExcept cierra todas las sesiones salvo la indicada.
func (s *SessionService) TerminateAllExcept(ctx context.Context, identityID, keepSessionID string) error {
	err := s.removeSessions(ctx, identityID, func(sess domain.Session) bool {
		return sess.ID != keepSessionID
	})
	if errors.Is(err, errNoMutation) || errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	return err
}

// SweepExpired recorre todas las identidades con sesiones, elimina las
// vencidas y devuelve cuantas quito. Es una diferencia de conjuntos
// idempotente: correr en paralelo con logins y refreshes es seguro.
func (s *SessionService) SweepExpired(ctx context.Context) (int, error) {
	ids, err := s.repo.IDsWithSessions(ctx)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	removed := 0
	for _, id := range ids {
		// El conteo se toma del intento que logro escribir; un reintento por
		// conflicto de version no debe duplicarlo.
		removedHere := 0
		err := s.mutateSessions(ctx, id, func(current *domain.Identity) bool {
			kept := pruneExpired(current.Sessions, now)
			if len(kept) == len(current.Sessions) {
				return false
			}
			removedHere = len(current.Sessions) - len(kept)
			current.Sessions = kept
			return true
		})
		switch {
		case err == nil:
			removed += removedHere
		case errors.Is(err, errNoMutation), errors.Is(err, pgx.ErrNoRows):
		default:
			s.logger.Warn("sweep identity failed", zap.String("identity_id", id), zap.Error(err))
		}
	}
	if removed > 0 {
		s.logger.Info("expired sessions swept", zap.Int("removed", removed))
	}
	return removed, nil
}

// errNoMutation señala que el callback no aplico ningun cambio; cada caller
// decide si eso es un error o un no-op.
var errNoMutation = errors.New("no session mutation applied")

// mutateSessions ejecuta fn sobre el estado persistido mas reciente y guarda
// el resultado; ante conflicto de version relee y reintenta.
func (s *SessionService) mutateSessions(ctx context.Context, identityID string, fn func(*domain.Identity) bool) error {
	var lastErr error
	for attempt := 0; attempt < sessionWriteRetries; attempt++ {
		identity, err := s.repo.GetByID(ctx, identityID)
		if err != nil {
			return err
		}
		if !fn(&identity) {
			return errNoMutation
		}
		err = s.repo.UpdateSessions(ctx, identityID, identity.Version, identity.Sessions)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrVersionConflict) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (s *SessionService) removeSessions(ctx context.Context, identityID string, match func(domain.Session) bool) error {
	return s.mutateSessions(ctx, identityID, func(current *domain.Identity) bool {
		kept := current.Sessions[:0:0]
		for _, sess := range current.Sessions {
			if !match(sess) {
				kept = append(kept, sess)
			}
		}
		if len(kept) == len(current.Sessions) {
			return false
		}
		current.Sessions = kept
		return true
	})
}

func pruneExpired(sessions []domain.Session, now time.Time) []domain.Session {
	kept := sessions[:0:0]
	for _, sess := range sessions {
		if !sess.Expired(now) {
			kept = append(kept, sess)
		}
	}
	return kept
}

// enforceCeiling desaloja las sesiones menos recientemente activas hasta
// quedar dentro del limite, preservando el orden original del resto.
func enforceCeiling(sessions []domain.Session, limit int) []domain.Session {
	if len(sessions) <= limit {
		return sessions
	}
	byActivity := make([]domain.Session, len(sessions))
	copy(byActivity, sessions)
	sort.SliceStable(byActivity, func(i, j int) bool {
		return byActivity[i].LastActiveAt.Before(byActivity[j].LastActiveAt)
	})
	evicted := make(map[string]struct{}, len(sessions)-limit)
	for _, sess := range byActivity[:len(sessions)-limit] {
		evicted[sess.ID] = struct{}{}
	}
	kept := sessions[:0:0]
	for _, sess := range sessions {
		if _, gone := evicted[sess.ID]; !gone {
			kept = append(kept, sess)
		}
	}
	return kept
}

// deviceLabel deriva un nombre legible del user agent; es solo para mostrar.
func deviceLabel(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case ua == "":
		return "unknown device"
	case strings.Contains(ua, "iphone"):
		return "iPhone"
	case strings.Contains(ua, "ipad"):
		return "iPad"
	case strings.Contains(ua, "android"):
		return "Android"
	case strings.Contains(ua, "windows"):
		return "Windows"
	case strings.Contains(ua, "macintosh"), strings.Contains(ua, "mac os"):
		return "Mac"
	case strings.Contains(ua, "linux"):
		return "Linux"
	default:
		return "unknown device"
	}
}
