package service

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"inmo-market/internal/domain"
)

// TokenService emite y valida los dos tipos de token (access y refresh).
// Es puro: firma y verifica sin consultar estado externo; la validez de la
// sesion referida se comprueba aparte en SessionService.
type TokenService struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	issuer        string
}

// Claims son los claims firmados en ambos tokens. Access y refresh de un
// mismo login comparten SessionID pero se firman con secretos distintos.
type Claims struct {
	UserID    string `json:"uid"`
	Role      string `json:"role,omitempty"`
	SessionID string `json:"sid"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// ErrInvalidToken cubre firma invalida, payload malformado o token vencido.
// Siempre es terminal para la operacion que lo recibe.
var ErrInvalidToken = errors.New("invalid token")

func NewTokenService(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *TokenService {
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}
	if refreshTTL <= 0 {
		refreshTTL = 7 * 24 * time.Hour
	}
	return &TokenService{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		issuer:        "inmo-market",
	}
}

// AccessTTL expone la vigencia configurada del access token.
func (s *TokenService) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL expone la vigencia configurada del refresh token; SessionService
// la usa para calcular el expires_at de cada sesion.
func (s *TokenService) RefreshTTL() time.Duration { return s.refreshTTL }

// IssuePair firma un par access+refresh que referencia la misma sesion.
func (s *TokenService) IssuePair(identity domain.Identity, sessionID string) (TokenPair, error) {
	if len(s.accessSecret) == 0 || len(s.refreshSecret) == 0 {
		return TokenPair{}, ErrInvalidToken
	}
	now := time.Now().UTC()
	access, err := s.sign(identity, sessionID, now, s.accessTTL, "access", s.accessSecret)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := s.sign(identity, sessionID, now, s.refreshTTL, "refresh", s.refreshSecret)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.accessTTL.Seconds()),
	}, nil
}

// VerifyAccess valida un access token y devuelve sus claims.
func (s *TokenService) VerifyAccess(token string) (Claims, error) {
	return s.verify(token, "access", s.accessSecret)
}

// VerifyRefresh valida un refresh token y devuelve sus claims.
func (s *TokenService) VerifyRefresh(token string) (Claims, error) {
	return s.verify(token, "refresh", s.refreshSecret)
}

func (s *TokenService) sign(identity domain.Identity, sessionID string, now time.Time, ttl time.Duration, tokenType string, secret []byte) (string, error) {
	claims := Claims{
		UserID:    identity.ID,
		Role:      identity.Role,
		SessionID: sessionID,
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			// El jti garantiza que cada firma produce un token distinto,
			// incluso dentro del mismo segundo; la rotacion depende de eso.
			ID:        uuid.NewString(),
			Issuer:    s.issuer,
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

func (s *TokenService) verify(tokenString, tokenType string, secret []byte) (Claims, error) {
	if len(secret) == 0 || strings.TrimSpace(tokenString) == "" {
		return Claims{}, ErrInvalidToken
	}
	var claims Claims
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	_, err := parser.ParseWithClaims(tokenString, &claims, func(_ *jwt.Token) (any, error) {
		return secret, nil
	})
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	if claims.TokenType != tokenType {
		return Claims{}, ErrInvalidToken
	}
	if !s.isValidClaims(claims) {
		return Claims{}, ErrInvalidToken
	}
	return claims, nil
}

func (s *TokenService) isValidClaims(claims Claims) bool {
	if strings.TrimSpace(claims.UserID) == "" || strings.TrimSpace(claims.SessionID) == "" {
		return false
	}
	if claims.Subject != claims.UserID {
		return false
	}
	return claims.Issuer == s.issuer
}
