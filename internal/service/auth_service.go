package service

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/veritest/veritest-backend/internal/config"
)

// Token validation errors.
var (
	ErrTokenInvalid = errors.New("token is invalid")
	ErrTokenExpired = errors.New("token has expired")
)

// Role distinguishes the two kinds of verified principals. Token issuance
// lives in the identity service; this service only verifies.
type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// Claims is the verified principal resolved from a JWT.
type Claims struct {
	jwt.RegisteredClaims
	Role   Role `json:"role"`
	UserID int  `json:"user_id"`
}

// AuthService verifies JWTs issued by the identity service.
type AuthService struct {
	cfg *config.Config
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config) *AuthService {
	return &AuthService{cfg: cfg}
}

// ValidateToken parses and verifies a JWT, returning its claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	// A token without a positive user id has no principal to act as. Zero
	// doubles as the internal system sentinel and must never arrive from
	// the outside.
	if claims.UserID <= 0 {
		return nil, ErrTokenInvalid
	}

	return claims, nil
}
