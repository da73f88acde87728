package services

import (
	"context"
	"errors"
	"time"

	"dealroom-chat/config"
	dealroom_errors "dealroom-chat/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AuthService verifies the access tokens issued by the profile subsystem.
// IssueAccessToken exists for development seeding and tests.
type AuthService struct {
	jwtSecret []byte
	accessTTL time.Duration
}

func NewAuthService(cfg *config.Config) *AuthService {
	ttl := cfg.JWTAccessTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &AuthService{
		jwtSecret: []byte(cfg.JWTSecret),
		accessTTL: ttl,
	}
}

type AccessClaims struct {
	UserID    string `json:"sub"`
	SessionID string `json:"sid,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the user id carried by the token.
func (c AccessClaims) Identity() (uuid.UUID, error) {
	id, err := uuid.Parse(c.UserID)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, dealroom_errors.ErrUnauthorized
	}
	return id, nil
}

func (s *AuthService) ParseAccessToken(tokenString string) (AccessClaims, error) {
	if tokenString == "" {
		return AccessClaims{}, dealroom_errors.ErrUnauthorized
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, dealroom_errors.ErrUnauthorized
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return AccessClaims{}, dealroom_errors.ErrUnauthorized
	}

	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return AccessClaims{}, dealroom_errors.ErrUnauthorized
	}

	return *claims, nil
}

// Authenticate parses the token and returns the user it was issued to.
func (s *AuthService) Authenticate(tokenString string) (uuid.UUID, error) {
	claims, err := s.ParseAccessToken(tokenString)
	if err != nil {
		return uuid.Nil, err
	}
	return claims.Identity()
}

// IssueAccessToken signs a token for userID. Returns the token and its
// lifetime in seconds.
func (s *AuthService) IssueAccessToken(userID uuid.UUID) (string, int64, error) {
	now := time.Now()
	expiresAt := now.Add(s.accessTTL)

	claims := AccessClaims{
		UserID:    userID.String(),
		SessionID: uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return "", 0, err
	}

	return signed, int64(s.accessTTL.Seconds()), nil
}

func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, dealroom_errors.ErrInvalidInput):
		return 400
	case errors.Is(err, dealroom_errors.ErrUnauthorized):
		return 401
	case errors.Is(err, dealroom_errors.ErrForbidden), errors.Is(err, dealroom_errors.ErrNotAMember):
		return 403
	case errors.Is(err, dealroom_errors.ErrNotFound):
		return 404
	case errors.Is(err, dealroom_errors.ErrAlreadyRegistered),
		errors.Is(err, dealroom_errors.ErrAlreadyExists):
		return 409
	case errors.Is(err, dealroom_errors.ErrRateLimited):
		return 429
	case errors.Is(err, dealroom_errors.ErrStoreUnavailable), errors.Is(err, dealroom_errors.ErrQueueFull):
		return 503
	default:
		return 500
	}
}

type ctxKey string

var userIDKey ctxKey = "user_id"

func WithUserContext(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	value := ctx.Value(userIDKey)
	if value == nil {
		return uuid.Nil, false
	}
	userID, ok := value.(uuid.UUID)
	return userID, ok
}
