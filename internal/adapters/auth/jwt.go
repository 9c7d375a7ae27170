// Package auth verifies admin dashboard tokens
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"shop-assist/internal/core/domain"
	"shop-assist/internal/core/ports"
)

var _ ports.TokenVerifier = (*JWTVerifier)(nil)

// identityKey is the echo context key holding the authenticated caller
const identityKey = "identity"

// Claims are the admin token claims issued by the dashboard login
type Claims struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// ErrNoSecret is returned when tokens are issued or verified without a signing secret
var ErrNoSecret = errors.New("jwt secret not configured")

// JWTVerifier validates HS256 admin tokens.
// Without a secret every token is rejected.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier for tokens signed with secret
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

// Issue signs an admin token. Used by operator tooling and tests; the
// dashboard login lives outside this service.
func (v *JWTVerifier) Issue(userID int64, username string, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrNoSecret
	}
	now := time.Now()
	claims := Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify parses and validates token, returning the admin identity.
func (v *JWTVerifier) Verify(token string) (*ports.Identity, error) {
	if len(v.secret) == 0 {
		return nil, fmt.Errorf("%w: %w", domain.ErrUnauthorized, ErrNoSecret)
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	if claims.UserID == 0 {
		return nil, fmt.Errorf("%w: token has no user", domain.ErrUnauthorized)
	}
	return &ports.Identity{
		UserID:   strconv.FormatInt(claims.UserID, 10),
		UserName: claims.Username,
		Role:     domain.RoleAdmin,
	}, nil
}

// BearerToken extracts the token of an `Authorization: Bearer` header value.
func BearerToken(header string) string {
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(header[len("Bearer "):])
}

// Middleware rejects requests without a valid admin bearer token
func Middleware(verifier ports.TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "No authorization token provided")
			}
			token := BearerToken(header)
			if token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization header format")
			}

			identity, err := verifier.Verify(token)
			if err != nil {
				if errors.Is(err, domain.ErrUnauthorized) {
					return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
				}
				return err
			}

			c.Set(identityKey, identity)
			return next(c)
		}
	}
}

// IdentityFrom returns the caller stored by Middleware, or nil.
func IdentityFrom(c echo.Context) *ports.Identity {
	id, _ := c.Get(identityKey).(*ports.Identity)
	return id
}
