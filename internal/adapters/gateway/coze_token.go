package gateway

import (
	"context"
	"crypto/rsa"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"shop-assist/internal/adapters/dto"
	"shop-assist/internal/core/ports"
)

var (
	_ ports.TokenSource = (*JWTTokenSource)(nil)
	_ ports.TokenSource = StaticTokenSource("")
)

const (
	// tokenRefreshBuffer is how long before expiry a cached token is replaced.
	tokenRefreshBuffer = 5 * time.Minute

	// CozeAudience is the aud claim expected by the OAuth endpoint.
	CozeAudience = "api.coze.cn"

	assertionLifetime = time.Hour
	tokenDuration     = 86399 // seconds, the maximum the provider grants

	// expires_in values above this are absolute unix timestamps, not lifetimes.
	absoluteExpiryThreshold = 1_000_000_000
)

// StaticTokenSource serves a fixed personal access token
type StaticTokenSource string

// Token returns the static token.
func (s StaticTokenSource) Token(context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("coze api token is empty")
	}
	return string(s), nil
}

// JWTTokenSource exchanges RS256-signed assertions for OAuth access tokens.
// Tokens are cached and refreshed only within tokenRefreshBuffer of expiry.
type JWTTokenSource struct {
	http  *resty.Client
	appID string
	keyID string
	key   *rsa.PrivateKey
	log   zerolog.Logger
	now   func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// LoadPrivateKey reads a PEM encoded RSA key (PKCS#1 or PKCS#8).
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

// NewJWTTokenSource creates a token source for an OAuth JWT application
func NewJWTTokenSource(baseURL, appID, keyID string, key *rsa.PrivateKey, log zerolog.Logger) *JWTTokenSource {
	return &JWTTokenSource{
		http: resty.New().
			SetBaseURL(baseURL).
			SetHeader("Content-Type", "application/json").
			SetTimeout(15 * time.Second),
		appID: appID,
		keyID: keyID,
		key:   key,
		log:   log.With().Str("component", "coze-oauth").Logger(),
		now:   time.Now,
	}
}

// Token returns a valid access token, refreshing it when close to expiry.
// Concurrent callers share one refresh.
func (s *JWTTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && s.now().Before(s.expiry.Add(-tokenRefreshBuffer)) {
		return s.token, nil
	}
	return s.refresh(ctx)
}

func (s *JWTTokenSource) assertion() (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"iss": s.appID,
		"aud": CozeAudience,
		"iat": now.Unix(),
		"exp": now.Add(assertionLifetime).Unix(),
		"jti": uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = s.keyID
	return token.SignedString(s.key)
}

func (s *JWTTokenSource) refresh(ctx context.Context) (string, error) {
	signed, err := s.assertion()
	if err != nil {
		return "", fmt.Errorf("sign oauth assertion: %w", err)
	}

	var out dto.CozeTokenResponse
	resp, err := s.http.R().
		SetContext(ctx).
		SetAuthToken(signed).
		SetBody(dto.CozeTokenRequest{GrantType: dto.CozeJWTGrantType, DurationSeconds: tokenDuration}).
		SetResult(&out).
		SetError(&out).
		Post("/api/permission/oauth2/token")
	if err != nil {
		return "", fmt.Errorf("oauth token request: %w", err)
	}
	if resp.IsError() || out.AccessToken == "" {
		s.log.Error().
			Int("status", resp.StatusCode()).
			Str("error_code", out.ErrorCode).
			Str("error_message", out.ErrorMessage).
			Msg("failed to obtain access token")
		return "", fmt.Errorf("oauth token request: status %d: %s", resp.StatusCode(), out.ErrorMessage)
	}

	now := s.now()
	if out.ExpiresIn > absoluteExpiryThreshold {
		s.expiry = time.Unix(out.ExpiresIn, 0)
	} else {
		s.expiry = now.Add(time.Duration(out.ExpiresIn) * time.Second)
	}
	s.token = out.AccessToken

	s.log.Info().Time("expires_at", s.expiry).Msg("access token obtained")
	return s.token, nil
}
