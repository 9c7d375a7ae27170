package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shop-assist/internal/core/domain"
)

func TestJWTVerifier_RoundTrip(t *testing.T) {
	v := NewJWTVerifier("secret")
	token, err := v.Issue(42, "alice", time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(token)

	require.NoError(t, err)
	assert.Equal(t, "42", id.UserID)
	assert.Equal(t, "alice", id.UserName)
	assert.Equal(t, domain.RoleAdmin, id.Role)
}

func TestJWTVerifier_Rejects(t *testing.T) {
	v := NewJWTVerifier("secret")
	expired, err := v.Issue(1, "a", -time.Minute)
	require.NoError(t, err)
	foreign, err := NewJWTVerifier("other").Issue(1, "a", time.Hour)
	require.NoError(t, err)
	noUser, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Username: "ghost"}).SignedString([]byte("secret"))
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: 1}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"expired":      expired,
		"wrong secret": foreign,
		"missing user": noUser,
		"alg none":     none,
		"garbage":      "not-a-token",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			assert.ErrorIs(t, err, domain.ErrUnauthorized)
		})
	}
}

func TestJWTVerifier_EmptySecretRejectsEverything(t *testing.T) {
	v := NewJWTVerifier("")
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UserID: 1, Username: "admin"}).SignedString([]byte{})
	require.NoError(t, err)

	id, err := v.Verify(forged)

	assert.Nil(t, id)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.ErrorIs(t, err, ErrNoSecret)

	_, err = v.Issue(1, "admin", time.Hour)
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "", BearerToken("Basic abc"))
	assert.Equal(t, "", BearerToken(""))
}

func TestMiddleware(t *testing.T) {
	v := NewJWTVerifier("secret")
	valid, err := v.Issue(7, "bob", time.Hour)
	require.NoError(t, err)

	e := echo.New()
	handler := Middleware(v)(func(c echo.Context) error {
		id := IdentityFrom(c)
		require.NotNil(t, id)
		return c.String(http.StatusOK, id.UserName)
	})

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"valid", "Bearer " + valid, http.StatusOK},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Token " + valid, http.StatusUnauthorized},
		{"invalid", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(echo.HeaderAuthorization, tt.header)
			}
			rec := httptest.NewRecorder()

			err := handler(e.NewContext(req, rec))

			if tt.status == http.StatusOK {
				require.NoError(t, err)
				assert.Equal(t, "bob", rec.Body.String())
				return
			}
			var he *echo.HTTPError
			require.ErrorAs(t, err, &he)
			assert.Equal(t, tt.status, he.Code)
		})
	}
}
