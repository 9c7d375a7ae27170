package websocket

import (
	"fmt"
	"net/http"
	"strconv"

	"shop-assist/internal/adapters/auth"
	"shop-assist/internal/core/domain"
	"shop-assist/internal/core/ports"
)

// Authenticator resolves the identity of a connecting socket.
// Admins present a signed token; storefront customers a session id.
type Authenticator struct {
	tokens ports.TokenVerifier
	users  ports.InboxUserRepository
	shopID string
}

// NewAuthenticator creates an authenticator; customers are resolved in shopID
func NewAuthenticator(tokens ports.TokenVerifier, users ports.InboxUserRepository, shopID string) *Authenticator {
	return &Authenticator{tokens: tokens, users: users, shopID: shopID}
}

// Authenticate inspects the `token` query parameter or bearer header first,
// then `session_id` (query) or `X-Session-ID` (header).
func (a *Authenticator) Authenticate(r *http.Request) (*ports.Identity, error) {
	q := r.URL.Query()

	token := q.Get("token")
	if token == "" {
		token = auth.BearerToken(r.Header.Get("Authorization"))
	}
	if token != "" {
		return a.tokens.Verify(token)
	}

	sessionID := q.Get("session_id")
	if sessionID == "" {
		sessionID = r.Header.Get("X-Session-ID")
	}
	if sessionID == "" {
		return nil, fmt.Errorf("%w: authentication required", domain.ErrUnauthorized)
	}

	user, err := a.users.Login(r.Context(), sessionID, a.shopID)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	return &ports.Identity{
		UserID:   strconv.FormatInt(user.ID, 10),
		UserName: user.DisplayName("Guest"),
		Role:     domain.RoleCustomer,
	}, nil
}
