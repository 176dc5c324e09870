package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

type clientContextKey string

const clientUserIDKey clientContextKey = "client_user_id"

// clientTokenTTL is the lifetime of a softphone client token.
const clientTokenTTL = 24 * time.Hour

// ErrInvalidToken is returned for tokens that fail verification.
var ErrInvalidToken = errors.New("invalid or expired token")

// ClientClaims holds the JWT claims for softphone client authentication.
// The same token authenticates both REST calls and the signaling
// WebSocket handshake.
type ClientClaims struct {
	UserID    int64  `json:"uid"`
	Extension string `json:"ext"`
	Name      string `json:"name"`
	jwt.RegisteredClaims
}

// ClientTokens issues and verifies softphone client tokens.
type ClientTokens struct {
	secret []byte
}

// NewClientTokens creates a token issuer/verifier with the given secret.
func NewClientTokens(secret []byte) *ClientTokens {
	return &ClientTokens{secret: secret}
}

// Generate creates a signed JWT for a softphone login.
func (c *ClientTokens) Generate(userID int64, extension, name string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(clientTokenTTL)

	claims := ClientClaims{
		UserID:    userID,
		Extension: extension,
		Name:      name,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    "voxera",
			Subject:   strconv.FormatInt(userID, 10),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// parse verifies a token string and returns its claims.
func (c *ClientTokens) parse(tokenString string) (*ClientClaims, error) {
	claims := &ClientClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return c.secret, nil
	})
	if err != nil || !token.Valid || claims.UserID == 0 {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// VerifyClientToken verifies a token presented on the signaling
// WebSocket handshake and returns the user id it was issued to.
func (c *ClientTokens) VerifyClientToken(tokenString string) (string, error) {
	claims, err := c.parse(tokenString)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(claims.UserID, 10), nil
}

// RequireClientAuth validates Bearer tokens on softphone REST endpoints
// and stores the user id in the request context.
func RequireClientAuth(tokens *ClientTokens) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeAuthError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeAuthError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			claims, err := tokens.parse(parts[1])
			if err != nil {
				slog.Debug("client auth: invalid jwt", "error", err)
				writeAuthError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), clientUserIDKey, claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientUserIDFromContext retrieves the authenticated softphone user id,
// or 0 when the request is unauthenticated.
func ClientUserIDFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(clientUserIDKey).(int64)
	return id
}
