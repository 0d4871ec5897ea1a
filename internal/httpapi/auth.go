package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ariahq/aria/internal/speech"
	"github.com/ariahq/aria/internal/tier"
)

// JWTClaims represents the claims in the JWT token
type JWTClaims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Tier   string `json:"tier"`
	Admin  bool   `json:"admin,omitempty"`
}

// AuthUser is the authenticated caller attached to the request context.
type AuthUser struct {
	ID    string
	Tier  tier.Tier
	Admin bool
}

type contextKey string

const userContextKey contextKey = "user"

// userFromContext returns the authenticated user, or nil.
func userFromContext(ctx context.Context) *AuthUser {
	u, _ := ctx.Value(userContextKey).(*AuthUser)
	return u
}

// withAuth is middleware that requires valid JWT authentication
func (r *Router) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		authHeader := req.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, speech.KindUnauthorized, "missing authorization header")
			return
		}

		// Expect "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			writeError(w, http.StatusUnauthorized, speech.KindUnauthorized, "invalid authorization format")
			return
		}

		token, err := jwt.ParseWithClaims(parts[1], &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(r.cfg.JWTSecret), nil
		})
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, speech.KindUnauthorized, "invalid token")
			return
		}

		claims, ok := token.Claims.(*JWTClaims)
		if !ok {
			writeError(w, http.StatusUnauthorized, speech.KindUnauthorized, "invalid token claims")
			return
		}

		user := &AuthUser{
			ID:    claims.UserID,
			Tier:  tier.Tier(claims.Tier),
			Admin: claims.Admin,
		}
		ctx := context.WithValue(req.Context(), userContextKey, user)
		next.ServeHTTP(w, req.WithContext(ctx))
	}
}

// withAdmin requires an authenticated caller carrying the admin claim.
func (r *Router) withAdmin(next http.HandlerFunc) http.HandlerFunc {
	return r.withAuth(func(w http.ResponseWriter, req *http.Request) {
		user := userFromContext(req.Context())
		if user == nil || !user.Admin {
			writeError(w, http.StatusForbidden, speech.KindAccessDenied, "admin access required")
			return
		}
		next.ServeHTTP(w, req)
	})
}

// GenerateToken signs a JWT for a user. Used by operator tooling and tests;
// login itself lives with the identity service, not here.
func GenerateToken(secret, userID string, userTier tier.Tier, admin bool, expiry time.Duration) (string, error) {
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		UserID: userID,
		Tier:   string(userTier),
		Admin:  admin,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
