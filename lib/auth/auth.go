// Package auth checks HS256 bearer tokens on service requests.
package auth

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	SCOPE_READ = "read"
	SCOPE_FIT  = "fit"
)

type Claims struct {
	Subject string
	Scopes  []string
}

func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

type contextKey string

const claimsKey contextKey = "claims"

// ClaimsFromContext returns the claims of an authenticated request, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey).(*Claims)
	return claims
}

// A Verifier checks tokens signed with a shared secret.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) (*Verifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("HS256 requires a secret key")
	}
	return &Verifier{secret: []byte(secret)}, nil
}

func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("token cannot be empty")
	}
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return nil, fmt.Errorf("missing or invalid 'sub' claim")
	}
	ret := &Claims{Subject: sub}
	switch scopes := claims["scopes"].(type) {
	case []interface{}:
		for _, s := range scopes {
			if str, ok := s.(string); ok {
				ret.Scopes = append(ret.Scopes, str)
			}
		}
	case string:
		ret.Scopes = strings.Fields(scopes)
	}
	return ret, nil
}

// IssueToken signs a token for subject with the given scopes.
func (v *Verifier) IssueToken(subject string, scopes []string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":    subject,
		"scopes": scopes,
		"iat":    now.Unix(),
		"exp":    now.Add(ttl).Unix(),
	})
	return token.SignedString(v.secret)
}

// Middleware rejects requests without a valid bearer token that carries
// the scope the route needs. A nil verifier lets everything through.
type Middleware struct {
	verifier *Verifier
}

func NewMiddleware(verifier *Verifier) *Middleware {
	return &Middleware{verifier: verifier}
}

func (m *Middleware) RequireScope(scope string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.verifier == nil {
			next(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found {
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return
		}
		claims, err := m.verifier.VerifyToken(token)
		if err != nil {
			log.Printf("rejecting request to %s: %v\n", r.URL.Path, err)
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		if !claims.HasScope(scope) {
			http.Error(w, "insufficient permissions", http.StatusForbidden)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
	}
}
