package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

type contextKey string

// ContextKeySubject carries the authenticated JWT subject through the request
// context.
const ContextKeySubject contextKey = "gateway.subject"

// ScopeEscrow is the claim required to reach the escrow routes.
const ScopeEscrow = "escrow"

var (
	errMissingToken = errors.New("missing bearer token")
	errInvalidToken = errors.New("invalid bearer token")
	errMissingScope = errors.New("token lacks required scope")
)

type gatewayClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

func (c gatewayClaims) hasScope(want string) bool {
	for _, scope := range strings.Fields(c.Scope) {
		if scope == want {
			return true
		}
	}
	return false
}

// Authenticator validates HMAC-signed JWTs issued to gateway clients.
type Authenticator struct {
	secret    []byte
	issuer    string
	clockSkew time.Duration
}

func NewAuthenticator(secret, issuer string, clockSkew time.Duration) *Authenticator {
	if clockSkew <= 0 {
		clockSkew = 2 * time.Minute
	}
	return &Authenticator{
		secret:    []byte(strings.TrimSpace(secret)),
		issuer:    issuer,
		clockSkew: clockSkew,
	}
}

// Middleware rejects requests lacking a valid token with the given scope and
// stores the subject in the request context.
func (a *Authenticator) Middleware(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, err := a.authenticate(r, scope)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), ContextKeySubject, subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *Authenticator) authenticate(r *http.Request, scope string) (string, error) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", errMissingToken
	}
	raw := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	claims := gatewayClaims{}
	token, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidToken
		}
		return a.secret, nil
	},
		jwt.WithIssuer(a.issuer),
		jwt.WithLeeway(a.clockSkew),
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
	)
	if err != nil || !token.Valid {
		return "", errInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errInvalidToken
	}
	if scope != "" && !claims.hasScope(scope) {
		return "", errMissingScope
	}
	return claims.Subject, nil
}

// Subject extracts the authenticated subject from a request context.
func Subject(ctx context.Context) string {
	subject, _ := ctx.Value(ContextKeySubject).(string)
	return subject
}
