package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/adreel/api/internal/platform/httpx"
)

const defaultVerifyTimeout = 5 * time.Second

var (
	ErrTokenExpired = errors.New("auth: firebase id token expired")
	ErrTokenInvalid = errors.New("auth: firebase id token invalid")
	ErrTokenRevoked = errors.New("auth: firebase session revoked")
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator turns Authorization bearer tokens into an Identity on the
// request context.
type Authenticator struct {
	verifier       TokenVerifier
	timeout        time.Duration
	allowAnonymous bool
}

type Option func(*Authenticator)

// WithVerificationTimeout bounds each verification call.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithoutAnonymous rejects sessions created through anonymous sign-in.
func WithoutAnonymous() Option {
	return func(a *Authenticator) {
		a.allowAnonymous = false
	}
}

func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:       verifier,
		timeout:        defaultVerifyTimeout,
		allowAnonymous: true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireFirebaseAuth rejects requests without a valid ID token.
func (a *Authenticator) RequireFirebaseAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				unauthenticated(w, r, "unauthenticated", "authorization header missing or invalid")
				return
			}
			if a == nil || a.verifier == nil {
				unauthenticated(w, r, "unauthenticated", "authorization service unavailable")
				return
			}

			ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
			token, err := a.verifier.VerifyIDToken(ctx, raw)
			cancel()
			if err != nil {
				switch {
				case errors.Is(err, ErrTokenExpired), firebaseauth.IsIDTokenExpired(err):
					unauthenticated(w, r, "token_expired", "firebase id token expired")
				case errors.Is(err, ErrTokenRevoked):
					unauthenticated(w, r, "token_revoked", "firebase session revoked")
				default:
					unauthenticated(w, r, "invalid_token", "firebase id token invalid")
				}
				return
			}

			identity := &Identity{
				UID:            token.UID,
				Email:          stringClaim(token.Claims, "email"),
				SignInProvider: token.Firebase.SignInProvider,
				token:          token,
			}
			if identity.IsAnonymous() && !a.allowAnonymous {
				unauthenticated(w, r, "anonymous_not_allowed", "sign in required")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

func unauthenticated(w http.ResponseWriter, r *http.Request, code, message string) {
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, http.StatusUnauthorized))
}

func stringClaim(claims map[string]any, key string) string {
	value, _ := claims[key].(string)
	return strings.TrimSpace(value)
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
