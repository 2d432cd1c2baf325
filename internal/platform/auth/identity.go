package auth

import (
	"context"
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// Identity is the app user behind a verified Firebase ID token. Jobs are
// owned by Identity.UID.
type Identity struct {
	UID            string
	Email          string
	SignInProvider string

	token *firebaseauth.Token
}

// Token returns the decoded ID token, nil for identities built in tests.
func (i *Identity) Token() *firebaseauth.Token {
	if i == nil {
		return nil
	}
	return i.token
}

// IsAnonymous reports whether the session came from anonymous sign-in, which
// the app uses before onboarding completes.
func (i *Identity) IsAnonymous() bool {
	return i != nil && i.SignInProvider == "anonymous"
}

// ServiceIdentity is the Google service account behind a verified OIDC token
// on the internal routes.
type ServiceIdentity struct {
	Subject string
	Email   string
	Issuer  string
}

// Name prefers the account email; the numeric subject is the fallback.
func (s *ServiceIdentity) Name() string {
	if s == nil {
		return ""
	}
	if email := strings.TrimSpace(s.Email); email != "" {
		return email
	}
	return strings.TrimSpace(s.Subject)
}

type (
	identityKey        struct{}
	serviceIdentityKey struct{}
)

func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	return identity, ok && identity != nil
}

func WithServiceIdentity(ctx context.Context, identity *ServiceIdentity) context.Context {
	return context.WithValue(ctx, serviceIdentityKey{}, identity)
}

func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityKey{}).(*ServiceIdentity)
	return identity, ok && identity != nil
}

// CallerID names whoever authenticated the request: the user's UID, else the
// service account. Empty when the route is unauthenticated.
func CallerID(ctx context.Context) string {
	if identity, ok := IdentityFromContext(ctx); ok {
		return strings.TrimSpace(identity.UID)
	}
	if service, ok := ServiceIdentityFromContext(ctx); ok {
		return service.Name()
	}
	return ""
}
