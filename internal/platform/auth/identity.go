package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

type Identity struct {
	Subject string
	Email   string
	Roles   []string
}

type ctxKeyIdentity struct{}

func ContextWithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	v, ok := ctx.Value(ctxKeyIdentity{}).(Identity)
	return v, ok
}

// Actor names the caller for audit and created_by columns.
func Actor(ctx context.Context) string {
	identity, ok := IdentityFromContext(ctx)
	if !ok || strings.TrimSpace(identity.Subject) == "" {
		return "anonymous"
	}
	return strings.TrimSpace(identity.Subject)
}

type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (Identity, error)
}

type DevAuthenticator struct {
	identity Identity
}

func NewDevAuthenticator(cfg Config) *DevAuthenticator {
	return &DevAuthenticator{
		identity: Identity{
			Subject: cfg.DevSubject,
			Email:   cfg.DevEmail,
			Roles:   cfg.DevRoles,
		},
	}
}

func (a *DevAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	return a.identity, nil
}

// DisabledAuthenticator admits every request as an anonymous admin. It is
// meant for local stacks only.
type DisabledAuthenticator struct{}

func (DisabledAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	return Identity{Subject: "anonymous", Roles: []string{RoleAdmin}}, nil
}

// BearerAuthenticator verifies bearer JWTs issued by the configured OIDC
// provider. Interactive login is not offered; callers bring their own token.
type BearerAuthenticator struct {
	cfg      Config
	verifier *oidc.IDTokenVerifier
}

func NewBearerAuthenticator(ctx context.Context, cfg Config) (*BearerAuthenticator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Mode != ModeOIDC {
		return nil, fmt.Errorf("auth mode must be oidc (got %q)", cfg.Mode)
	}
	provider, err := oidc.NewProvider(ctx, cfg.OIDCIssuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}
	return NewBearerAuthenticatorWithVerifier(cfg, provider.Verifier(&oidc.Config{ClientID: cfg.OIDCAudience})), nil
}

func NewBearerAuthenticatorWithVerifier(cfg Config, verifier *oidc.IDTokenVerifier) *BearerAuthenticator {
	return &BearerAuthenticator{cfg: cfg, verifier: verifier}
}

func (a *BearerAuthenticator) Authenticate(ctx context.Context, r *http.Request) (Identity, error) {
	rawToken := tokenFromHeader(r)
	if rawToken == "" {
		return Identity{}, ErrUnauthenticated
	}

	token, err := a.verifier.Verify(ctx, rawToken)
	if err != nil {
		return Identity{}, err
	}

	var claims map[string]any
	if err := token.Claims(&claims); err != nil {
		return Identity{}, err
	}

	subject := extractStringClaim(claims, a.cfg.SubjectClaim)
	if subject == "" {
		subject = token.Subject
	}
	return Identity{
		Subject: subject,
		Email:   extractStringClaim(claims, a.cfg.EmailClaim),
		Roles:   extractRolesClaim(claims, a.cfg.RolesClaim),
	}, nil
}

// NewAuthenticator picks the authenticator for cfg.Mode.
func NewAuthenticator(ctx context.Context, cfg Config) (Authenticator, error) {
	switch cfg.Mode {
	case ModeDev:
		return NewDevAuthenticator(cfg), nil
	case ModeDisabled:
		return DisabledAuthenticator{}, nil
	default:
		return NewBearerAuthenticator(ctx, cfg)
	}
}

func tokenFromHeader(r *http.Request) string {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return ""
	}
	parts := strings.SplitN(authz, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func extractStringClaim(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return strings.TrimSpace(s)
}

func extractRolesClaim(claims map[string]any, key string) []string {
	switch typed := claims[key].(type) {
	case []any:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			s, ok := item.(string)
			if !ok {
				continue
			}
			if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []string:
		out := make([]string, 0, len(typed))
		for _, item := range typed {
			if s := strings.ToLower(strings.TrimSpace(item)); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		return parseCSV(typed)
	default:
		return nil
	}
}
