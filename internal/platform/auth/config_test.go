package auth

import "testing"

func TestConfigFromEnvDev(t *testing.T) {
	t.Setenv("AUTH_MODE", "DEV")
	t.Setenv("DEV_AUTH_ROLES", "Editor, viewer,editor")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if cfg.Mode != ModeDev || len(cfg.DevRoles) != 2 || cfg.DevRoles[0] != "editor" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestConfigFromEnvOIDCRequiresIssuer(t *testing.T) {
	t.Setenv("AUTH_MODE", "oidc")
	t.Setenv("OIDC_ISSUER_URL", "")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected error without issuer")
	}
	t.Setenv("OIDC_ISSUER_URL", "https://issuer.example.test")
	t.Setenv("OIDC_CLIENT_ID", "workspace-registry")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv: %v", err)
	}
	if cfg.OIDCAudience != "workspace-registry" {
		t.Fatalf("audience=%q, want fallback to client id", cfg.OIDCAudience)
	}
}

func TestConfigFromEnvRejectsUnknownMode(t *testing.T) {
	t.Setenv("AUTH_MODE", "saml")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
