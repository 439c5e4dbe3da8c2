package auth

import (
	"errors"
	"net/http"
	"strings"
)

var ErrForbidden = errors.New("forbidden")

const (
	RoleViewer = "viewer"
	RoleEditor = "editor"
	RoleAdmin  = "admin"
)

func roleRank(role string) int {
	switch strings.ToLower(strings.TrimSpace(role)) {
	case RoleViewer:
		return 1
	case RoleEditor:
		return 2
	case RoleAdmin:
		return 3
	default:
		return 0
	}
}

// HasAtLeast reports whether the strongest of roles ranks at or above required.
// An unknown required role is never satisfied.
func HasAtLeast(roles []string, required string) bool {
	need := roleRank(required)
	if need == 0 {
		return false
	}
	for _, role := range roles {
		if roleRank(role) >= need {
			return true
		}
	}
	return false
}

type routeRule struct {
	method string
	match  func(path string) bool
	role   string
}

// First match wins. Requests matched by no rule fall back on the method:
// safe methods need viewer, writes need editor.
var routeRules = []routeRule{
	{http.MethodPost, func(p string) bool { return strings.HasSuffix(p, "/pipelines/validate") }, RoleViewer},
	{http.MethodPost, func(p string) bool { return p == "/v1/workspaces" }, RoleAdmin},
	{"", func(p string) bool { return strings.Contains(p, "/computes/") && !strings.HasSuffix(p, "/computes/") }, RoleAdmin},
}

// RequiredRoleForRequest returns the minimum role for r. Compute targets and
// new workspaces are admin-only; every read and a dry-run validation is open
// to viewers.
func RequiredRoleForRequest(r *http.Request) string {
	safe := r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions
	if safe {
		return RoleViewer
	}
	path := strings.TrimRight(r.URL.Path, "/")
	for _, rule := range routeRules {
		if rule.method != "" && rule.method != r.Method {
			continue
		}
		if rule.match(path) {
			return rule.role
		}
	}
	return RoleEditor
}

// RouteRoleAuthorizer enforces RequiredRoleForRequest.
func RouteRoleAuthorizer() AuthorizeFunc {
	return func(r *http.Request, identity Identity) error {
		if HasAtLeast(identity.Roles, RequiredRoleForRequest(r)) {
			return nil
		}
		return ErrForbidden
	}
}
