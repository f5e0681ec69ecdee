package auth

import (
	"net/http"
	"strings"
)

// Policy maps requests to the role they require.
type Policy struct {
	ExemptPaths map[string]struct{}
}

// NewDefaultPolicy builds a policy exempting the given paths.
func NewDefaultPolicy(exemptPaths ...string) Policy {
	set := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		set[path] = struct{}{}
	}
	return Policy{ExemptPaths: set}
}

// IsExempt returns true when a request skips authentication.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	_, ok := p.ExemptPaths[r.URL.Path]
	return ok
}

// RequiredRole resolves the role a request needs. Reads need viewer,
// anything that writes or calls the upstream model needs operator.
func (p Policy) RequiredRole(r *http.Request) Role {
	path := r.URL.Path
	switch {
	case path == "/upload_csv":
		return RoleOperator
	case strings.HasPrefix(path, "/analyze/"):
		return RoleOperator
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return RoleViewer
	default:
		return RoleOperator
	}
}
