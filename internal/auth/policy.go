package auth

import (
	"net/http"
	"strings"
)

// routeRule maps one route shape to the role it demands. Rules are
// evaluated in order; the first match wins.
type routeRule struct {
	exact      string
	prefix     string
	suffix     string
	method     string
	mutateOnly bool
	role       Role
}

func (rr routeRule) matches(method, path string) bool {
	if rr.exact != "" && path != rr.exact {
		return false
	}
	if rr.prefix != "" && !strings.HasPrefix(path, rr.prefix) {
		return false
	}
	if rr.suffix != "" && !strings.HasSuffix(path, rr.suffix) {
		return false
	}
	if rr.method != "" && method != rr.method {
		return false
	}
	if rr.mutateOnly && isReadMethod(method) {
		return false
	}
	return true
}

var apiRules = []routeRule{
	{exact: "/api/v1/alerts", role: RoleViewer},
	{exact: "/api/v1/alerts/export", role: RoleViewer},
	// acknowledge / resolve
	{prefix: "/api/v1/alerts/", method: http.MethodPost, role: RoleOperator},
	{exact: "/api/v1/rules/test", role: RoleViewer},
	{prefix: "/api/v1/rules", mutateOnly: true, role: RoleOperator},
	{prefix: "/api/v1/rules", role: RoleViewer},
	{exact: "/api/v1/commands", method: http.MethodPost, role: RoleOperator},
	{exact: "/api/v1/commands", role: RoleViewer},
	{prefix: "/api/v1/devices/", suffix: "/armed", role: RoleAdmin},
	{prefix: "/api/v1/devices", role: RoleViewer},
	{prefix: "/api/v1/locations", role: RoleViewer},
	{exact: "/api/v1/stats", role: RoleViewer},
}

func isReadMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}

// Policy decides which requests skip authentication and which role the
// rest require.
type Policy struct {
	ExemptPaths    map[string]struct{}
	ExemptPrefixes []string
}

// NewDefaultPolicy builds a default policy with exemptions.
func NewDefaultPolicy(exemptPaths []string, exemptPrefixes []string) Policy {
	set := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		set[path] = struct{}{}
	}
	return Policy{ExemptPaths: set, ExemptPrefixes: exemptPrefixes}
}

// IsExempt returns true when a request should skip auth/RBAC.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	if _, ok := p.ExemptPaths[r.URL.Path]; ok {
		return true
	}
	for _, prefix := range p.ExemptPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// RequiredRole resolves the role a request needs. Unmatched /api paths
// default to viewer for reads and operator for mutations; paths outside
// /api are not role-gated.
func (p Policy) RequiredRole(r *http.Request) (Role, bool) {
	if r == nil {
		return "", false
	}
	method, path := r.Method, r.URL.Path
	for _, rule := range apiRules {
		if rule.matches(method, path) {
			return rule.role, true
		}
	}
	if strings.HasPrefix(path, "/api/") {
		if isReadMethod(method) {
			return RoleViewer, true
		}
		return RoleOperator, true
	}
	return "", false
}
