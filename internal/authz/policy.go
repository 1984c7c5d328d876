// Package authz decides whether a principal may reach a route. It knows
// nothing about tokens; the authentication gate has already resolved the
// principal by the time Decide runs.
package authz

import (
	"strings"

	"github.com/fastygo/knowledge/domain"
)

// Access is the requirement a rule places on the caller.
type Access int

const (
	Public Access = iota
	Authenticated
	Admin
)

func (a Access) String() string {
	switch a {
	case Public:
		return "public"
	case Admin:
		return "admin"
	default:
		return "authenticated"
	}
}

// Decision is the outcome of evaluating a request.
type Decision int

const (
	Allow Decision = iota
	Unauthenticated
	Forbidden
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Unauthenticated:
		return "unauthenticated"
	default:
		return "forbidden"
	}
}

// AnyMethod matches every HTTP method.
const AnyMethod = ""

// Rule binds a method and path pattern to an access level. A pattern ending
// in "/**" matches the prefix itself and everything below it; any other
// pattern matches exactly.
type Rule struct {
	Method  string
	Pattern string
	Access  Access
}

func (r Rule) matches(method, path string) bool {
	if r.Method != AnyMethod && !strings.EqualFold(r.Method, method) {
		return false
	}
	if base, ok := strings.CutSuffix(r.Pattern, "/**"); ok {
		return base == "" || path == base || strings.HasPrefix(path, base+"/")
	}
	return path == r.Pattern
}

// Policy evaluates rules in order; the first match wins.
type Policy struct {
	rules    []Rule
	fallback Access
}

// NewPolicy builds a policy. Requests that match no rule need fallback.
func NewPolicy(fallback Access, rules ...Rule) *Policy {
	return &Policy{rules: append([]Rule(nil), rules...), fallback: fallback}
}

// DefaultPolicy is the platform route table.
func DefaultPolicy() *Policy {
	return NewPolicy(Authenticated,
		Rule{Method: "POST", Pattern: "/api/auth/login", Access: Public},
		Rule{Method: "POST", Pattern: "/api/auth/register", Access: Public},
		Rule{Method: "POST", Pattern: "/api/auth/refresh", Access: Public},
		Rule{Method: "GET", Pattern: "/api/auth/check-username", Access: Public},
		Rule{Method: "GET", Pattern: "/api/auth/check-email", Access: Public},
		Rule{Method: AnyMethod, Pattern: "/health", Access: Public},
		Rule{Method: AnyMethod, Pattern: "/metrics", Access: Public},
		Rule{Method: "OPTIONS", Pattern: "/**", Access: Public},

		Rule{Method: AnyMethod, Pattern: "/api/admin/**", Access: Admin},
		Rule{Method: "DELETE", Pattern: "/api/articles/**", Access: Admin},
		Rule{Method: "DELETE", Pattern: "/api/tags/**", Access: Admin},
		Rule{Method: "DELETE", Pattern: "/api/users/**", Access: Admin},

		Rule{Method: "GET", Pattern: "/api/articles/**", Access: Public},
		Rule{Method: "GET", Pattern: "/api/tags/**", Access: Public},
		Rule{Method: "GET", Pattern: "/api/categories/**", Access: Public},
		Rule{Method: "GET", Pattern: "/api/search/**", Access: Public},
		Rule{Method: "GET", Pattern: "/api/stats/public/**", Access: Public},
		Rule{Method: "GET", Pattern: "/api/comments/**", Access: Public},
	)
}

// Required returns the access level for a request.
func (p *Policy) Required(method, path string) Access {
	for _, rule := range p.rules {
		if rule.matches(method, path) {
			return rule.Access
		}
	}
	return p.fallback
}

// Decide evaluates the request for principal. Disabled accounts are treated
// as forbidden on any non-public route.
func (p *Policy) Decide(method, path string, principal domain.Principal) Decision {
	required := p.Required(method, path)
	if required == Public {
		return Allow
	}
	if !principal.IsAuthenticated() {
		return Unauthenticated
	}
	if !principal.Enabled {
		return Forbidden
	}
	if required == Admin && !principal.IsAdmin() {
		return Forbidden
	}
	return Allow
}
