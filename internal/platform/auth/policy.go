package auth

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/lims/internal/platform/apperr"
	"github.com/ehr/lims/internal/platform/metrics"
)

// Rule grants the listed roles the listed methods.
type Rule struct {
	Methods []string
	Roles   []string
}

// Entry maps a path pattern to its rules. A "*" segment matches exactly one
// path segment.
type Entry struct {
	Pattern string
	Rules   []Rule
}

type compiledEntry struct {
	pattern string
	re      *regexp.Regexp
	rules   []Rule
}

// Policy is an ordered, static access table. The first entry whose pattern
// matches the whole path decides; a path with no entry is denied.
type Policy struct {
	entries []compiledEntry
}

func NewPolicy(entries []Entry) (*Policy, error) {
	p := &Policy{entries: make([]compiledEntry, 0, len(entries))}
	for _, e := range entries {
		re, err := compilePattern(e.Pattern)
		if err != nil {
			return nil, fmt.Errorf("policy pattern %q: %w", e.Pattern, err)
		}
		p.entries = append(p.entries, compiledEntry{pattern: e.Pattern, re: re, rules: e.Rules})
	}
	return p, nil
}

// MustPolicy is NewPolicy for static tables known to be valid.
func MustPolicy(entries []Entry) *Policy {
	p, err := NewPolicy(entries)
	if err != nil {
		panic(err)
	}
	return p
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	if !strings.HasPrefix(pattern, "/") {
		return nil, fmt.Errorf("must start with /")
	}
	segs := strings.Split(strings.TrimPrefix(pattern, "/"), "/")
	var b strings.Builder
	b.WriteString("^")
	for _, seg := range segs {
		b.WriteString("/")
		if seg == "*" {
			b.WriteString("[^/]+")
			continue
		}
		b.WriteString(regexp.QuoteMeta(seg))
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

func normalizePath(path string) string {
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	return path
}

// Authorize reports whether role may call method on path.
func (p *Policy) Authorize(role, path, method string) bool {
	path = normalizePath(path)
	for _, e := range p.entries {
		if !e.re.MatchString(path) {
			continue
		}
		for _, r := range e.rules {
			if !contains(r.Methods, method) {
				continue
			}
			return contains(r.Roles, role)
		}
		return false
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// RequirePolicy checks every non-public request against the policy using the
// principal placed in the context by the authentication middleware.
func RequirePolicy(p *Policy, m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if AuthSkipper(c) {
				return next(c)
			}
			principal, ok := PrincipalFromContext(c.Request().Context())
			if !ok {
				return apperr.ToHTTP(apperr.Unauthenticated("authentication required"))
			}
			allowed := p.Authorize(principal.Role, c.Request().URL.Path, c.Request().Method)
			m.ObserveDecision(allowed)
			if !allowed {
				return apperr.ToHTTP(apperr.Forbidden("role %s may not %s %s",
					principal.Role, c.Request().Method, c.Request().URL.Path))
			}
			return next(c)
		}
	}
}

var (
	clinicalRoles = []string{RoleManager, RolePhysician, RoleNurse, RolePhlebotomist, RoleTechnician, RolePathologist}
	frontDesk     = []string{RoleManager, RolePhysician, RoleNurse, RoleReceptionist}
	labRoles      = []string{RoleManager, RoleTechnician, RolePathologist}
	orderReaders  = append(append([]string{}, clinicalRoles...), RoleReceptionist, RolePatient)
)

// DefaultEntries is the lab's access table. More specific patterns precede
// the broader ones that would otherwise shadow them.
func DefaultEntries() []Entry {
	get, post, put := []string{"GET"}, []string{"POST"}, []string{"PUT"}
	return []Entry{
		{Pattern: "/api/v1/users", Rules: []Rule{
			{Methods: []string{"GET", "POST"}, Roles: []string{RoleManager}},
		}},
		{Pattern: "/api/v1/users/*", Rules: []Rule{
			{Methods: []string{"GET", "PUT"}, Roles: []string{RoleManager}},
		}},
		{Pattern: "/api/v1/patients", Rules: []Rule{
			{Methods: get, Roles: append(append([]string{}, clinicalRoles...), RoleReceptionist)},
			{Methods: post, Roles: frontDesk},
		}},
		{Pattern: "/api/v1/patients/*", Rules: []Rule{
			{Methods: get, Roles: append(append([]string{}, clinicalRoles...), RoleReceptionist)},
			{Methods: put, Roles: frontDesk},
		}},
		{Pattern: "/api/v1/orders", Rules: []Rule{
			{Methods: get, Roles: orderReaders},
			{Methods: post, Roles: []string{RoleManager, RolePhysician, RoleNurse}},
		}},
		{Pattern: "/api/v1/orders/*", Rules: []Rule{
			{Methods: get, Roles: orderReaders},
		}},
		{Pattern: "/api/v1/orders/*/samples/*/collect", Rules: []Rule{
			{Methods: post, Roles: []string{RoleManager, RolePhlebotomist, RoleNurse, RoleTechnician}},
		}},
		{Pattern: "/api/v1/orders/*/samples/*/accession", Rules: []Rule{
			{Methods: post, Roles: []string{RoleManager, RoleTechnician}},
		}},
		{Pattern: "/api/v1/orders/*/samples/*/start", Rules: []Rule{
			{Methods: post, Roles: []string{RoleManager, RoleTechnician}},
		}},
		{Pattern: "/api/v1/orders/*/samples/*/reject", Rules: []Rule{
			{Methods: post, Roles: []string{RoleManager, RoleTechnician, RolePathologist, RolePhlebotomist}},
		}},
		{Pattern: "/api/v1/samples/*/results", Rules: []Rule{
			{Methods: post, Roles: labRoles},
		}},
		{Pattern: "/api/v1/samples/*/tests/*/verify", Rules: []Rule{
			{Methods: post, Roles: []string{RoleManager, RolePathologist}},
		}},
		{Pattern: "/api/v1/feed", Rules: []Rule{
			{Methods: get, Roles: clinicalRoles},
		}},
		{Pattern: "/api/v1/audit-logs", Rules: []Rule{
			{Methods: get, Roles: []string{RoleManager}},
		}},
		{Pattern: "/api/v1/inventory/low-stock", Rules: []Rule{
			{Methods: get, Roles: []string{RoleManager, RoleTechnician}},
		}},
		{Pattern: "/api/v1/inventory", Rules: []Rule{
			{Methods: get, Roles: []string{RoleManager, RoleTechnician}},
			{Methods: post, Roles: []string{RoleManager}},
		}},
		{Pattern: "/api/v1/inventory/*/adjust", Rules: []Rule{
			{Methods: post, Roles: []string{RoleManager, RoleTechnician}},
		}},
	}
}

func DefaultPolicy() *Policy {
	return MustPolicy(DefaultEntries())
}
