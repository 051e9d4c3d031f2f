package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ehr/lims/internal/platform/metrics"
)

func TestDefaultPolicy_Authorize(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		role, path, method string
		want               bool
	}{
		{RoleTechnician, "/api/v1/users", "POST", false},
		{RoleManager, "/api/v1/users", "POST", true},
		{RoleManager, "/api/v1/users/abc", "PUT", true},
		{RoleManager, "/api/v1/users/abc", "DELETE", false},
		{RolePhysician, "/api/v1/orders", "POST", true},
		{RoleTechnician, "/api/v1/orders", "POST", false},
		{RolePatient, "/api/v1/orders/ORD-2026-0000001", "GET", true},
		{RolePhlebotomist, "/api/v1/orders/ORD-2026-0000001/samples/ORD-2026-0000001-01/collect", "POST", true},
		{RolePhlebotomist, "/api/v1/orders/ORD-2026-0000001/samples/ORD-2026-0000001-01/accession", "POST", false},
		{RoleTechnician, "/api/v1/orders/ORD-2026-0000001/samples/ORD-2026-0000001-01/accession", "POST", true},
		{RoleTechnician, "/api/v1/orders/ORD-2026-0000001/samples/ORD-2026-0000001-01/accession/", "POST", true},
		{RolePathologist, "/api/v1/samples/ACC-2026-000001/tests/GLU/verify", "POST", true},
		{RoleTechnician, "/api/v1/samples/ACC-2026-000001/tests/GLU/verify", "POST", false},
		{RoleTechnician, "/api/v1/inventory/low-stock", "GET", true},
		{RoleReceptionist, "/api/v1/inventory/low-stock", "GET", false},
		{RoleManager, "/api/v1/audit-logs", "GET", true},
		{RolePathologist, "/api/v1/audit-logs", "GET", false},
		{RoleTechnician, "/api/v1/feed", "GET", true},
		{RolePatient, "/api/v1/feed", "GET", false},
		{RoleManager, "/api/v1/unknown", "GET", false},
		{RoleManager, "/api/v1/orders/a/b", "GET", false},
		{"", "/api/v1/orders", "GET", false},
	}
	for _, tt := range tests {
		if got := p.Authorize(tt.role, tt.path, tt.method); got != tt.want {
			t.Errorf("Authorize(%q, %q, %q) = %v, want %v", tt.role, tt.path, tt.method, got, tt.want)
		}
	}
}

func TestPolicy_FirstMatchWins(t *testing.T) {
	p := MustPolicy([]Entry{
		{Pattern: "/a/special", Rules: []Rule{{Methods: []string{"GET"}, Roles: []string{RoleNurse}}}},
		{Pattern: "/a/*", Rules: []Rule{{Methods: []string{"GET"}, Roles: []string{RoleManager}}}},
	})
	if p.Authorize(RoleManager, "/a/special", "GET") {
		t.Error("broader pattern must not apply once an earlier entry matched")
	}
	if !p.Authorize(RoleNurse, "/a/special", "GET") {
		t.Error("expected first entry to allow nurse")
	}
	if !p.Authorize(RoleManager, "/a/other", "GET") {
		t.Error("expected wildcard entry to allow manager")
	}
}

func TestPolicy_WildcardIsOneSegment(t *testing.T) {
	p := MustPolicy([]Entry{
		{Pattern: "/x/*", Rules: []Rule{{Methods: []string{"GET"}, Roles: []string{RoleManager}}}},
	})
	if p.Authorize(RoleManager, "/x/1/2", "GET") {
		t.Error("wildcard must not span segments")
	}
	if p.Authorize(RoleManager, "/x/", "GET") {
		t.Error("wildcard must not match an empty segment")
	}
}

func TestPolicy_PatternIsLiteral(t *testing.T) {
	p := MustPolicy([]Entry{
		{Pattern: "/v1.0/items", Rules: []Rule{{Methods: []string{"GET"}, Roles: []string{RoleManager}}}},
	})
	if p.Authorize(RoleManager, "/v1x0/items", "GET") {
		t.Error("dots in patterns must be matched literally")
	}
}

func TestNewPolicy_RejectsRelativePattern(t *testing.T) {
	if _, err := NewPolicy([]Entry{{Pattern: "api/v1"}}); err == nil {
		t.Error("expected error for pattern without leading slash")
	}
}

func policyContext(path, method string, p *Principal) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	if p != nil {
		req = req.WithContext(WithPrincipal(context.Background(), *p))
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestRequirePolicy(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	mw := RequirePolicy(DefaultPolicy(), m)
	ok := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }

	c, rec := policyContext("/api/v1/users", http.MethodPost, &Principal{Subject: "m", Role: RoleManager})
	if err := mw(ok)(c); err != nil {
		t.Fatalf("manager should pass, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c, _ = policyContext("/api/v1/users", http.MethodPost, &Principal{Subject: "t", Role: RoleTechnician})
	expectStatus(t, mw(ok)(c), http.StatusForbidden)

	c, _ = policyContext("/api/v1/users", http.MethodPost, nil)
	expectStatus(t, mw(ok)(c), http.StatusUnauthorized)

	if got := testutil.ToFloat64(m.AuthzDecisions.WithLabelValues("allow")); got != 1 {
		t.Errorf("expected 1 allow decision, got %v", got)
	}
	if got := testutil.ToFloat64(m.AuthzDecisions.WithLabelValues("deny")); got != 1 {
		t.Errorf("expected 1 deny decision, got %v", got)
	}
}

func TestRequirePolicy_PublicPathBypasses(t *testing.T) {
	mw := RequirePolicy(DefaultPolicy(), nil)
	c, _ := policyContext("/health", http.MethodGet, nil)
	c.SetPath("/health")
	if err := mw(func(c echo.Context) error { return nil })(c); err != nil {
		t.Errorf("public path must bypass policy, got %v", err)
	}
}
