package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func validClaims(subject, role string) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: role,
	}
}

func runMiddleware(t *testing.T, mw echo.MiddlewareFunc, path, header string) (Principal, bool, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath(path)

	var got Principal
	var found bool
	err := mw(func(c echo.Context) error {
		got, found = PrincipalFromContext(c.Request().Context())
		return c.String(http.StatusOK, "ok")
	})(c)
	return got, found, err
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %d error, got nil", code)
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	a := NewAuthenticator(JWTConfig{SigningKey: testSigningKey})
	_, _, err := runMiddleware(t, JWTMiddleware(a), "/api/v1/orders", "")
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
		{"garbage token", "Bearer not.a.jwt"},
	}
	a := NewAuthenticator(JWTConfig{SigningKey: testSigningKey})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := runMiddleware(t, JWTMiddleware(a), "/api/v1/orders", tt.header)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	a := NewAuthenticator(JWTConfig{SigningKey: testSigningKey})
	tok := createTestToken(t, validClaims("u-7", RoleTechnician), testSigningKey)

	p, found, err := runMiddleware(t, JWTMiddleware(a), "/api/v1/orders", "Bearer "+tok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found {
		t.Fatal("expected principal in context")
	}
	if p.Subject != "u-7" || p.Role != RoleTechnician {
		t.Errorf("unexpected principal %+v", p)
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	a := NewAuthenticator(JWTConfig{SigningKey: testSigningKey})
	claims := validClaims("u-1", RoleManager)
	claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	tok := createTestToken(t, claims, testSigningKey)

	_, _, err := runMiddleware(t, JWTMiddleware(a), "/api/v1/orders", "Bearer "+tok)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	a := NewAuthenticator(JWTConfig{SigningKey: testSigningKey})
	tok := createTestToken(t, validClaims("u-1", RoleManager), []byte("some-other-key-of-sufficient-size"))

	_, _, err := runMiddleware(t, JWTMiddleware(a), "/api/v1/orders", "Bearer "+tok)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_UnknownRole(t *testing.T) {
	a := NewAuthenticator(JWTConfig{SigningKey: testSigningKey})
	tok := createTestToken(t, validClaims("u-1", "admin"), testSigningKey)

	_, _, err := runMiddleware(t, JWTMiddleware(a), "/api/v1/orders", "Bearer "+tok)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_IssuerAndAudience(t *testing.T) {
	a := NewAuthenticator(JWTConfig{SigningKey: testSigningKey, Issuer: "lims", Audience: "lims-api"})

	good, err := a.Issue("u-2", RoleNurse, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, _, err := runMiddleware(t, JWTMiddleware(a), "/api/v1/orders", "Bearer "+good); err != nil {
		t.Errorf("expected issued token to validate, got %v", err)
	}

	foreign := createTestToken(t, validClaims("u-2", RoleNurse), testSigningKey)
	_, _, err = runMiddleware(t, JWTMiddleware(a), "/api/v1/orders", "Bearer "+foreign)
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestAuthenticator_IssueRejectsBadInput(t *testing.T) {
	a := NewAuthenticator(JWTConfig{SigningKey: testSigningKey})
	if _, err := a.Issue("", RoleManager, time.Hour); err == nil {
		t.Error("expected error for empty subject")
	}
	if _, err := a.Issue("u-1", "superuser", time.Hour); err == nil {
		t.Error("expected error for unknown role")
	}
	if _, err := NewAuthenticator(JWTConfig{}).Issue("u-1", RoleManager, time.Hour); err == nil {
		t.Error("expected error without signing key")
	}
}

func TestJWTMiddleware_SkipsPublicPaths(t *testing.T) {
	a := NewAuthenticator(JWTConfig{SigningKey: testSigningKey, Skipper: AuthSkipper})
	_, found, err := runMiddleware(t, JWTMiddleware(a), "/health", "")
	if err != nil {
		t.Fatalf("expected no error for skipped path, got: %v", err)
	}
	if found {
		t.Error("expected no principal on a skipped path")
	}
}

func TestJWTMiddleware_NilSkipperDoesNotSkip(t *testing.T) {
	a := NewAuthenticator(JWTConfig{SigningKey: testSigningKey})
	_, _, err := runMiddleware(t, JWTMiddleware(a), "/health", "")
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestDevAuthMiddleware_NoToken(t *testing.T) {
	a := NewAuthenticator(JWTConfig{SigningKey: testSigningKey, Skipper: AuthSkipper})
	p, found, err := runMiddleware(t, DevAuthMiddleware(a, RolePathologist), "/api/v1/orders", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !found || p.Subject != "dev-user" || p.Role != RolePathologist {
		t.Errorf("expected dev principal, got %+v (found=%v)", p, found)
	}
}

func TestDevAuthMiddleware_ValidatesSuppliedToken(t *testing.T) {
	a := NewAuthenticator(JWTConfig{SigningKey: testSigningKey})
	_, _, err := runMiddleware(t, DevAuthMiddleware(a, RoleManager), "/api/v1/orders", "Bearer junk")
	expectStatus(t, err, http.StatusUnauthorized)

	tok := createTestToken(t, validClaims("u-9", RolePhysician), testSigningKey)
	p, _, err := runMiddleware(t, DevAuthMiddleware(a, RoleManager), "/api/v1/orders", "Bearer "+tok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Role != RolePhysician {
		t.Errorf("expected token role to win over dev role, got %s", p.Role)
	}
}

func TestDevAuthMiddleware_SkipsPublicPaths(t *testing.T) {
	a := NewAuthenticator(JWTConfig{SigningKey: testSigningKey, Skipper: AuthSkipper})
	_, found, err := runMiddleware(t, DevAuthMiddleware(a, RoleManager), "/metrics", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Error("dev identity must not be injected on public paths")
	}
}
