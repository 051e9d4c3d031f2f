package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/ehr/lims/internal/platform/apperr"
)

type contextKey string

const principalKey contextKey = "principal"

// Principal is the authenticated caller: the token subject and its single role.
type Principal struct {
	Subject string `json:"subject"`
	Role    string `json:"role"`
}

type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

type JWTConfig struct {
	Issuer     string
	Audience   string
	SigningKey []byte
	// Skipper bypasses authentication for matching requests. Nil skips nothing.
	Skipper func(c echo.Context) bool
}

// Authenticator validates and issues HS256 bearer tokens.
type Authenticator struct {
	cfg JWTConfig
	now func() time.Time
}

func NewAuthenticator(cfg JWTConfig) *Authenticator {
	return &Authenticator{cfg: cfg, now: time.Now}
}

// Authenticate resolves a raw token into a Principal.
func (a *Authenticator) Authenticate(tokenStr string) (Principal, error) {
	if tokenStr == "" {
		return Principal{}, apperr.Unauthenticated("missing bearer token")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(a.now),
	}
	if a.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.cfg.Issuer))
	}
	if a.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(a.cfg.Audience))
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return a.cfg.SigningKey, nil
	}, opts...)
	if err != nil || !token.Valid {
		return Principal{}, apperr.Unauthenticated("invalid token")
	}
	if claims.Subject == "" || !ValidRole(claims.Role) {
		return Principal{}, apperr.Unauthenticated("token lacks subject or a known role")
	}
	return Principal{Subject: claims.Subject, Role: claims.Role}, nil
}

// Issue mints a token for subject/role valid for ttl.
func (a *Authenticator) Issue(subject, role string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", apperr.Validation("subject is required")
	}
	if !ValidRole(role) {
		return "", apperr.Validation("unknown role %q", role)
	}
	if len(a.cfg.SigningKey) == 0 {
		return "", errors.New("signing key not configured")
	}
	now := a.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    a.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}
	if a.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{a.cfg.Audience}
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.cfg.SigningKey)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", apperr.Unauthenticated("missing authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", apperr.Unauthenticated("invalid authorization format")
	}
	return strings.TrimSpace(parts[1]), nil
}

func (a *Authenticator) skip(c echo.Context) bool {
	return a.cfg.Skipper != nil && a.cfg.Skipper(c)
}

// JWTMiddleware authenticates every request not matched by the configured Skipper.
func JWTMiddleware(a *Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if a.skip(c) {
				return next(c)
			}
			tok, err := bearerToken(c.Request().Header.Get("Authorization"))
			if err != nil {
				return apperr.ToHTTP(err)
			}
			p, err := a.Authenticate(tok)
			if err != nil {
				return apperr.ToHTTP(err)
			}
			setPrincipal(c, p)
			return next(c)
		}
	}
}

// DevAuthMiddleware lets unauthenticated development requests through as
// dev-user with the given role. Requests that do send a token are still
// validated.
func DevAuthMiddleware(a *Authenticator, role string) echo.MiddlewareFunc {
	strict := JWTMiddleware(a)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		validated := strict(next)
		return func(c echo.Context) error {
			if a.skip(c) {
				return next(c)
			}
			if c.Request().Header.Get("Authorization") != "" {
				return validated(c)
			}
			setPrincipal(c, Principal{Subject: "dev-user", Role: role})
			return next(c)
		}
	}
}

func setPrincipal(c echo.Context, p Principal) {
	c.SetRequest(c.Request().WithContext(WithPrincipal(c.Request().Context(), p)))
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}
