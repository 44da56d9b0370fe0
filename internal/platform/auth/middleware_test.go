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
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign test token: %v", err)
	}
	return signed
}

func runAuth(t *testing.T, mw echo.MiddlewareFunc, authHeader string, inner echo.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if inner == nil {
		inner = func(c echo.Context) error { return c.NoContent(http.StatusOK) }
	}
	if err := mw(inner)(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})
	rec := runAuth(t, mw, "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})
	for _, header := range []string{"Basic abc123", "Bearer", "justatoken"} {
		rec := runAuth(t, mw, header, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("header %q: expected 401, got %d", header, rec.Code)
		}
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "radiologist-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Name:  "Dr. Chen",
		Roles: []string{"radiologist"},
	}
	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})

	rec := runAuth(t, mw, "Bearer "+createTestToken(t, claims, testSigningKey), func(c echo.Context) error {
		ctx := c.Request().Context()
		if UserIDFromContext(ctx) != "radiologist-1" {
			t.Errorf("expected subject on context, got %q", UserIDFromContext(ctx))
		}
		if UserNameFromContext(ctx) != "Dr. Chen" {
			t.Errorf("expected name on context, got %q", UserNameFromContext(ctx))
		}
		roles := RolesFromContext(ctx)
		if len(roles) != 1 || roles[0] != "radiologist" {
			t.Errorf("expected roles=[radiologist], got %v", roles)
		}
		return c.NoContent(http.StatusOK)
	})
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestJWTMiddleware_ExpiredToken(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "radiologist-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}
	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})
	rec := runAuth(t, mw, "Bearer "+createTestToken(t, claims, testSigningKey), nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for expired token, got %d", rec.Code)
	}
}

func TestJWTMiddleware_WrongKey(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "radiologist-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})
	rec := runAuth(t, mw, "Bearer "+createTestToken(t, claims, []byte("some-other-key")), nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong key, got %d", rec.Code)
	}
}

func TestJWTMiddleware_IssuerMismatch(t *testing.T) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "radiologist-1",
			Issuer:    "https://other-issuer.example.org",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	mw := JWTMiddleware(JWTConfig{
		Issuer:     "https://auth.example.org",
		SigningKey: testSigningKey,
	})
	rec := runAuth(t, mw, "Bearer "+createTestToken(t, claims, testSigningKey), nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for issuer mismatch, got %d", rec.Code)
	}
}

func TestDevAuthMiddleware_Defaults(t *testing.T) {
	rec := runAuth(t, DevAuthMiddleware(), "", func(c echo.Context) error {
		ctx := c.Request().Context()
		if UserIDFromContext(ctx) != "dev-user" {
			t.Errorf("expected dev-user, got %q", UserIDFromContext(ctx))
		}
		roles := RolesFromContext(ctx)
		if len(roles) != 1 || roles[0] != "admin" {
			t.Errorf("expected roles=[admin], got %v", roles)
		}
		return c.NoContent(http.StatusOK)
	})
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
