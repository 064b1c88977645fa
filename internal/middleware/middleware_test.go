package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/xuhao2004/kimochi/internal/service"
)

type stubVerifier struct {
	claims *service.Claims
	err    error
	got    string
}

func (s *stubVerifier) Verify(ctx context.Context, token string) (*service.Claims, error) {
	s.got = token
	return s.claims, s.err
}

func newContext(authorization string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/account/me", nil)
	if authorization != "" {
		req.Header.Set(echo.HeaderAuthorization, authorization)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, UserID(c))
}

func TestAuth(t *testing.T) {
	claims := &service.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}}

	tests := []struct {
		name     string
		header   string
		verifier *stubVerifier
		wantErr  error
		wantBody string
	}{
		{"missing header", "", &stubVerifier{claims: claims}, service.ErrUnauthorized, ""},
		{"wrong scheme", "Basic abc", &stubVerifier{claims: claims}, service.ErrUnauthorized, ""},
		{"rejected token", "Bearer bad", &stubVerifier{err: errors.New("stale")}, service.ErrUnauthorized, ""},
		{"valid token", "Bearer good", &stubVerifier{claims: claims}, nil, "user-1"},
		{"case-insensitive scheme", "bearer good", &stubVerifier{claims: claims}, nil, "user-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := newContext(tt.header)
			err := Auth(tt.verifier)(okHandler)(c)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
			if tt.verifier.got != "good" {
				t.Errorf("verifier got token %q", tt.verifier.got)
			}
		})
	}
}

func TestOptionalAuth(t *testing.T) {
	verifier := &stubVerifier{err: errors.New("expired")}
	c, rec := newContext("Bearer expired")
	if err := OptionalAuth(verifier)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Body.String() != "" {
		t.Errorf("anonymous request got user %q", rec.Body.String())
	}
}

func TestRequireAdmin(t *testing.T) {
	c, _ := newContext("")
	if err := RequireAdmin(okHandler)(c); !errors.Is(err, service.ErrUnauthorized) {
		t.Fatalf("no claims error = %v", err)
	}

	c, _ = newContext("")
	c.Set(ContextClaims, &service.Claims{})
	if err := RequireAdmin(okHandler)(c); !errors.Is(err, service.ErrForbidden) {
		t.Fatalf("non-admin error = %v", err)
	}

	c, _ = newContext("")
	c.Set(ContextClaims, &service.Claims{IsSuperAdmin: true})
	if err := RequireAdmin(okHandler)(c); err != nil {
		t.Fatalf("super admin error = %v", err)
	}
}

func TestFeature(t *testing.T) {
	c, _ := newContext("")
	if err := Feature(false)(okHandler)(c); !errors.Is(err, service.ErrFeatureDisabled) {
		t.Fatalf("disabled feature error = %v", err)
	}
	c, rec := newContext("")
	if err := Feature(true)(okHandler)(c); err != nil || rec.Code != http.StatusOK {
		t.Fatalf("enabled feature = %d, %v", rec.Code, err)
	}
}

func TestValidator(t *testing.T) {
	type request struct {
		Email string `json:"email" validate:"required,email"`
		Code  string `json:"code" validate:"required,len=6"`
	}
	v := NewValidator()

	if err := v.Validate(&request{Email: "a@x.com", Code: "123456"}); err != nil {
		t.Fatalf("valid request error = %v", err)
	}
	err := v.Validate(&request{Email: "nope", Code: "1"})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "email") || !strings.Contains(err.Error(), "code") {
		t.Errorf("error should name json fields: %v", err)
	}
}
