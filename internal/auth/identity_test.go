package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestResolve(t *testing.T) {
	withSecret := NewResolver("test-secret")
	valid, err := withSecret.IssueToken("jwt-user", jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	if err != nil {
		t.Fatalf("IssueToken() error = %v", err)
	}
	expired, _ := withSecret.IssueToken("jwt-user", jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	foreign, _ := NewResolver("other-secret").IssueToken("jwt-user", jwt.RegisteredClaims{})
	noSubject, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{}).SignedString([]byte("test-secret"))
	wrongAlg, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.RegisteredClaims{Subject: "x"}).SignedString([]byte("test-secret"))

	tests := []struct {
		name     string
		resolver *Resolver
		target   string
		header   map[string]string
		want     string
		wantErr  error
	}{
		{
			name:     "header",
			resolver: NewResolver(""),
			target:   "/api/todos",
			header:   map[string]string{HeaderUserID: "u1"},
			want:     "u1",
		},
		{
			name:     "query fallback",
			resolver: NewResolver(""),
			target:   "/api/todos?userId=u2",
			want:     "u2",
		},
		{
			name:     "header wins over query",
			resolver: NewResolver(""),
			target:   "/api/todos?userId=u2",
			header:   map[string]string{HeaderUserID: "u1"},
			want:     "u1",
		},
		{
			name:     "blank header falls through",
			resolver: NewResolver(""),
			target:   "/api/todos?userId=u2",
			header:   map[string]string{HeaderUserID: "   "},
			want:     "u2",
		},
		{
			name:     "missing",
			resolver: NewResolver(""),
			target:   "/api/todos",
			wantErr:  ErrMissingIdentity,
		},
		{
			name:     "bearer ignored without secret",
			resolver: NewResolver(""),
			target:   "/api/todos",
			header:   map[string]string{"Authorization": "Bearer " + valid, HeaderUserID: "u1"},
			want:     "u1",
		},
		{
			name:     "bearer subject",
			resolver: withSecret,
			target:   "/api/todos?userId=u2",
			header:   map[string]string{"Authorization": "Bearer " + valid, HeaderUserID: "u1"},
			want:     "jwt-user",
		},
		{
			name:     "expired token",
			resolver: withSecret,
			target:   "/api/todos",
			header:   map[string]string{"Authorization": "Bearer " + expired, HeaderUserID: "u1"},
			wantErr:  ErrInvalidToken,
		},
		{
			name:     "wrong secret",
			resolver: withSecret,
			target:   "/api/todos",
			header:   map[string]string{"Authorization": "Bearer " + foreign},
			wantErr:  ErrInvalidToken,
		},
		{
			name:     "missing subject",
			resolver: withSecret,
			target:   "/api/todos",
			header:   map[string]string{"Authorization": "Bearer " + noSubject},
			wantErr:  ErrInvalidToken,
		},
		{
			name:     "unexpected algorithm",
			resolver: withSecret,
			target:   "/api/todos",
			header:   map[string]string{"Authorization": "Bearer " + wrongAlg},
			wantErr:  ErrInvalidToken,
		},
		{
			name:     "header alone rejected with secret",
			resolver: withSecret,
			target:   "/api/todos?userId=u2",
			header:   map[string]string{HeaderUserID: "u1"},
			wantErr:  ErrMissingToken,
		},
		{
			name:     "non bearer scheme rejected with secret",
			resolver: withSecret,
			target:   "/api/todos",
			header:   map[string]string{"Authorization": "Basic dTE6cGFzcw==", HeaderUserID: "u1"},
			wantErr:  ErrMissingToken,
		},
		{
			name:     "empty bearer rejected with secret",
			resolver: withSecret,
			target:   "/api/todos",
			header:   map[string]string{"Authorization": "Bearer   ", HeaderUserID: "u1"},
			wantErr:  ErrMissingToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			got, err := tt.resolver.Resolve(req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Resolve() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Resolve() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIssueTokenWithoutSecret(t *testing.T) {
	if _, err := NewResolver("").IssueToken("u1", jwt.RegisteredClaims{}); err == nil {
		t.Error("IssueToken() without secret should fail")
	}
}

func TestUserIDContext(t *testing.T) {
	if _, ok := UserID(context.Background()); ok {
		t.Error("UserID() on empty context reported ok")
	}
	ctx := WithUserID(context.Background(), "u1")
	if got, ok := UserID(ctx); !ok || got != "u1" {
		t.Errorf("UserID() = %q, %v", got, ok)
	}
}
