package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(UserID(r.Context())))
	})
}

func sign(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	return s
}

func TestIdentityFromHeaderWithoutSecret(t *testing.T) {
	h := Identity("")(echoUser())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(UserHeader, "u1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "u1" {
		t.Errorf("got %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing header: status %d", rec.Code)
	}
}

func TestIdentityFromToken(t *testing.T) {
	const secret = "s3cret"
	h := Identity(secret)(echoUser())
	exp := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name   string
		token  string
		query  bool
		status int
		user   string
	}{
		{"bearer", sign(t, secret, jwt.MapClaims{"user_id": "u1", "exp": exp}), false, http.StatusOK, "u1"},
		{"query", sign(t, secret, jwt.MapClaims{"user_id": "u2", "exp": exp}), true, http.StatusOK, "u2"},
		{"wrong secret", sign(t, "other", jwt.MapClaims{"user_id": "u1", "exp": exp}), false, http.StatusUnauthorized, ""},
		{"expired", sign(t, secret, jwt.MapClaims{"user_id": "u1", "exp": time.Now().Add(-time.Hour).Unix()}), false, http.StatusUnauthorized, ""},
		{"no user", sign(t, secret, jwt.MapClaims{"exp": exp}), false, http.StatusUnauthorized, ""},
		{"header ignored", "", false, http.StatusUnauthorized, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "/"
			if tt.query {
				target = "/?token=" + tt.token
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			req.Header.Set(UserHeader, "spoofed")
			if !tt.query && tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.status == http.StatusOK && rec.Body.String() != tt.user {
				t.Errorf("user = %q, want %q", rec.Body.String(), tt.user)
			}
		})
	}
}
