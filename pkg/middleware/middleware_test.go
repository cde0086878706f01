package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRedactLinkPath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/g/abcdefghijklmnopqrstuvwxyz/table-payment", "/g/{token}/table-payment"},
		{"/m/abcdefghijklmnopqrstuvwxyz/charge-approval/action", "/m/{token}/charge-approval/action"},
		{"/staff/settings", "/staff/settings"},
		{"/g/", "/g/"},
	}
	for _, tt := range tests {
		if got := redactLinkPath(tt.in); got != tt.want {
			t.Errorf("redactLinkPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRequireBearerSecret(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	tests := []struct {
		name   string
		secret string
		header string
		want   int
	}{
		{"valid", "s3cret", "Bearer s3cret", http.StatusNoContent},
		{"wrong secret", "s3cret", "Bearer nope", http.StatusUnauthorized},
		{"missing header", "s3cret", "", http.StatusUnauthorized},
		{"no bearer prefix", "s3cret", "s3cret", http.StatusUnauthorized},
		{"disabled when unset", "", "Bearer ", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/cron/daily-digest", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			RequireBearerSecret(tt.secret)(ok).ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}
