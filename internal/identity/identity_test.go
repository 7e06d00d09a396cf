package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestTokenFromRequest(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer abc123")
	if got := TokenFromRequest(r); got != "abc123" {
		t.Errorf("header token = %q", got)
	}

	r = httptest.NewRequest(http.MethodGet, "/?token=qp-token", nil)
	if got := TokenFromRequest(r); got != "qp-token" {
		t.Errorf("query token = %q", got)
	}

	// The header wins when both are present.
	r = httptest.NewRequest(http.MethodGet, "/?token=qp-token", nil)
	r.Header.Set("Authorization", "Bearer hdr-token")
	if got := TokenFromRequest(r); got != "hdr-token" {
		t.Errorf("token = %q, want the header value", got)
	}

	// A non-Bearer header does not leak through.
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	if got := TokenFromRequest(r); got != "" {
		t.Errorf("token = %q, want empty for non-Bearer scheme", got)
	}
}

func TestMiddlewareRejectsMissingCredential(t *testing.T) {
	t.Parallel()

	handler := Middleware(InsecureVerifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached without a credential")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestMiddlewareRejectsVerifierFailure(t *testing.T) {
	t.Parallel()

	deny := VerifierFunc(func(context.Context, string) (string, error) {
		return "", errors.New("unknown token")
	})
	handler := Middleware(deny)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached with an invalid credential")
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer whatever")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestMiddlewareRejectsMalformedUserID(t *testing.T) {
	t.Parallel()

	// InsecureVerifier echoes the token, so a token with forbidden characters
	// produces a user ID that fails the shape check.
	handler := Middleware(InsecureVerifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached with a malformed user ID")
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer bad user id")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestMiddlewarePopulatesContext(t *testing.T) {
	t.Parallel()

	var gotUser, gotToken string
	handler := Middleware(InsecureVerifier)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotToken = TokenFromContext(r.Context())
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer user-1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if gotUser != "user-1" || gotToken != "user-1" {
		t.Errorf("context = (%q, %q), want user-1 for both", gotUser, gotToken)
	}
}

func TestContextAccessorsOnEmptyContext(t *testing.T) {
	t.Parallel()

	if got := UserIDFromContext(context.Background()); got != "" {
		t.Errorf("UserIDFromContext = %q, want empty", got)
	}
	if got := TokenFromContext(context.Background()); got != "" {
		t.Errorf("TokenFromContext = %q, want empty", got)
	}
}
