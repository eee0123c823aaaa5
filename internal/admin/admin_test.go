package admin

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDisabledGuardReturns404(t *testing.T) {
	g := New("")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)

	g.Middleware(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run when guard is disabled")
	})(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestMissingKeyReturns401(t *testing.T) {
	g := New("secret")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)

	g.Middleware(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run without a key")
	})(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestValidBearerKeyPasses(t *testing.T) {
	g := New("secret")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	req.Header.Set("Authorization", "Bearer secret")

	called := false
	g.Middleware(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})(rec, req)

	if !called {
		t.Fatal("handler should have run")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestWrongKeyRejected(t *testing.T) {
	g := New("secret")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	req.Header.Set("X-Admin-Key", "not-the-secret")

	g.Middleware(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run with a wrong key")
	})(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}
