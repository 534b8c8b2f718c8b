package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTokenSourceCachesToken(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		user, pass, ok := r.BasicAuth()
		if !ok || user != "client" || pass != "secret" {
			t.Errorf("unexpected basic auth: %s %s", user, pass)
		}
		if err := r.ParseForm(); err != nil || r.PostForm.Get("grant_type") != "client_credentials" {
			t.Errorf("unexpected grant: %v", r.PostForm)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok_1","expires_in":3600}`))
	}))
	defer srv.Close()

	ts := newTokenSource(srv.URL, "client", "secret", srv.Client())

	for i := 0; i < 3; i++ {
		token, err := ts.Token(context.Background())
		if err != nil {
			t.Fatalf("Token failed: %v", err)
		}
		if token != "tok_1" {
			t.Fatalf("unexpected token %q", token)
		}
	}
	if calls != 1 {
		t.Fatalf("expected a single token fetch, got %d", calls)
	}
}

func TestTokenSourceRefreshesNearExpiry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"access_token":"tok_fresh","expires_in":3600}`))
	}))
	defer srv.Close()

	ts := newTokenSource(srv.URL, "client", "secret", srv.Client())
	ts.token = "tok_stale"
	ts.expiresAt = time.Now().Add(30 * time.Second) // inside the refresh margin

	token, err := ts.Token(context.Background())
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if token != "tok_fresh" {
		t.Fatalf("expected refreshed token, got %q", token)
	}
}

func TestTokenSourceInvalidateForcesRefetch(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(`{"access_token":"tok_1","expires_in":3600}`))
	}))
	defer srv.Close()

	ts := newTokenSource(srv.URL, "client", "secret", srv.Client())
	if _, err := ts.Token(context.Background()); err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	ts.Invalidate()
	if _, err := ts.Token(context.Background()); err != nil {
		t.Fatalf("Token after invalidate failed: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected two token fetches, got %d", calls)
	}
}

func TestTokenSourceRejectedCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	ts := newTokenSource(srv.URL, "client", "bad-secret", srv.Client())
	if _, err := ts.Token(context.Background()); !errors.Is(err, ErrMisconfigured) {
		t.Fatalf("expected ErrMisconfigured, got %v", err)
	}
}
