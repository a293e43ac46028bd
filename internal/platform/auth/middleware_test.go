package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	token *firebaseauth.Token
	err   error
}

func (s *stubTokenVerifier) VerifyIDToken(context.Context, string) (*firebaseauth.Token, error) {
	return s.token, s.err
}

type stubUserGetter struct {
	calls int
	user  *firebaseauth.UserRecord
	err   error
}

func (s *stubUserGetter) GetUser(context.Context, string) (*firebaseauth.UserRecord, error) {
	s.calls++
	return s.user, s.err
}

func firebaseToken(uid string, claims map[string]interface{}) *firebaseauth.Token {
	return &firebaseauth.Token{UID: uid, Claims: claims}
}

func TestRequireFirebaseAuth_AllowsValidToken(t *testing.T) {
	verifier := &stubTokenVerifier{
		token: firebaseToken("uid-1", map[string]interface{}{
			"role":       []interface{}{"merchant", "admin"},
			"email":      "owner@example.com",
			"locale":     "de-DE",
			"merchantId": "merch-1",
		}),
	}
	users := &stubUserGetter{user: &firebaseauth.UserRecord{UserInfo: &firebaseauth.UserInfo{UID: "uid-1"}}}

	authenticator := NewAuthenticator(verifier, WithUserGetter(users))

	var captured *Identity
	handler := authenticator.RequireFirebaseAuth(RoleMerchant)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer token-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rec.Code, rec.Body.String())
	}
	if captured == nil {
		t.Fatalf("expected identity on request context")
	}
	if captured.UID != "uid-1" || captured.Email != "owner@example.com" || captured.Locale != "de-DE" {
		t.Fatalf("unexpected identity: %+v", captured)
	}
	if captured.MerchantID != "merch-1" {
		t.Fatalf("expected merchant claim extracted, got %q", captured.MerchantID)
	}
	if len(captured.Roles) != 2 || captured.Roles[0] != RoleMerchant || captured.Roles[1] != RoleAdmin {
		t.Fatalf("unexpected roles: %v", captured.Roles)
	}

	// User records load lazily and are memoized across calls.
	if users.calls != 0 {
		t.Fatalf("expected no user lookup before User() is called")
	}
	if _, err := captured.User(context.Background()); err != nil {
		t.Fatalf("User: %v", err)
	}
	if _, err := captured.User(context.Background()); err != nil {
		t.Fatalf("User: %v", err)
	}
	if users.calls != 1 {
		t.Fatalf("expected single user lookup, got %d", users.calls)
	}
}

func TestRequireFirebaseAuth_ExpiredToken(t *testing.T) {
	verifier := &stubTokenVerifier{err: ErrTokenExpired}
	authenticator := NewAuthenticator(verifier)

	handler := authenticator.RequireFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run for expired tokens")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer expired")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error != "token_expired" {
		t.Fatalf("expected token_expired code, got %q", body.Error)
	}
}

func TestRequireFirebaseAuth_MissingRoleUsesFallback(t *testing.T) {
	verifier := &stubTokenVerifier{
		token: firebaseToken("uid-2", map[string]interface{}{"email": "guest@example.com"}),
	}
	authenticator := NewAuthenticator(verifier)

	var captured *Identity
	handler := authenticator.RequireFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = IdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer token-2")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if captured == nil || len(captured.Roles) != 1 || captured.Roles[0] != RoleCustomer {
		t.Fatalf("expected customer fallback role, got %+v", captured)
	}
}

func TestRequireFirebaseAuth_InsufficientRole(t *testing.T) {
	verifier := &stubTokenVerifier{
		token: firebaseToken("uid-3", map[string]interface{}{"role": "customer"}),
	}
	authenticator := NewAuthenticator(verifier)

	handler := authenticator.RequireFirebaseAuth(RoleMerchant, RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run without a merchant role")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer token-3")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error != "insufficient_role" {
		t.Fatalf("expected insufficient_role code, got %q", body.Error)
	}
}

func TestRequireFirebaseAuth_MissingHeader(t *testing.T) {
	authenticator := NewAuthenticator(&stubTokenVerifier{err: errors.New("unused")})

	handler := authenticator.RequireFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler must not run without a bearer token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
