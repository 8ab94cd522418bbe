package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// generateMockClerkJWT signs a token with a local test key. Clerk never
// issued it, so verification against the real JWKS must fail.
func generateMockClerkJWT(t *testing.T, clerkID string) string {
	t.Helper()

	claims := jwt.MapClaims{
		"sub": clerkID,
		"iss": "https://clerk.test",
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(24 * time.Hour).Unix(),
		"sid": "sess_test123",
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret-key-for-testing-only"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func protectedProbe() (http.Handler, *bool) {
	reached := false
	return ClerkAuthMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	})), &reached
}

func TestClerkAuthRejectsMissingHeader(t *testing.T) {
	handler, reached := protectedProbe()

	req := httptest.NewRequest("GET", "/api/v1/rivalry/challenges/active", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if *reached {
		t.Fatalf("request reached the handler without credentials")
	}
}

func TestClerkAuthRejectsNonBearerScheme(t *testing.T) {
	handler, reached := protectedProbe()

	req := httptest.NewRequest("GET", "/api/v1/rivalry/challenges/active", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if *reached {
		t.Fatalf("request reached the handler with a non-bearer scheme")
	}
}

func TestClerkAuthRejectsForgedToken(t *testing.T) {
	handler, reached := protectedProbe()

	req := httptest.NewRequest("GET", "/api/v1/rivalry/challenges/active", nil)
	req.Header.Set("Authorization", "Bearer "+generateMockClerkJWT(t, "user_forged"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a locally signed token, got %d", rec.Code)
	}
	if *reached {
		t.Fatalf("forged token reached the handler")
	}
}

func TestUserIDContextRoundTrip(t *testing.T) {
	ctx := WithUserID(context.Background(), "user_a")

	userID, ok := GetUserID(ctx)
	if !ok || userID != "user_a" {
		t.Fatalf("GetUserID = (%q, %v), want (user_a, true)", userID, ok)
	}

	if _, ok := GetUserID(context.Background()); ok {
		t.Fatalf("GetUserID on an empty context must report absence")
	}
}
