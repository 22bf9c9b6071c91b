package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func serve(t *testing.T, path, authHeader string) (*httptest.ResponseRecorder, *Claims) {
	t.Helper()
	var seen *Claims
	h := OptionalAuth(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetUserFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, seen
}

func TestOptionalAuth_Guest(t *testing.T) {
	rec, claims := serve(t, "/api/checkout", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Nil(t, claims)
}

func TestOptionalAuth_ValidToken(t *testing.T) {
	token, err := GenerateToken(secret, 7, "budi@example.com", time.Hour)
	require.NoError(t, err)

	rec, claims := serve(t, "/api/checkout", "Bearer "+token)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.NotNil(t, claims)
	assert.Equal(t, int64(7), claims.UserID)
	assert.Equal(t, "budi@example.com", claims.Email)
}

func TestOptionalAuth_Rejected(t *testing.T) {
	expired, err := GenerateToken(secret, 7, "budi@example.com", -time.Minute)
	require.NoError(t, err)
	foreign, err := GenerateToken("other-secret", 7, "budi@example.com", time.Hour)
	require.NoError(t, err)

	for _, header := range []string{"Token abc", "Bearer " + expired, "Bearer " + foreign, "Bearer garbage"} {
		rec, claims := serve(t, "/api/checkout", header)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, header)
		assert.Nil(t, claims)
	}
}

func TestOptionalAuth_CallbacksSkipped(t *testing.T) {
	rec, _ := serve(t, "/api/callbacks/midtrans", "Bearer garbage")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
