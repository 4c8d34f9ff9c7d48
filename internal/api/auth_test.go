package api

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServerWithAuth(t *testing.T) *Server {
	s := testServer(t)
	s.cfg.AuthEnabled = true
	s.cfg.JWTSecret = "test-secret"
	s.cfg.APIKeys = []string{"valid-key"}
	return s
}

func signToken(t *testing.T, secret string, expired bool) string {
	exp := time.Now().Add(time.Hour)
	if expired {
		exp = time.Now().Add(-time.Hour)
	}
	claims := apiClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "oncall-bot",
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAuthMiddleware_DisabledPassesThrough(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest("GET", "/sources", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.NotEqual(t, 401, rec.Code)
}

func TestAuthMiddleware_HealthAndMetricsStayPublic(t *testing.T) {
	s := testServerWithAuth(t)

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)

	req = httptest.NewRequest("GET", "/metrics", nil)
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)
}

func TestAuthMiddleware_MissingCredentialsReturns401(t *testing.T) {
	s := testServerWithAuth(t)
	req := httptest.NewRequest("GET", "/sources", nil)
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, 401, rec.Code)
	env := decodeEnvelope(t, rec.Body)
	assert.Equal(t, "AUTH", env.Error.Code)
}

func TestAuthMiddleware_ValidAPIKeyPasses(t *testing.T) {
	s := testServerWithAuth(t)
	req := httptest.NewRequest("GET", "/sources", nil)
	req.Header.Set("X-API-Key", "valid-key")
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
}

func TestAuthMiddleware_InvalidAPIKeyReturns401(t *testing.T) {
	s := testServerWithAuth(t)
	req := httptest.NewRequest("GET", "/sources", nil)
	req.Header.Set("X-API-Key", "wrong-key")
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, 401, rec.Code)
}

func TestAuthMiddleware_ValidBearerTokenPasses(t *testing.T) {
	s := testServerWithAuth(t)
	req := httptest.NewRequest("GET", "/sources", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "test-secret", false))
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, 200, rec.Code)
}

func TestAuthMiddleware_ExpiredBearerTokenReturns401(t *testing.T) {
	s := testServerWithAuth(t)
	req := httptest.NewRequest("GET", "/sources", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "test-secret", true))
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, 401, rec.Code)
}

func TestAuthMiddleware_WrongSecretReturns401(t *testing.T) {
	s := testServerWithAuth(t)
	req := httptest.NewRequest("GET", "/sources", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "other-secret", false))
	rec := httptest.NewRecorder()

	s.Router().ServeHTTP(rec, req)

	assert.Equal(t, 401, rec.Code)
}
