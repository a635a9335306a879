package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internaldb "opsgate/internal/db"
	"opsgate/internal/db/repository"
	"opsgate/internal/domain"
)

const testSecret = "test-secret-0123456789"

func signToken(t *testing.T, sub string, secret string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func setupAuth(t *testing.T) (http.Handler, *repository.PrincipalRepo) {
	t.Helper()
	writeDB, _ := internaldb.OpenTestSQLite(t)
	principals := repository.NewPrincipalRepo(writeDB)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := domain.PrincipalFromContext(r.Context())
		require.True(t, ok)
		w.Header().Set("X-Test-Principal", p.Name)
		w.Header().Set("X-Test-Role", p.Role)
		w.WriteHeader(http.StatusOK)
	})
	return Auth([]byte(testSecret), principals)(inner), principals
}

func TestAuthResolvesPrincipal(t *testing.T) {
	handler, principals := setupAuth(t)
	_, err := principals.Create(context.Background(), &domain.Principal{Name: "alice", Role: "operator"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "alice", testSecret))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", rec.Header().Get("X-Test-Principal"))
	assert.Equal(t, "operator", rec.Header().Get("X-Test-Role"))
}

func TestAuthRejectsMissingToken(t *testing.T) {
	handler, _ := setupAuth(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRejectsBadSignature(t *testing.T) {
	handler, principals := setupAuth(t)
	_, err := principals.Create(context.Background(), &domain.Principal{Name: "alice", Role: "operator"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "alice", "wrong-secret"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRejectsUnknownPrincipal(t *testing.T) {
	handler, _ := setupAuth(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "ghost", testSecret))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRejectsExpiredToken(t *testing.T) {
	handler, principals := setupAuth(t)
	_, err := principals.Create(context.Background(), &domain.Principal{Name: "alice", Role: "operator"})
	require.NoError(t, err)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
