package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "test-secret-key-for-testing"

// generateUserToken creates a valid user JWT token
func generateUserToken(t *testing.T, userID string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	tokenString, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return tokenString
}

func TestJwtAuth(t *testing.T) {
	var gotUser string
	handler := JwtAuth(testJWTSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = GetUserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-123",
		"exp": time.Now().Add(-time.Minute).Unix(),
	})
	expiredToken, err := expired.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)

	wrongKey := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "user-123"})
	wrongKeyToken, err := wrongKey.SignedString([]byte("another-secret"))
	require.NoError(t, err)

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"sub": "user-123"})
	unsignedToken, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name    string
		header  string
		code    int
		message string
	}{
		{"valid token", "Bearer " + generateUserToken(t, "user-123"), http.StatusOK, ""},
		{"lowercase scheme", "bearer " + generateUserToken(t, "user-123"), http.StatusOK, ""},
		{"missing header", "", http.StatusUnauthorized, "authorization header required"},
		{"basic auth", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, "invalid authorization header format"},
		{"no token", "Bearer", http.StatusUnauthorized, "invalid authorization header format"},
		{"garbage", "Bearer not-a-jwt", http.StatusUnauthorized, "invalid token"},
		{"expired", "Bearer " + expiredToken, http.StatusUnauthorized, "invalid token"},
		{"wrong key", "Bearer " + wrongKeyToken, http.StatusUnauthorized, "invalid token"},
		{"alg none", "Bearer " + unsignedToken, http.StatusUnauthorized, "invalid token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotUser = ""
			req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.code, rr.Code)
			if tt.code == http.StatusOK {
				assert.Equal(t, "user-123", gotUser)
				return
			}
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			assert.Contains(t, rr.Body.String(), tt.message)
			assert.Empty(t, gotUser)
		})
	}
}

func TestParseToken(t *testing.T) {
	sub, err := ParseToken(generateUserToken(t, "alice"), testJWTSecret)
	require.NoError(t, err)
	assert.Equal(t, "alice", sub)

	_, err = ParseToken(generateUserToken(t, "alice"), "wrong")
	assert.ErrorIs(t, err, errBadToken)
}

func TestErrorResponseEscapes(t *testing.T) {
	rr := httptest.NewRecorder()
	ErrorResponse(rr, `session "x" not found`, http.StatusNotFound)

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.JSONEq(t, `{"code":"Not Found","message":"session \"x\" not found"}`, rr.Body.String())
}
