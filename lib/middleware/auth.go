package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/onkernel/termlab/lib/logger"
)

type contextKey string

const userIDKey contextKey = "user_id"

var (
	errMissingAuth = errors.New("authorization header required")
	errAuthFormat  = errors.New("invalid authorization header format")
	errBadToken    = errors.New("invalid token")
)

// ErrorResponse writes the API's JSON error body.
func ErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":    http.StatusText(statusCode),
		"message": message,
	})
}

// extractBearerToken extracts the token from "Bearer <token>" format
func extractBearerToken(authHeader string) (string, error) {
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", errAuthFormat
	}
	if !strings.EqualFold(scheme, "bearer") {
		return "", fmt.Errorf("unsupported authorization scheme: %s", strings.ToLower(scheme))
	}
	return strings.TrimSpace(token), nil
}

// ParseToken validates an HS256 token and returns its subject. Tokens signed
// with anything other than HMAC are rejected before the key is consulted.
func ParseToken(tokenString, jwtSecret string) (string, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(jwtSecret), nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", errBadToken, err)
	}
	if !token.Valid {
		return "", errBadToken
	}
	sub, _ := claims.GetSubject()
	return sub, nil
}

// JwtAuth creates a chi middleware that validates JWT bearer tokens and
// stores the subject in the request context.
func JwtAuth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := logger.FromContext(r.Context())

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				log.DebugContext(r.Context(), "missing authorization header")
				ErrorResponse(w, errMissingAuth.Error(), http.StatusUnauthorized)
				return
			}

			token, err := extractBearerToken(authHeader)
			if err != nil {
				log.DebugContext(r.Context(), "invalid authorization header", "error", err)
				ErrorResponse(w, errAuthFormat.Error(), http.StatusUnauthorized)
				return
			}

			userID, err := ParseToken(token, jwtSecret)
			if err != nil {
				log.DebugContext(r.Context(), "failed to parse JWT", "error", err)
				ErrorResponse(w, errBadToken.Error(), http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserIDFromContext extracts the user ID from context
func GetUserIDFromContext(ctx context.Context) string {
	if userID, ok := ctx.Value(userIDKey).(string); ok {
		return userID
	}
	return ""
}
