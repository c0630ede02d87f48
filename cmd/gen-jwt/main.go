package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func main() {
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		fmt.Fprintf(os.Stderr, "Error: JWT_SECRET environment variable is not set\n")
		os.Exit(1)
	}
	userID := flag.String("user-id", "test-user", "User ID to include in the JWT token")
	ttl := flag.Duration("ttl", 24*time.Hour, "How long the token stays valid")
	flag.Parse()

	if *ttl <= 0 {
		fmt.Fprintf(os.Stderr, "Error: -ttl must be positive\n")
		os.Exit(1)
	}

	tokenString, err := mint([]byte(jwtSecret), *userID, time.Now(), *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(tokenString)
}

// mint signs an HS256 token for userID valid from now for ttl.
func mint(secret []byte, userID string, now time.Time, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
