// Package auth issues the admin bearer tokens accepted by the media API.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTTL is the lifetime of an issued admin token.
const DefaultTTL = 12 * time.Hour

// ErrMissingSubject is returned when no admin ID is given.
var ErrMissingSubject = errors.New("admin id required")

// ErrMissingSecret is returned when the signing secret is empty.
var ErrMissingSecret = errors.New("jwt secret required")

// IssueAdminToken creates a signed HS256 JWT carrying role=admin for adminID.
func IssueAdminToken(secret, adminID string, ttl time.Duration) (string, error) {
	return issueAt(secret, adminID, ttl, time.Now())
}

func issueAt(secret, adminID string, ttl time.Duration, now time.Time) (string, error) {
	if secret == "" {
		return "", ErrMissingSecret
	}
	if adminID == "" {
		return "", ErrMissingSubject
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	claims := jwt.MapClaims{
		"sub":  adminID,
		"role": "admin",
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
