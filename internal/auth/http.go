// ABOUTME: Bearer token extraction for HTTP requests
// ABOUTME: Shared by the MCP HTTP endpoint and anything else that accepts JWTs

package auth

import (
	"errors"
	"net/http"
	"strings"
)

// Bearer errors
var (
	ErrMissingAuthorization = errors.New("missing authorization header")
	ErrMalformedHeader      = errors.New("invalid authorization header format")
)

// BearerToken extracts the bearer token from the Authorization header.
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingAuthorization
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", ErrMalformedHeader
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMalformedHeader
	}
	return token, nil
}
