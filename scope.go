package oauthd

import (
	"strings"

	"github.com/dpup/oauthd/errors"
)

// SplitScope splits a space-delimited scope string into its tokens, dropping
// empty entries.
func SplitScope(scope string) []string {
	return strings.Fields(scope)
}

// ValidateScope intersects a requested scope string with a client's allowed
// set. The result preserves the requested order with duplicates removed. An
// empty request is valid and grants nothing; a non-empty request whose
// intersection is empty fails, since silently granting nothing would mislead
// the client.
func ValidateScope(allowed []string, requested string) (string, error) {
	tokens := SplitScope(requested)
	if len(tokens) == 0 {
		return "", nil
	}

	allowedSet := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		allowedSet[a] = true
	}

	granted := make([]string, 0, len(tokens))
	seen := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		if allowedSet[tok] && !seen[tok] {
			granted = append(granted, tok)
			seen[tok] = true
		}
	}
	if len(granted) == 0 {
		return "", errors.Mark(ErrInvalidScope, 0).
			WithPublicMessage("none of the requested scopes are available to this client")
	}
	return strings.Join(granted, " "), nil
}

// NarrowScope validates that a requested scope does not widen a previously
// granted one, for refresh grants. An empty request carries the granted
// scope over unchanged.
func NarrowScope(granted, requested string) (string, error) {
	if strings.TrimSpace(requested) == "" {
		return granted, nil
	}
	grantedSet := make(map[string]bool)
	for _, tok := range SplitScope(granted) {
		grantedSet[tok] = true
	}
	narrowed := make([]string, 0)
	seen := make(map[string]bool)
	for _, tok := range SplitScope(requested) {
		if !grantedSet[tok] {
			return "", errors.Mark(ErrInvalidScope, 0).
				WithPublicMessage("requested scope exceeds the scope of the refresh token")
		}
		if !seen[tok] {
			narrowed = append(narrowed, tok)
			seen[tok] = true
		}
	}
	return strings.Join(narrowed, " "), nil
}

// HasScope reports whether a granted scope string contains the required
// token.
func HasScope(granted, required string) bool {
	for _, tok := range SplitScope(granted) {
		if tok == required {
			return true
		}
	}
	return false
}

// HasAnyScope reports whether a granted scope string contains any of the
// required tokens.
func HasAnyScope(granted string, required ...string) bool {
	for _, req := range required {
		if HasScope(granted, req) {
			return true
		}
	}
	return false
}

// HasAllScopes reports whether a granted scope string contains all of the
// required tokens.
func HasAllScopes(granted string, required ...string) bool {
	for _, req := range required {
		if !HasScope(granted, req) {
			return false
		}
	}
	return true
}

// FormatScopes joins scope tokens into a space-delimited string.
func FormatScopes(scopes []string) string {
	return strings.Join(scopes, " ")
}
