package oauthd

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dpup/oauthd/errors"
)

func TestWireError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		status     int
		code       string
		noDetail   bool
	}{
		{"InvalidClient", ErrInvalidClient, http.StatusBadRequest, "invalid_client", false},
		{"InvalidGrant", ErrInvalidGrant, http.StatusBadRequest, "invalid_grant", false},
		{"InvalidScope", ErrInvalidScope, http.StatusBadRequest, "invalid_scope", false},
		{"UnsupportedGrantType", ErrUnsupportedGrantType, http.StatusBadRequest, "unsupported_grant_type", false},
		{"InvalidToken", ErrInvalidToken, http.StatusUnauthorized, "invalid_token", true},
		{"InsufficientScope", ErrInsufficientScope, http.StatusForbidden, "insufficient_scope", false},
		{"UnknownErrorsBecomeServerError", errors.New("disk on fire"), http.StatusInternalServerError, "server_error", true},
		{"WrappedTaxonomyErrorSurvives",
			errors.WrapPrefix(errors.Mark(ErrInvalidGrant, 0), "while refreshing", 0),
			http.StatusBadRequest, "invalid_grant", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, desc := WireError(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
			if tt.noDetail {
				assert.Empty(t, desc)
			}
		})
	}

	t.Run("DescriptionComesFromPublicMessage", func(t *testing.T) {
		err := errors.Mark(ErrInvalidGrant, 0).WithPublicMessage("refresh token has expired")
		_, _, desc := WireError(err)
		assert.Equal(t, "refresh token has expired", desc)
	})

	t.Run("UnauthorizedOmitsDescriptionEvenWhenSet", func(t *testing.T) {
		err := errors.Mark(ErrInvalidToken, 0).WithPublicMessage("token expired at noon")
		_, _, desc := WireError(err)
		assert.Empty(t, desc)
	})
}
