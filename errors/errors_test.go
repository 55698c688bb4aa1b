package errors

import (
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
)

var errSentinel = NewC("invalid_grant", codes.InvalidArgument)

func TestNewC(t *testing.T) {
	err := NewC("invalid_client", codes.Unauthenticated)
	assert.Equal(t, "invalid_client", err.Error())
	assert.Equal(t, codes.Unauthenticated, err.Code())
	assert.Equal(t, http.StatusUnauthorized, err.HTTPStatusCode())
	assert.NotEmpty(t, err.StackFrames())
}

func TestMarkPreservesIdentity(t *testing.T) {
	marked := Mark(errSentinel, 0).WithPublicMessage("refresh token has expired")

	assert.True(t, stderrors.Is(marked, errSentinel))
	assert.Equal(t, "invalid_grant", marked.Error())
	assert.Equal(t, "refresh token has expired", marked.PublicMessage())
	assert.Equal(t, codes.InvalidArgument, marked.Code())

	// The original must not have been mutated.
	assert.Equal(t, "invalid_grant", errSentinel.PublicMessage())
}

func TestHTTPStatusOverride(t *testing.T) {
	err := NewC("invalid_client", codes.Unauthenticated).
		WithHTTPStatusCode(http.StatusBadRequest)
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatusCode())

	// The override survives Mark.
	assert.Equal(t, http.StatusBadRequest, Mark(err, 0).HTTPStatusCode())
}

func TestWrap(t *testing.T) {
	cause := stderrors.New("disk on fire")
	err := WrapPrefix(cause, "saving token", 0)
	assert.Equal(t, "saving token: disk on fire", err.Error())
	assert.True(t, stderrors.Is(err, cause))

	// Wrapping an *Error is a no-op.
	assert.Same(t, errSentinel, Wrap(errSentinel, 0))
}

func TestCodeHelpers(t *testing.T) {
	assert.Equal(t, codes.OK, Code(nil))
	assert.Equal(t, codes.InvalidArgument, Code(errSentinel))
	assert.Equal(t, codes.Unknown, Code(stderrors.New("plain")))

	assert.Equal(t, http.StatusOK, HTTPStatusCode(nil))
	assert.Equal(t, http.StatusBadRequest, HTTPStatusCode(errSentinel))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusCode(stderrors.New("plain")))
}

func TestErrorf(t *testing.T) {
	err := Errorf("lookup failed for %s", "c1")
	assert.Equal(t, "lookup failed for c1", err.Error())
	assert.Equal(t, codes.Unknown, err.Code())
}
