package remote

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"

	uperrors "github.com/hollowave/upstream/errors"
)

func TestClassifyNil(t *testing.T) {
	assert.NoError(t, classify(nil))
}

func TestClassifyPassesUnknownErrorsThrough(t *testing.T) {
	plain := errors.New("socket closed by peer")
	assert.Equal(t, plain, classify(plain))

	unknown := &smithy.GenericAPIError{Code: "TeapotError", Message: "short and stout"}
	assert.Equal(t, error(unknown), classify(unknown))
}

func TestClassifyContextErrors(t *testing.T) {
	// A deadline is a stalled connection and worth another attempt; a caller
	// cancellation is not.
	assert.ErrorIs(t, classify(context.DeadlineExceeded), uperrors.ErrTransient)

	canceled := classify(context.Canceled)
	assert.ErrorIs(t, canceled, context.Canceled)
	assert.False(t, uperrors.IsTransient(canceled))
}

func TestClassifyNetTimeout(t *testing.T) {
	timeout := &net.DNSError{Err: "lookup timed out", IsTimeout: true}
	assert.ErrorIs(t, classify(timeout), uperrors.ErrTransient)
}
