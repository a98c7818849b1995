package redisson

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMovedOrAsk(t *testing.T) {
	moved, ask, addr := isMovedOrAsk(&ServerError{Text: "MOVED 3999 10.0.0.7:6381"})
	assert.True(t, moved)
	assert.False(t, ask)
	assert.Equal(t, "10.0.0.7:6381", addr)

	moved, ask, addr = isMovedOrAsk(&ServerError{Text: "ASK 3999 10.0.0.8:6382"})
	assert.False(t, moved)
	assert.True(t, ask)
	assert.Equal(t, "10.0.0.8:6382", addr)

	// A transport error with the same text is not a redirect.
	moved, ask, _ = isMovedOrAsk(errors.New("MOVED 3999 10.0.0.7:6381"))
	assert.False(t, moved)
	assert.False(t, ask)
}

func TestBackendErrorPredicates(t *testing.T) {
	assert.True(t, isLoadingError(&ServerError{Text: "LOADING dataset in memory"}))
	assert.True(t, isReadOnlyError(&ServerError{Text: "READONLY You can't write against a replica"}))
	assert.True(t, isNoScript(&ServerError{Text: "NOSCRIPT No matching script"}))

	assert.False(t, isLoadingError(errors.New("LOADING dataset in memory")))
	assert.False(t, isNoScript(&ServerError{Text: "ERR unknown command"}))
}

func TestConvertWrapsUnknownErrors(t *testing.T) {
	cause := errors.New("something odd")
	err := Convert(cause)
	var unexpected *UnexpectedError
	require.ErrorAs(t, err, &unexpected)
	assert.Equal(t, cause, unexpected.Cause)

	// Taxonomy types and sentinels pass through untouched.
	te := &TimeoutError{Attempts: 2}
	assert.Same(t, te, Convert(te).(*TimeoutError))
	assert.Equal(t, ErrCancelled, Convert(ErrCancelled))
	assert.Nil(t, Convert(nil))
}
