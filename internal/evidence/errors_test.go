package evidence

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsKindThroughWrapping(t *testing.T) {
	err := NewError(KindDecode, "stream corrupt", nil)
	wrapped := fmt.Errorf("extract frames: %w", err)

	assert.True(t, IsKind(wrapped, KindDecode))
	assert.False(t, IsKind(wrapped, KindIO))
}

func TestKindOfPlainError(t *testing.T) {
	_, ok := KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		kind      ErrorKind
		retryable bool
	}{
		{KindProbeUnavailable, true},
		{KindTimeout, true},
		{KindIO, false},
		{KindTruncatedRead, false},
		{KindUnsupportedFormat, false},
		{KindDecode, false},
		{KindPartialExtraction, false},
		{KindUnsupportedImage, false},
		{KindCancelled, false},
	}

	for _, tc := range cases {
		t.Run(tc.kind.String(), func(t *testing.T) {
			err := NewError(tc.kind, "x", nil)
			assert.Equal(t, tc.retryable, Retryable(err))
		})
	}
}

func TestRetryableRejectsPlainErrors(t *testing.T) {
	assert.False(t, Retryable(errors.New("plain")))
	assert.False(t, Retryable(nil))
}

func TestFromContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := FromContext(ctx)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindCancelled))
}

func TestFromContextDeadline(t *testing.T) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	err := FromContext(ctx)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindTimeout))
}

func TestFromContextLive(t *testing.T) {
	assert.NoError(t, FromContext(context.Background()))
}

func TestErrorIsMatchesByKind(t *testing.T) {
	a := NewError(KindTimeout, "slow probe", nil)
	b := NewError(KindTimeout, "different message", nil)

	assert.ErrorIs(t, a, b)
}
