package hasher

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/evidenceflow/internal/evidence"
)

func writeTemp(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestComputeDigestKnownValue(t *testing.T) {
	path := writeTemp(t, []byte("hello world"))

	digest, err := ComputeDigest(context.Background(), path)
	require.NoError(t, err)

	// sha256("hello world")
	assert.Equal(t, evidence.Digest("b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"), digest)
}

func TestComputeDigestDeterministic(t *testing.T) {
	path := writeTemp(t, make([]byte, 1<<20))

	first, err := ComputeDigest(context.Background(), path)
	require.NoError(t, err)
	second, err := ComputeDigest(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestComputeDigestEmptyFile(t *testing.T) {
	path := writeTemp(t, nil)

	digest, err := ComputeDigest(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, evidence.Digest("e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"), digest)
}

func TestComputeDigestMissingFile(t *testing.T) {
	_, err := ComputeDigest(context.Background(), filepath.Join(t.TempDir(), "missing"))

	require.Error(t, err)
	assert.True(t, evidence.IsKind(err, evidence.KindIO))
}

func TestComputeDigestCancelled(t *testing.T) {
	path := writeTemp(t, []byte("content"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ComputeDigest(ctx, path)
	require.Error(t, err)
	assert.True(t, evidence.IsKind(err, evidence.KindCancelled))
}
