// Package hasher computes content digests of source files with bounded
// memory.
package hasher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/your-org/evidenceflow/internal/evidence"
)

// chunkSize bounds per-read memory; the file is never buffered whole.
const chunkSize = 4 * 1024 * 1024

// ComputeDigest streams the file through SHA-256 in fixed-size chunks.
// The observed byte count is checked against the file's reported length so a
// concurrent modification during hashing surfaces as a truncated-read error.
func ComputeDigest(ctx context.Context, path string) (evidence.Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", evidence.NewError(evidence.KindIO, fmt.Sprintf("open %s", path), err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", evidence.NewError(evidence.KindIO, fmt.Sprintf("stat %s", path), err)
	}
	expected := info.Size()

	h := sha256.New()
	buf := make([]byte, chunkSize)
	var read int64

	for {
		if err := evidence.FromContext(ctx); err != nil {
			return "", err
		}

		n, err := f.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			read += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", evidence.NewError(evidence.KindIO, fmt.Sprintf("read %s", path), err)
		}
	}

	if read != expected {
		return "", evidence.NewError(evidence.KindTruncatedRead,
			fmt.Sprintf("read %d bytes, stat reported %d", read, expected), nil)
	}

	return evidence.Digest(hex.EncodeToString(h.Sum(nil))), nil
}
