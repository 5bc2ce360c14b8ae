// Package framehash computes perceptual hashes of extracted frames so that
// repeated frames, a common splice artifact, can be grouped.
package framehash

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"sort"

	"github.com/your-org/evidenceflow/internal/evidence"
)

// hashSize is the downsample grid. 16x16 keeps the hash sensitive enough to
// separate adjacent frames of ordinary motion.
const hashSize = 16

// AverageHash downsamples the image to a hashSize grid of gray values and
// emits one bit per cell: 1 when the cell is brighter than the mean.
func AverageHash(img image.Image) string {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return ""
	}

	cells := make([]uint64, hashSize*hashSize)
	var total uint64

	for cy := 0; cy < hashSize; cy++ {
		for cx := 0; cx < hashSize; cx++ {
			// Sample the center of each cell; box filtering is unnecessary
			// for duplicate detection.
			sx := bounds.Min.X + (cx*2+1)*w/(hashSize*2)
			sy := bounds.Min.Y + (cy*2+1)*h/(hashSize*2)
			r, g, b, _ := img.At(sx, sy).RGBA()
			gray := (r + g + b) / 3 >> 8
			cells[cy*hashSize+cx] = uint64(gray)
			total += uint64(gray)
		}
	}

	mean := total / uint64(len(cells))
	bits := make([]byte, len(cells))
	for i, v := range cells {
		if v > mean {
			bits[i] = '1'
		} else {
			bits[i] = '0'
		}
	}
	return string(bits)
}

// HashFile hashes the frame image at path.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", evidence.NewError(evidence.KindIO, fmt.Sprintf("open %s", path), err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return "", evidence.NewError(evidence.KindUnsupportedImage, fmt.Sprintf("decode %s", path), err)
	}
	return AverageHash(img), nil
}

// FindDuplicates groups frames whose hashes collide. Groups are ordered by
// their lowest frame index; a frame appearing in no group is unique.
func FindDuplicates(hashes map[int]string) []evidence.DuplicateGroup {
	byHash := make(map[string][]int)
	for idx, h := range hashes {
		if h == "" {
			continue
		}
		byHash[h] = append(byHash[h], idx)
	}

	var groups []evidence.DuplicateGroup
	for h, indices := range byHash {
		if len(indices) < 2 {
			continue
		}
		sort.Ints(indices)
		groups = append(groups, evidence.DuplicateGroup{Hash: h, FrameIndices: indices})
	}

	sort.Slice(groups, func(i, j int) bool {
		return groups[i].FrameIndices[0] < groups[j].FrameIndices[0]
	})
	return groups
}
