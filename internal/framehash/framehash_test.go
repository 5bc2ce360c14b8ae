package framehash

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidImage(c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func gradientImage(seed int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8((x*seed + y) % 256),
				G: uint8((y*seed + x) % 256),
				B: uint8((x + y + seed) % 256),
				A: 255,
			})
		}
	}
	return img
}

func TestAverageHashStable(t *testing.T) {
	img := gradientImage(3)
	assert.Equal(t, AverageHash(img), AverageHash(img))
}

func TestAverageHashLength(t *testing.T) {
	h := AverageHash(gradientImage(3))
	assert.Len(t, h, hashSize*hashSize)
}

func TestAverageHashSeparatesDistinctContent(t *testing.T) {
	a := AverageHash(gradientImage(3))
	b := AverageHash(gradientImage(11))
	assert.NotEqual(t, a, b)
}

func TestAverageHashIdenticalContentCollides(t *testing.T) {
	a := AverageHash(solidImage(color.RGBA{R: 10, G: 10, B: 10, A: 255}))
	b := AverageHash(solidImage(color.RGBA{R: 10, G: 10, B: 10, A: 255}))
	assert.Equal(t, a, b)
}

func TestFindDuplicatesGroups(t *testing.T) {
	hashes := map[int]string{
		0: "aaaa",
		1: "bbbb",
		2: "aaaa",
		3: "cccc",
		4: "aaaa",
	}

	groups := FindDuplicates(hashes)
	require.Len(t, groups, 1)
	assert.Equal(t, "aaaa", groups[0].Hash)
	assert.Equal(t, []int{0, 2, 4}, groups[0].FrameIndices)
}

func TestFindDuplicatesNoCollisions(t *testing.T) {
	groups := FindDuplicates(map[int]string{0: "a", 1: "b", 2: "c"})
	assert.Empty(t, groups)
}

func TestFindDuplicatesOrderedByLowestIndex(t *testing.T) {
	hashes := map[int]string{
		5: "zz",
		6: "zz",
		0: "yy",
		3: "yy",
	}

	groups := FindDuplicates(hashes)
	require.Len(t, groups, 2)
	assert.Equal(t, []int{0, 3}, groups[0].FrameIndices)
	assert.Equal(t, []int{5, 6}, groups[1].FrameIndices)
}

func TestFindDuplicatesIgnoresEmptyHashes(t *testing.T) {
	groups := FindDuplicates(map[int]string{0: "", 1: "", 2: "x"})
	assert.Empty(t, groups)
}
