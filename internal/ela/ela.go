// Package ela performs error level analysis on frame images: the frame is
// re-encoded at a fixed JPEG quality, the pixel-wise difference against the
// original is amplified into a heat map, and regions with inconsistent
// compression history light up.
package ela

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"

	"github.com/your-org/evidenceflow/internal/evidence"
)

// Quality and Scale are fixed so the transform is reproducible: the same
// frame always yields a byte-identical heat map. They are part of the
// pipeline's reproducibility contract and must not be made tunable per run.
const (
	Quality = 90
	Scale   = 15
)

// Result holds the heat map image and the maximum raw channel difference
// observed before amplification.
type Result struct {
	Heatmap []byte
	MaxDiff int
}

// Analyze runs ELA over a single decoded image.
func Analyze(r io.Reader) (*Result, error) {
	original, _, err := image.Decode(r)
	if err != nil {
		return nil, evidence.NewError(evidence.KindUnsupportedImage, "decode frame", err)
	}

	var recompressed bytes.Buffer
	if err := jpeg.Encode(&recompressed, original, &jpeg.Options{Quality: Quality}); err != nil {
		return nil, evidence.NewError(evidence.KindUnsupportedImage, "re-encode frame", err)
	}

	compressed, err := jpeg.Decode(&recompressed)
	if err != nil {
		return nil, evidence.NewError(evidence.KindUnsupportedImage, "decode re-encoded frame", err)
	}

	bounds := original.Bounds()
	heatmap := image.NewRGBA(bounds)
	maxDiff := 0

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			or, og, ob := rgb8(original.At(x, y))
			cr, cg, cb := rgb8(compressed.At(x, y))

			dr := absDiff(or, cr)
			dg := absDiff(og, cg)
			db := absDiff(ob, cb)

			if dr > maxDiff {
				maxDiff = dr
			}
			if dg > maxDiff {
				maxDiff = dg
			}
			if db > maxDiff {
				maxDiff = db
			}

			heatmap.SetRGBA(x, y, color.RGBA{
				R: amplify(dr),
				G: amplify(dg),
				B: amplify(db),
				A: 255,
			})
		}
	}

	var out bytes.Buffer
	if err := png.Encode(&out, heatmap); err != nil {
		return nil, evidence.NewError(evidence.KindUnsupportedImage, "encode heat map", err)
	}

	return &Result{Heatmap: out.Bytes(), MaxDiff: maxDiff}, nil
}

// AnalyzeFile runs ELA on srcPath and writes the heat map PNG to dstPath.
func AnalyzeFile(srcPath, dstPath string) (int, error) {
	f, err := os.Open(srcPath)
	if err != nil {
		return 0, evidence.NewError(evidence.KindIO, fmt.Sprintf("open %s", srcPath), err)
	}
	defer f.Close()

	result, err := Analyze(f)
	if err != nil {
		return 0, err
	}

	if err := os.WriteFile(dstPath, result.Heatmap, 0o644); err != nil {
		return 0, evidence.NewError(evidence.KindIO, fmt.Sprintf("write %s", dstPath), err)
	}
	return result.MaxDiff, nil
}

func rgb8(c color.Color) (int, int, int) {
	r, g, b, _ := c.RGBA()
	return int(r >> 8), int(g >> 8), int(b >> 8)
}

func absDiff(a, b int) int {
	if a > b {
		return a - b
	}
	return b - a
}

func amplify(d int) uint8 {
	v := d * Scale
	if v > 255 {
		v = 255
	}
	return uint8(v)
}
