// Package extractor decodes a deterministic, ordered sequence of frame
// images from a video at a configured sampling policy.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/your-org/evidenceflow/internal/evidence"
)

// SamplingPolicy governs which frames are extracted.
type SamplingPolicy struct {
	IntervalSeconds float64
	MaxFrames       int
	StartOffset     float64
}

// PlanSamples computes the timestamp offsets the policy selects within the
// given duration. A duration shorter than StartOffset yields an empty plan,
// not an error. The plan depends only on its inputs, which is what makes
// extraction restartable: identical inputs reproduce identical sequences.
func PlanSamples(durationSec float64, policy SamplingPolicy) []float64 {
	if policy.IntervalSeconds <= 0 || durationSec <= 0 {
		return nil
	}

	var samples []float64
	for t := policy.StartOffset; t < durationSec; t += policy.IntervalSeconds {
		if policy.MaxFrames > 0 && len(samples) >= policy.MaxFrames {
			break
		}
		samples = append(samples, t)
	}
	return samples
}

// Extractor invokes ffmpeg once per planned sample. One invocation per frame
// keeps the sequence deterministic across runs and lets a mid-sequence decode
// failure preserve the already extracted prefix.
type Extractor struct {
	binary string
	logger *zap.Logger
}

// New constructs an Extractor backed by the given ffmpeg binary path.
func New(binary string, logger *zap.Logger) *Extractor {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Extractor{binary: binary, logger: logger}
}

// ExtractFrames writes one PNG per planned sample into outDir and returns the
// ordered frame sequence. Indices are contiguous from 0. A decode failure
// after n >= 1 successful frames returns those n frames together with a
// partial-extraction error; a failure on the first frame returns a decode
// error and no frames.
func (e *Extractor) ExtractFrames(ctx context.Context, videoPath string, durationSec float64, policy SamplingPolicy, outDir string) ([]evidence.Frame, error) {
	samples := PlanSamples(durationSec, policy)
	if len(samples) == 0 {
		e.logger.Info("sampling policy selects no frames",
			zap.Float64("duration_sec", durationSec),
			zap.Float64("start_offset", policy.StartOffset),
		)
		return nil, nil
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, evidence.NewError(evidence.KindIO, "create frame dir", err)
	}

	frames := make([]evidence.Frame, 0, len(samples))
	for i, ts := range samples {
		if err := evidence.FromContext(ctx); err != nil {
			return frames, err
		}

		framePath := filepath.Join(outDir, fmt.Sprintf("frame_%04d.png", i))
		if err := e.extractOne(ctx, videoPath, ts, framePath); err != nil {
			if len(frames) == 0 {
				return nil, err
			}
			e.logger.Warn("decoder failed mid-sequence, keeping extracted prefix",
				zap.Int("frames_extracted", len(frames)),
				zap.Float64("failed_at_sec", ts),
				zap.Error(err),
			)
			return frames, evidence.NewError(evidence.KindPartialExtraction,
				fmt.Sprintf("decoder failed after %d frames", len(frames)), err)
		}

		frames = append(frames, evidence.Frame{
			Index:        i,
			TimestampSec: ts,
			Path:         framePath,
		})
	}

	return frames, nil
}

func (e *Extractor) extractOne(ctx context.Context, videoPath string, ts float64, outPath string) error {
	cmd := exec.CommandContext(ctx, e.binary,
		"-v", "error",
		"-ss", strconv.FormatFloat(ts, 'f', -1, 64),
		"-i", videoPath,
		"-frames:v", "1",
		"-y",
		outPath,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctxErr := evidence.FromContext(ctx); ctxErr != nil {
			return ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return evidence.NewError(evidence.KindDecode,
				fmt.Sprintf("ffmpeg exit %d: %s", exitErr.ExitCode(), string(output)), err)
		}
		return evidence.NewError(evidence.KindProbeUnavailable, "ffmpeg could not be invoked", err)
	}

	// ffmpeg exits zero but writes nothing when the seek lands past the last
	// packet; treat that the same as a decode failure at this sample.
	if info, statErr := os.Stat(outPath); statErr != nil || info.Size() == 0 {
		return evidence.NewError(evidence.KindDecode,
			fmt.Sprintf("no frame produced at %.3fs", ts), nil)
	}

	return nil
}
