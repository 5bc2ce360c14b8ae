// Package scenes detects scene changes using ffmpeg's scene filter. Abrupt
// scene boundaries in footage that claims to be continuous are a splice
// indicator worth surfacing alongside the frame-level analysis.
package scenes

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
)

// DefaultThreshold is the scene filter threshold. Higher values detect fewer
// changes; the range is 0.0 to 1.0.
const DefaultThreshold = 0.4

var ptsTimeRegex = regexp.MustCompile(`pts_time:(\d+\.?\d*)`)

// Detector runs ffmpeg's scene detection filter.
type Detector struct {
	binary string
}

// NewDetector constructs a Detector backed by the given ffmpeg binary path.
func NewDetector(binary string) *Detector {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Detector{binary: binary}
}

// Detect returns sorted timestamp offsets (seconds) of detected scene
// changes. The showinfo filter reports selected frames on stderr.
func (d *Detector) Detect(ctx context.Context, videoPath string, threshold float64) ([]float64, error) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	cmd := exec.CommandContext(ctx, d.binary,
		"-i", videoPath,
		"-vf", fmt.Sprintf("select='gt(scene,%g)',showinfo", threshold),
		"-an",
		"-f", "null",
		"-",
	)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	var offsets []float64
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		if ts, ok := parseShowinfoLine(scanner.Text()); ok {
			offsets = append(offsets, ts)
		}
	}

	if err := cmd.Wait(); err != nil {
		return nil, fmt.Errorf("ffmpeg scene detection: %w", err)
	}

	sort.Float64s(offsets)
	return offsets, nil
}

// parseShowinfoLine pulls the pts_time value out of one showinfo stderr line.
func parseShowinfoLine(line string) (float64, bool) {
	matches := ptsTimeRegex.FindStringSubmatch(line)
	if len(matches) < 2 {
		return 0, false
	}
	ts, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, false
	}
	return ts, true
}
