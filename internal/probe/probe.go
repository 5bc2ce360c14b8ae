// Package probe extracts structural media metadata through an external
// ffprobe binary.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"strconv"
	"strings"

	"github.com/your-org/evidenceflow/internal/evidence"
)

// Prober is the narrow capability the pipeline depends on. It is injected at
// construction rather than accessed ambiently.
type Prober interface {
	Probe(ctx context.Context, path string) (evidence.MediaMetadata, error)
}

// FFprobe invokes the ffprobe binary at a configured location.
type FFprobe struct {
	binary string
}

// NewFFprobe constructs a Prober backed by the given binary path.
func NewFFprobe(binary string) *FFprobe {
	if binary == "" {
		binary = "ffprobe"
	}
	return &FFprobe{binary: binary}
}

// Probe runs ffprobe and parses its JSON output. A probe that cannot be
// invoked is reported distinctly from a file the probe rejects.
func (p *FFprobe) Probe(ctx context.Context, path string) (evidence.MediaMetadata, error) {
	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)

	output, err := cmd.Output()
	if err != nil {
		if ctxErr := evidence.FromContext(ctx); ctxErr != nil {
			return evidence.MediaMetadata{}, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return evidence.MediaMetadata{}, evidence.NewError(evidence.KindUnsupportedFormat,
				"ffprobe rejected input "+path, err)
		}
		return evidence.MediaMetadata{}, evidence.NewError(evidence.KindProbeUnavailable,
			"ffprobe could not be invoked", err)
	}

	meta, err := parseOutput(output)
	if err != nil {
		return evidence.MediaMetadata{}, evidence.NewError(evidence.KindUnsupportedFormat,
			"unparseable ffprobe output", err)
	}
	return meta, nil
}

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	FormatName     string            `json:"format_name"`
	FormatLongName string            `json:"format_long_name"`
	Duration       string            `json:"duration"`
	Size           string            `json:"size"`
	BitRate        string            `json:"bit_rate"`
	Tags           map[string]string `json:"tags"`
}

type ffprobeStream struct {
	CodecType     string            `json:"codec_type"`
	CodecName     string            `json:"codec_name"`
	CodecLongName string            `json:"codec_long_name"`
	Width         int               `json:"width"`
	Height        int               `json:"height"`
	PixFmt        string            `json:"pix_fmt"`
	AvgFrameRate  string            `json:"avg_frame_rate"`
	RFrameRate    string            `json:"r_frame_rate"`
	Tags          map[string]string `json:"tags"`
	SideDataList  []ffprobeSideData `json:"side_data_list"`
}

type ffprobeSideData struct {
	Rotation *int `json:"rotation"`
}

// parseOutput maps raw ffprobe JSON to MediaMetadata. Individual fields the
// probe could not determine stay nil; partial results are valid.
func parseOutput(data []byte) (evidence.MediaMetadata, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return evidence.MediaMetadata{}, err
	}

	meta := evidence.MediaMetadata{}

	if out.Format.FormatName != "" {
		meta.FormatName = strPtr(out.Format.FormatName)
	}
	if out.Format.FormatLongName != "" {
		meta.FormatLongName = strPtr(out.Format.FormatLongName)
	}
	if d, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil {
		meta.DurationSec = &d
	}
	if s, err := strconv.ParseInt(out.Format.Size, 10, 64); err == nil {
		meta.SizeBytes = &s
	}
	if br, err := strconv.ParseInt(out.Format.BitRate, 10, 64); err == nil {
		meta.BitRate = &br
	}
	if creation := firstTag(out.Format.Tags, "creation_time", "com.apple.quicktime.creationdate"); creation != "" {
		meta.CreationTime = strPtr(creation)
	}

	video := findVideoStream(out.Streams)
	if video == nil {
		return meta, nil
	}

	if video.CodecName != "" {
		meta.CodecName = strPtr(video.CodecName)
	}
	if video.CodecLongName != "" {
		meta.CodecLongName = strPtr(video.CodecLongName)
	}
	if video.Width > 0 && video.Height > 0 {
		meta.Width = intPtr(video.Width)
		meta.Height = intPtr(video.Height)
	}
	if video.PixFmt != "" {
		meta.PixelFormat = strPtr(video.PixFmt)
	}
	if fps, ok := parseFrameRate(video.AvgFrameRate); ok {
		meta.FrameRate = &fps
	} else if fps, ok := parseFrameRate(video.RFrameRate); ok {
		meta.FrameRate = &fps
	}
	if rot, ok := detectRotation(video); ok {
		meta.RotationDeg = &rot
	}
	if deviceMake := firstTag(video.Tags, "com.apple.quicktime.make", "make"); deviceMake != "" {
		meta.DeviceMake = strPtr(deviceMake)
	}
	if model := firstTag(video.Tags, "com.apple.quicktime.model", "model"); model != "" {
		meta.DeviceModel = strPtr(model)
	}
	if loc := firstTag(video.Tags, "com.apple.quicktime.location.ISO6709", "location"); loc != "" {
		meta.GPSRaw = strPtr(loc)
	}

	return meta, nil
}

func findVideoStream(streams []ffprobeStream) *ffprobeStream {
	for i := range streams {
		if streams[i].CodecType == "video" {
			return &streams[i]
		}
	}
	return nil
}

// parseFrameRate parses ffprobe's "num/den" fraction form.
func parseFrameRate(raw string) (float64, bool) {
	if raw == "" || raw == "0/0" {
		return 0, false
	}
	if num, den, found := strings.Cut(raw, "/"); found {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d == 0 {
			return 0, false
		}
		return n / d, true
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// detectRotation looks for a rotate tag on the stream, then falls back to the
// display matrix side data.
func detectRotation(s *ffprobeStream) (int, bool) {
	if raw, ok := s.Tags["rotate"]; ok {
		if deg, err := strconv.Atoi(raw); err == nil {
			return deg, true
		}
	}
	for _, sd := range s.SideDataList {
		if sd.Rotation != nil {
			return *sd.Rotation, true
		}
	}
	return 0, false
}

func firstTag(tags map[string]string, keys ...string) string {
	for _, k := range keys {
		if v, ok := tags[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
