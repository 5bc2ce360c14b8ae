package evidence

import (
	"encoding/json"
	"fmt"
	"time"
)

// Digest is the hex-encoded SHA-256 of a source file's bytes. Recomputing
// over identical bytes always yields the identical Digest.
type Digest string

// SourceFile is an immutable reference to the artifact under analysis. The
// pipeline only reads it; ownership and retention stay with the caller.
type SourceFile struct {
	Path       string    `json:"path"`
	SizeBytes  int64     `json:"size_bytes"`
	IngestedAt time.Time `json:"ingested_at"`
}

// MediaMetadata is the structured record returned by the external probe.
// Fields are pointers so that a value the probe could not determine is
// distinguishable from a zero value.
type MediaMetadata struct {
	FormatName     *string  `json:"format_name,omitempty"`
	FormatLongName *string  `json:"format_long_name,omitempty"`
	DurationSec    *float64 `json:"duration_sec,omitempty"`
	BitRate        *int64   `json:"bit_rate,omitempty"`
	SizeBytes      *int64   `json:"size_bytes,omitempty"`
	CodecName      *string  `json:"codec_name,omitempty"`
	CodecLongName  *string  `json:"codec_long_name,omitempty"`
	Width          *int     `json:"width,omitempty"`
	Height         *int     `json:"height,omitempty"`
	FrameRate      *float64 `json:"frame_rate,omitempty"`
	PixelFormat    *string  `json:"pixel_format,omitempty"`
	RotationDeg    *int     `json:"rotation_deg,omitempty"`
	CreationTime   *string  `json:"creation_time,omitempty"`
	DeviceMake     *string  `json:"device_make,omitempty"`
	DeviceModel    *string  `json:"device_model,omitempty"`
	GPSRaw         *string  `json:"gps_raw,omitempty"`
}

// Resolution renders "WxH" when both dimensions are known.
func (m MediaMetadata) Resolution() string {
	if m.Width == nil || m.Height == nil {
		return ""
	}
	return fmt.Sprintf("%dx%d", *m.Width, *m.Height)
}

// Frame is one extracted image. Indices are contiguous from 0 for a given
// extraction run; TimestampSec is the offset into the source video.
type Frame struct {
	Index        int     `json:"index"`
	TimestampSec float64 `json:"timestamp_sec"`
	Path         string  `json:"path"`
}

// ELAResult is the error-level-analysis heat map derived from exactly one
// frame. It never exists without its parent frame.
type ELAResult struct {
	FrameIndex int    `json:"frame_index"`
	Path       string `json:"path"`
	MaxDiff    int    `json:"max_diff"`
}

// FramePair couples a frame with its analysis output.
type FramePair struct {
	Frame Frame     `json:"frame"`
	ELA   ELAResult `json:"ela"`
}

// DuplicateGroup lists frames whose perceptual hashes collide, a signal for
// copy-paste tampering.
type DuplicateGroup struct {
	Hash         string `json:"hash"`
	FrameIndices []int  `json:"frame_indices"`
}

// Bundle is the terminal, immutable aggregate of one pipeline run. Once
// assembled its digest and frame sequence never change; re-running on the
// same source with the same configuration reproduces digest and frame count.
type Bundle struct {
	ID              string           `json:"id"`
	Source          SourceFile       `json:"source"`
	Digest          Digest           `json:"digest"`
	Metadata        MediaMetadata    `json:"metadata"`
	Frames          []FramePair      `json:"frames"`
	SceneChanges    []float64        `json:"scene_changes,omitempty"`
	Duplicates      []DuplicateGroup `json:"duplicates,omitempty"`
	Partial         bool             `json:"partial"`
	PartialReason   string           `json:"partial_reason,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	PipelineVersion string           `json:"pipeline_version"`
}

// Marshal serializes the bundle for persistence. The encoding round-trips
// every field losslessly.
func (b *Bundle) Marshal() ([]byte, error) {
	return json.MarshalIndent(b, "", "  ")
}

// UnmarshalBundle restores a persisted bundle.
func UnmarshalBundle(data []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("unmarshal bundle: %w", err)
	}
	return &b, nil
}
