package ingest

import "time"

// BundleEvent is emitted when an evidence bundle has been assembled and its
// artifacts persisted to durable storage.
type BundleEvent struct {
	BundleID        string    `json:"bundle_id"`
	Digest          string    `json:"digest"`
	ObjectKeyPrefix string    `json:"object_key_prefix"`
	FrameCount      int       `json:"frame_count"`
	Partial         bool      `json:"partial"`
	SourceSizeBytes int64     `json:"source_size_bytes"`
	PipelineVersion string    `json:"pipeline_version"`
	CreatedAt       time.Time `json:"created_at"`
}
