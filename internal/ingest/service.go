package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/your-org/evidenceflow/internal/evidence"
	"github.com/your-org/evidenceflow/internal/pipeline"
	"github.com/your-org/evidenceflow/pkg/kafka"
	"github.com/your-org/evidenceflow/pkg/storage/objectstore"
)

// Service wires the pipeline together with object storage and event
// publishing for uploaded media.
type Service struct {
	store    objectstore.Client
	producer *kafka.Producer
	pipe     *pipeline.Pipeline
	workRoot string
	logger   *zap.Logger
}

type Params struct {
	Store    objectstore.Client
	Producer *kafka.Producer
	Pipeline *pipeline.Pipeline
	WorkRoot string
	Logger   *zap.Logger
}

// UploadOptions captures what the caller told us about the upload.
type UploadOptions struct {
	Filename    string
	ContentType string
}

// NewService constructs an ingest Service.
func NewService(p Params) *Service {
	return &Service{
		store:    p.Store,
		producer: p.Producer,
		pipe:     p.Pipeline,
		workRoot: p.WorkRoot,
		logger:   p.Logger,
	}
}

// AnalyzeUpload spools the uploaded media to disk, runs the evidence
// pipeline over it, persists the bundle and its derived images to the object
// store, and emits a completion event. The returned bundle references object
// store keys.
func (s *Service) AnalyzeUpload(ctx context.Context, reader io.Reader, opts UploadOptions) (*evidence.Bundle, error) {
	runID := uuid.NewString()
	runDir := filepath.Join(s.workRoot, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	defer os.RemoveAll(runDir)

	sourcePath := filepath.Join(runDir, "source"+filepath.Ext(opts.Filename))
	if err := spool(reader, sourcePath); err != nil {
		return nil, fmt.Errorf("spool upload: %w", err)
	}

	bundle, err := s.pipe.Run(ctx, sourcePath, runDir)
	if err != nil {
		return nil, err
	}

	stored, err := s.storeBundle(ctx, bundle)
	if err != nil {
		return nil, fmt.Errorf("persist bundle: %w", err)
	}

	if err := s.publishEvent(ctx, stored); err != nil {
		// The bundle is durable; a lost event is recoverable downstream.
		s.logger.Error("publish bundle event failed",
			zap.String("bundle_id", stored.ID), zap.Error(err))
	}

	return stored, nil
}

func spool(reader io.Reader, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(f, reader); err != nil {
		return err
	}
	return f.Sync()
}

// storeBundle uploads every derived artifact under a digest-keyed prefix and
// returns a copy of the bundle whose image references point at object keys.
func (s *Service) storeBundle(ctx context.Context, bundle *evidence.Bundle) (*evidence.Bundle, error) {
	prefix := string(bundle.Digest)

	stored := *bundle
	stored.Frames = make([]evidence.FramePair, len(bundle.Frames))

	for i, pair := range bundle.Frames {
		frameKey := fmt.Sprintf("%s/frames/frame_%04d.png", prefix, pair.Frame.Index)
		if err := s.store.PutFile(ctx, frameKey, pair.Frame.Path, "image/png"); err != nil {
			return nil, fmt.Errorf("upload frame %d: %w", pair.Frame.Index, err)
		}

		elaKey := fmt.Sprintf("%s/ela/ela_%04d.png", prefix, pair.ELA.FrameIndex)
		if err := s.store.PutFile(ctx, elaKey, pair.ELA.Path, "image/png"); err != nil {
			return nil, fmt.Errorf("upload ela %d: %w", pair.ELA.FrameIndex, err)
		}

		stored.Frames[i] = evidence.FramePair{
			Frame: evidence.Frame{
				Index:        pair.Frame.Index,
				TimestampSec: pair.Frame.TimestampSec,
				Path:         frameKey,
			},
			ELA: evidence.ELAResult{
				FrameIndex: pair.ELA.FrameIndex,
				Path:       elaKey,
				MaxDiff:    pair.ELA.MaxDiff,
			},
		}
	}

	data, err := stored.Marshal()
	if err != nil {
		return nil, err
	}
	bundleKey := prefix + "/bundle.json"
	if err := s.store.Put(ctx, bundleKey, bytes.NewReader(data), int64(len(data)), "application/json"); err != nil {
		return nil, fmt.Errorf("upload bundle record: %w", err)
	}

	return &stored, nil
}

// GetBundle fetches a persisted bundle record by its source digest.
func (s *Service) GetBundle(ctx context.Context, digest string) (*evidence.Bundle, error) {
	rc, err := s.store.Get(ctx, digest+"/bundle.json")
	if err != nil {
		return nil, fmt.Errorf("fetch bundle: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}
	return evidence.UnmarshalBundle(data)
}

func (s *Service) publishEvent(ctx context.Context, bundle *evidence.Bundle) error {
	event := BundleEvent{
		BundleID:        bundle.ID,
		Digest:          string(bundle.Digest),
		ObjectKeyPrefix: string(bundle.Digest),
		FrameCount:      len(bundle.Frames),
		Partial:         bundle.Partial,
		SourceSizeBytes: bundle.Source.SizeBytes,
		PipelineVersion: bundle.PipelineVersion,
		CreatedAt:       time.Now().UTC(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal bundle event: %w", err)
	}

	headers := map[string]string{
		"digest":     event.Digest,
		"event_type": "evidence.bundle.created",
	}
	return s.producer.Publish(ctx, []byte(bundle.ID), payload, headers)
}

// Close releases underlying resources.
func (s *Service) Close(ctx context.Context) error {
	if err := s.producer.Close(ctx); err != nil {
		return err
	}
	return s.store.Close()
}
