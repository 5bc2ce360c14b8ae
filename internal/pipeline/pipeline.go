// Package pipeline orchestrates the evidence pipeline: hash, probe, frame
// extraction, per-frame analysis, and bundle assembly, in that fixed order.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/your-org/evidenceflow/internal/ela"
	"github.com/your-org/evidenceflow/internal/evidence"
	"github.com/your-org/evidenceflow/internal/extractor"
	"github.com/your-org/evidenceflow/internal/framehash"
	"github.com/your-org/evidenceflow/internal/hasher"
	"github.com/your-org/evidenceflow/pkg/metrics"
)

// Version tags every bundle so a reader knows which pipeline produced it.
const Version = "1.0.0"

// State names one step of the run's state machine. Transitions are strictly
// sequential; no state is re-entered, and Failed is reachable from any
// non-terminal state.
type State string

const (
	StateIdle               State = "idle"
	StateHashing            State = "hashing"
	StateExtractingMetadata State = "extracting_metadata"
	StateExtractingFrames   State = "extracting_frames"
	StateAnalyzing          State = "analyzing"
	StateAssembling         State = "assembling"
	StateComplete           State = "complete"
	StateFailed             State = "failed"
)

// StageError is the structured failure descriptor surfaced to callers: the
// failing stage plus the stage's error kind.
type StageError struct {
	Stage State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Prober is the external metadata capability, injected at construction.
type Prober interface {
	Probe(ctx context.Context, path string) (evidence.MediaMetadata, error)
}

// FrameExtractor produces the ordered frame sequence for a sampling policy.
type FrameExtractor interface {
	ExtractFrames(ctx context.Context, videoPath string, durationSec float64, policy extractor.SamplingPolicy, outDir string) ([]evidence.Frame, error)
}

// SceneDetector is optional; a nil detector skips scene analysis.
type SceneDetector interface {
	Detect(ctx context.Context, videoPath string, threshold float64) ([]float64, error)
}

// FrameAnalyzer turns one frame image into a heat map. The default is the
// ELA analyzer; tests substitute stubs.
type FrameAnalyzer interface {
	AnalyzeFile(srcPath, dstPath string) (maxDiff int, err error)
}

// FrameHasher computes a perceptual hash for duplicate grouping.
type FrameHasher func(path string) (string, error)

// Config fixes a pipeline's behavior at construction; nothing here is
// mutated mid-run.
type Config struct {
	Sampling       extractor.SamplingPolicy
	Concurrency    int
	StageTimeout   time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	SceneThreshold float64
}

// Progress is invoked as analysis work completes, for callers that render
// progress. It may be nil.
type Progress func(state State, completed, total int)

type Pipeline struct {
	prober     Prober
	extract    FrameExtractor
	analyzer   FrameAnalyzer
	scenes     SceneDetector
	hashFn     func(ctx context.Context, path string) (evidence.Digest, error)
	frameHash  FrameHasher
	logger     *zap.Logger
	cfg        Config
	onProgress Progress
}

type Params struct {
	Prober     Prober
	Extractor  FrameExtractor
	Analyzer   FrameAnalyzer
	Scenes     SceneDetector
	FrameHash  FrameHasher
	Logger     *zap.Logger
	Config     Config
	OnProgress Progress
}

// New constructs a Pipeline. A single Pipeline is safe for concurrent runs:
// each run owns its working directory and assembles its own bundle.
func New(p Params) *Pipeline {
	pl := &Pipeline{
		prober:     p.Prober,
		extract:    p.Extractor,
		analyzer:   p.Analyzer,
		scenes:     p.Scenes,
		frameHash:  p.FrameHash,
		hashFn:     hasher.ComputeDigest,
		logger:     p.Logger,
		cfg:        p.Config,
		onProgress: p.OnProgress,
	}
	if pl.analyzer == nil {
		pl.analyzer = elaAnalyzer{}
	}
	if pl.frameHash == nil {
		pl.frameHash = framehash.HashFile
	}
	if pl.logger == nil {
		pl.logger = zap.NewNop()
	}
	if pl.cfg.Concurrency <= 0 {
		pl.cfg.Concurrency = 1
	}
	return pl
}

type elaAnalyzer struct{}

func (elaAnalyzer) AnalyzeFile(srcPath, dstPath string) (int, error) {
	return ela.AnalyzeFile(srcPath, dstPath)
}

// Run executes the full state machine for one source file and returns the
// assembled bundle. Frame and heat-map images are written under workDir. On
// failure no bundle is persisted; the returned error is a StageError naming
// the failing stage and error kind. A mid-sequence decode failure is not a
// run failure: the bundle comes back flagged partial with the extracted
// prefix, every kept frame carrying a valid analysis result.
func (p *Pipeline) Run(ctx context.Context, sourcePath string, workDir string) (*evidence.Bundle, error) {
	tracer := otel.Tracer("pipeline")
	ctx, span := tracer.Start(ctx, "pipeline.Run")
	defer span.End()
	span.SetAttributes(attribute.String("source.path", sourcePath))

	metrics.ActiveRuns.Inc()
	defer metrics.ActiveRuns.Dec()

	info, err := os.Stat(sourcePath)
	if err != nil {
		return p.fail(StateIdle, evidence.NewError(evidence.KindIO, "stat source", err))
	}
	source := evidence.SourceFile{
		Path:       sourcePath,
		SizeBytes:  info.Size(),
		IngestedAt: time.Now().UTC(),
	}
	log := p.logger.With(zap.String("source", sourcePath))

	// Hashing
	if err := p.checkpoint(ctx, StateHashing, log); err != nil {
		return nil, err
	}
	var digest evidence.Digest
	err = p.runStage(ctx, StateHashing, func(sctx context.Context) error {
		var herr error
		digest, herr = p.hashFn(sctx, sourcePath)
		return herr
	})
	if err != nil {
		return p.fail(StateHashing, err)
	}
	log = log.With(zap.String("digest", string(digest)))

	// ExtractingMetadata
	if err := p.checkpoint(ctx, StateExtractingMetadata, log); err != nil {
		return nil, err
	}
	var meta evidence.MediaMetadata
	err = p.runStage(ctx, StateExtractingMetadata, func(sctx context.Context) error {
		var perr error
		meta, perr = p.prober.Probe(sctx, sourcePath)
		return perr
	})
	if err != nil {
		return p.fail(StateExtractingMetadata, err)
	}

	var duration float64
	if meta.DurationSec != nil {
		duration = *meta.DurationSec
	}

	// ExtractingFrames. The sequence is fully enumerated before analysis
	// starts so the extractor's partial-failure signal is observed before
	// committing to analysis work.
	if err := p.checkpoint(ctx, StateExtractingFrames, log); err != nil {
		return nil, err
	}
	framesDir := filepath.Join(workDir, "frames")
	var frames []evidence.Frame
	var partialErr error
	err = p.runStage(ctx, StateExtractingFrames, func(sctx context.Context) error {
		var xerr error
		frames, xerr = p.extract.ExtractFrames(sctx, sourcePath, duration, p.cfg.Sampling, framesDir)
		if evidence.IsKind(xerr, evidence.KindPartialExtraction) {
			partialErr = xerr
			return nil
		}
		return xerr
	})
	if err != nil {
		return p.fail(StateExtractingFrames, err)
	}
	metrics.FramesExtractedTotal.Add(float64(len(frames)))
	if partialErr != nil {
		log.Warn("frame extraction incomplete, continuing with extracted prefix",
			zap.Int("frames", len(frames)), zap.Error(partialErr))
	}

	// Analyzing
	if err := p.checkpoint(ctx, StateAnalyzing, log); err != nil {
		return nil, err
	}
	elaDir := filepath.Join(workDir, "ela")
	var pairs []evidence.FramePair
	var duplicates []evidence.DuplicateGroup
	var sceneChanges []float64
	err = p.runStage(ctx, StateAnalyzing, func(sctx context.Context) error {
		var aerr error
		pairs, duplicates, aerr = p.analyzeFrames(sctx, frames, elaDir)
		if aerr != nil {
			return aerr
		}
		sceneChanges = p.detectScenes(sctx, sourcePath, log)
		return nil
	})
	if err != nil {
		return p.fail(StateAnalyzing, err)
	}

	// Assembling
	if err := p.checkpoint(ctx, StateAssembling, log); err != nil {
		return nil, err
	}
	bundle := &evidence.Bundle{
		ID:              uuid.NewString(),
		Source:          source,
		Digest:          digest,
		Metadata:        meta,
		Frames:          pairs,
		SceneChanges:    sceneChanges,
		Duplicates:      duplicates,
		CreatedAt:       time.Now().UTC(),
		PipelineVersion: Version,
	}
	if partialErr != nil {
		bundle.Partial = true
		bundle.PartialReason = partialErr.Error()
	}
	err = p.runStage(ctx, StateAssembling, func(context.Context) error {
		return writeBundle(bundle, workDir)
	})
	if err != nil {
		return p.fail(StateAssembling, err)
	}

	log.Info("run complete",
		zap.String("bundle_id", bundle.ID),
		zap.Int("frames", len(bundle.Frames)),
		zap.Bool("partial", bundle.Partial),
	)
	metrics.RunsTotal.WithLabelValues(string(StateComplete)).Inc()
	return bundle, nil
}

// checkpoint is the cancellation point between stages; an in-flight run may
// be cancelled at stage boundaries, not mid-decode.
func (p *Pipeline) checkpoint(ctx context.Context, next State, log *zap.Logger) error {
	if err := evidence.FromContext(ctx); err != nil {
		_, serr := p.fail(next, err)
		return serr
	}
	log.Debug("entering stage", zap.String("stage", string(next)))
	return nil
}

func (p *Pipeline) fail(stage State, err error) (*evidence.Bundle, error) {
	kind, _ := evidence.KindOf(err)
	p.logger.Error("run failed",
		zap.String("stage", string(stage)),
		zap.String("kind", kind.String()),
		zap.Error(err),
	)
	metrics.RunsTotal.WithLabelValues(string(StateFailed)).Inc()
	return nil, &StageError{Stage: stage, Err: err}
}

// runStage applies the per-stage timeout, records duration, and retries
// transient failures a bounded number of times with exponential backoff.
// Decode and format errors are deterministic for a given input and are
// surfaced immediately.
func (p *Pipeline) runStage(ctx context.Context, stage State, op func(context.Context) error) error {
	tracer := otel.Tracer("pipeline")
	ctx, span := tracer.Start(ctx, string(stage))
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())
	}()

	bo := backoff.NewExponentialBackOff()
	if p.cfg.RetryBaseDelay > 0 {
		bo.InitialInterval = p.cfg.RetryBaseDelay
	}

	attempt := 0
	operation := func() error {
		attempt++
		sctx := ctx
		var cancel context.CancelFunc
		if p.cfg.StageTimeout > 0 {
			sctx, cancel = context.WithTimeout(ctx, p.cfg.StageTimeout)
			defer cancel()
		}

		err := op(sctx)
		if err == nil {
			return nil
		}
		if evidence.Retryable(err) && ctx.Err() == nil {
			metrics.StageRetriesTotal.WithLabelValues(string(stage)).Inc()
			p.logger.Warn("stage failed, will retry",
				zap.String("stage", string(stage)),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return err
		}
		return backoff.Permanent(err)
	}

	return backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(bo, uint64(p.cfg.MaxRetries)), ctx))
}

// analyzeFrames runs the per-frame analysis as a bounded parallel map. The
// assembled pair sequence follows frame index order regardless of completion
// order.
func (p *Pipeline) analyzeFrames(ctx context.Context, frames []evidence.Frame, elaDir string) ([]evidence.FramePair, []evidence.DuplicateGroup, error) {
	if len(frames) == 0 {
		return nil, nil, nil
	}
	if err := os.MkdirAll(elaDir, 0o755); err != nil {
		return nil, nil, evidence.NewError(evidence.KindIO, "create ela dir", err)
	}

	results := make([]evidence.ELAResult, len(frames))
	hashes := make([]string, len(frames))
	errs := make([]error, len(frames))

	sem := make(chan struct{}, p.cfg.Concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	done := 0

	for i, frame := range frames {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return nil, nil, evidence.FromContext(ctx)
		}

		wg.Add(1)
		go func(i int, frame evidence.Frame) {
			defer wg.Done()
			defer func() { <-sem }()

			elaPath := filepath.Join(elaDir, fmt.Sprintf("ela_%04d.png", frame.Index))
			maxDiff, err := p.analyzer.AnalyzeFile(frame.Path, elaPath)
			if err != nil {
				errs[i] = err
				return
			}
			results[i] = evidence.ELAResult{
				FrameIndex: frame.Index,
				Path:       elaPath,
				MaxDiff:    maxDiff,
			}

			if p.frameHash != nil {
				if h, herr := p.frameHash(frame.Path); herr == nil {
					hashes[i] = h
				}
			}

			if p.onProgress != nil {
				mu.Lock()
				done++
				p.onProgress(StateAnalyzing, done, len(frames))
				mu.Unlock()
			}
		}(i, frame)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, nil, err
		}
	}

	pairs := make([]evidence.FramePair, len(frames))
	hashByIndex := make(map[int]string, len(frames))
	for i, frame := range frames {
		pairs[i] = evidence.FramePair{Frame: frame, ELA: results[i]}
		if hashes[i] != "" {
			hashByIndex[frame.Index] = hashes[i]
		}
	}

	var duplicates []evidence.DuplicateGroup
	if len(hashByIndex) > 0 {
		duplicates = framehash.FindDuplicates(hashByIndex)
	}
	return pairs, duplicates, nil
}

func (p *Pipeline) detectScenes(ctx context.Context, sourcePath string, log *zap.Logger) []float64 {
	if p.scenes == nil {
		return nil
	}
	changes, err := p.scenes.Detect(ctx, sourcePath, p.cfg.SceneThreshold)
	if err != nil {
		// Scene analysis enriches the bundle but is not part of the
		// integrity contract; its failure does not fail the run.
		log.Warn("scene detection failed", zap.Error(err))
		return nil
	}
	return changes
}

// writeBundle persists bundle.json into the run's working directory. It runs
// only after assembly is complete, so a failed run leaves no bundle behind.
func writeBundle(b *evidence.Bundle, workDir string) error {
	data, err := b.Marshal()
	if err != nil {
		return evidence.NewError(evidence.KindIO, "marshal bundle", err)
	}
	path := filepath.Join(workDir, "bundle.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return evidence.NewError(evidence.KindIO, "write bundle", err)
	}
	return nil
}
