package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/your-org/evidenceflow/internal/evidence"
	"github.com/your-org/evidenceflow/internal/extractor"
	"github.com/your-org/evidenceflow/internal/hasher"
)

type stubProber struct {
	mu       sync.Mutex
	failures int
	calls    int
	err      error
	duration float64
}

func (s *stubProber) Probe(ctx context.Context, path string) (evidence.MediaMetadata, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return evidence.MediaMetadata{}, s.err
	}
	if s.calls <= s.failures {
		return evidence.MediaMetadata{}, evidence.NewError(evidence.KindProbeUnavailable, "probe down", nil)
	}
	d := s.duration
	return evidence.MediaMetadata{DurationSec: &d}, nil
}

type stubExtractor struct {
	frames     int
	partialErr bool
	err        error
}

func (s *stubExtractor) ExtractFrames(ctx context.Context, videoPath string, durationSec float64, policy extractor.SamplingPolicy, outDir string) ([]evidence.Frame, error) {
	if s.err != nil {
		return nil, s.err
	}
	frames := make([]evidence.Frame, s.frames)
	for i := range frames {
		frames[i] = evidence.Frame{
			Index:        i,
			TimestampSec: float64(i) * policy.IntervalSeconds,
			Path:         filepath.Join(outDir, fmt.Sprintf("frame_%04d.png", i)),
		}
	}
	if s.partialErr {
		return frames, evidence.NewError(evidence.KindPartialExtraction,
			fmt.Sprintf("decoder failed after %d frames", s.frames), nil)
	}
	return frames, nil
}

type stubAnalyzer struct {
	err     error
	perCall func(srcPath string)
}

func (s *stubAnalyzer) AnalyzeFile(srcPath, dstPath string) (int, error) {
	if s.perCall != nil {
		s.perCall(srcPath)
	}
	if s.err != nil {
		return 0, s.err
	}
	return 42, nil
}

func writeSource(t *testing.T) (string, string) {
	t.Helper()
	workDir := t.TempDir()
	sourcePath := filepath.Join(workDir, "clip.mp4")
	require.NoError(t, os.WriteFile(sourcePath, []byte("fake video bytes"), 0o644))
	return sourcePath, workDir
}

func newTestPipeline(t *testing.T, p Params) *Pipeline {
	t.Helper()
	if p.Analyzer == nil {
		p.Analyzer = &stubAnalyzer{}
	}
	if p.FrameHash == nil {
		p.FrameHash = func(path string) (string, error) { return "", nil }
	}
	p.Logger = zap.NewNop()
	if p.Config.RetryBaseDelay == 0 {
		p.Config.RetryBaseDelay = time.Millisecond
	}
	if p.Config.MaxRetries == 0 {
		p.Config.MaxRetries = 3
	}
	return New(p)
}

func TestRunComplete(t *testing.T) {
	sourcePath, workDir := writeSource(t)
	prober := &stubProber{duration: 10}

	pipe := newTestPipeline(t, Params{
		Prober:    prober,
		Extractor: &stubExtractor{frames: 5},
		Config:    Config{Concurrency: 2, Sampling: extractor.SamplingPolicy{IntervalSeconds: 2, MaxFrames: 10}},
	})

	bundle, err := pipe.Run(context.Background(), sourcePath, workDir)
	require.NoError(t, err)

	assert.False(t, bundle.Partial)
	assert.Equal(t, Version, bundle.PipelineVersion)
	assert.NotEmpty(t, bundle.ID)
	require.Len(t, bundle.Frames, 5)

	wantDigest, err := hasher.ComputeDigest(context.Background(), sourcePath)
	require.NoError(t, err)
	assert.Equal(t, wantDigest, bundle.Digest)

	// The assembled bundle is persisted in full.
	data, err := os.ReadFile(filepath.Join(workDir, "bundle.json"))
	require.NoError(t, err)
	restored, err := evidence.UnmarshalBundle(data)
	require.NoError(t, err)
	assert.Equal(t, bundle.Digest, restored.Digest)
	assert.Len(t, restored.Frames, 5)
}

func TestRunPairsFollowFrameIndexOrder(t *testing.T) {
	sourcePath, workDir := writeSource(t)

	// Stagger completions so later frames finish first.
	analyzer := &stubAnalyzer{perCall: func(srcPath string) {
		if filepath.Base(srcPath) < "frame_0004.png" {
			time.Sleep(20 * time.Millisecond)
		}
	}}

	pipe := newTestPipeline(t, Params{
		Prober:    &stubProber{duration: 20},
		Extractor: &stubExtractor{frames: 8},
		Analyzer:  analyzer,
		Config:    Config{Concurrency: 4, Sampling: extractor.SamplingPolicy{IntervalSeconds: 2}},
	})

	bundle, err := pipe.Run(context.Background(), sourcePath, workDir)
	require.NoError(t, err)

	require.Len(t, bundle.Frames, 8)
	for i, pair := range bundle.Frames {
		assert.Equal(t, i, pair.Frame.Index)
		assert.Equal(t, i, pair.ELA.FrameIndex)
	}
}

func TestRunProbeRetriesThenSucceeds(t *testing.T) {
	sourcePath, workDir := writeSource(t)
	prober := &stubProber{failures: 2, duration: 4}

	pipe := newTestPipeline(t, Params{
		Prober:    prober,
		Extractor: &stubExtractor{frames: 2},
		Config:    Config{Concurrency: 1, MaxRetries: 3, Sampling: extractor.SamplingPolicy{IntervalSeconds: 2}},
	})

	bundle, err := pipe.Run(context.Background(), sourcePath, workDir)
	require.NoError(t, err)

	assert.Equal(t, 3, prober.calls)
	require.NotNil(t, bundle.Metadata.DurationSec)
	assert.Equal(t, 4.0, *bundle.Metadata.DurationSec)
}

func TestRunProbeFatalNotRetried(t *testing.T) {
	sourcePath, workDir := writeSource(t)
	prober := &stubProber{err: evidence.NewError(evidence.KindUnsupportedFormat, "not media", nil)}

	pipe := newTestPipeline(t, Params{
		Prober:    prober,
		Extractor: &stubExtractor{frames: 2},
		Config:    Config{Concurrency: 1, MaxRetries: 3},
	})

	_, err := pipe.Run(context.Background(), sourcePath, workDir)
	require.Error(t, err)

	assert.Equal(t, 1, prober.calls, "format errors are deterministic and must not be retried")

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StateExtractingMetadata, stageErr.Stage)
	assert.True(t, evidence.IsKind(stageErr.Err, evidence.KindUnsupportedFormat))

	assert.NoFileExists(t, filepath.Join(workDir, "bundle.json"))
}

func TestRunRetriesExhausted(t *testing.T) {
	sourcePath, workDir := writeSource(t)
	prober := &stubProber{failures: 100}

	pipe := newTestPipeline(t, Params{
		Prober:    prober,
		Extractor: &stubExtractor{frames: 2},
		Config:    Config{Concurrency: 1, MaxRetries: 2},
	})

	_, err := pipe.Run(context.Background(), sourcePath, workDir)
	require.Error(t, err)

	// First attempt plus two retries.
	assert.Equal(t, 3, prober.calls)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.True(t, evidence.IsKind(stageErr.Err, evidence.KindProbeUnavailable))
}

func TestRunPartialExtractionYieldsFlaggedBundle(t *testing.T) {
	sourcePath, workDir := writeSource(t)

	pipe := newTestPipeline(t, Params{
		Prober:    &stubProber{duration: 30},
		Extractor: &stubExtractor{frames: 3, partialErr: true},
		Config:    Config{Concurrency: 2, Sampling: extractor.SamplingPolicy{IntervalSeconds: 2}},
	})

	bundle, err := pipe.Run(context.Background(), sourcePath, workDir)
	require.NoError(t, err, "partial extraction is a flagged bundle, not a failure")

	assert.True(t, bundle.Partial)
	assert.Contains(t, bundle.PartialReason, "after 3 frames")
	require.Len(t, bundle.Frames, 3)
	for i, pair := range bundle.Frames {
		assert.Equal(t, i, pair.Frame.Index)
		assert.NotEmpty(t, pair.ELA.Path, "every kept frame carries a valid analysis result")
	}

	assert.FileExists(t, filepath.Join(workDir, "bundle.json"))
}

func TestRunDecodeFailureFailsRun(t *testing.T) {
	sourcePath, workDir := writeSource(t)

	pipe := newTestPipeline(t, Params{
		Prober:    &stubProber{duration: 30},
		Extractor: &stubExtractor{err: evidence.NewError(evidence.KindDecode, "stream corrupt", nil)},
		Config:    Config{Concurrency: 2},
	})

	_, err := pipe.Run(context.Background(), sourcePath, workDir)
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StateExtractingFrames, stageErr.Stage)
	assert.True(t, evidence.IsKind(stageErr.Err, evidence.KindDecode))
	assert.NoFileExists(t, filepath.Join(workDir, "bundle.json"))
}

func TestRunAnalyzerFailureFailsRun(t *testing.T) {
	sourcePath, workDir := writeSource(t)

	pipe := newTestPipeline(t, Params{
		Prober:    &stubProber{duration: 10},
		Extractor: &stubExtractor{frames: 2},
		Analyzer:  &stubAnalyzer{err: evidence.NewError(evidence.KindUnsupportedImage, "bad pixel format", nil)},
		Config:    Config{Concurrency: 2, Sampling: extractor.SamplingPolicy{IntervalSeconds: 2}},
	})

	_, err := pipe.Run(context.Background(), sourcePath, workDir)
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StateAnalyzing, stageErr.Stage)
	assert.NoFileExists(t, filepath.Join(workDir, "bundle.json"))
}

func TestRunCancelledBeforeFirstStage(t *testing.T) {
	sourcePath, workDir := writeSource(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pipe := newTestPipeline(t, Params{
		Prober:    &stubProber{duration: 10},
		Extractor: &stubExtractor{frames: 2},
		Config:    Config{Concurrency: 1},
	})

	_, err := pipe.Run(ctx, sourcePath, workDir)
	require.Error(t, err)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.True(t, evidence.IsKind(stageErr.Err, evidence.KindCancelled))
	assert.NoFileExists(t, filepath.Join(workDir, "bundle.json"))
}

func TestRunEmptyFrameSequence(t *testing.T) {
	sourcePath, workDir := writeSource(t)

	pipe := newTestPipeline(t, Params{
		Prober:    &stubProber{duration: 1},
		Extractor: &stubExtractor{frames: 0},
		Config:    Config{Concurrency: 1, Sampling: extractor.SamplingPolicy{IntervalSeconds: 2, StartOffset: 30}},
	})

	bundle, err := pipe.Run(context.Background(), sourcePath, workDir)
	require.NoError(t, err, "a policy that selects no frames is not an error")
	assert.Empty(t, bundle.Frames)
	assert.False(t, bundle.Partial)
}

func TestRunGroupsDuplicateFrames(t *testing.T) {
	sourcePath, workDir := writeSource(t)

	pipe := newTestPipeline(t, Params{
		Prober:    &stubProber{duration: 10},
		Extractor: &stubExtractor{frames: 4},
		FrameHash: func(path string) (string, error) {
			// Frames 1 and 3 share content.
			switch filepath.Base(path) {
			case "frame_0001.png", "frame_0003.png":
				return "dup", nil
			}
			return filepath.Base(path), nil
		},
		Config: Config{Concurrency: 2, Sampling: extractor.SamplingPolicy{IntervalSeconds: 2}},
	})

	bundle, err := pipe.Run(context.Background(), sourcePath, workDir)
	require.NoError(t, err)

	require.Len(t, bundle.Duplicates, 1)
	assert.Equal(t, []int{1, 3}, bundle.Duplicates[0].FrameIndices)
}

func TestRunReportsProgress(t *testing.T) {
	sourcePath, workDir := writeSource(t)

	var mu sync.Mutex
	var seen []int
	pipe := newTestPipeline(t, Params{
		Prober:    &stubProber{duration: 10},
		Extractor: &stubExtractor{frames: 5},
		OnProgress: func(state State, completed, total int) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, StateAnalyzing, state)
			assert.Equal(t, 5, total)
			seen = append(seen, completed)
		},
		Config: Config{Concurrency: 3, Sampling: extractor.SamplingPolicy{IntervalSeconds: 2}},
	})

	_, err := pipe.Run(context.Background(), sourcePath, workDir)
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3, 4, 5}, seen)
}
