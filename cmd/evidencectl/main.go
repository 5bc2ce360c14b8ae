package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/your-org/evidenceflow/internal/evidence"
	"github.com/your-org/evidenceflow/internal/extractor"
	"github.com/your-org/evidenceflow/internal/pipeline"
	"github.com/your-org/evidenceflow/internal/probe"
	"github.com/your-org/evidenceflow/internal/scenes"
	"github.com/your-org/evidenceflow/pkg/logger"
)

var (
	flagOut            string
	flagInterval       float64
	flagMaxFrames      int
	flagStartOffset    float64
	flagConcurrency    int
	flagStageTimeout   time.Duration
	flagMaxRetries     int
	flagFFmpeg         string
	flagFFprobe        string
	flagSceneThreshold float64
	flagVerbose        bool
)

func main() {
	root := &cobra.Command{
		Use:          "evidencectl",
		Short:        "Run the evidence pipeline against local media files",
		SilenceUsage: true,
	}

	analyze := &cobra.Command{
		Use:   "analyze <video>",
		Short: "Produce an evidence bundle for a video file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(cmd.Context(), args[0])
		},
	}

	analyze.Flags().StringVarP(&flagOut, "out", "o", "", "output directory (default: <video>.evidence)")
	analyze.Flags().Float64Var(&flagInterval, "interval", 2, "seconds between sampled frames")
	analyze.Flags().IntVar(&flagMaxFrames, "max-frames", 20, "cap on extracted frames")
	analyze.Flags().Float64Var(&flagStartOffset, "start-offset", 0, "seconds of leading video to skip")
	analyze.Flags().IntVar(&flagConcurrency, "concurrency", 4, "parallel frame analyses")
	analyze.Flags().DurationVar(&flagStageTimeout, "stage-timeout", 5*time.Minute, "per-stage timeout")
	analyze.Flags().IntVar(&flagMaxRetries, "retries", 3, "retry budget for transient failures")
	analyze.Flags().StringVar(&flagFFmpeg, "ffmpeg", "ffmpeg", "ffmpeg binary")
	analyze.Flags().StringVar(&flagFFprobe, "ffprobe", "ffprobe", "ffprobe binary")
	analyze.Flags().Float64Var(&flagSceneThreshold, "scene-threshold", scenes.DefaultThreshold, "scene change sensitivity (0-1)")
	analyze.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "log pipeline internals")

	root.AddCommand(analyze)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func runAnalyze(ctx context.Context, videoPath string) error {
	outDir := flagOut
	if outDir == "" {
		outDir = videoPath + ".evidence"
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	logLevel := "error"
	if flagVerbose {
		logLevel = "debug"
	}
	logr, err := logger.New(logLevel)
	if err != nil {
		return err
	}
	defer logr.Sync() //nolint:errcheck

	var bar *progressbar.ProgressBar
	onProgress := func(state pipeline.State, completed, total int) {
		if state != pipeline.StateAnalyzing {
			return
		}
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetDescription("analyzing frames"),
				progressbar.OptionShowCount(),
			)
		}
		_ = bar.Set(completed)
	}

	pipe := pipeline.New(pipeline.Params{
		Prober:    probe.NewFFprobe(flagFFprobe),
		Extractor: extractor.New(flagFFmpeg, logr),
		Scenes:    scenes.NewDetector(flagFFmpeg),
		Logger:    logr,
		Config: pipeline.Config{
			Sampling: extractor.SamplingPolicy{
				IntervalSeconds: flagInterval,
				MaxFrames:       flagMaxFrames,
				StartOffset:     flagStartOffset,
			},
			Concurrency:    flagConcurrency,
			StageTimeout:   flagStageTimeout,
			MaxRetries:     flagMaxRetries,
			SceneThreshold: flagSceneThreshold,
		},
		OnProgress: onProgress,
	})

	bundle, err := pipe.Run(ctx, videoPath, outDir)
	if bar != nil {
		_ = bar.Finish()
		fmt.Println()
	}
	if err != nil {
		var stageErr *pipeline.StageError
		if errors.As(err, &stageErr) {
			kind, _ := evidence.KindOf(stageErr.Err)
			color.Red("failed at stage %s (%s): %v", stageErr.Stage, kind, stageErr.Err)
			return err
		}
		return err
	}

	printSummary(bundle, outDir)
	return nil
}

func printSummary(b *evidence.Bundle, outDir string) {
	bold := color.New(color.Bold)

	bold.Println("evidence bundle")
	fmt.Printf("  id:       %s\n", b.ID)
	fmt.Printf("  sha256:   %s\n", b.Digest)
	if b.Metadata.DurationSec != nil {
		fmt.Printf("  duration: %.2fs\n", *b.Metadata.DurationSec)
	}
	if res := b.Metadata.Resolution(); res != "" {
		fmt.Printf("  video:    %s", res)
		if b.Metadata.CodecName != nil {
			fmt.Printf(" (%s)", *b.Metadata.CodecName)
		}
		fmt.Println()
	}
	fmt.Printf("  frames:   %d\n", len(b.Frames))

	if b.Partial {
		color.Yellow("  partial:  %s", b.PartialReason)
	}
	if len(b.SceneChanges) > 0 {
		color.Cyan("  scene changes: %d detected", len(b.SceneChanges))
	}
	if len(b.Duplicates) > 0 {
		color.Yellow("  duplicate frame groups: %d", len(b.Duplicates))
	}

	for _, pair := range b.Frames {
		marker := ""
		if pair.ELA.MaxDiff > 60 {
			marker = color.YellowString("  <- high error level")
		}
		fmt.Printf("  frame %04d @ %6.2fs  ela max diff %3d%s\n",
			pair.Frame.Index, pair.Frame.TimestampSec, pair.ELA.MaxDiff, marker)
	}

	color.Green("bundle written to %s", filepath.Join(outDir, "bundle.json"))
}
