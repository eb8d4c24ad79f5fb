package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fpang/media-describe/internal/batch"
	"github.com/fpang/media-describe/internal/pipeline"
	"github.com/fpang/media-describe/internal/workspace"
)

var (
	flagProvider      string
	flagModel         string
	flagPromptStyle   string
	flagCustomPrompt  string
	flagSteps         []string
	flagOutput        string
	flagFrameInterval int
	flagDelayMS       int
	flagArchive       string
	flagNoMetadata    bool
)

var workflowCmd = &cobra.Command{
	Use:   "workflow <directory>",
	Short: "Run the full pipeline over a directory of media files",
	Long: `Run the media pipeline over a directory: discover media files, extract
video frames, convert HEIC/TIFF/BMP to JPEG, describe everything with an AI
vision model, and render an HTML report.

The pipeline is resumable. A status log under the output directory records
completed stages and described items; re-running the same provider, model,
and prompt style picks up where the previous run stopped. Per-item
description failures are reported but do not fail the run; only a stage
failure produces a non-zero exit.`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkflow,
}

func init() {
	f := workflowCmd.Flags()
	f.StringVarP(&flagProvider, "provider", "p", "", "vision provider (default from config)")
	f.StringVarP(&flagModel, "model", "m", "", "model id (default per provider)")
	f.StringVar(&flagPromptStyle, "prompt-style", "", "prompt style: detailed, concise, narrative, technical, artistic")
	f.StringVar(&flagCustomPrompt, "custom-prompt", "", "custom prompt text, overrides --prompt-style")
	f.StringSliceVar(&flagSteps, "steps", nil, "stages to run: extract, convert, describe, html (default all)")
	f.StringVarP(&flagOutput, "output", "o", "", "output directory (default <dir>/media-describe-output)")
	f.IntVar(&flagFrameInterval, "frame-interval", 0, "seconds between extracted video frames (default 5)")
	f.IntVar(&flagDelayMS, "delay-ms", 0, "milliseconds between provider calls (default from config)")
	f.StringVar(&flagArchive, "archive", "", "write a tar.zst bundle of the output to this path")
	f.BoolVar(&flagNoMetadata, "no-metadata", false, "omit EXIF/video facts from prompts")
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providerID := flagProvider
	if providerID == "" {
		providerID = cfg.DefaultProvider
	}
	promptStyle := flagPromptStyle
	if promptStyle == "" {
		promptStyle = cfg.DefaultPromptStyle
	}

	steps, err := parseSteps(flagSteps)
	if err != nil {
		return err
	}

	client, model, err := buildClient(ctx, cfg, providerID, flagModel)
	if err != nil {
		return err
	}

	delay := cfg.InterItemDelay()
	if flagDelayMS > 0 {
		delay = time.Duration(flagDelayMS) * time.Millisecond
	}

	orch := pipeline.New(client, workspace.New())
	run, err := orch.Execute(ctx, pipeline.Options{
		InputRoot:      args[0],
		OutputRoot:     flagOutput,
		Model:          model,
		PromptStyle:    promptStyle,
		CustomPrompt:   flagCustomPrompt,
		Steps:          steps,
		FrameInterval:  flagFrameInterval,
		InterItemDelay: delay,
		SkipMetadata:   flagNoMetadata,
		ArchivePath:    flagArchive,
		OnProgress:     printProgress(cmd),
	})
	if run != nil {
		printRun(cmd, run)
	}
	return err
}

// parseSteps validates the --steps values against the optional stage names.
func parseSteps(names []string) ([]pipeline.Stage, error) {
	valid := map[string]pipeline.Stage{
		string(pipeline.StageExtractFrames):  pipeline.StageExtractFrames,
		string(pipeline.StageConvertFormats): pipeline.StageConvertFormats,
		string(pipeline.StageDescribe):       pipeline.StageDescribe,
		string(pipeline.StageGenerateReport): pipeline.StageGenerateReport,
	}
	var steps []pipeline.Stage
	for _, name := range names {
		stage, ok := valid[name]
		if !ok {
			return nil, fmt.Errorf("unknown step %q (valid: extract, convert, describe, html)", name)
		}
		steps = append(steps, stage)
	}
	return steps, nil
}

// printProgress returns a ProgressFunc that writes one line per terminal
// item state.
func printProgress(cmd *cobra.Command) batch.ProgressFunc {
	return func(p batch.Progress) {
		if !p.State.Terminal() {
			return
		}
		cmd.Printf("[%d/%d] %-9s %s\n", p.Index, p.Total, p.State, p.Path)
	}
}

func printRun(cmd *cobra.Command, run *pipeline.Run) {
	cmd.Println()
	for _, rec := range run.Stages {
		if rec.Err != nil {
			cmd.Printf("%-10s %s: %v\n", rec.Stage, rec.Status, rec.Err)
		} else {
			cmd.Printf("%-10s %s\n", rec.Stage, rec.Status)
		}
	}
	s := run.DescribeSummary
	if s.Total() > 0 {
		cmd.Printf("\ndescribed: %d succeeded, %d failed, %d skipped, %d cancelled\n",
			s.Succeeded, s.Failed, s.Skipped, s.Cancelled)
		if s.AuthFailed {
			cmd.Printf("authentication failed for %s; remaining items were skipped\n", run.Provider)
		}
	}
}
