package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ncruces/zenity"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/media-describe/internal/batch"
	"github.com/fpang/media-describe/internal/mediafile"
	"github.com/fpang/media-describe/internal/prompts"
	"github.com/fpang/media-describe/internal/workspace"
)

var (
	flagBatchWorkspace string
	flagGUI            bool
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Describe the batch-marked items of a saved workspace",
	Long: `Describe every batch-marked item in a workspace document, sequentially,
against one provider. Items that already have a description for the same
provider, model, and prompt style are skipped. A failing item does not stop
the batch; Ctrl-C stops cleanly at the next item boundary.

With --gui, progress is shown in a desktop dialog whose cancel button stops
the batch the same way Ctrl-C does.`,
	RunE: runBatch,
}

func init() {
	f := batchCmd.Flags()
	f.StringVarP(&flagBatchWorkspace, "workspace", "w", "", "workspace document to process (required)")
	f.StringVarP(&flagProvider, "provider", "p", "", "vision provider (default from config)")
	f.StringVarP(&flagModel, "model", "m", "", "model id (default per provider)")
	f.StringVar(&flagPromptStyle, "prompt-style", "", "prompt style: detailed, concise, narrative, technical, artistic")
	f.StringVar(&flagCustomPrompt, "custom-prompt", "", "custom prompt text, overrides --prompt-style")
	f.IntVar(&flagDelayMS, "delay-ms", 0, "milliseconds between provider calls (default from config)")
	f.BoolVar(&flagGUI, "gui", false, "show a desktop progress dialog")
	_ = batchCmd.MarkFlagRequired("workspace")
}

func runBatch(cmd *cobra.Command, args []string) error {
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
	prompt, err := prompts.Resolve(promptStyle, flagCustomPrompt)
	if err != nil {
		return err
	}

	ws, err := workspace.Load(flagBatchWorkspace)
	if err != nil {
		return err
	}

	client, model, err := buildClient(ctx, cfg, providerID, flagModel)
	if err != nil {
		return err
	}

	tasks := markedTasks(ws, model, promptStyle, prompt)
	if len(tasks) == 0 {
		cmd.Println("no batch-marked items to describe")
		return nil
	}

	delay := cfg.InterItemDelay()
	if flagDelayMS > 0 {
		delay = time.Duration(flagDelayMS) * time.Millisecond
	}

	onProgress := printProgress(cmd)
	if flagGUI {
		gui, cleanup, err := guiProgress(ctx, stop, len(tasks), onProgress)
		if err != nil {
			return err
		}
		defer cleanup()
		onProgress = gui
	}

	runner := &batch.Runner{
		Client:     client,
		Delay:      delay,
		OnProgress: onProgress,
		SkipDone: func(t *batch.Task) bool {
			return ws.HasDescription(t.Path, client.Name(), t.Model, t.PromptStyle)
		},
	}
	summary := runner.Run(ctx, tasks)

	for _, t := range tasks {
		if t.State != batch.Succeeded {
			continue
		}
		result := workspace.NewDescriptionResult(
			t.Result.Text, client.Name(), t.Model, t.PromptStyle, t.CustomPrompt)
		if err := ws.AddDescription(t.Path, result); err != nil {
			log.Error().Str("path", t.Path).Err(err).Msg("Failed to record description")
		}
	}
	if ws.Modified() {
		if err := ws.Save(flagBatchWorkspace); err != nil {
			return err
		}
	}

	cmd.Printf("\n%d succeeded, %d failed, %d skipped, %d cancelled\n",
		summary.Succeeded, summary.Failed, summary.Skipped, summary.Cancelled)
	if summary.AuthFailed {
		return fmt.Errorf("authentication failed for %s", client.Name())
	}
	return nil
}

// markedTasks builds the task queue from the workspace's batch-marked
// describable items.
func markedTasks(ws *workspace.Workspace, model, promptStyle, prompt string) []*batch.Task {
	var tasks []*batch.Task
	for _, item := range ws.MarkedItems() {
		if item.ItemType != workspace.ItemImage && item.ItemType != workspace.ItemFrame {
			continue
		}
		mime, err := mediafile.MIMEType(item.FilePath)
		if err != nil {
			log.Warn().Str("path", item.FilePath).Err(err).Msg("Skipping item with unknown MIME type")
			continue
		}
		tasks = append(tasks, &batch.Task{
			Path:         item.FilePath,
			MIMEType:     mime,
			Model:        model,
			PromptStyle:  promptStyle,
			CustomPrompt: flagCustomPrompt,
			Prompt:       prompt,
			SystemPrompt: prompts.SystemPrompt,
		})
	}
	return tasks
}

// guiProgress wraps a progress callback with a zenity progress dialog. The
// dialog's cancel button stops the batch at the next item boundary, the same
// contract as Ctrl-C.
func guiProgress(ctx context.Context, cancel context.CancelFunc, total int, next batch.ProgressFunc) (batch.ProgressFunc, func(), error) {
	dlg, err := zenity.Progress(
		zenity.Title("Describing media"),
		zenity.MaxValue(total),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open progress dialog: %w", err)
	}

	go func() {
		select {
		case <-dlg.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	fn := func(p batch.Progress) {
		_ = dlg.Text(fmt.Sprintf("%d of %d: %s", p.Index, p.Total, p.Path))
		if p.State.Terminal() {
			_ = dlg.Value(p.Index)
		}
		next(p)
	}
	cleanup := func() {
		_ = dlg.Complete()
		_ = dlg.Close()
	}
	return fn, cleanup, nil
}
