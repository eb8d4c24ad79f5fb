package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpang/media-describe/internal/prompts"
	"github.com/fpang/media-describe/internal/provider"
	"github.com/fpang/media-describe/internal/workspace"
)

// countingClient succeeds every Describe call and counts them.
type countingClient struct {
	calls        int
	failPath     string
	systemPrompt string
}

func (c *countingClient) Name() string { return "counting" }

func (c *countingClient) Describe(ctx context.Context, req provider.DescribeRequest) (*provider.Description, error) {
	c.calls++
	c.systemPrompt = req.SystemPrompt
	if c.failPath != "" && req.ImagePath == c.failPath {
		return nil, provider.Errorf(provider.KindTransient, "counting", "scripted failure")
	}
	return &provider.Description{
		Text:     "description of " + filepath.Base(req.ImagePath),
		Provider: "counting",
		Model:    req.Model,
	}, nil
}

func (c *countingClient) ListModels(ctx context.Context) ([]string, error) { return nil, nil }
func (c *countingClient) Probe(ctx context.Context) error                  { return nil }

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("fake"), 0o644))
	}
}

func baseOptions(input, output string) Options {
	return Options{
		InputRoot:   input,
		OutputRoot:  output,
		Model:       "test-model",
		PromptStyle: "detailed",
	}
}

func TestExecuteDescribesImages(t *testing.T) {
	input := t.TempDir()
	output := filepath.Join(t.TempDir(), "out")
	writeFiles(t, input, "a.jpg", "b.png", "c.webp", "notes.txt")

	client := &countingClient{}
	ws := workspace.New()
	run, err := New(client, ws).Execute(context.Background(), baseOptions(input, output))
	require.NoError(t, err)
	require.NotNil(t, run)

	assert.Equal(t, StatusCompleted, run.StageStatusOf(StageDiscover))
	assert.Equal(t, StatusSkippedAlreadyDone, run.StageStatusOf(StageExtractFrames), "no videos")
	assert.Equal(t, StatusSkippedAlreadyDone, run.StageStatusOf(StageConvertFormats), "no convertibles")
	assert.Equal(t, StatusCompleted, run.StageStatusOf(StageDescribe))
	assert.Equal(t, StatusCompleted, run.StageStatusOf(StageGenerateReport))
	assert.False(t, run.Failed())

	assert.Equal(t, 3, client.calls)
	assert.Equal(t, 3, run.DescribeSummary.Succeeded)
	assert.Equal(t, prompts.SystemPrompt, client.systemPrompt, "describe requests carry the system prompt")

	// Descriptions landed in the workspace, tagged with the run tuple.
	items := ws.DescribableItems()
	require.Len(t, items, 3)
	for _, item := range items {
		require.Len(t, item.Descriptions, 1, item.FilePath)
		assert.Equal(t, "counting", item.Descriptions[0].Provider)
		assert.Equal(t, "test-model", item.Descriptions[0].Model)
		assert.Equal(t, "detailed", item.Descriptions[0].PromptStyle)
	}

	// Artifacts on disk: workspace document, report, status log.
	for _, name := range []string{workspaceName, reportName, LogFileName} {
		_, err := os.Stat(filepath.Join(output, name))
		assert.NoError(t, err, name)
	}
}

func TestExecuteResumeSkipsDescribedItems(t *testing.T) {
	input := t.TempDir()
	output := filepath.Join(t.TempDir(), "out")
	writeFiles(t, input, "a.jpg", "b.jpg", "c.jpg")

	first := &countingClient{}
	_, err := New(first, workspace.New()).Execute(context.Background(), baseOptions(input, output))
	require.NoError(t, err)
	require.Equal(t, 3, first.calls)

	// Second run over the same output root with the same tuple: the status
	// log already records every item, so no provider calls happen even with
	// a fresh workspace.
	second := &countingClient{}
	run, err := New(second, workspace.New()).Execute(context.Background(), baseOptions(input, output))
	require.NoError(t, err)

	assert.Equal(t, 0, second.calls, "resume must not re-call the provider")
	assert.Equal(t, 3, run.DescribeSummary.Skipped)
	assert.Equal(t, 0, run.DescribeSummary.Succeeded)
	assert.Equal(t, StatusCompleted, run.StageStatusOf(StageDescribe))

	// The document on disk still holds every description from the first run;
	// a resume adopts the saved workspace rather than overwriting it with an
	// empty one.
	ws, err := workspace.Load(filepath.Join(output, workspaceName))
	require.NoError(t, err)
	described := 0
	for _, item := range ws.DescribableItems() {
		described += len(item.Descriptions)
	}
	assert.Equal(t, 3, described, "resume must not lose previously recorded descriptions")
}

func TestExecuteDescribesVideoFrames(t *testing.T) {
	input := t.TempDir()
	output := filepath.Join(t.TempDir(), "out")
	writeFiles(t, input, "clip.mp4", "a.jpg")

	// Frames are already on disk, so extraction reuses them instead of
	// invoking ffmpeg.
	frameDir := filepath.Join(output, framesDirName, "clip")
	require.NoError(t, os.MkdirAll(frameDir, 0o755))
	writeFiles(t, frameDir, "frame_0001.jpg", "frame_0002.jpg")

	client := &countingClient{}
	ws := workspace.New()
	opts := baseOptions(input, output)
	opts.SkipMetadata = true
	run, err := New(client, ws).Execute(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, run.StageStatusOf(StageExtractFrames))
	assert.Equal(t, 3, client.calls, "two frames and one image")
	assert.Equal(t, 3, run.DescribeSummary.Succeeded)

	videoPath := filepath.ToSlash(filepath.Join(input, "clip.mp4"))
	frames := 0
	for _, item := range ws.DescribableItems() {
		if item.ItemType != workspace.ItemFrame {
			continue
		}
		frames++
		assert.Equal(t, videoPath, item.ParentVideo)
		assert.Len(t, item.Descriptions, 1, item.FilePath)
	}
	assert.Equal(t, 2, frames)

	// A describe-only resume picks the frame items up from the saved
	// document without re-extracting, and skips them via the status log.
	second := &countingClient{}
	opts2 := baseOptions(input, output)
	opts2.Steps = []Stage{StageDescribe}
	opts2.SkipMetadata = true
	run2, err := New(second, workspace.New()).Execute(context.Background(), opts2)
	require.NoError(t, err)
	assert.Equal(t, 0, second.calls)
	assert.Equal(t, 3, run2.DescribeSummary.Skipped)
}

func TestExecuteDifferentTupleRedescribes(t *testing.T) {
	input := t.TempDir()
	output := filepath.Join(t.TempDir(), "out")
	writeFiles(t, input, "a.jpg")

	first := &countingClient{}
	_, err := New(first, workspace.New()).Execute(context.Background(), baseOptions(input, output))
	require.NoError(t, err)

	// A different prompt style is different work; nothing is skipped.
	second := &countingClient{}
	opts := baseOptions(input, output)
	opts.PromptStyle = "concise"
	run, err := New(second, workspace.New()).Execute(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, second.calls)
	assert.Equal(t, 1, run.DescribeSummary.Succeeded)
}

func TestExecuteIsolatesItemFailures(t *testing.T) {
	input := t.TempDir()
	output := filepath.Join(t.TempDir(), "out")
	writeFiles(t, input, "a.jpg", "b.jpg", "c.jpg")

	client := &countingClient{failPath: filepath.Join(input, "b.jpg")}
	run, err := New(client, workspace.New()).Execute(context.Background(), baseOptions(input, output))
	require.NoError(t, err, "per-item failures do not fail the run")

	assert.Equal(t, 2, run.DescribeSummary.Succeeded)
	assert.Equal(t, 1, run.DescribeSummary.Failed)
	assert.Equal(t, StatusCompleted, run.StageStatusOf(StageDescribe))
	assert.False(t, run.Failed())

	// Re-running retries only the failed item.
	retry := &countingClient{}
	run2, err := New(retry, workspace.New()).Execute(context.Background(), baseOptions(input, output))
	require.NoError(t, err)
	assert.Equal(t, 1, retry.calls)
	assert.Equal(t, 1, run2.DescribeSummary.Succeeded)
	assert.Equal(t, 2, run2.DescribeSummary.Skipped)
}

func TestExecuteStepSubset(t *testing.T) {
	input := t.TempDir()
	output := filepath.Join(t.TempDir(), "out")
	writeFiles(t, input, "a.jpg")

	client := &countingClient{}
	opts := baseOptions(input, output)
	opts.Steps = []Stage{StageDescribe}
	run, err := New(client, workspace.New()).Execute(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, run.StageStatusOf(StageDiscover), "discover always runs")
	assert.Equal(t, StatusCompleted, run.StageStatusOf(StageDescribe))
	assert.Equal(t, StatusSkippedAlreadyDone, run.StageStatusOf(StageGenerateReport))

	_, err = os.Stat(filepath.Join(output, reportName))
	assert.True(t, os.IsNotExist(err), "no report without the html step")

	_, err = os.Stat(filepath.Join(output, workspaceName))
	assert.NoError(t, err, "workspace is saved regardless of steps")
}

func TestExecuteUnknownPromptStyle(t *testing.T) {
	opts := baseOptions(t.TempDir(), filepath.Join(t.TempDir(), "out"))
	opts.PromptStyle = "florid"
	_, err := New(&countingClient{}, workspace.New()).Execute(context.Background(), opts)
	assert.Error(t, err, "a typo in the style fails before any work")
}

func TestExecuteCancellation(t *testing.T) {
	input := t.TempDir()
	output := filepath.Join(t.TempDir(), "out")
	writeFiles(t, input, "a.jpg", "b.jpg", "c.jpg")

	ctx, cancel := context.WithCancel(context.Background())
	client := &cancellingClient{cancel: cancel, after: 1}
	run, err := New(client, workspace.New()).Execute(ctx, baseOptions(input, output))
	require.Error(t, err, "cancellation aborts the run")

	assert.Equal(t, StatusFailed, run.StageStatusOf(StageDescribe))
	assert.True(t, run.Failed())
	assert.Equal(t, 1, run.DescribeSummary.Succeeded)
	assert.Equal(t, 2, run.DescribeSummary.Cancelled)

	// The completed item's description survived the cancellation.
	ws, loadErr := workspace.Load(filepath.Join(output, workspaceName))
	require.NoError(t, loadErr)
	described := 0
	for _, item := range ws.DescribableItems() {
		described += len(item.Descriptions)
	}
	assert.Equal(t, 1, described)
}

// cancellingClient cancels the run's context after a number of calls.
type cancellingClient struct {
	cancel context.CancelFunc
	after  int
	calls  int
}

func (c *cancellingClient) Name() string { return "cancelling" }

func (c *cancellingClient) Describe(ctx context.Context, req provider.DescribeRequest) (*provider.Description, error) {
	c.calls++
	if c.calls >= c.after {
		c.cancel()
	}
	return &provider.Description{Text: "ok", Provider: "cancelling", Model: req.Model}, nil
}

func (c *cancellingClient) ListModels(ctx context.Context) ([]string, error) { return nil, nil }
func (c *cancellingClient) Probe(ctx context.Context) error                  { return nil }
