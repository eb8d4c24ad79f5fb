package batch

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fpang/media-describe/internal/provider"
)

// scriptedClient returns canned outcomes per path and counts provider calls.
type scriptedClient struct {
	failures map[string]error
	calls    int
	onCall   func(n int)
}

func (s *scriptedClient) Name() string { return "scripted" }

func (s *scriptedClient) Describe(ctx context.Context, req provider.DescribeRequest) (*provider.Description, error) {
	s.calls++
	if s.onCall != nil {
		s.onCall(s.calls)
	}
	if err, ok := s.failures[req.ImagePath]; ok {
		return nil, err
	}
	return &provider.Description{
		Text:     "description of " + req.ImagePath,
		Provider: "scripted",
		Model:    req.Model,
	}, nil
}

func (s *scriptedClient) ListModels(ctx context.Context) ([]string, error) { return nil, nil }
func (s *scriptedClient) Probe(ctx context.Context) error                  { return nil }

func makeTasks(n int) []*Task {
	tasks := make([]*Task, n)
	for i := range tasks {
		tasks[i] = &Task{
			Path:        fmt.Sprintf("/img/%02d.jpg", i),
			MIMEType:    "image/jpeg",
			Model:       "test-model",
			PromptStyle: "detailed",
			Prompt:      "Describe this image.",
		}
	}
	return tasks
}

func TestRunAllSucceed(t *testing.T) {
	client := &scriptedClient{}
	tasks := makeTasks(3)

	var events []Progress
	r := &Runner{Client: client, OnProgress: func(p Progress) { events = append(events, p) }}
	summary := r.Run(context.Background(), tasks)

	assert.Equal(t, Summary{Succeeded: 3}, summary)
	assert.Equal(t, 3, client.calls)
	for _, task := range tasks {
		assert.Equal(t, Succeeded, task.State)
		require.NotNil(t, task.Result)
		assert.Equal(t, 1, task.Attempts)
	}

	// Every task emits a running event and a terminal event, in order.
	require.Len(t, events, 6)
	assert.Equal(t, 1, events[0].Index)
	assert.Equal(t, Running, events[0].State)
	assert.Equal(t, Succeeded, events[1].State)
	assert.Equal(t, 3, events[5].Index)
	assert.NotNil(t, events[5].Result)
}

func TestRunIsolatesFailures(t *testing.T) {
	tasks := makeTasks(4)
	client := &scriptedClient{failures: map[string]error{
		tasks[1].Path: provider.Errorf(provider.KindTransient, "scripted", "backend hiccup"),
	}}

	r := &Runner{Client: client}
	summary := r.Run(context.Background(), tasks)

	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 4, client.calls, "a failing item must not stop the queue")
	assert.Equal(t, Failed, tasks[1].State)
	assert.Equal(t, "transient", tasks[1].ErrKind)
	assert.Error(t, tasks[1].Err)
	assert.Equal(t, Succeeded, tasks[3].State)
}

func TestRunAuthShortCircuit(t *testing.T) {
	tasks := makeTasks(5)
	client := &scriptedClient{failures: map[string]error{
		tasks[1].Path: provider.Errorf(provider.KindAuth, "scripted", "invalid api key"),
	}}

	r := &Runner{Client: client}
	summary := r.Run(context.Background(), tasks)

	assert.True(t, summary.AuthFailed)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 3, summary.Skipped)
	assert.Equal(t, 2, client.calls, "no provider calls after the auth failure")
	for _, task := range tasks[2:] {
		assert.Equal(t, Skipped, task.State)
		assert.Equal(t, SkipAuthShortCircuit, task.ErrKind)
	}
}

func TestRunSkipsAlreadyDone(t *testing.T) {
	tasks := makeTasks(3)
	client := &scriptedClient{}

	r := &Runner{
		Client:   client,
		SkipDone: func(task *Task) bool { return task.Path == tasks[1].Path },
	}
	summary := r.Run(context.Background(), tasks)

	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 2, client.calls, "skipped items cost no provider call")
	assert.Equal(t, Skipped, tasks[1].State)
	assert.Equal(t, SkipAlreadyDescribed, tasks[1].ErrKind)
	assert.Equal(t, 0, tasks[1].Attempts)
}

func TestRunCancellationAtBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tasks := makeTasks(5)
	client := &scriptedClient{onCall: func(n int) {
		if n == 2 {
			cancel()
		}
	}}

	r := &Runner{Client: client}
	summary := r.Run(ctx, tasks)

	assert.Equal(t, 2, summary.Succeeded, "in-flight task runs to completion")
	assert.Equal(t, 3, summary.Cancelled)
	assert.Equal(t, 2, client.calls)
	assert.Equal(t, Succeeded, tasks[1].State)
	for _, task := range tasks[2:] {
		assert.Equal(t, Cancelled, task.State)
	}
	assert.Equal(t, 5, summary.Total())
}

func TestRunAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &scriptedClient{}
	tasks := makeTasks(2)
	summary := (&Runner{Client: client}).Run(ctx, tasks)

	assert.Equal(t, 2, summary.Cancelled)
	assert.Equal(t, 0, client.calls)
}

func TestRunStripsMarkdownFences(t *testing.T) {
	client := &fencedClient{}
	tasks := makeTasks(1)
	summary := (&Runner{Client: client}).Run(context.Background(), tasks)

	require.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, "a fenced description", tasks[0].Result.Text)
}

type fencedClient struct{}

func (f *fencedClient) Name() string { return "fenced" }
func (f *fencedClient) Describe(ctx context.Context, req provider.DescribeRequest) (*provider.Description, error) {
	return &provider.Description{Text: "```\na fenced description\n```"}, nil
}
func (f *fencedClient) ListModels(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fencedClient) Probe(ctx context.Context) error                  { return nil }

func TestTaskStateMonotonic(t *testing.T) {
	task := &Task{Path: "/a.jpg"}
	task.setState(Running)
	task.setState(Succeeded)
	task.setState(Failed)
	assert.Equal(t, Succeeded, task.State, "terminal state is never overwritten")

	assert.False(t, Pending.Terminal())
	assert.False(t, Running.Terminal())
	for _, s := range []State{Succeeded, Failed, Skipped, Cancelled} {
		assert.True(t, s.Terminal(), s.String())
	}
}
