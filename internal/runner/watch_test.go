package runner

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/testwire-labs/testwire/pkg/core"
)

func TestWatchLoopCoalescesBursts(t *testing.T) {
	var analyzer stubAnalyzer
	engine, tree := newTestEngine(t, &analyzer)
	ws, file := seedWorkspace(t, tree)

	events := make(chan fsnotify.Event)
	errs := make(chan error)
	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()

	done := make(chan struct{})
	go func() {
		defer close(done)
		engine.watchLoop(ctx, core.RunRequest{
			Included: []*core.TestNode{file},
			Mode:     core.ModeRun,
		}, events, errs)
	}()

	// An editor save produces several events in quick succession.
	changed := filepath.Join(ws.URI, "test", "user_test.rb")
	for i := 0; i < 3; i++ {
		events <- fsnotify.Event{Name: changed, Op: fsnotify.Write}
	}

	require.Eventually(t, func() bool {
		return analyzer.calls() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Quiet period: no further runs.
	time.Sleep(3 * debounceWindow)
	assert.Equal(t, 1, analyzer.calls())

	cancelCtx()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watch loop did not stop on cancellation")
	}
}

func TestWatchLoopIgnoresNonTestFiles(t *testing.T) {
	var analyzer stubAnalyzer
	engine, tree := newTestEngine(t, &analyzer)
	ws, file := seedWorkspace(t, tree)

	events := make(chan fsnotify.Event)
	errs := make(chan error)
	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()

	done := make(chan struct{})
	go func() {
		defer close(done)
		engine.watchLoop(ctx, core.RunRequest{
			Included: []*core.TestNode{file},
			Mode:     core.ModeRun,
		}, events, errs)
	}()

	events <- fsnotify.Event{Name: filepath.Join(ws.URI, "test", "notes.md"), Op: fsnotify.Write}
	time.Sleep(3 * debounceWindow)
	assert.Equal(t, 0, analyzer.calls())

	cancelCtx()
	<-done
}

func TestRemoveEventDropsFileFromTree(t *testing.T) {
	var analyzer stubAnalyzer
	engine, tree := newTestEngine(t, &analyzer)
	_, file := seedWorkspace(t, tree)
	obs := newRecordingObserver()
	engine.Observers().Register(obs)

	path := file.URI
	require.NotNil(t, tree.FileNode(path))

	events := make(chan fsnotify.Event)
	errs := make(chan error)
	ctx, cancelCtx := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		engine.watchLoop(ctx, core.RunRequest{
			Included: []*core.TestNode{file},
			Mode:     core.ModeRun,
		}, events, errs)
	}()

	events <- fsnotify.Event{Name: path, Op: fsnotify.Remove}
	require.Eventually(t, func() bool {
		return tree.FileNode(path) == nil
	}, 2*time.Second, 10*time.Millisecond)

	cancelCtx()
	<-done
}
