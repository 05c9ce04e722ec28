package scheduler_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coldforge/renderfarm/internal/renderer"
	"github.com/coldforge/renderfarm/internal/scheduler"
	"github.com/coldforge/renderfarm/internal/store"
)

// waitFor polls check at short intervals until it returns true or the
// deadline elapses, avoiding fixed sleeps that would make these tests
// flaky.
func waitFor(t *testing.T, deadline time.Duration, check func() bool) {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

type recordingSink struct {
	states []store.TaskStatus
}

func (r *recordingSink) Update(_ string, s store.TaskStatus) {
	r.states = append(r.states, s)
}

func writeFakeBinary(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-blender.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("writing fake binary: %v", err)
	}
	return path
}

func TestScheduler_DrivesScheduledThroughPacked(t *testing.T) {
	scratch := t.TempDir()
	blendFile := filepath.Join(scratch, "scene.blend")
	if err := os.WriteFile(blendFile, []byte("scene"), 0o644); err != nil {
		t.Fatalf("writing blend file: %v", err)
	}

	bin := writeFakeBinary(t, "echo 'Saved: frame_0001.png'\nexit 0\n")
	registry := renderer.NewTaskRegistry()
	sink := &recordingSink{}
	sup, err := renderer.New("task-1", blendFile, scratch, bin, 1, 1, sink, nil)
	if err != nil {
		t.Fatalf("renderer.New: %v", err)
	}
	registry.Put("task-1", sup)

	sched := scheduler.New(registry, nil)
	ctx := context.Background()
	sched.Start(ctx)
	defer sched.Stop()

	waitFor(t, 5*time.Second, func() bool {
		return sup.State() == store.TaskPacked
	})

	if sup.TarPath() == "" {
		t.Fatal("expected tar path to be set once PACKED")
	}
}

func TestScheduler_EmptyRegistryTickIsNoop(t *testing.T) {
	registry := renderer.NewTaskRegistry()
	sched := scheduler.New(registry, nil)
	ctx := context.Background()
	sched.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	sched.Stop() // must return promptly, not hang on an empty registry
}

func TestScheduler_StopWithoutStartDoesNotPanic(t *testing.T) {
	registry := renderer.NewTaskRegistry()
	sched := scheduler.New(registry, nil)
	sched.Stop() // must not panic when Start was never called
}
