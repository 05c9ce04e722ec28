package renderer

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/coldforge/renderfarm/internal/store"
)

type recordingSink struct {
	mu     sync.Mutex
	states []store.TaskStatus
}

func (r *recordingSink) Update(_ string, newState store.TaskStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, newState)
}

func (r *recordingSink) last() store.TaskStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return ""
	}
	return r.states[len(r.states)-1]
}

// writeFakeBinary writes an executable shell script standing in for the
// render binary in tests. Its argument list is ignored; only its stdout
// and exit code matter to the supervisor.
func writeFakeBinary(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-blender.sh")
	script := "#!/bin/sh\n" + body
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("writing fake binary: %v", err)
	}
	return path
}

func newTestSupervisor(t *testing.T, blenderBin string) (*Supervisor, *recordingSink) {
	t.Helper()
	scratch := t.TempDir()
	blendFile := filepath.Join(scratch, "scene.blend")
	if err := os.WriteFile(blendFile, []byte("fake scene"), 0o644); err != nil {
		t.Fatalf("writing blend file: %v", err)
	}
	sink := &recordingSink{}
	sup, err := New("task-1", blendFile, scratch, blenderBin, 1, 1, sink, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sup, sink
}

func TestSupervisor_ConstructionTransitionsToScheduled(t *testing.T) {
	sup, sink := newTestSupervisor(t, writeFakeBinary(t, "exit 0\n"))
	if sup.State() != store.TaskScheduled {
		t.Fatalf("expected SCHEDULED after construction, got %q", sup.State())
	}
	if sink.last() != store.TaskScheduled {
		t.Fatalf("expected sink to observe SCHEDULED, got %q", sink.last())
	}
}

func TestSupervisor_RenderSuccess(t *testing.T) {
	bin := writeFakeBinary(t, "echo 'Fra:1 Mem:10M'\necho 'Saved: frame_0001.png'\nexit 0\n")
	sup, _ := newTestSupervisor(t, bin)

	sup.Render(context.Background())
	if !sup.waitForExit(5 * time.Second) {
		t.Fatal("render did not complete in time")
	}

	if got := sup.State(); got != store.TaskCompleted {
		t.Fatalf("expected COMPLETED, got %q", got)
	}
	if sup.Progress() == "" {
		t.Fatal("expected non-empty progress after successful render")
	}
}

func TestSupervisor_RenderFailure(t *testing.T) {
	bin := writeFakeBinary(t, "echo 'boom'\nexit 1\n")
	sup, _ := newTestSupervisor(t, bin)

	sup.Render(context.Background())
	if !sup.waitForExit(5 * time.Second) {
		t.Fatal("render did not complete in time")
	}

	if got := sup.State(); got != store.TaskFailedRender {
		t.Fatalf("expected FAILED(BLENDER), got %q", got)
	}
}

func TestSupervisor_RenderIsIdempotent(t *testing.T) {
	bin := writeFakeBinary(t, "sleep 0.2\nexit 0\n")
	sup, sink := newTestSupervisor(t, bin)

	sup.Render(context.Background())
	sup.Render(context.Background()) // second call while RUNNING must no-op
	sup.waitForExit(5 * time.Second)

	count := 0
	sink.mu.Lock()
	for _, s := range sink.states {
		if s == store.TaskRunning {
			count++
		}
	}
	sink.mu.Unlock()
	if count != 1 {
		t.Fatalf("expected exactly one RUNNING transition, observed %d", count)
	}
}

func TestSupervisor_Kill(t *testing.T) {
	bin := writeFakeBinary(t, "i=0\nwhile [ $i -lt 1000 ]; do echo line $i; sleep 0.05; i=$((i+1)); done\n")
	sup, _ := newTestSupervisor(t, bin)

	sup.Render(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for sup.State() != store.TaskRunning && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if sup.State() != store.TaskRunning {
		t.Fatal("render never reached RUNNING")
	}

	sup.Kill()
	sup.Kill() // idempotent: second kill must not panic or double-transition

	if !sup.waitForExit(3 * time.Second) {
		t.Fatal("killed render did not exit in time")
	}
	if got := sup.State(); got != store.TaskKilled {
		t.Fatalf("expected KILLED, got %q", got)
	}
}

func TestSupervisor_KillInTerminalStateIsNoop(t *testing.T) {
	sup, _ := newTestSupervisor(t, writeFakeBinary(t, "exit 0\n"))
	sup.Render(context.Background())
	sup.waitForExit(5 * time.Second)

	before := sup.State()
	sup.Kill()
	if sup.State() != before {
		t.Fatalf("kill in terminal state changed state from %q to %q", before, sup.State())
	}
}

func TestSupervisor_PackOutputAndDone(t *testing.T) {
	bin := writeFakeBinary(t, "exit 0\n")
	sup, _ := newTestSupervisor(t, bin)
	sup.Render(context.Background())
	sup.waitForExit(5 * time.Second)

	if err := sup.PackOutput(); err != nil {
		t.Fatalf("PackOutput: %v", err)
	}
	if got := sup.State(); got != store.TaskPacked {
		t.Fatalf("expected PACKED, got %q", got)
	}
	if sup.TarPath() == "" {
		t.Fatal("expected non-empty tar path after PackOutput")
	}
	if _, err := os.Stat(sup.TarPath()); err != nil {
		t.Fatalf("expected tar artifact on disk: %v", err)
	}

	sup.Done()
	if got := sup.State(); got != store.TaskDone {
		t.Fatalf("expected DONE, got %q", got)
	}

	// Done again must not regress state (idempotent terminal behaviour).
	sup.Done()
	if got := sup.State(); got != store.TaskDone {
		t.Fatalf("expected DONE to remain after second call, got %q", got)
	}
}

func TestSupervisor_Cleanup(t *testing.T) {
	bin := writeFakeBinary(t, "exit 0\n")
	sup, _ := newTestSupervisor(t, bin)
	sup.Render(context.Background())
	sup.waitForExit(5 * time.Second)
	if err := sup.PackOutput(); err != nil {
		t.Fatalf("PackOutput: %v", err)
	}

	if err := sup.Cleanup(); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := os.Stat(sup.blendFilePath); !os.IsNotExist(err) {
		t.Fatalf("expected blend file removed, stat err=%v", err)
	}
	if _, err := os.Stat(sup.outputDir); !os.IsNotExist(err) {
		t.Fatalf("expected output dir removed, stat err=%v", err)
	}
	if _, err := os.Stat(sup.TarPath()); !os.IsNotExist(err) {
		t.Fatalf("expected tar artifact removed, stat err=%v", err)
	}
}

func TestDetectDevice(t *testing.T) {
	// nvidia-smi is not expected to be on PATH in CI; this just exercises
	// the lookup path without asserting a specific device.
	switch detectDevice() {
	case DeviceCUDA, DeviceCPU:
	default:
		t.Fatalf("unexpected device %q", detectDevice())
	}
}
