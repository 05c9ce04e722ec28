// Package doctor runs startup diagnostics against the dependencies the
// render farm backend needs to operate: the database, the scratch
// directory, the render binary, and GPU capability.
package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/coldforge/renderfarm/internal/config"
	"github.com/coldforge/renderfarm/internal/store"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS   string `json:"os"`
	Arch string `json:"arch"`
	Go   string `json:"go_version"`
}

// OK reports whether every check in the diagnosis passed or warned — a
// FAIL anywhere means the process should not be expected to serve traffic.
func (d Diagnosis) OK() bool {
	for _, r := range d.Results {
		if r.Status == "FAIL" {
			return false
		}
	}
	return true
}

// Run executes every diagnostic check against the given configuration.
// db may be nil if the caller wants to skip the reachability probe (e.g.
// when called before Store.Open has succeeded).
func Run(ctx context.Context, cfg config.Config, db *store.Store) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:   runtime.GOOS,
			Arch: runtime.GOARCH,
			Go:   runtime.Version(),
		},
	}

	d.Results = append(d.Results,
		checkDatabase(ctx, db),
		checkScratchDir(cfg),
		checkBlenderBin(ctx, cfg),
		checkGPU(ctx),
	)

	return d
}

func checkDatabase(ctx context.Context, db *store.Store) CheckResult {
	if db == nil {
		return CheckResult{Name: "Database", Status: "WARN", Message: "no store handle supplied"}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.Ping(pingCtx); err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("ping failed: %v", err)}
	}
	return CheckResult{Name: "Database", Status: "PASS", Message: "connection reachable"}
}

func checkScratchDir(cfg config.Config) CheckResult {
	dir := cfg.Render.UploadFacility
	if dir == "" {
		return CheckResult{Name: "Scratch Directory", Status: "FAIL", Message: "UPLOAD_FACILITY not configured"}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return CheckResult{Name: "Scratch Directory", Status: "FAIL", Message: fmt.Sprintf("cannot create %s: %v", dir, err)}
	}
	probe := filepath.Join(dir, ".doctor_write_probe")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return CheckResult{Name: "Scratch Directory", Status: "FAIL", Message: fmt.Sprintf("%s not writable: %v", dir, err)}
	}
	os.Remove(probe)
	return CheckResult{Name: "Scratch Directory", Status: "PASS", Message: fmt.Sprintf("%s is writable", dir)}
}

func checkBlenderBin(ctx context.Context, cfg config.Config) CheckResult {
	bin := cfg.Render.BlenderBin
	if bin == "" {
		return CheckResult{Name: "Render Binary", Status: "FAIL", Message: "BLENDER_BIN not configured"}
	}
	if _, err := exec.LookPath(bin); err != nil {
		if _, statErr := os.Stat(bin); statErr != nil {
			return CheckResult{Name: "Render Binary", Status: "FAIL", Message: fmt.Sprintf("%s not found: %v", bin, err)}
		}
	}
	versionCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(versionCtx, bin, "--version")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return CheckResult{Name: "Render Binary", Status: "WARN", Message: fmt.Sprintf("%s present but --version failed: %v", bin, err)}
	}
	return CheckResult{Name: "Render Binary", Status: "PASS", Message: "binary responds to --version", Detail: firstLine(string(out))}
}

func checkGPU(ctx context.Context) CheckResult {
	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := exec.LookPath("nvidia-smi"); err != nil {
		return CheckResult{Name: "GPU Capability", Status: "WARN", Message: "nvidia-smi not found, will render on CPU"}
	}
	cmd := exec.CommandContext(lookupCtx, "nvidia-smi", "-L")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return CheckResult{Name: "GPU Capability", Status: "WARN", Message: fmt.Sprintf("nvidia-smi present but failed: %v", err)}
	}
	return CheckResult{Name: "GPU Capability", Status: "PASS", Message: "CUDA device detected", Detail: firstLine(string(out))}
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
