// Command renderfarm-doctor runs the same startup diagnostics the daemon
// runs on boot and prints a human-readable (or -json) report, without
// starting the HTTP API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/coldforge/renderfarm/internal/config"
	"github.com/coldforge/renderfarm/internal/doctor"
	"github.com/coldforge/renderfarm/internal/store"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	jsonOutput := false
	for _, arg := range args {
		if arg == "-json" || arg == "--json" {
			jsonOutput = true
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, cfgErr := config.Load()
	if cfgErr != nil {
		fmt.Fprintf(os.Stderr, "warning: config load failed, diagnosing with partial config: %v\n", cfgErr)
	}

	var db *store.Store
	if cfgErr == nil {
		if opened, err := store.Open(ctx, cfg.DB, nil, nil); err == nil {
			db = opened
			defer db.Close()
		}
	}

	diag := doctor.Run(ctx, cfg, db)

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(diag); err != nil {
			fmt.Fprintf(os.Stderr, "error encoding json: %v\n", err)
			return 1
		}
		if !diag.OK() {
			return 1
		}
		return 0
	}

	color := isatty.IsTerminal(os.Stdout.Fd())
	printReport(diag, color)
	if !diag.OK() {
		return 1
	}
	return 0
}

func printReport(diag doctor.Diagnosis, color bool) {
	fmt.Printf("renderfarm doctor report (%s)\n", diag.Timestamp.Format(time.RFC3339))
	fmt.Printf("system: %s/%s (%s)\n", diag.System.OS, diag.System.Arch, diag.System.Go)
	fmt.Println("---")

	for _, r := range diag.Results {
		label := r.Status
		if color {
			label = colorize(r.Status)
		}
		fmt.Printf("[%s] %-22s %s\n", label, r.Name, r.Message)
		if r.Detail != "" {
			fmt.Printf("       %s\n", r.Detail)
		}
	}
}

func colorize(status string) string {
	const (
		red    = "\x1b[31m"
		yellow = "\x1b[33m"
		green  = "\x1b[32m"
		reset  = "\x1b[0m"
	)
	switch status {
	case "FAIL":
		return red + status + reset
	case "WARN":
		return yellow + status + reset
	default:
		return green + status + reset
	}
}
