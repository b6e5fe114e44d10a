package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/basket/ocgui/internal/config"
	"github.com/basket/ocgui/internal/persistence"
	"github.com/basket/ocgui/internal/retention"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Failed reports whether any check failed.
func (d Diagnosis) Failed() bool {
	for _, r := range d.Results {
		if r.Status == "FAIL" {
			return true
		}
	}
	return false
}

// Run executes all diagnostic checks.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkDatabase,
		checkPermissions,
		checkWatchPaths,
		checkAgentBinary,
		checkRetention,
	}

	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}

	return d
}

func checkConfig(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "Configuration not loaded"}
	}
	if cfg.NeedsSetup {
		return CheckResult{Name: "Config", Status: "WARN", Message: fmt.Sprintf("No config.yaml in %s (using defaults)", cfg.HomeDir)}
	}
	return CheckResult{Name: "Config", Status: "PASS", Message: fmt.Sprintf("Loaded from %s", config.ConfigPath(cfg.HomeDir))}
}

func checkDatabase(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil || cfg.DBPath == "" {
		return CheckResult{Name: "Database", Status: "SKIP", Message: "Config missing"}
	}

	store, err := persistence.Open(cfg.DBPath, nil)
	if err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("Open failed: %v", err), Detail: cfg.DBPath}
	}
	defer store.Close()

	version, err := store.SchemaVersion(ctx)
	if err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("Schema version unreadable: %v", err)}
	}
	if version != persistence.LatestVersion {
		return CheckResult{
			Name:    "Database",
			Status:  "FAIL",
			Message: fmt.Sprintf("Schema version %d, expected %d", version, persistence.LatestVersion),
		}
	}
	runs, err := store.CountRuns(ctx)
	if err != nil {
		return CheckResult{Name: "Database", Status: "FAIL", Message: fmt.Sprintf("Query failed: %v", err)}
	}

	return CheckResult{
		Name:    "Database",
		Status:  "PASS",
		Message: fmt.Sprintf("Schema v%d, %d runs", version, runs),
		Detail:  cfg.DBPath,
	}
}

func checkPermissions(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: "SKIP", Message: "Config missing"}
	}

	testFile := filepath.Join(cfg.HomeDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: "FAIL", Message: fmt.Sprintf("Home dir unwritable: %v", err)}
	}
	os.Remove(testFile)

	return CheckResult{Name: "Permissions", Status: "PASS", Message: "Home directory writable"}
}

func checkWatchPaths(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Watch Paths", Status: "SKIP", Message: "Config missing"}
	}
	if len(cfg.WatchPaths) == 0 {
		return CheckResult{Name: "Watch Paths", Status: "PASS", Message: "No watch paths configured"}
	}

	var missing []string
	for _, p := range cfg.WatchPaths {
		if _, err := os.Stat(p); err != nil {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return CheckResult{
			Name:    "Watch Paths",
			Status:  "WARN",
			Message: fmt.Sprintf("%d of %d watch paths missing", len(missing), len(cfg.WatchPaths)),
			Detail:  strings.Join(missing, ", "),
		}
	}
	return CheckResult{Name: "Watch Paths", Status: "PASS", Message: fmt.Sprintf("%d watch paths present", len(cfg.WatchPaths))}
}

// checkAgentBinary only resolves the binary; it is never executed.
func checkAgentBinary(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil || cfg.AgentBinary == "" {
		return CheckResult{Name: "Agent Binary", Status: "SKIP", Message: "Config missing"}
	}
	path, err := exec.LookPath(cfg.AgentBinary)
	if err != nil {
		return CheckResult{
			Name:    "Agent Binary",
			Status:  "WARN",
			Message: fmt.Sprintf("%s not found on PATH", cfg.AgentBinary),
			Detail:  "Runs can still be recorded; set agent_binary in config.yaml to the agent executable",
		}
	}
	return CheckResult{Name: "Agent Binary", Status: "PASS", Message: fmt.Sprintf("%s found", cfg.AgentBinary), Detail: path}
}

func checkRetention(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Retention", Status: "SKIP", Message: "Config missing"}
	}
	if cfg.Retention.MaxAgeDays <= 0 {
		return CheckResult{Name: "Retention", Status: "PASS", Message: "Disabled (runs kept forever)"}
	}
	next, err := retention.NextRunTime(cfg.Retention.Schedule, time.Now())
	if err != nil {
		return CheckResult{Name: "Retention", Status: "FAIL", Message: fmt.Sprintf("Invalid schedule %q: %v", cfg.Retention.Schedule, err)}
	}
	return CheckResult{
		Name:    "Retention",
		Status:  "PASS",
		Message: fmt.Sprintf("Runs older than %d days pruned on %q", cfg.Retention.MaxAgeDays, cfg.Retention.Schedule),
		Detail:  fmt.Sprintf("next run %s", next.Format(time.RFC3339)),
	}
}
