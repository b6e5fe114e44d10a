package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/ocgui/internal/doctor"
)

func TestRunDoctorCommand_TextOutput(t *testing.T) {
	home := setupHome(t)
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("log_level: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	code := runDoctorCommand(context.Background(), nil, &out)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d:\n%s", code, out.String())
	}
	if !strings.Contains(out.String(), "Database") || !strings.Contains(out.String(), "Schema v2") {
		t.Fatalf("expected database check in report:\n%s", out.String())
	}
}

func TestRunDoctorCommand_JSONOutput(t *testing.T) {
	setupHome(t)

	for _, flag := range []string{"-json", "--json"} {
		var out bytes.Buffer
		if code := runDoctorCommand(context.Background(), []string{flag}, &out); code != 0 {
			t.Fatalf("%s: got exit code %d, want 0", flag, code)
		}
		var diag doctor.Diagnosis
		if err := json.Unmarshal(out.Bytes(), &diag); err != nil {
			t.Fatalf("%s: output is not JSON: %v", flag, err)
		}
		if len(diag.Results) == 0 {
			t.Fatalf("%s: expected results", flag)
		}
	}
}

func TestRunDoctorCommand_BadFlag(t *testing.T) {
	setupHome(t)
	if code := runDoctorCommand(context.Background(), []string{"-verbose"}, &bytes.Buffer{}); code != 2 {
		t.Fatalf("expected exit 2 for unknown flag, got %d", code)
	}
}
