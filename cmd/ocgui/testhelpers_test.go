package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/basket/ocgui/internal/persistence"
)

// setupHome points OCGUI_HOME at a temp dir and returns it.
func setupHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("OCGUI_HOME", home)
	t.Setenv("OCGUI_DB_PATH", "")
	t.Setenv("OCGUI_RETENTION_DAYS", "")
	return home
}

// seedRuns writes runs into the store the CLI will open under home.
func seedRuns(t *testing.T, home string, runs ...persistence.Run) {
	t.Helper()
	store, err := persistence.Open(filepath.Join(home, "ocgui.db"), nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	for _, r := range runs {
		if err := store.AddRun(context.Background(), r); err != nil {
			t.Fatalf("add run %s: %v", r.ID, err)
		}
	}
}
