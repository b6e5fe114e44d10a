package smoke

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func moduleRoot(t *testing.T) string {
	t.Helper()

	cmd := exec.Command("go", "env", "GOMOD")
	out, err := cmd.Output()
	if err != nil {
		t.Fatalf("go env GOMOD: %v", err)
	}
	gomod := strings.TrimSpace(string(out))
	if gomod == "" || gomod == os.DevNull {
		t.Fatalf("go env GOMOD returned %q; expected path to go.mod", gomod)
	}
	return filepath.Dir(gomod)
}

func buildBinary(t *testing.T) string {
	t.Helper()
	root := moduleRoot(t)
	outPath := filepath.Join(t.TempDir(), "ocgui")
	cmd := exec.Command("go", "build", "-o", outPath, "./cmd/ocgui")
	cmd.Dir = root
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		t.Fatalf("build binary: %v\n%s", err, buf.String())
	}
	return outPath
}

func TestSmoke_BuildsSingleBinary(t *testing.T) {
	bin := buildBinary(t)

	fi, err := os.Stat(bin)
	if err != nil {
		t.Fatalf("stat built binary: %v", err)
	}
	if fi.Size() <= 0 {
		t.Fatalf("built binary has unexpected size %d", fi.Size())
	}

	out, err := exec.Command(bin, "version").Output()
	if err != nil {
		t.Fatalf("ocgui version: %v", err)
	}
	if !strings.HasPrefix(strings.TrimSpace(string(out)), "v") {
		t.Fatalf("unexpected version output %q", out)
	}
}
