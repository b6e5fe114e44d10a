// Package audit keeps an append-only JSONL trail of destructive operations
// on recorded runs (deletes, retention prunes, imports).
package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basket/ocgui/internal/shared"
)

// FileName is the trail file under <home>/logs.
const FileName = "audit.jsonl"

type entry struct {
	Timestamp string `json:"timestamp"`
	Action    string `json:"action"`
	Subject   string `json:"subject"`
	Source    string `json:"source"`
	Detail    string `json:"detail,omitempty"`
}

var (
	mu    sync.Mutex
	file  *os.File
	count atomic.Int64
)

func Init(homeDir string) error {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		return nil
	}
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(logDir, FileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	file = f
	return nil
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// Count returns the number of entries recorded since startup.
func Count() int64 {
	return count.Load()
}

// Record appends one entry. It is a no-op until Init has been called.
func Record(action, subject, source, detail string) {
	detail = shared.Redact(detail)

	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return
	}
	count.Add(1)

	ev := entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Action:    action,
		Subject:   subject,
		Source:    source,
		Detail:    detail,
	}
	b, err := json.Marshal(ev)
	if err == nil {
		_, _ = file.Write(append(b, '\n'))
	}
}
