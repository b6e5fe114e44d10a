package bus

// TopicFileChange is the well-known channel the GUI listens on for watched
// file changes.
const TopicFileChange = "file-change"

// Record store topics.
const (
	TopicRunAdded    = "run.added"
	TopicRunDeleted  = "run.deleted"
	TopicRunLogAdded = "run.log_added"
)

// FileChangeEvent is published for every filesystem event on a watched path.
type FileChangeEvent struct {
	Path        string // Path reported by the watcher
	Op          string // fsnotify operation, e.g. WRITE
	Description string // Free-form text forwarded to the GUI
}

// RunEvent is published when a run is added or deleted.
type RunEvent struct {
	RunID     string
	SessionID string
}

// RunLogEvent is published when a log line is appended to a run.
type RunLogEvent struct {
	RunID   string
	LogID   int64
	LogType string
}
