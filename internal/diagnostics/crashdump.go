package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hugo-lorenzo-mato/actguard/internal/fsutil"
	"github.com/hugo-lorenzo-mato/actguard/internal/logging"
)

// CrashDump contains everything captured when actguard itself panics.
type CrashDump struct {
	Timestamp time.Time `json:"timestamp"`
	ProcessID int       `json:"process_id"`
	GoVersion string    `json:"go_version"`
	GOOS      string    `json:"goos"`
	GOARCH    string    `json:"goarch"`

	PanicValue string `json:"panic_value"`
	StackTrace string `json:"stack_trace,omitempty"`

	Resources *SystemMetrics `json:"resources,omitempty"`

	RunID       string   `json:"run_id,omitempty"`
	CommandPath string   `json:"command_path,omitempty"`
	CommandArgs []string `json:"command_args,omitempty"`
	WorkDir     string   `json:"work_dir,omitempty"`

	RedactedEnv map[string]string `json:"redacted_env,omitempty"`
}

// CommandContext identifies the run in progress when a panic happened.
type CommandContext struct {
	RunID   string
	Path    string
	Args    []string
	WorkDir string
}

// CrashDumpWriter persists crash dumps to a directory, keeping the newest
// maxFiles.
type CrashDumpWriter struct {
	dir        string
	maxFiles   int
	includeEnv bool
	logger     *logging.Logger
	collector  Collector

	currentCmd atomic.Pointer[CommandContext]

	mu sync.Mutex
}

// NewCrashDumpWriter creates a crash dump writer. collector may be nil.
func NewCrashDumpWriter(dir string, maxFiles int, includeEnv bool, logger *logging.Logger, collector Collector) *CrashDumpWriter {
	if maxFiles <= 0 {
		maxFiles = 10
	}
	if dir == "" {
		dir = filepath.Join(".actguard", "crashdumps")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &CrashDumpWriter{
		dir:        dir,
		maxFiles:   maxFiles,
		includeEnv: includeEnv,
		logger:     logger,
		collector:  collector,
	}
}

// SetCurrentCommand records the run in progress.
func (w *CrashDumpWriter) SetCurrentCommand(ctx *CommandContext) {
	w.currentCmd.Store(ctx)
}

// ClearCurrentCommand forgets the run in progress.
func (w *CrashDumpWriter) ClearCurrentCommand() {
	w.currentCmd.Store(nil)
}

// WriteCrashDump writes a dump for panicValue and returns its path.
func (w *CrashDumpWriter) WriteCrashDump(panicValue any) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	sanitizer := w.logger.Sanitizer()
	dump := CrashDump{
		Timestamp:  time.Now().UTC(),
		ProcessID:  os.Getpid(),
		GoVersion:  runtime.Version(),
		GOOS:       runtime.GOOS,
		GOARCH:     runtime.GOARCH,
		PanicValue: sanitizer.Sanitize(fmt.Sprintf("%v", panicValue)),
		StackTrace: string(debug.Stack()),
	}

	if w.collector != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		m := w.collector.Collect(ctx)
		cancel()
		dump.Resources = &m
	}

	if cmd := w.currentCmd.Load(); cmd != nil {
		dump.RunID = cmd.RunID
		dump.CommandPath = cmd.Path
		dump.CommandArgs = sanitizer.SanitizeArgs(cmd.Args)
		dump.WorkDir = cmd.WorkDir
	}

	if w.includeEnv {
		dump.RedactedEnv = redactEnvironment(os.Environ())
	}

	filename := fmt.Sprintf("crash-%s.json", dump.Timestamp.Format("2006-01-02T15-04-05.000"))
	path := filepath.Join(w.dir, filename)

	data, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling crash dump: %w", err)
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o600); err != nil {
		return "", fmt.Errorf("writing crash dump: %w", err)
	}

	_ = w.cleanupOldDumps()
	return path, nil
}

// RecoverAndReturn recovers a panic, writes a dump and turns the panic into
// an error. Usage: defer writer.RecoverAndReturn(&err)
//
//nolint:gocritic // ptrToRefParam: errPtr must be a pointer to modify the caller's error variable
func (w *CrashDumpWriter) RecoverAndReturn(errPtr *error) {
	r := recover()
	if r == nil {
		return
	}
	path, dumpErr := w.WriteCrashDump(r)
	if dumpErr != nil {
		w.logger.Error("failed to write crash dump", "error", dumpErr, "panic", r)
		*errPtr = fmt.Errorf("actguard panicked: %v", r)
		return
	}
	w.logger.Error("crash dump written after panic", "path", path, "panic", r)
	*errPtr = fmt.Errorf("actguard panicked: %v (dump: %s)", r, path)
}

func (w *CrashDumpWriter) cleanupOldDumps() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}

	var dumps []os.DirEntry
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "crash-") && strings.HasSuffix(e.Name(), ".json") {
			dumps = append(dumps, e)
		}
	}
	// names embed the timestamp
	sort.Slice(dumps, func(i, j int) bool { return dumps[i].Name() < dumps[j].Name() })

	for len(dumps) > w.maxFiles {
		path := filepath.Join(w.dir, dumps[0].Name())
		if err := os.Remove(path); err != nil {
			w.logger.Warn("failed to remove old crash dump", "path", path, "error", err)
		}
		dumps = dumps[1:]
	}
	return nil
}

var sensitiveEnvSubstrings = []string{
	"TOKEN", "KEY", "SECRET", "PASSWORD", "CREDENTIAL",
	"AUTH", "PRIVATE", "APIKEY",
}

func redactEnvironment(environ []string) map[string]string {
	result := make(map[string]string, len(environ))
	for _, env := range environ {
		key, value, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		upper := strings.ToUpper(key)
		for _, s := range sensitiveEnvSubstrings {
			if strings.Contains(upper, s) {
				value = "[REDACTED]"
				break
			}
		}
		result[key] = value
	}
	return result
}
