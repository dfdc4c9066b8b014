package gapfill

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"
)

// ResumeLog is the append-only record of entities a job has completed. It is loaded into
// memory on open and is authoritative over a fresh discovery result.
type ResumeLog struct {
	path string
	mu   sync.Mutex
	f    *os.File
	done *xsync.Map[int64, struct{}]
	// valid is the length of the log up to its last complete line
	valid int64
	torn  bool
}

// OpenResumeLog loads path (when it exists) and opens it for appending.
func OpenResumeLog(path string) (*ResumeLog, error) {
	r := &ResumeLog{path: path, done: xsync.NewMap[int64, struct{}]()}
	if err := r.load(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create resume dir: %w", err)
	}
	if r.torn {
		if err := os.Truncate(path, r.valid); err != nil {
			return nil, fmt.Errorf("repair resume log: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open resume log: %w", err)
	}
	r.f = f
	return r, nil
}

func (r *ResumeLog) load() error {
	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read resume log: %w", err)
	}
	lines := strings.Split(string(data), "\n")
	tail := lines[len(lines)-1]
	r.torn = tail != ""
	r.valid = int64(len(data) - len(tail))
	// the final element is either empty or a line torn by a crash mid-write
	for _, line := range lines[:len(lines)-1] {
		if id, err := strconv.ParseInt(strings.TrimSpace(line), 10, 64); err == nil {
			r.done.Store(id, struct{}{})
		}
	}
	return nil
}

// Path returns the file backing the log.
func (r *ResumeLog) Path() string { return r.path }

// Contains reports whether id was completed.
func (r *ResumeLog) Contains(id int64) bool {
	_, ok := r.done.Load(id)
	return ok
}

// Len returns the number of completed entities.
func (r *ResumeLog) Len() int { return r.done.Size() }

// Append durably records id as completed.
func (r *ResumeLog) Append(id int64) error {
	if _, loaded := r.done.LoadOrStore(id, struct{}{}); loaded {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.f.WriteString(strconv.FormatInt(id, 10) + "\n"); err != nil {
		return fmt.Errorf("append resume log: %w", err)
	}
	return r.f.Sync()
}

func (r *ResumeLog) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	return err
}
