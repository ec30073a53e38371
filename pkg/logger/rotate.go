package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// rotationPolicy bounds the audit trail on disk: maxBytes triggers a
// rollover, backups caps the number of rolled files, and maxAge prunes
// backups past the retention window.
type rotationPolicy struct {
	maxBytes int64
	backups  int
	maxAge   time.Duration
}

// rotatingWriter appends audit entries to a single file and rolls it
// over once the policy size would be exceeded. Rolled files are named
// path.1 through path.N, newest first.
type rotatingWriter struct {
	mu     sync.Mutex
	path   string
	policy rotationPolicy
	file   *os.File
	size   int64
}

func newRotatingWriter(path string, policy rotationPolicy) (*rotatingWriter, error) {
	if path == "" {
		return nil, errors.New("audit log path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	return &rotatingWriter{path: path, policy: policy}, nil
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.openCurrent(); err != nil {
		return 0, err
	}
	if w.policy.maxBytes > 0 && w.size+int64(len(p)) > w.policy.maxBytes {
		if err := w.rollover(); err != nil {
			return 0, err
		}
		if err := w.openCurrent(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *rotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.size = 0
	return err
}

// openCurrent lazily opens the active audit file and records its size
// so rollover decisions survive process restarts.
func (w *rotatingWriter) openCurrent() error {
	if w.file != nil {
		return nil
	}
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}
	w.file = file
	w.size = info.Size()
	return nil
}

// rollover closes the active file, shifts existing backups one slot
// down, moves the active file into slot 1, then prunes aged backups.
func (w *rotatingWriter) rollover() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	w.size = 0

	if w.policy.backups <= 0 {
		_ = os.Remove(w.path)
		return nil
	}
	for slot := w.policy.backups - 1; slot >= 1; slot-- {
		src := w.backupName(slot)
		if _, err := os.Stat(src); err == nil {
			_ = os.Rename(src, w.backupName(slot+1))
		}
	}
	if _, err := os.Stat(w.path); err == nil {
		_ = os.Rename(w.path, w.backupName(1))
	}
	w.pruneAged()
	return nil
}

func (w *rotatingWriter) pruneAged() {
	if w.policy.maxAge <= 0 {
		return
	}
	cutoff := time.Now().Add(-w.policy.maxAge)
	for slot := 1; slot <= w.policy.backups+1; slot++ {
		name := w.backupName(slot)
		info, err := os.Stat(name)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(name)
		}
	}
}

func (w *rotatingWriter) backupName(slot int) string {
	return fmt.Sprintf("%s.%d", w.path, slot)
}
