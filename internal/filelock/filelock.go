// Package filelock serializes resets with an flock on the state directory.
// A second reset against the same state directory fails fast instead of
// waiting.
package filelock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// LockVersion is the current version of the lock metadata format.
const LockVersion = 2

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("a reset is already in progress")

// Lock represents an acquired file lock.
type Lock struct {
	Path string
	file *os.File
}

// Meta is the on-disk metadata written alongside a lock file.
type Meta struct {
	PID       int    `json:"pid"`
	Timestamp string `json:"timestamp"`
	Holder    string `json:"holder"`
	Version   int    `json:"lock_version"`
}

// HolderError carries the metadata of the process holding the lock.
type HolderError struct {
	Meta Meta
}

func (e *HolderError) Error() string {
	if e.Meta.PID == 0 {
		return ErrLocked.Error()
	}
	return fmt.Sprintf("%s (holder %s, PID %d, since %s)", ErrLocked, e.Meta.Holder, e.Meta.PID, e.Meta.Timestamp)
}

func (e *HolderError) Unwrap() error { return ErrLocked }

// Acquire takes the exclusive lock at path without blocking. holder names
// the run for anyone who finds the lock taken.
func Acquire(path, holder string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("mkdir for lock: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	fd := int(f.Fd())
	if err := syscall.Flock(fd, syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			meta, _ := ReadMeta(path)
			return nil, &HolderError{Meta: meta}
		}
		return nil, fmt.Errorf("flock: %w", err)
	}

	meta := Meta{
		PID:       os.Getpid(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Holder:    holder,
		Version:   LockVersion,
	}
	metaData, err := json.Marshal(meta)
	if err != nil {
		syscall.Flock(fd, syscall.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("marshal meta: %w", err)
	}
	if err := os.WriteFile(path+".meta", metaData, 0644); err != nil {
		syscall.Flock(fd, syscall.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("write meta: %w", err)
	}

	return &Lock{Path: path, file: f}, nil
}

// Release removes the flock, closes the file and deletes the .meta file.
// Releasing twice is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}

	fd := int(l.file.Fd())
	if err := syscall.Flock(fd, syscall.LOCK_UN); err != nil {
		return fmt.Errorf("flock LOCK_UN: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close lock file: %w", err)
	}
	l.file = nil

	// Best-effort removal of meta file.
	_ = os.Remove(l.Path + ".meta")
	return nil
}

// IsStale checks whether the lock at lockPath is stale by reading its .meta
// file and testing whether the recorded PID is still alive.
func IsStale(lockPath string) bool {
	meta, err := ReadMeta(lockPath)
	if err != nil {
		// No meta or unreadable meta: treat as stale.
		return true
	}

	proc, err := os.FindProcess(meta.PID)
	if err != nil {
		return true
	}

	// Signal 0 checks process existence without actually sending a signal.
	return proc.Signal(syscall.Signal(0)) != nil
}

// ReadMeta reads and parses the .meta JSON file associated with lockPath.
func ReadMeta(lockPath string) (Meta, error) {
	data, err := os.ReadFile(lockPath + ".meta")
	if err != nil {
		return Meta{}, fmt.Errorf("read meta: %w", err)
	}

	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, fmt.Errorf("unmarshal meta: %w", err)
	}
	return meta, nil
}
