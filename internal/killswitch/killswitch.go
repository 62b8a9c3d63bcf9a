// Package killswitch disables resets on a site while a marker file exists.
package killswitch

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// FileName is the marker created inside the state directory.
const FileName = "RESETS_DISABLED"

// ErrDisabled is returned when a reset is attempted while the switch is on.
var ErrDisabled = errors.New("resets are disabled on this site")

// DisabledError carries the reason the switch was activated with.
type DisabledError struct {
	Reason string
}

func (e *DisabledError) Error() string {
	if e.Reason == "" {
		return ErrDisabled.Error()
	}
	return ErrDisabled.Error() + ": " + e.Reason
}

func (e *DisabledError) Unwrap() error { return ErrDisabled }

type Switch struct {
	path string
}

func New(path string) *Switch {
	return &Switch{path: path}
}

// InDir returns the switch kept in stateDir.
func InDir(stateDir string) *Switch {
	return New(filepath.Join(stateDir, FileName))
}

func (s *Switch) Path() string {
	return s.path
}

func (s *Switch) IsActive() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Reason returns what Activate was given, or "" when the switch is off.
func (s *Switch) Reason() string {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Check returns a *DisabledError while the switch is on.
func (s *Switch) Check() error {
	if s == nil || !s.IsActive() {
		return nil
	}
	return &DisabledError{Reason: s.Reason()}
}

func (s *Switch) Activate(reason string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	return os.WriteFile(s.path, []byte(reason), 0644)
}

func (s *Switch) Clear() error {
	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
