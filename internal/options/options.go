// Package options is the key-value persistence accessor for site settings.
// Transients are stored the way the site platform stores them: the value in
// "_transient_<name>" and its unix expiry in "_transient_timeout_<name>".
package options

import (
	"strconv"
	"sync"
	"time"
)

const (
	TransientPrefix        = "_transient_"
	TransientTimeoutPrefix = "_transient_timeout_"
)

// Store reads and writes named site options.
type Store interface {
	// Get returns the stored value, or def when the option does not exist.
	Get(name, def string) (string, error)
	Set(name, value string) error
	Delete(name string) error
	// GetTransient returns def when the transient is missing or expired.
	GetTransient(name, def string) (string, error)
	// SetTransient stores value until ttl elapses. A ttl of zero never expires.
	SetTransient(name, value string, ttl time.Duration) error
}

// Memory is an in-process Store. It is safe for concurrent use.
type Memory struct {
	mu   sync.Mutex
	vals map[string]string
	Now  func() time.Time
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{vals: make(map[string]string), Now: time.Now}
}

func (m *Memory) Get(name, def string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.vals[name]; ok {
		return v, nil
	}
	return def, nil
}

func (m *Memory) Set(name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[name] = value
	return nil
}

func (m *Memory) Delete(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.vals, name)
	return nil
}

func (m *Memory) GetTransient(name, def string) (string, error) {
	return getTransient(m, m.Now(), name, def)
}

func (m *Memory) SetTransient(name, value string, ttl time.Duration) error {
	return setTransient(m, m.Now(), name, value, ttl)
}

// Has reports whether name is set.
func (m *Memory) Has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.vals[name]
	return ok
}

// Len returns the number of stored options.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.vals)
}

func getTransient(s Store, now time.Time, name, def string) (string, error) {
	timeout, err := s.Get(TransientTimeoutPrefix+name, "")
	if err != nil {
		return def, err
	}
	if timeout != "" {
		exp, err := strconv.ParseInt(timeout, 10, 64)
		if err == nil && exp <= now.Unix() {
			_ = s.Delete(TransientPrefix + name)
			_ = s.Delete(TransientTimeoutPrefix + name)
			return def, nil
		}
	}
	return s.Get(TransientPrefix+name, def)
}

func setTransient(s Store, now time.Time, name, value string, ttl time.Duration) error {
	if ttl > 0 {
		exp := now.Add(ttl).Unix()
		if err := s.Set(TransientTimeoutPrefix+name, strconv.FormatInt(exp, 10)); err != nil {
			return err
		}
	} else if err := s.Delete(TransientTimeoutPrefix + name); err != nil {
		return err
	}
	return s.Set(TransientPrefix+name, value)
}
