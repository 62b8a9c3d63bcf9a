package step

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrDuplicate is returned when a step name is appended twice.
var ErrDuplicate = errors.New("step: duplicate step name")

// Entry pairs a step name with its result.
type Entry struct {
	Name   string
	Result Result
}

// Log is an append-only record of step outcomes in execution order.
// The zero value is ready to use.
type Log struct {
	entries []Entry
	index   map[string]int
}

// NewLog returns an empty Log.
func NewLog() *Log {
	return &Log{}
}

// Append records the result of the named step. A name can only be recorded
// once; later attempts return ErrDuplicate and leave the log unchanged.
func (l *Log) Append(name string, r Result) error {
	if l.index == nil {
		l.index = make(map[string]int)
	}
	if _, ok := l.index[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	l.index[name] = len(l.entries)
	l.entries = append(l.entries, Entry{Name: name, Result: r})
	return nil
}

// Get returns the result recorded for name.
func (l *Log) Get(name string) (Result, bool) {
	if l == nil {
		return Result{}, false
	}
	i, ok := l.index[name]
	if !ok {
		return Result{}, false
	}
	return l.entries[i].Result, true
}

// Index returns the position of name in execution order, or -1.
func (l *Log) Index(name string) int {
	if l == nil {
		return -1
	}
	if i, ok := l.index[name]; ok {
		return i
	}
	return -1
}

// Len returns the number of recorded steps.
func (l *Log) Len() int {
	if l == nil {
		return 0
	}
	return len(l.entries)
}

// Names returns step names in execution order.
func (l *Log) Names() []string {
	if l == nil {
		return nil
	}
	names := make([]string, len(l.entries))
	for i, e := range l.entries {
		names[i] = e.Name
	}
	return names
}

// Entries returns a copy of the recorded entries in execution order.
func (l *Log) Entries() []Entry {
	if l == nil {
		return nil
	}
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Clone returns an independent copy of the log.
func (l *Log) Clone() *Log {
	c := NewLog()
	if l == nil {
		return c
	}
	for _, e := range l.entries {
		_ = c.Append(e.Name, e.Result)
	}
	return c
}

// Failures returns "<step>: <message>" for every failed step that carries a
// message, in execution order.
func (l *Log) Failures() []string {
	var out []string
	for _, e := range l.Entries() {
		if !e.Result.Success && e.Result.Message != "" {
			out = append(out, e.Name+": "+e.Result.Message)
		}
	}
	return out
}

// MarshalJSON encodes the log as a JSON object whose keys keep execution order.
func (l *Log) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, e := range l.Entries() {
		if i > 0 {
			b.WriteByte(',')
		}
		key, err := json.Marshal(e.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(e.Result)
		if err != nil {
			return nil, err
		}
		b.Write(key)
		b.WriteByte(':')
		b.Write(val)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object into the log, preserving key order.
func (l *Log) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("step: decode log: %w", err)
	}
	if tok == nil {
		*l = Log{}
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("step: decode log: expected object, got %v", tok)
	}

	fresh := Log{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("step: decode log: %w", err)
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("step: decode log: expected key, got %v", tok)
		}
		var r Result
		if err := dec.Decode(&r); err != nil {
			return fmt.Errorf("step: decode %s: %w", name, err)
		}
		if err := fresh.Append(name, r); err != nil {
			return err
		}
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("step: decode log: %w", err)
	}
	*l = fresh
	return nil
}
