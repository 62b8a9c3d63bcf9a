// Package hooks holds the site's mutable callback state: named action hooks
// (activation, shutdown) and the handler that receives non-fatal warnings.
package hooks

import (
	"log/slog"
	"sync"
)

// Hook names used by the site.
const (
	Shutdown = "shutdown"
	Activate = "activate_plugin"
)

// Action is a callback registered on a hook. Arguments are hook specific.
type Action func(args ...any)

type registered struct {
	name string
	fn   Action
}

// Registry maps hook names to ordered callbacks.
type Registry struct {
	mu      sync.Mutex
	actions map[string][]registered
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string][]registered)}
}

// Add registers fn under hook. name identifies the callback in listings.
func (r *Registry) Add(hook, name string, fn Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[hook] = append(r.actions[hook], registered{name: name, fn: fn})
}

// Do runs the callbacks registered on hook in registration order.
func (r *Registry) Do(hook string, args ...any) {
	r.mu.Lock()
	actions := append([]registered(nil), r.actions[hook]...)
	r.mu.Unlock()
	for _, a := range actions {
		a.fn(args...)
	}
}

// Names returns the callback names registered on hook.
func (r *Registry) Names(hook string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.actions[hook]))
	for _, a := range r.actions[hook] {
		names = append(names, a.name)
	}
	return names
}

// RemoveAll drops every callback on hook and returns how many were removed.
func (r *Registry) RemoveAll(hook string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.actions[hook])
	delete(r.actions, hook)
	return n
}

// WarningFunc receives a non-fatal warning. It returns true when the warning
// was handled and should not be reported further.
type WarningFunc func(msg string, args ...any) bool

// Warnings is a stack of warning handlers; the top handler wins.
type Warnings struct {
	mu     sync.Mutex
	stack  []WarningFunc
	logger *slog.Logger
}

// NewWarnings returns a Warnings whose base handler logs at warn level.
func NewWarnings(logger *slog.Logger) *Warnings {
	if logger == nil {
		logger = slog.Default()
	}
	return &Warnings{logger: logger}
}

// Push installs fn as the active handler.
func (w *Warnings) Push(fn WarningFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stack = append(w.stack, fn)
}

// Pop removes the active handler, restoring the previous one.
func (w *Warnings) Pop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.stack) > 0 {
		w.stack = w.stack[:len(w.stack)-1]
	}
}

// Depth returns the number of pushed handlers.
func (w *Warnings) Depth() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.stack)
}

// Warn reports a warning to the active handler, falling back to the logger.
func (w *Warnings) Warn(msg string, args ...any) {
	w.mu.Lock()
	var top WarningFunc
	if len(w.stack) > 0 {
		top = w.stack[len(w.stack)-1]
	}
	w.mu.Unlock()

	if top != nil && top(msg, args...) {
		return
	}
	w.logger.Warn(msg, args...)
}

// Swallow is a WarningFunc that discards every warning.
func Swallow(string, ...any) bool { return true }
