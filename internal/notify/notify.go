// Package notify dispatches outbound site notifications (new-site mail,
// reset summaries) to configured channels. Dispatch can be suppressed while
// destructive work is in progress; suppressed events count as delivered.
package notify

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"
)

// Event types emitted by the site.
const (
	EventNewSite       = "site.new"
	EventResetComplete = "reset.completed"
)

// Event represents a notification event.
type Event struct {
	Type      string `json:"type"`
	Recipient string `json:"recipient,omitempty"`
	Subject   string `json:"subject"`
	Message   string `json:"message"`
	Level     string `json:"level"` // INFO / WARN / ERROR
}

// Channel is the interface for notification backends.
type Channel interface {
	Name() string
	Send(event Event) error
}

// Rule defines how an event is routed to a channel.
type Rule struct {
	EventType string `json:"event_type" yaml:"event_type"`
	MinLevel  string `json:"min_level"  yaml:"min_level"`
	Channel   string `json:"channel"    yaml:"channel"`
}

// Dispatcher evaluates events against rules and sends to matched channels.
type Dispatcher struct {
	mu         sync.RWMutex
	channels   map[string]Channel
	rules      []Rule
	suppressed bool
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{channels: make(map[string]Channel)}
}

// RegisterChannel registers a notification channel. Error if name is empty.
func (d *Dispatcher) RegisterChannel(ch Channel) error {
	if ch.Name() == "" {
		return fmt.Errorf("notify: channel name cannot be empty")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[ch.Name()] = ch
	return nil
}

// AddRule adds a routing rule.
func (d *Dispatcher) AddRule(rule Rule) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rules = append(d.rules, rule)
}

// SetSuppressed turns dispatch off (true) or on (false) and returns the
// previous setting.
func (d *Dispatcher) SetSuppressed(suppressed bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	prev := d.suppressed
	d.suppressed = suppressed
	return prev
}

// Suppressed reports whether dispatch is currently off.
func (d *Dispatcher) Suppressed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.suppressed
}

// Dispatch evaluates an event against all rules and sends to matched channels.
// Returns errors from channels that fail (other channels still receive).
// While suppressed, nothing is sent and no error is returned.
func (d *Dispatcher) Dispatch(event Event) []error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.suppressed {
		return nil
	}

	var errs []error
	sent := make(map[string]bool)

	for _, rule := range d.rules {
		if !MatchRule(rule, event) {
			continue
		}
		if sent[rule.Channel] {
			continue
		}
		ch, ok := d.channels[rule.Channel]
		if !ok {
			continue
		}
		if err := ch.Send(event); err != nil {
			errs = append(errs, fmt.Errorf("notify: channel %s: %w", rule.Channel, err))
		}
		sent[rule.Channel] = true
	}
	return errs
}

// Channels returns registered channel names sorted.
func (d *Dispatcher) Channels() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.channels))
	for name := range d.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Rules returns all rules.
func (d *Dispatcher) Rules() []Rule {
	d.mu.RLock()
	defer d.mu.RUnlock()
	result := make([]Rule, len(d.rules))
	copy(result, d.rules)
	return result
}

// LevelValue converts a level string to an integer for comparison.
func LevelValue(level string) int {
	switch level {
	case "INFO":
		return 0
	case "WARN":
		return 1
	case "ERROR":
		return 2
	default:
		return -1
	}
}

// MatchRule returns true if the event matches the rule.
func MatchRule(rule Rule, event Event) bool {
	if rule.EventType != "*" && rule.EventType != event.Type {
		return false
	}
	return LevelValue(event.Level) >= LevelValue(rule.MinLevel)
}

// WriterChannel writes notifications to an io.Writer.
type WriterChannel struct {
	name string
	w    io.Writer
	mu   sync.Mutex
}

// NewWriterChannel creates a channel named name writing to w.
func NewWriterChannel(name string, w io.Writer) *WriterChannel {
	return &WriterChannel{name: name, w: w}
}

func (c *WriterChannel) Name() string { return c.name }

// Send writes one line per event.
func (c *WriterChannel) Send(event Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.w, "[%s] %s to=%s subject=%q: %s\n",
		event.Level, event.Type, event.Recipient, event.Subject, event.Message)
	return err
}

// SpoolChannel appends notifications to a mail spool file.
type SpoolChannel struct {
	path string
}

// NewSpoolChannel creates a spool channel writing to path.
func NewSpoolChannel(path string) *SpoolChannel { return &SpoolChannel{path: path} }

// Name returns "spool".
func (c *SpoolChannel) Name() string { return "spool" }

// Send appends the event to the spool file in a minimal RFC 5322 layout.
func (c *SpoolChannel) Send(event Event) error {
	f, err := os.OpenFile(c.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("notify: open spool: %w", err)
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "Date: %s\nTo: %s\nSubject: %s\nX-Event: %s\n\n%s\n\n",
		time.Now().UTC().Format(time.RFC1123Z), event.Recipient, event.Subject, event.Type, event.Message)
	return err
}
