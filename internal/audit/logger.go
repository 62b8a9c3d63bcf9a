// Package audit keeps a hash-chained JSONL trail of every reset step.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lyndonlyu/sitereset/internal/redact"
)

// Outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
)

// dateFileRe matches audit log files named YYYY-MM-DD.jsonl
var dateFileRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}\.jsonl$`)

// Files returns the date-named .jsonl files of dir in ascending date order.
func Files(dir string) ([]string, error) {
	all, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
	if err != nil {
		return nil, err
	}
	var filtered []string
	for _, f := range all {
		if dateFileRe.MatchString(filepath.Base(f)) {
			filtered = append(filtered, f)
		}
	}
	sort.Strings(filtered)
	return filtered, nil
}

type Entry struct {
	RunID    string
	Phase    string
	Step     string
	Outcome  string
	Message  string
	Duration time.Duration
	Extra    map[string]any
}

type Record struct {
	Timestamp  string         `json:"timestamp"`
	ActionID   string         `json:"action_id"`
	RunID      string         `json:"run_id,omitempty"`
	Phase      string         `json:"phase"`
	Step       string         `json:"step"`
	Outcome    string         `json:"outcome"`
	Message    string         `json:"message,omitempty"`
	DurationMs int64          `json:"duration_ms"`
	Extra      map[string]any `json:"extra,omitempty"`
	PrevHash   string         `json:"prev_hash,omitempty"`
	Hash       string         `json:"hash,omitempty"`
}

type Logger struct {
	mu       sync.Mutex
	dir      string
	lastHash string
	redactor *redact.Redactor
}

func NewLogger(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	l := &Logger{dir: dir}
	l.initLastHash()
	return l, nil
}

func (l *Logger) initLastHash() {
	files, err := Files(l.dir)
	if err != nil || len(files) == 0 {
		return
	}
	// Read from the newest file
	data, err := os.ReadFile(files[len(files)-1])
	if err != nil {
		return
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return
	}
	lines := strings.Split(content, "\n")
	var r Record
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &r); err != nil {
		return
	}
	l.lastHash = r.Hash
}

func (l *Logger) SetRedactor(r *redact.Redactor) {
	l.redactor = r
}

func computeHash(r Record) string {
	r.Hash = ""
	data, _ := json.Marshal(r)
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func (l *Logger) Log(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	record := Record{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		ActionID:   uuid.New().String(),
		RunID:      entry.RunID,
		Phase:      entry.Phase,
		Step:       entry.Step,
		Outcome:    entry.Outcome,
		Message:    entry.Message,
		DurationMs: entry.Duration.Milliseconds(),
		Extra:      entry.Extra,
		PrevHash:   l.lastHash,
	}
	// Redact sensitive data before hashing
	if l.redactor != nil {
		record.Message = l.redactor.Redact(record.Message)
		record.Extra = l.redactor.RedactFields(record.Extra)
	}
	// Round-trip Extra so the hash is computed over what Verify will read.
	if record.Extra != nil {
		raw, err := json.Marshal(record.Extra)
		if err != nil {
			return fmt.Errorf("audit: extra: %w", err)
		}
		record.Extra = nil
		if err := json.Unmarshal(raw, &record.Extra); err != nil {
			return fmt.Errorf("audit: extra: %w", err)
		}
	}
	record.Hash = computeHash(record)

	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	path := filepath.Join(l.dir, time.Now().Format("2006-01-02")+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err = f.Write(data); err != nil {
		return err
	}
	l.lastHash = record.Hash
	return nil
}

func (l *Logger) Recent(n int) ([]Record, error) {
	files, err := Files(l.dir)
	if err != nil {
		return nil, err
	}

	var records []Record
	for i := len(files) - 1; i >= 0 && len(records) < n; i-- {
		data, err := os.ReadFile(files[i])
		if err != nil {
			continue
		}
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		for j := len(lines) - 1; j >= 0 && len(records) < n; j-- {
			var r Record
			if err := json.Unmarshal([]byte(lines[j]), &r); err != nil {
				continue
			}
			records = append(records, r)
		}
	}
	return records, nil
}

// ForRun returns the records of one run in the order they were written.
func (l *Logger) ForRun(runID string) ([]Record, error) {
	files, err := Files(l.dir)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
			if line == "" {
				continue
			}
			var r Record
			if err := json.Unmarshal([]byte(line), &r); err != nil {
				return nil, fmt.Errorf("audit: parse record: %w", err)
			}
			if r.RunID == runID {
				out = append(out, r)
			}
		}
	}
	return out, nil
}

// Verify walks every record and checks hashes and chain links. The oldest
// surviving record is the chain head, so pruned files do not break it. It
// returns the index of the first bad record, or -1.
func (l *Logger) Verify() (bool, int, error) {
	files, err := Files(l.dir)
	if err != nil {
		return false, -1, err
	}

	var expectedPrevHash string
	index := 0

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return false, -1, err
		}
		content := strings.TrimSpace(string(data))
		if content == "" {
			continue
		}
		for _, line := range strings.Split(content, "\n") {
			var r Record
			if err := json.Unmarshal([]byte(line), &r); err != nil {
				return false, -1, err
			}
			if computeHash(r) != r.Hash || (index > 0 && r.PrevHash != expectedPrevHash) {
				return false, index, nil
			}
			expectedPrevHash = r.Hash
			index++
		}
	}

	return true, -1, nil
}

func (l *Logger) Dir() string {
	return l.dir
}
