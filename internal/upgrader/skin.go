// Package upgrader downloads and unpacks packages (themes, core builds)
// without writing to any output stream. Progress and errors go to a Skin.
package upgrader

import (
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"
	"sync"
)

// Skin receives installer feedback.
type Skin interface {
	Feedback(format string, args ...any)
	Error(err error)
}

var tagRe = regexp.MustCompile(`<[^>]*>`)

// StripTags removes HTML tags and decodes entities.
func StripTags(s string) string {
	return strings.TrimSpace(html.UnescapeString(tagRe.ReplaceAllString(s, "")))
}

// Silent collects feedback and errors in order.
type Silent struct {
	mu       sync.Mutex
	messages []string
	errors   []string
}

// NewSilent returns an empty Silent skin.
func NewSilent() *Silent { return &Silent{} }

func (s *Silent) Feedback(format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	msg = StripTags(msg)
	if msg == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

// Error records err. Joined errors are recorded one message each.
func (s *Silent) Error(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if multi, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range multi.Unwrap() {
			if e != nil {
				s.errors = append(s.errors, StripTags(e.Error()))
			}
		}
		return
	}
	s.errors = append(s.errors, StripTags(err.Error()))
}

// Messages returns the feedback recorded so far.
func (s *Silent) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.messages...)
}

// Errors returns the error messages recorded so far.
func (s *Silent) Errors() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.errors...)
}

// Err joins the recorded errors, or returns nil when there are none.
func (s *Silent) Err() error {
	errs := s.Errors()
	if len(errs) == 0 {
		return nil
	}
	return errors.New(strings.Join(errs, "; "))
}
