package notify

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockChannel struct {
	name   string
	events []Event
	err    error
}

func (m *mockChannel) Name() string { return m.name }
func (m *mockChannel) Send(e Event) error {
	m.events = append(m.events, e)
	return m.err
}

func TestMatchRule(t *testing.T) {
	assert.True(t, MatchRule(Rule{EventType: "*", MinLevel: "INFO"}, Event{Type: EventNewSite, Level: "INFO"}))
	assert.True(t, MatchRule(Rule{EventType: EventNewSite, MinLevel: "INFO"}, Event{Type: EventNewSite, Level: "WARN"}))
	assert.False(t, MatchRule(Rule{EventType: "*", MinLevel: "ERROR"}, Event{Type: EventNewSite, Level: "INFO"}))
	assert.False(t, MatchRule(Rule{EventType: EventResetComplete, MinLevel: "INFO"}, Event{Type: EventNewSite, Level: "ERROR"}))
}

func TestRegisterChannelRequiresName(t *testing.T) {
	d := NewDispatcher()
	assert.Error(t, d.RegisterChannel(&mockChannel{}))
	require.NoError(t, d.RegisterChannel(&mockChannel{name: "b"}))
	require.NoError(t, d.RegisterChannel(&mockChannel{name: "a"}))
	assert.Equal(t, []string{"a", "b"}, d.Channels())
}

func TestDispatchRoutesOncePerChannel(t *testing.T) {
	d := NewDispatcher()
	ch := &mockChannel{name: "mail"}
	require.NoError(t, d.RegisterChannel(ch))
	d.AddRule(Rule{EventType: "*", MinLevel: "INFO", Channel: "mail"})
	d.AddRule(Rule{EventType: EventNewSite, MinLevel: "INFO", Channel: "mail"})
	d.AddRule(Rule{EventType: "*", MinLevel: "INFO", Channel: "missing"})

	errs := d.Dispatch(Event{Type: EventNewSite, Level: "INFO"})
	assert.Empty(t, errs)
	assert.Len(t, ch.events, 1)
}

func TestDispatchCollectsErrors(t *testing.T) {
	d := NewDispatcher()
	require.NoError(t, d.RegisterChannel(&mockChannel{name: "bad", err: errors.New("smtp down")}))
	good := &mockChannel{name: "good"}
	require.NoError(t, d.RegisterChannel(good))
	d.AddRule(Rule{EventType: "*", MinLevel: "INFO", Channel: "bad"})
	d.AddRule(Rule{EventType: "*", MinLevel: "INFO", Channel: "good"})

	errs := d.Dispatch(Event{Type: EventNewSite, Level: "INFO"})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "smtp down")
	assert.Len(t, good.events, 1)
}

func TestSuppressedDispatchSendsNothing(t *testing.T) {
	d := NewDispatcher()
	ch := &mockChannel{name: "mail", err: errors.New("would fail")}
	require.NoError(t, d.RegisterChannel(ch))
	d.AddRule(Rule{EventType: "*", MinLevel: "INFO", Channel: "mail"})

	prev := d.SetSuppressed(true)
	assert.False(t, prev)
	assert.True(t, d.Suppressed())
	assert.Empty(t, d.Dispatch(Event{Type: EventNewSite, Level: "INFO"}))
	assert.Empty(t, ch.events)

	assert.True(t, d.SetSuppressed(false))
	assert.Len(t, d.Dispatch(Event{Type: EventNewSite, Level: "INFO"}), 1)
}

func TestWriterChannel(t *testing.T) {
	var buf bytes.Buffer
	ch := NewWriterChannel("log", &buf)
	require.NoError(t, ch.Send(Event{Type: EventNewSite, Recipient: "a@b.c", Subject: "New Site", Message: "hi", Level: "INFO"}))
	assert.Contains(t, buf.String(), `[INFO] site.new to=a@b.c subject="New Site": hi`)
}

func TestSpoolChannelAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mail.spool")
	ch := NewSpoolChannel(path)
	require.NoError(t, ch.Send(Event{Type: EventNewSite, Recipient: "a@b.c", Subject: "one"}))
	require.NoError(t, ch.Send(Event{Type: EventNewSite, Recipient: "a@b.c", Subject: "two"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Subject: one")
	assert.Contains(t, string(data), "Subject: two")
}
