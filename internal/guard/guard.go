// Package guard hardens the process for the destructive part of a reset and
// puts it back afterwards.
package guard

import (
	"log/slog"
	"sync"

	"github.com/lyndonlyu/sitereset/internal/hooks"
	"github.com/lyndonlyu/sitereset/internal/step"
)

// ReadyMessage is the message of a successful Harden.
const ReadyMessage = "Site ready to be reset."

type Mailer interface {
	SetSuppressed(suppressed bool) bool
}

type ErrorSurface interface {
	SuppressErrors(suppress bool) bool
}

type WarningStack interface {
	Push(fn hooks.WarningFunc)
	Pop()
}

type Deferred interface {
	RemoveAll(hook string) int
}

// Guard toggles the process-wide state that must be quiet during a reset.
// Nil collaborators are skipped.
type Guard struct {
	Mail     Mailer
	DB       ErrorSurface
	Warnings WarningStack
	Actions  Deferred
	Logger   *slog.Logger

	mu       sync.Mutex
	hardened bool
	prevMail bool
	prevDB   bool
	pushed   bool
}

// Harden suppresses notifications and database error logging, swallows
// warnings and drops pending shutdown callbacks.
func (g *Guard) Harden() step.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.hardened {
		return step.OK(ReadyMessage)
	}
	if g.Mail != nil {
		g.prevMail = g.Mail.SetSuppressed(true)
	}
	if g.DB != nil {
		g.prevDB = g.DB.SuppressErrors(true)
	}
	if g.Warnings != nil {
		g.Warnings.Push(hooks.Swallow)
		g.pushed = true
	}
	cleared := 0
	if g.Actions != nil {
		cleared = g.Actions.RemoveAll(hooks.Shutdown)
	}
	g.hardened = true
	if g.Logger != nil {
		g.Logger.Debug("environment hardened", "shutdown_callbacks_cleared", cleared)
	}
	return step.OK(ReadyMessage).With("shutdown_callbacks_cleared", cleared)
}

// Restore reverts Harden. Calling it again, or without Harden, does nothing.
func (g *Guard) Restore() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.hardened {
		return
	}
	if g.Mail != nil {
		g.Mail.SetSuppressed(g.prevMail)
	}
	if g.DB != nil {
		g.DB.SuppressErrors(g.prevDB)
	}
	if g.pushed {
		g.Warnings.Pop()
		g.pushed = false
	}
	g.hardened = false
	if g.Logger != nil {
		g.Logger.Debug("environment restored")
	}
}

// Hardened reports whether Harden is in effect.
func (g *Guard) Hardened() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hardened
}
