// Package auth answers who is asking for a reset and whether they may.
package auth

import (
	"crypto/subtle"
	"errors"
	"log/slog"

	"github.com/lyndonlyu/sitereset/internal/sitedb"
)

// Identity is the authorization oracle consulted before a reset.
type Identity interface {
	IsAuthorizedAdmin() bool
	// CurrentUserID returns 0 for a system identity.
	CurrentUserID() int64
}

// Users is the user lookup UserIdentity needs.
type Users interface {
	UserByLogin(login string) (*sitedb.User, error)
	IsAdmin(id int64) (bool, error)
}

// UserIdentity is a named site user.
type UserIdentity struct {
	Users  Users
	Login  string
	Logger *slog.Logger

	id    int64
	admin bool
	done  bool
}

func (u *UserIdentity) resolve() {
	if u.done {
		return
	}
	u.done = true
	user, err := u.Users.UserByLogin(u.Login)
	if err != nil {
		if !errors.Is(err, sitedb.ErrNotFound) && u.Logger != nil {
			u.Logger.Warn("user lookup failed", "login", u.Login, "error", err)
		}
		return
	}
	u.id = user.ID
	admin, err := u.Users.IsAdmin(user.ID)
	if err != nil {
		if u.Logger != nil {
			u.Logger.Warn("capability lookup failed", "login", u.Login, "error", err)
		}
		return
	}
	u.admin = admin
}

func (u *UserIdentity) IsAuthorizedAdmin() bool {
	u.resolve()
	return u.admin
}

func (u *UserIdentity) CurrentUserID() int64 {
	u.resolve()
	return u.id
}

// SystemIdentity is the operator running the tool with direct access to
// the site. It is authorized and has no user id.
type SystemIdentity struct{}

func (SystemIdentity) IsAuthorizedAdmin() bool { return true }
func (SystemIdentity) CurrentUserID() int64    { return 0 }

// Denied is an identity that is never authorized.
type Denied struct{}

func (Denied) IsAuthorizedAdmin() bool { return false }
func (Denied) CurrentUserID() int64    { return 0 }

// TokenMatches compares a presented bearer token with the configured one in
// constant time. An empty configured token never matches.
func TokenMatches(configured, presented string) bool {
	if configured == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(presented)) == 1
}
