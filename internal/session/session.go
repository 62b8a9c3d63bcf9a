// Package session issues and clears login sessions. Tokens are recorded in
// the user's session_tokens meta (keyed by token hash) and the current
// session is written to a file the CLI or transport hands back to the caller.
package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/lyndonlyu/sitereset/internal/sitedb"
)

// MetaKey is the usermeta key holding a user's sessions.
const MetaKey = "session_tokens"

// DefaultTTL matches a non-remembered login.
const DefaultTTL = 48 * time.Hour

// MetaStore is the user meta access sessions need.
type MetaStore interface {
	UserMeta(id int64, key string) (string, error)
	SetUserMeta(id int64, key, value string) error
}

// Session is the current login as written to the session file.
type Session struct {
	UserID    int64     `json:"user_id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type tokenRecord struct {
	Expiration int64 `json:"expiration"`
	Login      int64 `json:"login"`
}

// Store manages the session file at Path.
type Store struct {
	Meta MetaStore
	Path string
	TTL  time.Duration
	Now  func() time.Time
}

// New returns a Store writing the current session to path.
func New(meta MetaStore, path string) *Store {
	return &Store{Meta: meta, Path: path, TTL: DefaultTTL, Now: time.Now}
}

// Current reads the session file.
func (s *Store) Current() (*Session, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("session: read: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("session: decode: %w", err)
	}
	return &sess, nil
}

// Clear removes the current session file. A missing file is not an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("session: clear: %w", err)
	}
	return nil
}

// Issue creates a new session for userID and makes it current.
func (s *Store) Issue(userID int64) (*Session, error) {
	now := s.Now()
	sess := &Session{
		UserID:    userID,
		Token:     uuid.NewString(),
		ExpiresAt: now.Add(s.TTL).UTC(),
	}

	tokens := map[string]tokenRecord{}
	raw, err := s.Meta.UserMeta(userID, MetaKey)
	switch {
	case errors.Is(err, sitedb.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("session: read tokens: %w", err)
	default:
		// Unreadable token maps are replaced.
		_ = json.Unmarshal([]byte(raw), &tokens)
	}
	for k, rec := range tokens {
		if rec.Expiration <= now.Unix() {
			delete(tokens, k)
		}
	}
	tokens[hashToken(sess.Token)] = tokenRecord{Expiration: sess.ExpiresAt.Unix(), Login: now.Unix()}
	enc, err := json.Marshal(tokens)
	if err != nil {
		return nil, fmt.Errorf("session: encode tokens: %w", err)
	}
	if err := s.Meta.SetUserMeta(userID, MetaKey, string(enc)); err != nil {
		return nil, fmt.Errorf("session: store token: %w", err)
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("session: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0700); err != nil {
		return nil, fmt.Errorf("session: write: %w", err)
	}
	if err := os.WriteFile(s.Path, data, 0600); err != nil {
		return nil, fmt.Errorf("session: write: %w", err)
	}
	return sess, nil
}

// Valid reports whether token is a live session of userID.
func (s *Store) Valid(userID int64, token string) bool {
	raw, err := s.Meta.UserMeta(userID, MetaKey)
	if err != nil {
		return false
	}
	tokens := map[string]tokenRecord{}
	if json.Unmarshal([]byte(raw), &tokens) != nil {
		return false
	}
	rec, ok := tokens[hashToken(token)]
	return ok && rec.Expiration > s.Now().Unix()
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
