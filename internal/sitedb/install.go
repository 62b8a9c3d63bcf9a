package sitedb

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/crypto/bcrypt"

	"github.com/lyndonlyu/sitereset/internal/notify"
	"github.com/lyndonlyu/sitereset/internal/options"
)

// Notifier sends outbound site notifications.
type Notifier interface {
	Dispatch(event notify.Event) []error
}

// InstallRequest describes the site the baseline installer provisions.
type InstallRequest struct {
	Title   string
	Login   string
	Email   string
	Public  bool
	Locale  string
	SiteURL string
	Theme   string
}

// InstallResult is what a successful Install created.
type InstallResult struct {
	UserID   int64
	Password string
}

// NotificationError reports that the site was installed but the new-site
// notification could not be sent.
type NotificationError struct {
	UserID int64
	Err    error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("sitedb: new site notification for user %d: %v", e.UserID, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

const passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*()"

func generatePassword(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = passwordAlphabet[int(b)%len(passwordAlphabet)]
	}
	return string(buf), nil
}

// HashPassword hashes a plaintext password for the users table.
func HashPassword(plain string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("sitedb: hash password: %w", err)
	}
	return string(h), nil
}

// Install provisions a fresh site into an empty schema: default options, one
// administrator with a random password, the sample post and page. It then
// sends the new-site notification; a send failure is returned as
// *NotificationError alongside a valid result.
func (d *DB) Install(ctx context.Context, req InstallRequest) (InstallResult, error) {
	if req.Login == "" {
		return InstallResult{}, errors.New("sitedb: install: empty admin login")
	}
	if req.Email == "" {
		return InstallResult{}, errors.New("sitedb: install: empty admin email")
	}
	if err := ctx.Err(); err != nil {
		return InstallResult{}, err
	}
	if _, err := d.Migrate(); err != nil {
		return InstallResult{}, err
	}

	now := d.Now()
	opts := options.NewSQLStore(d.db, d.prefix)
	public := "0"
	if req.Public {
		public = "1"
	}
	defaults := [][2]string{
		{"blogname", req.Title},
		{"blogdescription", "Just another site"},
		{"admin_email", req.Email},
		{"blog_public", public},
		{"WPLANG", req.Locale},
		{"siteurl", req.SiteURL},
		{"home", req.SiteURL},
		{"active_plugins", "[]"},
		{"users_can_register", "0"},
		{"fresh_site", "1"},
		{"db_version", strconv.Itoa(Schema(d.prefix).Latest())},
	}
	if req.Theme != "" {
		defaults = append(defaults, [2]string{"template", req.Theme}, [2]string{"stylesheet", req.Theme})
	}
	for _, kv := range defaults {
		if err := opts.Set(kv[0], kv[1]); err != nil {
			return InstallResult{}, fmt.Errorf("sitedb: install: %w", d.surface("options", err))
		}
	}

	password, err := generatePassword(24)
	if err != nil {
		return InstallResult{}, fmt.Errorf("sitedb: install: generate password: %w", err)
	}
	hash, err := HashPassword(password)
	if err != nil {
		return InstallResult{}, err
	}
	userID, err := d.CreateUser(req.Login, req.Email, hash, RoleAdministrator, now)
	if err != nil {
		return InstallResult{}, fmt.Errorf("sitedb: install: %w", err)
	}
	if err := d.SetUserMeta(userID, "default_password_nag", "1"); err != nil {
		return InstallResult{}, fmt.Errorf("sitedb: install: %w", err)
	}

	samples := []Post{
		{Author: userID, Title: "Hello world!", Name: "hello-world", Type: "post",
			Content: "Welcome to your site. This is your first post. Edit or delete it, then start writing!"},
		{Author: userID, Title: "Sample Page", Name: "sample-page", Type: "page",
			Content: "This is an example page."},
		{Author: userID, Title: "Privacy Policy", Name: "privacy-policy", Type: "page", Status: "draft"},
	}
	for _, p := range samples {
		if _, err := d.InsertPost(p, now); err != nil {
			return InstallResult{}, fmt.Errorf("sitedb: install: %w", err)
		}
	}

	res := InstallResult{UserID: userID, Password: password}
	if d.Mailer != nil {
		errs := d.Mailer.Dispatch(notify.Event{
			Type:      notify.EventNewSite,
			Recipient: req.Email,
			Subject:   fmt.Sprintf("[%s] New Site", req.Title),
			Message:   fmt.Sprintf("Your new site has been set up at %s. Log in as %s.", req.SiteURL, req.Login),
			Level:     "INFO",
		})
		if len(errs) > 0 {
			return res, &NotificationError{UserID: userID, Err: errors.Join(errs...)}
		}
	}
	return res, nil
}
