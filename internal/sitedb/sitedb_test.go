package sitedb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyndonlyu/sitereset/internal/notify"
	"github.com/lyndonlyu/sitereset/internal/options"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "site.db"), "wp_", nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

type failingMailer struct{ sent []notify.Event }

func (m *failingMailer) Dispatch(e notify.Event) []error {
	m.sent = append(m.sent, e)
	return []error{errors.New("smtp unreachable")}
}

func installRequest() InstallRequest {
	return InstallRequest{
		Title:   "My Site",
		Login:   "admin",
		Email:   "admin@example.com",
		Public:  true,
		Locale:  "en_US",
		SiteURL: "https://example.com",
		Theme:   "flavor",
	}
}

func TestOpenRejectsEmptyPrefix(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "site.db"), "", nil)
	assert.Error(t, err)
}

func TestInstallProvisionsFreshSite(t *testing.T) {
	db := openTestDB(t)

	res, err := db.Install(context.Background(), installRequest())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.UserID)
	assert.Len(t, res.Password, 24)

	u, err := db.UserByID(1)
	require.NoError(t, err)
	assert.Equal(t, "admin", u.Login)
	assert.Equal(t, "admin@example.com", u.Email)
	assert.NotEmpty(t, u.PassHash)

	admin, err := db.IsAdmin(1)
	require.NoError(t, err)
	assert.True(t, admin)

	n, err := db.CountUsers()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	oldest, err := db.OldestPost()
	require.NoError(t, err)
	newest, err := db.NewestPost()
	require.NoError(t, err)
	assert.Equal(t, int64(1), oldest.ID)
	assert.Equal(t, "Hello world!", oldest.Title)
	assert.Greater(t, newest.ID, oldest.ID)
	assert.Equal(t, oldest.Modified, newest.Modified)

	opts := options.NewSQLStore(db.SQL(), db.Prefix())
	title, err := opts.Get("blogname", "")
	require.NoError(t, err)
	assert.Equal(t, "My Site", title)
	public, err := opts.Get("blog_public", "")
	require.NoError(t, err)
	assert.Equal(t, "1", public)
	tmpl, err := opts.Get("template", "")
	require.NoError(t, err)
	assert.Equal(t, "flavor", tmpl)
}

func TestInstallNotificationFailureKeepsUser(t *testing.T) {
	db := openTestDB(t)
	mailer := &failingMailer{}
	db.Mailer = mailer

	res, err := db.Install(context.Background(), installRequest())
	var nerr *NotificationError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, res.UserID, nerr.UserID)
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, notify.EventNewSite, mailer.sent[0].Type)

	u, err := db.UserByLogin("admin")
	require.NoError(t, err)
	assert.Equal(t, res.UserID, u.ID)
}

func TestInstallSuppressedMailerSendsNothing(t *testing.T) {
	db := openTestDB(t)
	d := notify.NewDispatcher()
	d.SetSuppressed(true)
	db.Mailer = d

	_, err := db.Install(context.Background(), installRequest())
	assert.NoError(t, err)
}

func TestInstallValidatesRequest(t *testing.T) {
	db := openTestDB(t)
	req := installRequest()
	req.Login = ""
	_, err := db.Install(context.Background(), req)
	assert.Error(t, err)
}

func TestTablesMatchPrefixLiterally(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Migrate()
	require.NoError(t, err)
	// "wpx" would match an unescaped "wp_%" pattern.
	_, err = db.SQL().Exec(`CREATE TABLE wpxother (id INTEGER)`)
	require.NoError(t, err)

	tables, err := db.Tables()
	require.NoError(t, err)
	assert.Equal(t, []string{"wp_options", "wp_posts", "wp_usermeta", "wp_users"}, tables)
}

func TestDropAndReinstall(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Install(context.Background(), installRequest())
	require.NoError(t, err)
	_, err = db.CreateUser("editor", "ed@example.com", "x", "editor", time.Now())
	require.NoError(t, err)

	require.NoError(t, db.SetForeignKeyChecks(false))
	tables, err := db.Tables()
	require.NoError(t, err)
	for _, tbl := range tables {
		require.NoError(t, db.DropTable(tbl))
	}
	require.NoError(t, db.SetForeignKeyChecks(true))
	require.NoError(t, db.ResetSchemaVersion())

	tables, err = db.Tables()
	require.NoError(t, err)
	assert.Empty(t, tables)

	res, err := db.Install(context.Background(), installRequest())
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.UserID)
	n, err := db.CountUsers()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUsersAndMeta(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Migrate()
	require.NoError(t, err)

	_, err = db.FirstAdmin()
	assert.ErrorIs(t, err, ErrNotFound)

	now := time.Now()
	editor, err := db.CreateUser("editor", "e@example.com", "h1", "editor", now)
	require.NoError(t, err)
	second, err := db.CreateUser("boss", "b@example.com", "h2", RoleAdministrator, now)
	require.NoError(t, err)
	_, err = db.CreateUser("boss2", "b2@example.com", "h3", RoleAdministrator, now)
	require.NoError(t, err)

	first, err := db.FirstAdmin()
	require.NoError(t, err)
	assert.Equal(t, second, first.ID)

	isAdmin, err := db.IsAdmin(editor)
	require.NoError(t, err)
	assert.False(t, isAdmin)

	require.NoError(t, db.SetPasswordHash(editor, "newhash"))
	u, err := db.UserByID(editor)
	require.NoError(t, err)
	assert.Equal(t, "newhash", u.PassHash)
	assert.ErrorIs(t, db.SetPasswordHash(999, "x"), ErrNotFound)

	require.NoError(t, db.SetUserMeta(editor, "session_tokens", "a"))
	require.NoError(t, db.SetUserMeta(editor, "session_tokens", "b"))
	v, err := db.UserMeta(editor, "session_tokens")
	require.NoError(t, err)
	assert.Equal(t, "b", v)
	require.NoError(t, db.DeleteUserMeta(editor, "session_tokens"))
	_, err = db.UserMeta(editor, "session_tokens")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = db.UserByLogin("nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSuppressErrorsReturnsPrevious(t *testing.T) {
	db := openTestDB(t)
	assert.False(t, db.SuppressErrors(true))
	assert.True(t, db.SuppressErrors(false))

	db.SuppressErrors(true)
	// Errors are still returned while suppressed.
	_, err := db.UserByID(1)
	assert.Error(t, err)
}
