package sitedb

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Post is a row of the posts table.
type Post struct {
	ID       int64  `json:"id"`
	Author   int64  `json:"author"`
	Title    string `json:"title"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Type     string `json:"type"`
	Content  string `json:"-"`
	Modified string `json:"modified"`
}

// OldestPost returns the post or page with the lowest id, any status.
func (d *DB) OldestPost() (*Post, error) {
	return d.edgePost("ASC")
}

// NewestPost returns the post or page with the highest id, any status.
func (d *DB) NewestPost() (*Post, error) {
	return d.edgePost("DESC")
}

func (d *DB) edgePost(order string) (*Post, error) {
	q := fmt.Sprintf(`SELECT ID, post_author, post_title, post_name, post_status, post_type, post_modified_gmt
		FROM %q WHERE post_type IN ('post', 'page') ORDER BY ID %s LIMIT 1`, d.table("posts"), order)
	var p Post
	err := d.queryRow([]any{&p.ID, &p.Author, &p.Title, &p.Name, &p.Status, &p.Type, &p.Modified}, q)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("sitedb: post lookup: %w", err)
	}
	return &p, nil
}

// InsertPost inserts p with created and modified times set to at and
// returns the new id.
func (d *DB) InsertPost(p Post, at time.Time) (int64, error) {
	local := at.Format(time.DateTime)
	gmt := at.UTC().Format(time.DateTime)
	if p.Status == "" {
		p.Status = "publish"
	}
	if p.Type == "" {
		p.Type = "post"
	}
	res, err := d.exec(fmt.Sprintf(`INSERT INTO %q
		(post_author, post_date, post_date_gmt, post_content, post_title, post_status, post_name,
		 post_modified, post_modified_gmt, post_type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, d.table("posts")),
		p.Author, local, gmt, p.Content, p.Title, p.Status, p.Name, local, gmt, p.Type)
	if err != nil {
		return 0, fmt.Errorf("sitedb: insert post %q: %w", p.Title, err)
	}
	return res.LastInsertId()
}
