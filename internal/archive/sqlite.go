// Package archive is the durable account store: one row per
// (subject, media filter) holding the latest full result snapshot.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"magpie/internal/model"
	"magpie/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// Account is one archived subject snapshot.
type Account struct {
	ID           int64
	Username     string
	Name         string
	ProfileImage string
	TotalMedia   int
	LastFetched  time.Time
	ResponseJSON string
	GroupName    string
	GroupColor   string
	MediaType    string
	Cursor       string
	Completed    bool
}

// ListItem is the summary row for listings, with engagement counts parsed
// out of the stored snapshot.
type ListItem struct {
	ID             int64
	Username       string
	Name           string
	ProfileImage   string
	TotalMedia     int
	LastFetched    string
	GroupName      string
	GroupColor     string
	MediaType      string
	Cursor         string
	Completed      bool
	FollowersCount int
	StatusesCount  int
}

// Store is a SQLite-backed account archive.
type Store struct {
	db *sql.DB
}

// Open opens the archive database at dsn and runs pending migrations.
func Open(dsn string) (*Store, error) {
	if dir := filepath.Dir(dsn); dir != "" && dir != "." && dsn != ":memory:" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create archive dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// Upsert inserts or replaces the snapshot for (username, media type).
func (s *Store) Upsert(ctx context.Context, acc Account) error {
	if acc.MediaType == "" {
		acc.MediaType = model.MediaAll
	}
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (username, name, profile_image, total_media, last_fetched, response_json, media_type, cursor, completed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(username, media_type) DO UPDATE SET
			name = excluded.name,
			profile_image = excluded.profile_image,
			total_media = excluded.total_media,
			last_fetched = excluded.last_fetched,
			response_json = excluded.response_json,
			cursor = excluded.cursor,
			completed = excluded.completed`,
		acc.Username, acc.Name, acc.ProfileImage, acc.TotalMedia, now, acc.ResponseJSON,
		acc.MediaType, acc.Cursor, boolToInt(acc.Completed),
	)
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	return nil
}

// List returns all archived accounts, grouped then newest first.
func (s *Store) List(ctx context.Context) ([]ListItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, name, profile_image, total_media, COALESCE(last_fetched, ''),
		       group_name, group_color, media_type, cursor, completed, response_json
		FROM accounts
		ORDER BY group_name ASC, last_fetched DESC`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var items []ListItem
	for rows.Next() {
		var it ListItem
		var fetched, snapshot string
		var completed int
		if err := rows.Scan(&it.ID, &it.Username, &it.Name, &it.ProfileImage, &it.TotalMedia,
			&fetched, &it.GroupName, &it.GroupColor, &it.MediaType, &it.Cursor, &completed, &snapshot); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		it.Completed = completed == 1
		if t, err := time.Parse(timeLayout, fetched); err == nil {
			it.LastFetched = t.Format("2006-01-02 15:04")
		}
		it.FollowersCount, it.StatusesCount = countsFromSnapshot(snapshot)
		items = append(items, it)
	}
	return items, rows.Err()
}

// Get returns the full account row by id.
func (s *Store) Get(ctx context.Context, id int64) (*Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, name, profile_image, total_media, COALESCE(last_fetched, ''),
		       response_json, group_name, group_color, media_type, cursor, completed
		FROM accounts WHERE id = ?`, id)
	var acc Account
	var fetched string
	var completed int
	err := row.Scan(&acc.ID, &acc.Username, &acc.Name, &acc.ProfileImage, &acc.TotalMedia,
		&fetched, &acc.ResponseJSON, &acc.GroupName, &acc.GroupColor, &acc.MediaType, &acc.Cursor, &completed)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}
	acc.Completed = completed == 1
	acc.LastFetched, _ = time.Parse(timeLayout, fetched)
	return &acc, nil
}

// Delete removes one account.
func (s *Store) Delete(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return nil
}

// ClearAll removes every archived account.
func (s *Store) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM accounts`); err != nil {
		return fmt.Errorf("clear accounts: %w", err)
	}
	return nil
}

// UpdateGroup sets the group name and color for an account.
func (s *Store) UpdateGroup(ctx context.Context, id int64, name, color string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET group_name = ?, group_color = ? WHERE id = ?`, name, color, id); err != nil {
		return fmt.Errorf("update group: %w", err)
	}
	return nil
}

// Groups returns the distinct non-empty groups as name/color pairs.
func (s *Store) Groups(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT group_name, group_color FROM accounts WHERE group_name != ''`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()
	groups := make(map[string]string)
	for rows.Next() {
		var name, color string
		if err := rows.Scan(&name, &color); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups[name] = color
	}
	return groups, rows.Err()
}

func countsFromSnapshot(snapshot string) (followers, statuses int) {
	if snapshot == "" {
		return 0, 0
	}
	var resp model.Response
	if err := json.Unmarshal([]byte(snapshot), &resp); err != nil {
		return 0, 0
	}
	return resp.AccountInfo.FollowersCount, resp.AccountInfo.StatusesCount
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
