package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	model "github.com/duisenbekovayan/motoshop/internal/models"
)

const schema = `CREATE TABLE IF NOT EXISTS notifications (
	position INTEGER PRIMARY KEY,
	id       TEXT NOT NULL,
	body     TEXT NOT NULL
)`

// SQLite persists the inbox in a single table, rewritten on every save.
type SQLite struct{ db *sql.DB }

var _ Persister = (*SQLite)(nil)

func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("notifications schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Load(ctx context.Context) ([]model.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT body FROM notifications ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Notification
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var n model.Notification
		if err := json.Unmarshal([]byte(body), &n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *SQLite) Save(ctx context.Context, items []model.Notification) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM notifications`); err != nil {
		return err
	}
	for i, n := range items {
		var body []byte
		body, err = json.Marshal(n)
		if err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO notifications (position, id, body) VALUES (?, ?, ?)`, i, n.ID, string(body)); err != nil {
			return err
		}
	}
	return tx.Commit()
}
