package history

// SQLite-backed persistence for chat records and health profiles. Every
// query is scoped by owner so one database serves all users.

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"

	"github.com/comigor/healthchat-go/internal/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS chats (
    id TEXT PRIMARY KEY,
    owner TEXT NOT NULL,
    title TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS chats_owner ON chats (owner, updated_at);
CREATE TABLE IF NOT EXISTS messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    chat_id TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
    sender TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS profiles (
    owner TEXT PRIMARY KEY,
    data TEXT NOT NULL
);`

// DB is the SQLite history database.
type DB struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the SQLite database at path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// SQLite serialises writers anyway; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	logger.L.Info("sqlite history DB initialized", "path", path)
	return &DB{db: db, now: time.Now}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// ForUser returns a Store scoped to owner.
func (d *DB) ForUser(owner string) Store {
	return &userStore{d: d, owner: owner}
}

// PutProfile stores the profile of owner, replacing any previous one.
func (d *DB) PutProfile(ctx context.Context, owner string, p Profile) (Profile, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return Profile{}, err
	}
	_, err = d.db.ExecContext(ctx, `INSERT INTO profiles (owner, data) VALUES (?, ?)
        ON CONFLICT(owner) DO UPDATE SET data = excluded.data;`, owner, string(data))
	if err != nil {
		return Profile{}, fmt.Errorf("store profile: %w", err)
	}
	return p, nil
}

type userStore struct {
	d     *DB
	owner string
}

func (s *userStore) CreateChat(ctx context.Context, title string, messages []Message) (Record, error) {
	now := s.d.now()
	rec := Record{ID: uuid.NewString(), Title: title, Messages: stamp(messages, now), UpdatedAt: now}

	tx, err := s.d.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO chats (id, owner, title, created_at, updated_at) VALUES (?,?,?,?,?);`,
		rec.ID, s.owner, rec.Title, now.UnixMilli(), now.UnixMilli()); err != nil {
		return Record{}, fmt.Errorf("insert chat: %w", err)
	}
	if err := insertMessages(ctx, tx, rec.ID, rec.Messages); err != nil {
		return Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *userStore) UpdateChat(ctx context.Context, id string, u Update) (Record, error) {
	now := s.d.now()
	tx, err := s.d.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, err
	}
	defer tx.Rollback()

	var title string
	err = tx.QueryRowContext(ctx, `SELECT title FROM chats WHERE id = ? AND owner = ?;`, id, s.owner).Scan(&title)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	if u.Title != nil {
		title = *u.Title
	}

	if _, err := tx.ExecContext(ctx, `UPDATE chats SET title = ?, updated_at = ? WHERE id = ?;`, title, now.UnixMilli(), id); err != nil {
		return Record{}, fmt.Errorf("update chat: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?;`, id); err != nil {
		return Record{}, fmt.Errorf("replace messages: %w", err)
	}
	msgs := stamp(u.Messages, now)
	if err := insertMessages(ctx, tx, id, msgs); err != nil {
		return Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return Record{}, err
	}
	return Record{ID: id, Title: title, Messages: msgs, UpdatedAt: now}, nil
}

func (s *userStore) DeleteChat(ctx context.Context, id string) error {
	res, err := s.d.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ? AND owner = ?;`, id, s.owner)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListChats returns the owner's chats, most recently updated first.
func (s *userStore) ListChats(ctx context.Context) ([]Record, error) {
	rows, err := s.d.db.QueryContext(ctx, `SELECT id, title, updated_at FROM chats WHERE owner = ? ORDER BY updated_at DESC, created_at DESC;`, s.owner)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	var out []Record
	for rows.Next() {
		var r Record
		var updated int64
		if err := rows.Scan(&r.ID, &r.Title, &updated); err != nil {
			rows.Close()
			return nil, err
		}
		r.UpdatedAt = time.UnixMilli(updated)
		out = append(out, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		msgs, err := s.messages(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Messages = msgs
	}
	return out, nil
}

func (s *userStore) GetProfile(ctx context.Context) (Profile, error) {
	var data string
	err := s.d.db.QueryRowContext(ctx, `SELECT data FROM profiles WHERE owner = ?;`, s.owner).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, nil
	}
	if err != nil {
		return Profile{}, fmt.Errorf("load profile: %w", err)
	}
	var p Profile
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return Profile{}, fmt.Errorf("decode profile: %w", err)
	}
	return p, nil
}

func (s *userStore) messages(ctx context.Context, chatID string) ([]Message, error) {
	rows, err := s.d.db.QueryContext(ctx, `SELECT sender, content, created_at FROM messages WHERE chat_id = ? ORDER BY id ASC;`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Message{}
	for rows.Next() {
		var m Message
		var created int64
		if err := rows.Scan(&m.Sender, &m.Text, &created); err != nil {
			return nil, err
		}
		m.Time = time.UnixMilli(created)
		out = append(out, m)
	}
	return out, rows.Err()
}

func insertMessages(ctx context.Context, tx *sql.Tx, chatID string, msgs []Message) error {
	for _, m := range msgs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO messages (chat_id, sender, content, created_at) VALUES (?,?,?,?);`,
			chatID, string(m.Sender), m.Text, m.Time.UnixMilli()); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return nil
}

// stamp fills missing message times with now and returns a copy.
func stamp(msgs []Message, now time.Time) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		if m.Time.IsZero() {
			m.Time = now
		}
		out[i] = m
	}
	return out
}
