package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore is the canonical persistent user/dialog storage.
type SQLiteStore struct {
	db *sql.DB
	q  querier
	tx bool
}

// NewSQLiteStore creates/opens the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One shared connection: SQLite serializes writers anyway and this keeps
	// read-modify-write transactions from hitting SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, q: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil || s.tx {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		`PRAGMA busy_timeout=5000;`,
		`CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL DEFAULT '',
			username TEXT NOT NULL DEFAULT '',
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			current_dialog_id TEXT NOT NULL DEFAULT '',
			current_chat_mode TEXT NOT NULL,
			n_used_tokens INTEGER NOT NULL DEFAULT 0,
			last_interaction_ms INTEGER NOT NULL,
			first_seen_ms INTEGER NOT NULL,
			api_key TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS dialogs (
			dialog_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			chat_mode TEXT NOT NULL,
			started_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL,
			turn_count INTEGER NOT NULL DEFAULT 0,
			turns_json TEXT NOT NULL DEFAULT '[]'
		);`,
		`CREATE INDEX IF NOT EXISTS dialogs_user_idx ON dialogs(user_id, started_at_ms DESC);`,
		`CREATE INDEX IF NOT EXISTS dialogs_updated_idx ON dialogs(updated_at_ms);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init sqlite schema failed on %q: %w", trimSQL(stmt), err)
		}
	}
	return nil
}

func trimSQL(sql string) string {
	line := strings.TrimSpace(sql)
	if len(line) > 96 {
		return line[:96] + "..."
	}
	return line
}

func nowMS() int64 { return time.Now().UnixMilli() }

func toMS(t time.Time) int64 {
	if t.IsZero() {
		return nowMS()
	}
	return t.UnixMilli()
}

func encodeTurns(turns []Turn) (string, error) {
	if len(turns) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(turns)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeTurns(raw string) ([]Turn, error) {
	out := []Turn{}
	if raw == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func (s *SQLiteStore) InTx(ctx context.Context, fn func(Store) error) error {
	if s.tx {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&SQLiteStore{db: s.db, q: tx, tx: true}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return unavailable("commit tx", err)
	}
	return nil
}

func (s *SQLiteStore) UserExists(ctx context.Context, userID string) (bool, error) {
	var n int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(1) FROM users WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return false, unavailable("user exists", err)
	}
	return n > 0, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, user User) error {
	if strings.TrimSpace(user.ID) == "" {
		return fmt.Errorf("create user: empty user id")
	}
	if strings.TrimSpace(user.CurrentChatMode) == "" {
		return fmt.Errorf("create user: empty chat mode")
	}
	first := toMS(user.FirstSeen)
	last := toMS(user.LastInteraction)
	_, err := s.q.ExecContext(ctx, `
INSERT INTO users(user_id, chat_id, username, first_name, last_name, current_dialog_id, current_chat_mode, n_used_tokens, last_interaction_ms, first_seen_ms, api_key)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id) DO NOTHING`,
		user.ID, user.ChatID, user.Profile.Username, user.Profile.FirstName, user.Profile.LastName,
		user.CurrentDialogID, user.CurrentChatMode, user.UsedTokens, last, first, nullString(user.APIKey))
	if err != nil {
		return unavailable("create user", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (User, bool, error) {
	row := s.q.QueryRowContext(ctx, `
SELECT user_id, chat_id, username, first_name, last_name, current_dialog_id, current_chat_mode, n_used_tokens, last_interaction_ms, first_seen_ms, api_key
FROM users WHERE user_id = ?`, userID)
	var (
		out      User
		lastMS   int64
		firstMS  int64
		apiKey   sql.NullString
		username string
	)
	if err := row.Scan(&out.ID, &out.ChatID, &username, &out.Profile.FirstName, &out.Profile.LastName,
		&out.CurrentDialogID, &out.CurrentChatMode, &out.UsedTokens, &lastMS, &firstMS, &apiKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, false, nil
		}
		return User{}, false, unavailable("get user", err)
	}
	out.Profile.Username = username
	out.LastInteraction = time.UnixMilli(lastMS)
	out.FirstSeen = time.UnixMilli(firstMS)
	if apiKey.Valid {
		out.APIKey = apiKey.String
	}
	return out, true, nil
}

func (s *SQLiteStore) updateUser(ctx context.Context, op, query string, args ...any) error {
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return unavailable(op, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: user not found", op)
	}
	return nil
}

func (s *SQLiteStore) UpdateProfile(ctx context.Context, userID, chatID string, profile Profile) error {
	return s.updateUser(ctx, "update profile", `
UPDATE users SET
	chat_id = CASE WHEN ? <> '' THEN ? ELSE chat_id END,
	username = ?, first_name = ?, last_name = ?
WHERE user_id = ?`, chatID, chatID, profile.Username, profile.FirstName, profile.LastName, userID)
}

func (s *SQLiteStore) SetCurrentDialog(ctx context.Context, userID, dialogID string) error {
	return s.updateUser(ctx, "set current dialog", `UPDATE users SET current_dialog_id = ? WHERE user_id = ?`, dialogID, userID)
}

func (s *SQLiteStore) SetChatMode(ctx context.Context, userID, mode string) error {
	if strings.TrimSpace(mode) == "" {
		return fmt.Errorf("set chat mode: empty mode")
	}
	return s.updateUser(ctx, "set chat mode", `UPDATE users SET current_chat_mode = ? WHERE user_id = ?`, mode, userID)
}

func (s *SQLiteStore) SetLastInteraction(ctx context.Context, userID string, at time.Time) error {
	return s.updateUser(ctx, "set last interaction", `UPDATE users SET last_interaction_ms = ? WHERE user_id = ?`, toMS(at), userID)
}

func (s *SQLiteStore) SetAPIKey(ctx context.Context, userID, apiKey string) error {
	return s.updateUser(ctx, "set api key", `UPDATE users SET api_key = ? WHERE user_id = ?`, nullString(strings.TrimSpace(apiKey)), userID)
}

// AddUsedTokens increments the counter in a single statement and returns the
// new total.
func (s *SQLiteStore) AddUsedTokens(ctx context.Context, userID string, delta int64) (int64, error) {
	if delta < 0 {
		return 0, fmt.Errorf("add used tokens: negative delta %d", delta)
	}
	var total int64
	err := s.q.QueryRowContext(ctx, `
UPDATE users SET n_used_tokens = n_used_tokens + ?
WHERE user_id = ?
RETURNING n_used_tokens`, delta, userID).Scan(&total)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("add used tokens: user not found")
		}
		return 0, unavailable("add used tokens", err)
	}
	return total, nil
}

func (s *SQLiteStore) CreateDialog(ctx context.Context, userID, chatMode string, startedAt time.Time) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("create dialog: empty user id")
	}
	id := uuid.NewString()
	ms := toMS(startedAt)
	_, err := s.q.ExecContext(ctx, `
INSERT INTO dialogs(dialog_id, user_id, chat_mode, started_at_ms, updated_at_ms, turn_count, turns_json)
VALUES(?, ?, ?, ?, ?, 0, '[]')`, id, userID, chatMode, ms, ms)
	if err != nil {
		return "", unavailable("create dialog", err)
	}
	return id, nil
}

func (s *SQLiteStore) GetDialog(ctx context.Context, userID, dialogID string) (Dialog, bool, error) {
	row := s.q.QueryRowContext(ctx, `
SELECT dialog_id, user_id, chat_mode, started_at_ms, updated_at_ms, turns_json
FROM dialogs WHERE dialog_id = ? AND user_id = ?`, dialogID, userID)
	d, err := scanDialog(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Dialog{}, false, nil
		}
		return Dialog{}, false, unavailable("get dialog", err)
	}
	return d, true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDialog(row rowScanner) (Dialog, error) {
	var (
		d         Dialog
		startedMS int64
		updatedMS int64
		raw       string
	)
	if err := row.Scan(&d.ID, &d.UserID, &d.ChatMode, &startedMS, &updatedMS, &raw); err != nil {
		return Dialog{}, err
	}
	turns, err := decodeTurns(raw)
	if err != nil {
		return Dialog{}, fmt.Errorf("decode turns of dialog %s: %w", d.ID, err)
	}
	d.StartedAt = time.UnixMilli(startedMS)
	d.UpdatedAt = time.UnixMilli(updatedMS)
	d.Turns = turns
	return d, nil
}

func (s *SQLiteStore) GetDialogTurns(ctx context.Context, userID, dialogID string) ([]Turn, bool, error) {
	d, found, err := s.GetDialog(ctx, userID, dialogID)
	if err != nil || !found {
		return nil, found, err
	}
	return d.Turns, true, nil
}

func (s *SQLiteStore) SetDialogTurns(ctx context.Context, userID, dialogID string, turns []Turn) error {
	raw, err := encodeTurns(turns)
	if err != nil {
		return fmt.Errorf("encode turns: %w", err)
	}
	res, err := s.q.ExecContext(ctx, `
UPDATE dialogs SET turns_json = ?, turn_count = ?, updated_at_ms = ?
WHERE dialog_id = ? AND user_id = ?`, raw, len(turns), nowMS(), dialogID, userID)
	if err != nil {
		return unavailable("set dialog turns", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("set dialog turns %s: %w", dialogID, ErrDialogNotFound)
	}
	return nil
}

func (s *SQLiteStore) ListDialogs(ctx context.Context, userID string, limit int) ([]Dialog, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.q.QueryContext(ctx, `
SELECT dialog_id, user_id, chat_mode, started_at_ms, updated_at_ms, turns_json
FROM dialogs WHERE user_id = ?
ORDER BY started_at_ms DESC, rowid DESC
LIMIT ?`, userID, limit)
	if err != nil {
		return nil, unavailable("list dialogs", err)
	}
	defer rows.Close()

	out := make([]Dialog, 0, limit)
	for rows.Next() {
		d, err := scanDialog(rows)
		if err != nil {
			return nil, unavailable("scan dialog", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate dialogs", err)
	}
	return out, nil
}

// SweepInactiveDialogs deletes dialogs that are nobody's active dialog and
// have not been written since olderThan.
func (s *SQLiteStore) SweepInactiveDialogs(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.q.ExecContext(ctx, `
DELETE FROM dialogs
WHERE updated_at_ms < ?
AND dialog_id NOT IN (SELECT current_dialog_id FROM users WHERE current_dialog_id <> '')`, olderThan.UnixMilli())
	if err != nil {
		return 0, unavailable("sweep dialogs", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	row := s.q.QueryRowContext(ctx, `
SELECT
	(SELECT COUNT(1) FROM users),
	(SELECT COUNT(1) FROM dialogs),
	(SELECT COALESCE(SUM(turn_count), 0) FROM dialogs)`)
	if err := row.Scan(&out.Users, &out.Dialogs, &out.Turns); err != nil {
		return Stats{}, unavailable("stats", err)
	}
	return out, nil
}
