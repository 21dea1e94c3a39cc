package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	sqlite "modernc.org/sqlite"

	logx "schedbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// SQLITE_CONSTRAINT; extended codes keep it in the low byte.
const sqliteConstraint = 19

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know by default.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

type sqliteStore struct {
	db  *sqlx.DB
	log logx.Logger
}

type messageRow struct {
	OwnerID       int64          `db:"owner_id"`
	DestinationID int64          `db:"destination_id"`
	SendAt        string         `db:"send_at"`
	Body          sql.NullString `db:"body"`
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: SQLite serializes writers anyway and pragmas stay applied.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log.With(logx.String("comp", "storage"))}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	st.log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Insert(ctx context.Context, msg ScheduledMessage) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO scheduled_messages(owner_id, destination_id, send_at, body)
		 VALUES(:owner_id, :destination_id, :send_at, :body)`,
		toRow(msg),
	)
	if err != nil {
		if isConstraintError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert scheduled message: %w", err)
	}
	return nil
}

func (s *sqliteStore) ListDue(ctx context.Context, now time.Time) ([]ScheduledMessage, error) {
	return s.list(ctx,
		`SELECT owner_id, destination_id, send_at, body FROM scheduled_messages
		 WHERE send_at <= ?
		 ORDER BY send_at, owner_id, destination_id`,
		formatTime(now),
	)
}

func (s *sqliteStore) ListUpcoming(ctx context.Context, now time.Time) ([]ScheduledMessage, error) {
	return s.list(ctx,
		`SELECT owner_id, destination_id, send_at, body FROM scheduled_messages
		 WHERE send_at >= ?
		 ORDER BY send_at, owner_id, destination_id`,
		formatTime(now),
	)
}

func (s *sqliteStore) list(ctx context.Context, query string, args ...any) ([]ScheduledMessage, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	var rows []messageRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list scheduled messages: %w", err)
	}
	out := make([]ScheduledMessage, 0, len(rows))
	for _, r := range rows {
		m, err := r.message()
		if err != nil {
			s.log.Warn("skipping malformed row",
				logx.Int64("owner_id", r.OwnerID),
				logx.Int64("destination_id", r.DestinationID),
				logx.String("send_at", r.SendAt),
				logx.Err(err),
			)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *sqliteStore) Delete(ctx context.Context, key Key) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	res, err := s.db.NamedExecContext(ctx,
		`DELETE FROM scheduled_messages
		 WHERE owner_id = :owner_id AND destination_id = :destination_id AND send_at = :send_at`,
		toRow(ScheduledMessage{OwnerID: key.OwnerID, DestinationID: key.DestinationID, SendAt: key.SendAt}),
	)
	if err != nil {
		return fmt.Errorf("delete scheduled message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete scheduled message: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func toRow(m ScheduledMessage) messageRow {
	return messageRow{
		OwnerID:       int64(m.OwnerID),
		DestinationID: int64(m.DestinationID),
		SendAt:        formatTime(m.SendAt),
		Body:          sql.NullString{String: m.Body, Valid: true},
	}
}

func (r messageRow) message() (ScheduledMessage, error) {
	at, err := parseTime(r.SendAt)
	if err != nil {
		return ScheduledMessage{}, err
	}
	return ScheduledMessage{
		OwnerID:       uint64(r.OwnerID),
		DestinationID: uint64(r.DestinationID),
		SendAt:        at,
		Body:          r.Body.String,
	}, nil
}

func formatTime(t time.Time) string {
	return NormalizeTime(t).Format(TimeLayout)
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	t, err := time.ParseInLocation(TimeLayout, s, time.UTC)
	if err == nil {
		return t, nil
	}
	// Rows written with fractional seconds.
	if t2, err2 := time.ParseInLocation("2006-01-02 15:04:05.999999999", s, time.UTC); err2 == nil {
		return NormalizeTime(t2), nil
	}
	return time.Time{}, fmt.Errorf("parse send_at %q: %w", s, err)
}

func isConstraintError(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code()&0xff == sqliteConstraint
}
