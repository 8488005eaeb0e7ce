package repo

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"eventAdmission/internal/model"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

const sqliteEventColumns = `id, community_id, creator_id, title, description, type, location,
		       start_time, end_time, participant_limit, status, created_at, updated_at, deleted_at`

const sqliteRegistrationColumns = `id, event_id, user_id, status, registered_at`

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// SQLiteRepository is the single-node backend. SQLite has one writer, so the
// handle is limited to one connection and every section opens an immediate
// transaction; sections for different events queue behind each other.
type SQLiteRepository struct {
	db  *sql.DB
	log *zerolog.Logger
	now func() time.Time
}

// OpenSQLite opens the database at path and applies embedded migrations.
func OpenSQLite(path string, log *zerolog.Logger) (*SQLiteRepository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := "file:" + filepath.Clean(path) +
		"?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	r := &SQLiteRepository{db: db, log: log, now: time.Now}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return r, nil
}

func (r *SQLiteRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *SQLiteRepository) migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_migrations (name TEXT PRIMARY KEY, applied_at INTEGER NOT NULL)`,
	); err != nil {
		return err
	}
	files, err := fs.Glob(sqliteMigrations, "migrations/sqlite/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(files)

	applied := 0
	for _, file := range files {
		name := filepath.Base(file)
		var seen int
		if err := r.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM schema_migrations WHERE name = ?`, name,
		).Scan(&seen); err != nil {
			return err
		}
		if seen > 0 {
			continue
		}
		body, err := sqliteMigrations.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := r.db.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		if _, err := r.db.ExecContext(ctx,
			`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`, name, toMillis(r.now()),
		); err != nil {
			return err
		}
		applied++
	}
	if r.log != nil {
		r.log.Info().Int("applied", applied).Msg("sqlite migrations applied")
	}
	return nil
}

// SetRole upserts a community membership. RoleNone removes it.
func (r *SQLiteRepository) SetRole(ctx context.Context, userID, communityID int64, role model.Role) error {
	if role == model.RoleNone {
		_, err := r.db.ExecContext(ctx,
			`DELETE FROM memberships WHERE user_id = ? AND community_id = ?`, userID, communityID)
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO memberships (community_id, user_id, role) VALUES (?, ?, ?)
		ON CONFLICT (community_id, user_id) DO UPDATE SET role = excluded.role
	`, communityID, userID, string(role))
	return err
}

func (r *SQLiteRepository) SetContact(ctx context.Context, c model.Contact) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, full_name) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET email = excluded.email, full_name = excluded.full_name
	`, c.UserID, c.Email, c.FullName)
	return err
}

func (r *SQLiteRepository) RoleOf(ctx context.Context, userID, communityID int64) (model.Role, error) {
	var role string
	err := r.db.QueryRowContext(ctx,
		`SELECT role FROM memberships WHERE user_id = ? AND community_id = ?`, userID, communityID,
	).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RoleNone, nil
	}
	if err != nil {
		return model.RoleNone, fmt.Errorf("get membership: %w", err)
	}
	return model.Role(role), nil
}

func (r *SQLiteRepository) ContactOf(ctx context.Context, userID int64) (*model.Contact, error) {
	var c model.Contact
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, full_name FROM users WHERE id = ?`, userID,
	).Scan(&c.UserID, &c.Email, &c.FullName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.Errorf(model.KindNotFound, "no contact for user %d", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("get contact: %w", err)
	}
	return &c, nil
}

func (r *SQLiteRepository) CreateEvent(ctx context.Context, e *model.Event) error {
	now := r.now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = e.CreatedAt
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO events (community_id, creator_id, title, description, type, location,
		                    start_time, end_time, participant_limit, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.CommunityID, e.CreatorID, e.Title, e.Description, string(e.Type), nullString(e.Location),
		toMillis(e.StartTime), toMillis(e.EndTime), nullInt(e.ParticipantLimit), string(e.Status),
		toMillis(e.CreatedAt), toMillis(e.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	e.ID = id
	e.StartTime = fromMillis(toMillis(e.StartTime))
	e.EndTime = fromMillis(toMillis(e.EndTime))
	e.CreatedAt = fromMillis(toMillis(e.CreatedAt))
	e.UpdatedAt = fromMillis(toMillis(e.UpdatedAt))
	return nil
}

func (r *SQLiteRepository) GetEventByID(ctx context.Context, id int64) (*model.Event, error) {
	return scanSQLiteEvent(r.db.QueryRowContext(ctx,
		`SELECT `+sqliteEventColumns+` FROM events WHERE id = ? AND deleted_at IS NULL`, id))
}

func (r *SQLiteRepository) ListEventsByCommunity(ctx context.Context, communityID int64, status *model.EventStatus, limit, offset int) ([]model.Event, error) {
	var st sql.NullString
	if status != nil {
		st = sql.NullString{String: string(*status), Valid: true}
	}
	return r.queryEvents(ctx, `
		SELECT `+sqliteEventColumns+`
		FROM events
		WHERE community_id = ? AND deleted_at IS NULL AND (? IS NULL OR status = ?)
		ORDER BY start_time DESC, id DESC
		LIMIT ? OFFSET ?
	`, communityID, st, st, limit, offset)
}

func (r *SQLiteRepository) CountRegisteredByEvent(ctx context.Context, eventIDs []int64) (map[int64]int, error) {
	counts := make(map[int64]int, len(eventIDs))
	if len(eventIDs) == 0 {
		return counts, nil
	}
	args := make([]interface{}, 0, len(eventIDs)+1)
	args = append(args, string(model.RegistrationRegistered))
	for _, id := range eventIDs {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(eventIDs)), ",")

	rows, err := r.db.QueryContext(ctx, `
		SELECT event_id, COUNT(*)
		FROM registrations
		WHERE status = ? AND event_id IN (`+placeholders+`)
		GROUP BY event_id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("count registrations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id int64
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("scan registration count: %w", err)
		}
		counts[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count registrations: %w", err)
	}
	return counts, nil
}

func (r *SQLiteRepository) ListEventsStartingBetween(ctx context.Context, status model.EventStatus, from, to time.Time) ([]model.Event, error) {
	return r.queryEvents(ctx, `
		SELECT `+sqliteEventColumns+`
		FROM events
		WHERE status = ? AND deleted_at IS NULL AND start_time >= ? AND start_time < ?
		ORDER BY start_time ASC, id ASC
	`, string(status), toMillis(from), toMillis(to))
}

func (r *SQLiteRepository) ListEventsEndedBefore(ctx context.Context, status model.EventStatus, before time.Time) ([]model.Event, error) {
	return r.queryEvents(ctx, `
		SELECT `+sqliteEventColumns+`
		FROM events
		WHERE status = ? AND deleted_at IS NULL AND end_time < ?
		ORDER BY end_time ASC, id ASC
	`, string(status), toMillis(before))
}

func (r *SQLiteRepository) queryEvents(ctx context.Context, query string, args ...interface{}) ([]model.Event, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanSQLiteEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}

func (r *SQLiteRepository) CountByStatus(ctx context.Context, eventID int64, status model.RegistrationStatus) (int, error) {
	return sqliteLedger{q: r.db}.CountByStatus(ctx, eventID, status)
}

func (r *SQLiteRepository) GetFirstWaitlisted(ctx context.Context, eventID int64) (*model.Registration, error) {
	return sqliteLedger{q: r.db}.GetFirstWaitlisted(ctx, eventID)
}

func (r *SQLiteRepository) ListByEvent(ctx context.Context, eventID int64, status *model.RegistrationStatus) ([]model.Registration, error) {
	return sqliteLedger{q: r.db}.ListByEvent(ctx, eventID, status)
}

func (r *SQLiteRepository) GetByEventAndUser(ctx context.Context, eventID, userID int64) (*model.Registration, error) {
	return sqliteLedger{q: r.db}.GetByEventAndUser(ctx, eventID, userID)
}

// WithinEvent holds the only connection for the duration of fn. fn must use tx
// exclusively; calling back into r would wait on itself.
//
// The pool is capped at one connection, so sections for different events do
// not run in parallel: they queue on that connection, and plain reads such as
// GetEvent or ListParticipants block until the running section commits or
// rolls back. Use the postgres driver when unrelated events must be admitted
// concurrently.
func (r *SQLiteRepository) WithinEvent(ctx context.Context, eventID int64, fn func(ev *model.Event, tx Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	ev, err := scanSQLiteEvent(tx.QueryRowContext(ctx,
		`SELECT `+sqliteEventColumns+` FROM events WHERE id = ? AND deleted_at IS NULL`, eventID))
	if err != nil {
		_ = tx.Rollback()
		return err
	}

	stx := &sqliteTx{sqliteLedger: sqliteLedger{q: tx}, eventID: eventID, now: r.now}
	if err := fn(ev, stx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type sqliteLedger struct {
	q queryer
}

func (l sqliteLedger) CountByStatus(ctx context.Context, eventID int64, status model.RegistrationStatus) (int, error) {
	var count int
	err := l.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM registrations WHERE event_id = ? AND status = ?`, eventID, string(status),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count registrations: %w", err)
	}
	return count, nil
}

func (l sqliteLedger) GetFirstWaitlisted(ctx context.Context, eventID int64) (*model.Registration, error) {
	return scanSQLiteRegistration(l.q.QueryRowContext(ctx, `
		SELECT `+sqliteRegistrationColumns+`
		FROM registrations
		WHERE event_id = ? AND status = 'waitlisted'
		ORDER BY registered_at ASC, id ASC
		LIMIT 1
	`, eventID))
}

func (l sqliteLedger) ListByEvent(ctx context.Context, eventID int64, status *model.RegistrationStatus) ([]model.Registration, error) {
	var st sql.NullString
	if status != nil {
		st = sql.NullString{String: string(*status), Valid: true}
	}
	rows, err := l.q.QueryContext(ctx, `
		SELECT `+sqliteRegistrationColumns+`
		FROM registrations
		WHERE event_id = ? AND (? IS NULL OR status = ?)
		ORDER BY registered_at ASC, id ASC
	`, eventID, st, st)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	regs := make([]model.Registration, 0)
	for rows.Next() {
		var (
			reg    model.Registration
			status string
			at     int64
		)
		if err := rows.Scan(&reg.ID, &reg.EventID, &reg.UserID, &status, &at); err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		reg.Status = model.RegistrationStatus(status)
		reg.RegisteredAt = fromMillis(at)
		regs = append(regs, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	return regs, nil
}

func (l sqliteLedger) GetByEventAndUser(ctx context.Context, eventID, userID int64) (*model.Registration, error) {
	return scanSQLiteRegistration(l.q.QueryRowContext(ctx, `
		SELECT `+sqliteRegistrationColumns+`
		FROM registrations
		WHERE event_id = ? AND user_id = ?
	`, eventID, userID))
}

type sqliteTx struct {
	sqliteLedger
	eventID int64
	now     func() time.Time
}

func (t *sqliteTx) InsertRegistration(ctx context.Context, reg *model.Registration) error {
	if reg.EventID != t.eventID {
		return model.Errorf(model.KindInternal, "event %d is outside the section of event %d", reg.EventID, t.eventID)
	}
	if reg.RegisteredAt.IsZero() {
		reg.RegisteredAt = t.now()
	}
	reg.RegisteredAt = fromMillis(toMillis(reg.RegisteredAt))
	res, err := t.q.ExecContext(ctx,
		`INSERT INTO registrations (event_id, user_id, status, registered_at) VALUES (?, ?, ?, ?)`,
		reg.EventID, reg.UserID, string(reg.Status), toMillis(reg.RegisteredAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ErrDuplicateRegistration
		}
		return fmt.Errorf("insert registration: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("insert registration: %w", err)
	}
	reg.ID = id
	return nil
}

func (t *sqliteTx) DeleteRegistration(ctx context.Context, id int64) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM registrations WHERE id = ? AND event_id = ?`, id, t.eventID)
	if err != nil {
		return fmt.Errorf("delete registration: %w", err)
	}
	return expectOneRow(res, model.ErrRegistrationNotFound)
}

func (t *sqliteTx) SetRegistrationStatus(ctx context.Context, id int64, status model.RegistrationStatus) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE registrations SET status = ? WHERE id = ? AND event_id = ?`, string(status), id, t.eventID)
	if err != nil {
		return fmt.Errorf("update registration status: %w", err)
	}
	return expectOneRow(res, model.ErrRegistrationNotFound)
}

func (t *sqliteTx) SaveEvent(ctx context.Context, e *model.Event) error {
	e.UpdatedAt = nextUpdatedAt(e.UpdatedAt, fromMillis(toMillis(t.now())), time.Millisecond)
	var deletedAt sql.NullInt64
	if e.DeletedAt != nil {
		deletedAt = sql.NullInt64{Int64: toMillis(*e.DeletedAt), Valid: true}
	}
	res, err := t.q.ExecContext(ctx, `
		UPDATE events
		SET title = ?, description = ?, type = ?, location = ?, start_time = ?, end_time = ?,
		    participant_limit = ?, status = ?, deleted_at = ?, updated_at = ?
		WHERE id = ?
	`,
		e.Title, e.Description, string(e.Type), nullString(e.Location), toMillis(e.StartTime), toMillis(e.EndTime),
		nullInt(e.ParticipantLimit), string(e.Status), deletedAt, toMillis(e.UpdatedAt), e.ID,
	)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	return expectOneRow(res, model.ErrEventNotFound)
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func scanSQLiteEvent(row rowScanner) (*model.Event, error) {
	var (
		e                                model.Event
		typ, status                      string
		location                         sql.NullString
		limit, deletedAt                 sql.NullInt64
		start, end, createdAt, updatedAt int64
	)
	err := row.Scan(
		&e.ID, &e.CommunityID, &e.CreatorID, &e.Title, &e.Description, &typ, &location,
		&start, &end, &limit, &status, &createdAt, &updatedAt, &deletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan event: %w", err)
	}
	e.Type = model.EventType(typ)
	e.Status = model.EventStatus(status)
	e.Location = location.String
	e.StartTime = fromMillis(start)
	e.EndTime = fromMillis(end)
	e.CreatedAt = fromMillis(createdAt)
	e.UpdatedAt = fromMillis(updatedAt)
	if limit.Valid {
		n := int(limit.Int64)
		e.ParticipantLimit = &n
	}
	if deletedAt.Valid {
		at := fromMillis(deletedAt.Int64)
		e.DeletedAt = &at
	}
	return &e, nil
}

func scanSQLiteRegistration(row rowScanner) (*model.Registration, error) {
	var (
		reg    model.Registration
		status string
		at     int64
	)
	err := row.Scan(&reg.ID, &reg.EventID, &reg.UserID, &status, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan registration: %w", err)
	}
	reg.Status = model.RegistrationStatus(status)
	reg.RegisteredAt = fromMillis(at)
	return &reg, nil
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}
