package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/dbpg"

	"eventAdmission/internal/model"
)

const pgUniqueViolation = "23505"

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const pgEventColumns = `id, community_id, creator_id, title, description, type, location,
		       start_time, end_time, participant_limit, status, created_at, updated_at, deleted_at`

// PostgresRepository keeps state in Postgres. The per-event section is a
// transaction holding the event row lock (SELECT ... FOR UPDATE), which also
// serializes admissions issued by other processes.
type PostgresRepository struct {
	db  *dbpg.DB
	log *zerolog.Logger
}

func NewPostgresRepository(db *dbpg.DB, log *zerolog.Logger) (*PostgresRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if err := db.Master.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}
	return &PostgresRepository{db: db, log: log}, nil
}

func (r *PostgresRepository) Close() error {
	return r.db.Master.Close()
}

func (r *PostgresRepository) MigrateUp(migrationsDir string) error {
	return r.runMigrations(migrationsDir, "*.up.sql", false)
}

func (r *PostgresRepository) MigrateDown(migrationsDir string) error {
	return r.runMigrations(migrationsDir, "*.down.sql", true)
}

func (r *PostgresRepository) runMigrations(migrationsDir, pattern string, reverse bool) error {
	files, err := filepath.Glob(filepath.Join(migrationsDir, pattern))
	if err != nil {
		return fmt.Errorf("failed to read migration files: %w", err)
	}
	sort.Strings(files)
	if reverse {
		sort.Sort(sort.Reverse(sort.StringSlice(files)))
	}

	for _, file := range files {
		sqlBytes, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}
		if _, err := r.db.Master.ExecContext(context.Background(), string(sqlBytes)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", file, err)
		}
	}

	r.log.Info().Str("dir", migrationsDir).Str("pattern", pattern).Int("files", len(files)).Msg("migrations applied")
	return nil
}

func (r *PostgresRepository) CreateEvent(ctx context.Context, e *model.Event) error {
	query := `
		INSERT INTO events (community_id, creator_id, title, description, type, location,
		                    start_time, end_time, participant_limit, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	row := r.db.Master.QueryRowContext(ctx, query,
		e.CommunityID, e.CreatorID, e.Title, e.Description, e.Type, e.Location,
		e.StartTime, e.EndTime, nullInt(e.ParticipantLimit), e.Status,
	)
	if err := row.Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetEventByID(ctx context.Context, id int64) (*model.Event, error) {
	query := `SELECT ` + pgEventColumns + ` FROM events WHERE id = $1 AND deleted_at IS NULL`
	return scanPgEvent(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) ListEventsByCommunity(ctx context.Context, communityID int64, status *model.EventStatus, limit, offset int) ([]model.Event, error) {
	query := `
		SELECT ` + pgEventColumns + `
		FROM events
		WHERE community_id = $1 AND deleted_at IS NULL AND ($2::text IS NULL OR status = $2::text)
		ORDER BY start_time DESC, id DESC
		LIMIT $3 OFFSET $4
	`
	var st sql.NullString
	if status != nil {
		st = sql.NullString{String: string(*status), Valid: true}
	}
	return r.queryEvents(ctx, query, communityID, st, limit, offset)
}

func (r *PostgresRepository) CountRegisteredByEvent(ctx context.Context, eventIDs []int64) (map[int64]int, error) {
	counts := make(map[int64]int, len(eventIDs))
	if len(eventIDs) == 0 {
		return counts, nil
	}
	rows, err := r.db.Master.QueryContext(ctx, `
		SELECT event_id, COUNT(*)
		FROM registrations
		WHERE event_id = ANY($1) AND status = $2
		GROUP BY event_id
	`, pq.Array(eventIDs), model.RegistrationRegistered)
	if err != nil {
		return nil, fmt.Errorf("failed to count registrations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id int64
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			return nil, fmt.Errorf("failed to scan registration count: %w", err)
		}
		counts[id] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate registration counts: %w", err)
	}
	return counts, nil
}

func (r *PostgresRepository) ListEventsStartingBetween(ctx context.Context, status model.EventStatus, from, to time.Time) ([]model.Event, error) {
	query := `
		SELECT ` + pgEventColumns + `
		FROM events
		WHERE status = $1 AND deleted_at IS NULL AND start_time >= $2 AND start_time < $3
		ORDER BY start_time ASC, id ASC
	`
	return r.queryEvents(ctx, query, status, from, to)
}

func (r *PostgresRepository) ListEventsEndedBefore(ctx context.Context, status model.EventStatus, before time.Time) ([]model.Event, error) {
	query := `
		SELECT ` + pgEventColumns + `
		FROM events
		WHERE status = $1 AND deleted_at IS NULL AND end_time < $2
		ORDER BY end_time ASC, id ASC
	`
	return r.queryEvents(ctx, query, status, before)
}

func (r *PostgresRepository) queryEvents(ctx context.Context, query string, args ...interface{}) ([]model.Event, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		e, err := scanPgEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}

// Ledger reads go to the primary so a caller sees its own committed admission.
func (r *PostgresRepository) CountByStatus(ctx context.Context, eventID int64, status model.RegistrationStatus) (int, error) {
	return pgLedger{q: r.db.Master}.CountByStatus(ctx, eventID, status)
}

func (r *PostgresRepository) GetFirstWaitlisted(ctx context.Context, eventID int64) (*model.Registration, error) {
	return pgLedger{q: r.db.Master}.GetFirstWaitlisted(ctx, eventID)
}

func (r *PostgresRepository) ListByEvent(ctx context.Context, eventID int64, status *model.RegistrationStatus) ([]model.Registration, error) {
	return pgLedger{q: r.db.Master}.ListByEvent(ctx, eventID, status)
}

func (r *PostgresRepository) GetByEventAndUser(ctx context.Context, eventID, userID int64) (*model.Registration, error) {
	return pgLedger{q: r.db.Master}.GetByEventAndUser(ctx, eventID, userID)
}

func (r *PostgresRepository) RoleOf(ctx context.Context, userID, communityID int64) (model.Role, error) {
	var role string
	err := r.db.QueryRowContext(ctx,
		`SELECT role FROM memberships WHERE user_id = $1 AND community_id = $2`,
		userID, communityID,
	).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return model.RoleNone, nil
	}
	if err != nil {
		return model.RoleNone, fmt.Errorf("failed to get membership: %w", err)
	}
	return model.Role(role), nil
}

func (r *PostgresRepository) ContactOf(ctx context.Context, userID int64) (*model.Contact, error) {
	var c model.Contact
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, full_name FROM users WHERE id = $1`, userID,
	).Scan(&c.UserID, &c.Email, &c.FullName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.Errorf(model.KindNotFound, "no contact for user %d", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	return &c, nil
}

func (r *PostgresRepository) WithinEvent(ctx context.Context, eventID int64, fn func(ev *model.Event, tx Tx) error) error {
	tx, err := r.db.Master.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	query := `SELECT ` + pgEventColumns + ` FROM events WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`
	ev, err := scanPgEvent(tx.QueryRowContext(ctx, query, eventID))
	if err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := fn(ev, &pgTx{pgLedger: pgLedger{q: tx}, eventID: eventID}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type pgLedger struct {
	q queryer
}

const pgRegistrationColumns = `id, event_id, user_id, status, registered_at`

func (l pgLedger) CountByStatus(ctx context.Context, eventID int64, status model.RegistrationStatus) (int, error) {
	var count int
	err := l.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM registrations WHERE event_id = $1 AND status = $2`,
		eventID, status,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count registrations: %w", err)
	}
	return count, nil
}

func (l pgLedger) GetFirstWaitlisted(ctx context.Context, eventID int64) (*model.Registration, error) {
	row := l.q.QueryRowContext(ctx, `
		SELECT `+pgRegistrationColumns+`
		FROM registrations
		WHERE event_id = $1 AND status = 'waitlisted'
		ORDER BY registered_at ASC, id ASC
		LIMIT 1
	`, eventID)
	return scanOptionalRegistration(row)
}

func (l pgLedger) ListByEvent(ctx context.Context, eventID int64, status *model.RegistrationStatus) ([]model.Registration, error) {
	var st sql.NullString
	if status != nil {
		st = sql.NullString{String: string(*status), Valid: true}
	}
	rows, err := l.q.QueryContext(ctx, `
		SELECT `+pgRegistrationColumns+`
		FROM registrations
		WHERE event_id = $1 AND ($2::text IS NULL OR status = $2::text)
		ORDER BY registered_at ASC, id ASC
	`, eventID, st)
	if err != nil {
		return nil, fmt.Errorf("failed to get registrations: %w", err)
	}
	defer rows.Close()

	regs := make([]model.Registration, 0)
	for rows.Next() {
		var reg model.Registration
		if err := rows.Scan(&reg.ID, &reg.EventID, &reg.UserID, &reg.Status, &reg.RegisteredAt); err != nil {
			return nil, fmt.Errorf("failed to scan registration: %w", err)
		}
		regs = append(regs, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate registrations: %w", err)
	}
	return regs, nil
}

func (l pgLedger) GetByEventAndUser(ctx context.Context, eventID, userID int64) (*model.Registration, error) {
	row := l.q.QueryRowContext(ctx, `
		SELECT `+pgRegistrationColumns+`
		FROM registrations
		WHERE event_id = $1 AND user_id = $2
	`, eventID, userID)
	return scanOptionalRegistration(row)
}

type pgTx struct {
	pgLedger
	eventID int64
}

func (t *pgTx) InsertRegistration(ctx context.Context, reg *model.Registration) error {
	var registeredAt interface{}
	if !reg.RegisteredAt.IsZero() {
		registeredAt = reg.RegisteredAt
	}
	err := t.q.QueryRowContext(ctx, `
		INSERT INTO registrations (event_id, user_id, status, registered_at)
		VALUES ($1, $2, $3, COALESCE($4::timestamptz, clock_timestamp()))
		RETURNING id, registered_at
	`, reg.EventID, reg.UserID, reg.Status, registeredAt).Scan(&reg.ID, &reg.RegisteredAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			return model.ErrDuplicateRegistration
		}
		return fmt.Errorf("failed to create registration: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteRegistration(ctx context.Context, id int64) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM registrations WHERE id = $1 AND event_id = $2`, id, t.eventID)
	if err != nil {
		return fmt.Errorf("failed to delete registration: %w", err)
	}
	return expectOneRow(res, model.ErrRegistrationNotFound)
}

func (t *pgTx) SetRegistrationStatus(ctx context.Context, id int64, status model.RegistrationStatus) error {
	res, err := t.q.ExecContext(ctx,
		`UPDATE registrations SET status = $1 WHERE id = $2 AND event_id = $3`,
		status, id, t.eventID,
	)
	if err != nil {
		return fmt.Errorf("failed to update registration status: %w", err)
	}
	return expectOneRow(res, model.ErrRegistrationNotFound)
}

func (t *pgTx) SaveEvent(ctx context.Context, e *model.Event) error {
	err := t.q.QueryRowContext(ctx, `
		UPDATE events
		SET title = $1, description = $2, type = $3, location = $4, start_time = $5, end_time = $6,
		    participant_limit = $7, status = $8, deleted_at = $9,
		    updated_at = GREATEST(clock_timestamp(), updated_at + interval '1 microsecond')
		WHERE id = $10
		RETURNING updated_at
	`,
		e.Title, e.Description, e.Type, e.Location, e.StartTime, e.EndTime,
		nullInt(e.ParticipantLimit), e.Status, nullTime(e.DeletedAt), e.ID,
	).Scan(&e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ErrEventNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPgEvent(row rowScanner) (*model.Event, error) {
	var (
		e         model.Event
		limit     sql.NullInt64
		deletedAt sql.NullTime
		location  sql.NullString
	)
	err := row.Scan(
		&e.ID, &e.CommunityID, &e.CreatorID, &e.Title, &e.Description, &e.Type, &location,
		&e.StartTime, &e.EndTime, &limit, &e.Status, &e.CreatedAt, &e.UpdatedAt, &deletedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}
	e.Location = location.String
	if limit.Valid {
		n := int(limit.Int64)
		e.ParticipantLimit = &n
	}
	if deletedAt.Valid {
		at := deletedAt.Time
		e.DeletedAt = &at
	}
	return &e, nil
}

func scanOptionalRegistration(row rowScanner) (*model.Registration, error) {
	var reg model.Registration
	err := row.Scan(&reg.ID, &reg.EventID, &reg.UserID, &reg.Status, &reg.RegisteredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan registration: %w", err)
	}
	return &reg, nil
}

func expectOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *v, Valid: true}
}
