package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neomorfeo/lifecycled/internal/domain"
	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite" // Register SQLite driver.
)

//go:embed migrations/*.sql
var migrations embed.FS

// Compile-time checks: Store implements every persistence port.
var (
	_ domain.ClaimStore           = (*Store)(nil)
	_ domain.DefinitionRepository = (*Store)(nil)
	_ domain.InstanceRepository   = (*Store)(nil)
)

// Store implements the life cycle persistence ports using SQLite.
type Store struct {
	db *sql.DB
}

// New opens a SQLite database, runs migrations, and returns a ready store.
func New(dataSourceName string) (*Store, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection: pragmas are per connection, and ":memory:" databases
	// are per connection too. Writers serialize through it.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	// Enable foreign keys (off by default in SQLite).
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	return NewFromDB(db)
}

// NewFromDB wraps an existing database connection, runs migrations, and returns a ready store.
// Use this when the *sql.DB has been pre-configured (e.g., with otelsql instrumentation).
func NewFromDB(db *sql.DB) (*Store, error) {
	if err := runMigrations(db); err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for use by other adapters (e.g., river).
func (s *Store) DB() *sql.DB {
	return s.db
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	return nil
}

// timeFormat is fixed width so stored timestamps compare correctly as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullableString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func stringOrNull(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func secondsDuration(n int64) time.Duration {
	return time.Duration(n) * time.Second
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) CreateLifeCycle(ctx context.Context, lc domain.LifeCycle) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO life_cycles (id, code, active, starts_at, ends_at, activate_by_cron, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		lc.ID, lc.Code, boolInt(lc.Active),
		formatTime(lc.StartsAt), formatNullableTime(lc.EndsAt),
		boolInt(lc.ActivateByCron), formatTime(lc.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.CodeConflictError{Code: lc.Code}
		}
		return fmt.Errorf("inserting life cycle: %w", err)
	}
	return nil
}

const lifeCycleColumns = `id, code, active, starts_at, ends_at, activate_by_cron, created_at`

func (s *Store) GetLifeCycle(ctx context.Context, id string) (domain.LifeCycle, error) {
	return scanLifeCycle(s.db.QueryRowContext(ctx,
		`SELECT `+lifeCycleColumns+` FROM life_cycles WHERE id = ?`, id,
	))
}

func (s *Store) GetLifeCycleByCode(ctx context.Context, code string) (domain.LifeCycle, error) {
	return scanLifeCycle(s.db.QueryRowContext(ctx,
		`SELECT `+lifeCycleColumns+` FROM life_cycles WHERE code = ?`, code,
	))
}

func scanLifeCycle(row rowScanner) (domain.LifeCycle, error) {
	var lc domain.LifeCycle
	var active, byCron int
	var startsAt, createdAt string
	var endsAt sql.NullString

	err := row.Scan(&lc.ID, &lc.Code, &active, &startsAt, &endsAt, &byCron, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.LifeCycle{}, domain.ErrLifeCycleNotFound
		}
		return domain.LifeCycle{}, fmt.Errorf("scanning life cycle: %w", err)
	}

	lc.Active = active == 1
	lc.ActivateByCron = byCron == 1
	lc.StartsAt = parseTime(startsAt)
	lc.EndsAt = parseNullableTime(endsAt)
	lc.CreatedAt = parseTime(createdAt)

	return lc, nil
}

func (s *Store) CreateStage(ctx context.Context, st domain.Stage) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO life_cycle_stages (id, life_cycle_id, "order", handler, delay_seconds)
		 VALUES (?, ?, ?, ?, ?)`,
		st.ID, st.LifeCycleID, st.Order, st.Handler, int64(st.Delay/time.Second),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &domain.StageOrderConflictError{LifeCycleID: st.LifeCycleID, Order: st.Order}
		}
		if isForeignKeyViolation(err) {
			return domain.ErrLifeCycleNotFound
		}
		return fmt.Errorf("inserting stage: %w", err)
	}
	return nil
}

const stageColumns = `id, life_cycle_id, "order", handler, delay_seconds`

func (s *Store) GetStage(ctx context.Context, id string) (domain.Stage, error) {
	return scanStage(s.db.QueryRowContext(ctx,
		`SELECT `+stageColumns+` FROM life_cycle_stages WHERE id = ?`, id,
	))
}

func (s *Store) ListStages(ctx context.Context, lifeCycleID string) ([]domain.Stage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stageColumns+` FROM life_cycle_stages
		 WHERE life_cycle_id = ? ORDER BY "order" ASC`, lifeCycleID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing stages: %w", err)
	}
	defer rows.Close()

	var stages []domain.Stage
	for rows.Next() {
		st, err := scanStage(rows)
		if err != nil {
			return nil, err
		}
		stages = append(stages, st)
	}
	return stages, rows.Err()
}

func (s *Store) NextStage(ctx context.Context, lifeCycleID string, afterOrder int) (domain.Stage, error) {
	return scanStage(s.db.QueryRowContext(ctx,
		`SELECT `+stageColumns+` FROM life_cycle_stages
		 WHERE life_cycle_id = ? AND "order" > ?
		 ORDER BY "order" ASC LIMIT 1`, lifeCycleID, afterOrder,
	))
}

func scanStage(row rowScanner) (domain.Stage, error) {
	var st domain.Stage
	var delay int64

	err := row.Scan(&st.ID, &st.LifeCycleID, &st.Order, &st.Handler, &delay)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Stage{}, domain.ErrStageNotFound
		}
		return domain.Stage{}, fmt.Errorf("scanning stage: %w", err)
	}
	st.Delay = secondsDuration(delay)

	return st, nil
}

// isUniqueViolation checks if a SQLite error is a UNIQUE constraint violation.
func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isForeignKeyViolation checks if a SQLite error is a FOREIGN KEY constraint violation.
func isForeignKeyViolation(err error) bool {
	return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
