package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"prestacao.org/internal/auth"
	"prestacao.org/internal/expense"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
	pgErrCheckViolation      = "23514"
)

// Store is the Postgres-backed implementation of expense.Store and auth.UserStore.
type Store struct {
	db *sql.DB
}

var (
	_ expense.Store  = (*Store)(nil)
	_ auth.UserStore = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle (tests use sqlmock).
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	return s.db.PingContext(ctx)
}

// --- users ---

func (s *Store) FindUserByEmail(ctx context.Context, email string) (auth.User, error) {
	var u auth.User
	err := s.db.QueryRowContext(ctx, `
		select id, email, password_hash, role, created_at
		from users
		where email = $1
	`, strings.ToLower(strings.TrimSpace(email))).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.User{}, err
	}
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, u auth.User) (auth.User, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into users (email, password_hash, role)
		values ($1, $2, $3)
		returning id, created_at
	`, strings.ToLower(strings.TrimSpace(u.Email)), u.PasswordHash, string(u.Role))
	if err := row.Scan(&u.ID, &u.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.User{}, auth.ErrAlreadyExists
		}
		return auth.User{}, err
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	return u, nil
}

// --- helpers ---

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// mapWriteError translates constraint violations into domain errors.
// onMissingRef is returned for foreign-key failures on insert/update.
func mapWriteError(err error, onMissingRef error) error {
	pgErr, ok := maybePgError(err)
	if !ok {
		return err
	}
	switch pgErr.Code {
	case pgErrUniqueViolation:
		return expense.ErrConflict
	case pgErrForeignKeyViolation:
		return onMissingRef
	case pgErrCheckViolation:
		return expense.ErrInvalidInput
	}
	return err
}

func rowsAffected(res sql.Result) error {
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return expense.ErrNotFound
	}
	return nil
}
