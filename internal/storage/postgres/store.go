package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/vladislavdragonenkov/order-lifecycle/internal/domain"
)

const (
	defaultConnTimeout     = 5 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute

	opTimeout = 5 * time.Second

	// customerLockClass - первая половина двухключевого advisory lock для отмен клиента.
	// Двухключевые блокировки не пересекаются с одноключевой блокировкой мигратора.
	customerLockClass = int32(1001)
)

// querier - общее подмножество *sql.DB и *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

type txHandle struct {
	owner *Store
	tx    *sql.Tx
}

// Store оборачивает SQL-подключение к PostgreSQL и реализует UnitOfWork.
type Store struct {
	db *sql.DB
}

// Open открывает подключение к PostgreSQL и проверяет доступность базы.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{db: db}, nil
}

var (
	errStoreNotInitialized = errors.New("postgres store is not initialized")
	errNoTransaction       = errors.New("operation requires a transaction")
)

// DB возвращает raw SQL DB, когда нужен низкоуровневый доступ.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// EnsureSchema применяет все ожидающие миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.MigrateUp(ctx, 0)
	return err
}

// Close закрывает подключение к БД.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Within выполняет fn в транзакции. Вложенный вызов с тем же ctx присоединяется к внешней транзакции.
func (s *Store) Within(ctx context.Context, fn func(ctx context.Context, repos domain.Repositories) error) (err error) {
	if h, ok := ctx.Value(txKey{}).(*txHandle); ok && h.owner == s {
		return fn(ctx, s.Repositories())
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	txCtx := context.WithValue(ctx, txKey{}, &txHandle{owner: s, tx: tx})
	if err = fn(txCtx, s.Repositories()); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Repositories возвращает репозитории; внутри Within они работают через транзакцию из ctx.
func (s *Store) Repositories() domain.Repositories {
	return domain.Repositories{
		Orders:        &orderRepository{store: s},
		Returns:       &returnRepository{store: s},
		Abuse:         &abuseRepository{store: s},
		Garages:       &garageRepository{store: s},
		Penalties:     &penaltyRepository{store: s},
		Refunds:       &refundRepository{store: s},
		Cancellations: &cancellationRepository{store: s},
		Timeline:      &timelineRepository{store: s},
		Audit:         &auditRepository{store: s},
	}
}

// conn возвращает транзакцию из ctx или пул подключений.
func (s *Store) conn(ctx context.Context) querier {
	if h, ok := ctx.Value(txKey{}).(*txHandle); ok && h.owner == s {
		return h.tx
	}
	return s.db
}

// inTx сообщает, что ctx несёт транзакцию этого хранилища. FOR UPDATE вне транзакции бессмысленен.
func (s *Store) inTx(ctx context.Context) bool {
	h, ok := ctx.Value(txKey{}).(*txHandle)
	return ok && h.owner == s
}

func withOpTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, opTimeout)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

var _ domain.UnitOfWork = (*Store)(nil)
