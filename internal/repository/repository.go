// Пакет repository — слой доступа к данным PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn — транзакция откатывается.
// При успехе — коммитится.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Repositories — набор репозиториев над одним DBTX.
type Repositories struct {
	Users     UserRepository
	Domains   DomainRepository
	Datasets  DatasetRepository
	Comments  CommentRepository
	Downloads DownloadLogRepository
}

// New создаёт набор репозиториев поверх пула или транзакции.
func New(db DBTX) *Repositories {
	return &Repositories{
		Users:     NewUserRepository(db),
		Domains:   NewDomainRepository(db),
		Datasets:  NewDatasetRepository(db),
		Comments:  NewCommentRepository(db),
		Downloads: NewDownloadLogRepository(db),
	}
}

// Store — точка входа сервисного слоя: репозитории вне транзакции
// и запуск группы операций в одной транзакции.
type Store struct {
	repos *Repositories
	tx    *TxRunner
}

// NewStore создаёт Store поверх пула подключений.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		repos: New(pool),
		tx:    NewTxRunner(pool),
	}
}

// Repos возвращает репозитории, работающие вне транзакции.
func (s *Store) Repos() *Repositories {
	return s.repos
}

// WithinTx выполняет fn с репозиториями, привязанными к одной транзакции.
func (s *Store) WithinTx(ctx context.Context, fn func(repos *Repositories) error) error {
	return s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		return fn(New(tx))
	})
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
// Возвращает имя нарушенного ограничения.
func isUniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
		return pgErr.ConstraintName, true
	}
	return "", false
}

// likePattern экранирует спецсимволы LIKE и оборачивает строку в %...%.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}
