package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/patrickeudess/nosdonnees/internal/domain/model"
)

// UserRepository — интерфейс CRUD для таблицы users.
type UserRepository interface {
	// Create создаёт пользователя. ErrConflict при занятом username/email.
	Create(ctx context.Context, u *model.User) error
	// GetByID возвращает пользователя по UUID.
	GetByID(ctx context.Context, id string) (*model.User, error)
	// GetByUsername возвращает пользователя по имени.
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// Update обновляет имя, email, пароль и профиль.
	Update(ctx context.Context, u *model.User) error
	// SetRole изменяет роль пользователя.
	SetRole(ctx context.Context, id, role string) error
	// Count возвращает общее количество пользователей.
	Count(ctx context.Context) (int64, error)
}

const userColumns = `id, username, email, password_hash, role, profile, created_at, updated_at`

type userRepo struct {
	db DBTX
}

// NewUserRepository создаёт репозиторий пользователей.
func NewUserRepository(db DBTX) UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) Create(ctx context.Context, u *model.User) error {
	query := `
		INSERT INTO users (id, username, email, password_hash, role, profile)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		u.ID, u.Username, u.Email, u.PasswordHash, u.Role, u.Profile,
	).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return userWriteError(err, "ошибка создания пользователя")
	}
	return nil
}

func (r *userRepo) GetByID(ctx context.Context, id string) (*model.User, error) {
	return r.getOne(ctx, fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns), id)
}

func (r *userRepo) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.getOne(ctx, fmt.Sprintf(`SELECT %s FROM users WHERE username = $1`, userColumns), username)
}

func (r *userRepo) getOne(ctx context.Context, query string, arg any) (*model.User, error) {
	u := &model.User{}
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Role, &u.Profile, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения пользователя: %w", err)
	}
	return u, nil
}

func (r *userRepo) Update(ctx context.Context, u *model.User) error {
	query := `
		UPDATE users
		SET username = $2, email = $3, password_hash = $4, profile = $5, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		u.ID, u.Username, u.Email, u.PasswordHash, u.Profile,
	).Scan(&u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return userWriteError(err, "ошибка обновления пользователя")
	}
	return nil
}

func (r *userRepo) SetRole(ctx context.Context, id, role string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE users SET role = $2, updated_at = now() WHERE id = $1`, id, role)
	if err != nil {
		return fmt.Errorf("ошибка изменения роли: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *userRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта пользователей: %w", err)
	}
	return n, nil
}

// userWriteError преобразует нарушение уникальности в ErrConflict
// с указанием занятого поля.
func userWriteError(err error, msg string) error {
	constraint, ok := isUniqueViolation(err)
	if !ok {
		return fmt.Errorf("%s: %w", msg, err)
	}
	switch constraint {
	case "idx_users_username":
		return fmt.Errorf("%w: имя пользователя уже занято", ErrConflict)
	case "idx_users_email":
		return fmt.Errorf("%w: email уже используется", ErrConflict)
	default:
		return fmt.Errorf("%w: пользователь уже существует", ErrConflict)
	}
}
