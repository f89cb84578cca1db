package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/patrickeudess/nosdonnees/internal/domain/model"
)

// DomainRepository — интерфейс доступа к тематическим доменам.
type DomainRepository interface {
	// CreateIfMissing создаёт домен, если домена с таким именем нет.
	// Возвращает true, если запись создана.
	CreateIfMissing(ctx context.Context, d *model.Domain) (bool, error)
	// GetByID возвращает домен по UUID.
	GetByID(ctx context.Context, id string) (*model.Domain, error)
	// ListWithCounts возвращает все домены по алфавиту
	// с количеством валидированных датасетов.
	ListWithCounts(ctx context.Context) ([]*model.DomainStats, error)
	// MostActive возвращает домены с наибольшим числом валидированных датасетов.
	MostActive(ctx context.Context, limit int) ([]*model.DomainStats, error)
}

type domainRepo struct {
	db DBTX
}

// NewDomainRepository создаёт репозиторий доменов.
func NewDomainRepository(db DBTX) DomainRepository {
	return &domainRepo{db: db}
}

func (r *domainRepo) CreateIfMissing(ctx context.Context, d *model.Domain) (bool, error) {
	query := `
		INSERT INTO domains (id, name, description, icon)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO NOTHING
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query, d.ID, d.Name, d.Description, d.Icon).Scan(&d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("ошибка создания домена: %w", err)
	}
	return true, nil
}

func (r *domainRepo) GetByID(ctx context.Context, id string) (*model.Domain, error) {
	d := &model.Domain{}
	err := r.db.QueryRow(ctx,
		`SELECT id, name, description, icon, created_at FROM domains WHERE id = $1`, id,
	).Scan(&d.ID, &d.Name, &d.Description, &d.Icon, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения домена: %w", err)
	}
	return d, nil
}

// domainStatsQuery — домены с количеством валидированных датасетов.
const domainStatsQuery = `
	SELECT dm.id, dm.name, dm.description, dm.icon, dm.created_at,
		COUNT(ds.id) AS dataset_count
	FROM domains dm
	LEFT JOIN datasets ds ON ds.domain_id = dm.id AND ds.status = 'validated'
	GROUP BY dm.id`

func (r *domainRepo) ListWithCounts(ctx context.Context) ([]*model.DomainStats, error) {
	return r.queryStats(ctx, domainStatsQuery+` ORDER BY dm.name`)
}

func (r *domainRepo) MostActive(ctx context.Context, limit int) ([]*model.DomainStats, error) {
	return r.queryStats(ctx,
		domainStatsQuery+` HAVING COUNT(ds.id) > 0 ORDER BY dataset_count DESC, dm.name LIMIT $1`, limit)
}

func (r *domainRepo) queryStats(ctx context.Context, query string, args ...any) ([]*model.DomainStats, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения доменов: %w", err)
	}
	defer rows.Close()

	var result []*model.DomainStats
	for rows.Next() {
		s := &model.DomainStats{}
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.Icon, &s.CreatedAt, &s.DatasetCount); err != nil {
			return nil, fmt.Errorf("ошибка сканирования домена: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}
