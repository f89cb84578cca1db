package repository

import (
	"context"
	"fmt"

	"github.com/patrickeudess/nosdonnees/internal/domain/model"
)

// DownloadLogRepository — журнал скачиваний (только добавление).
type DownloadLogRepository interface {
	// Append добавляет запись о скачивании.
	Append(ctx context.Context, l *model.DownloadLog) error
	// CountByDataset возвращает количество записей журнала для датасета.
	CountByDataset(ctx context.Context, datasetID string) (int64, error)
	// CountForSubmitter возвращает количество скачиваний датасетов отправителя.
	CountForSubmitter(ctx context.Context, userID string) (int64, error)
}

type downloadLogRepo struct {
	db DBTX
}

// NewDownloadLogRepository создаёт репозиторий журнала скачиваний.
func NewDownloadLogRepository(db DBTX) DownloadLogRepository {
	return &downloadLogRepo{db: db}
}

func (r *downloadLogRepo) Append(ctx context.Context, l *model.DownloadLog) error {
	query := `
		INSERT INTO download_logs (id, dataset_id, user_id, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING downloaded_at`

	err := r.db.QueryRow(ctx, query,
		l.ID, l.DatasetID, l.UserID, l.IPAddress, l.UserAgent,
	).Scan(&l.DownloadedAt)
	if err != nil {
		return fmt.Errorf("ошибка записи журнала скачиваний: %w", err)
	}
	return nil
}

func (r *downloadLogRepo) CountByDataset(ctx context.Context, datasetID string) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM download_logs WHERE dataset_id = $1`, datasetID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта скачиваний: %w", err)
	}
	return n, nil
}

func (r *downloadLogRepo) CountForSubmitter(ctx context.Context, userID string) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM download_logs l
		JOIN datasets d ON d.id = l.dataset_id
		WHERE d.submitted_by = $1`

	var n int64
	if err := r.db.QueryRow(ctx, query, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта скачиваний отправителя: %w", err)
	}
	return n, nil
}
