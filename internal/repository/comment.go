package repository

import (
	"context"
	"fmt"

	"github.com/patrickeudess/nosdonnees/internal/domain/model"
)

// CommentRepository — интерфейс доступа к комментариям.
type CommentRepository interface {
	// Create добавляет комментарий.
	Create(ctx context.Context, c *model.Comment) error
	// ListByDataset возвращает комментарии датасета, новые первыми.
	ListByDataset(ctx context.Context, datasetID string) ([]*model.Comment, error)
	// AverageRatings возвращает среднюю оценку для каждого из датасетов.
	// Датасеты без оценок в результат не попадают.
	AverageRatings(ctx context.Context, datasetIDs []string) (map[string]float64, error)
	// AverageRatingForSubmitter возвращает среднюю оценку всех датасетов отправителя.
	AverageRatingForSubmitter(ctx context.Context, userID string) (*float64, error)
}

type commentRepo struct {
	db DBTX
}

// NewCommentRepository создаёт репозиторий комментариев.
func NewCommentRepository(db DBTX) CommentRepository {
	return &commentRepo{db: db}
}

func (r *commentRepo) Create(ctx context.Context, c *model.Comment) error {
	query := `
		INSERT INTO comments (id, dataset_id, user_id, text, rating)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`

	if err := r.db.QueryRow(ctx, query, c.ID, c.DatasetID, c.UserID, c.Text, c.Rating).Scan(&c.CreatedAt); err != nil {
		return fmt.Errorf("ошибка создания комментария: %w", err)
	}
	return nil
}

func (r *commentRepo) ListByDataset(ctx context.Context, datasetID string) ([]*model.Comment, error) {
	query := `
		SELECT c.id, c.dataset_id, c.user_id, u.username, c.text, c.rating, c.created_at
		FROM comments c
		JOIN users u ON u.id = c.user_id
		WHERE c.dataset_id = $1
		ORDER BY c.created_at DESC`

	rows, err := r.db.Query(ctx, query, datasetID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения комментариев: %w", err)
	}
	defer rows.Close()

	var result []*model.Comment
	for rows.Next() {
		c := &model.Comment{}
		var rating *int16
		if err := rows.Scan(&c.ID, &c.DatasetID, &c.UserID, &c.Username, &c.Text, &rating, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования комментария: %w", err)
		}
		if rating != nil {
			v := int(*rating)
			c.Rating = &v
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (r *commentRepo) AverageRatings(ctx context.Context, datasetIDs []string) (map[string]float64, error) {
	result := make(map[string]float64, len(datasetIDs))
	if len(datasetIDs) == 0 {
		return result, nil
	}

	query := `
		SELECT dataset_id, AVG(rating)::float8
		FROM comments
		WHERE dataset_id = ANY($1::uuid[]) AND rating IS NOT NULL
		GROUP BY dataset_id`

	rows, err := r.db.Query(ctx, query, datasetIDs)
	if err != nil {
		return nil, fmt.Errorf("ошибка расчёта рейтинга: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var avg float64
		if err := rows.Scan(&id, &avg); err != nil {
			return nil, fmt.Errorf("ошибка сканирования рейтинга: %w", err)
		}
		result[id] = avg
	}
	return result, rows.Err()
}

func (r *commentRepo) AverageRatingForSubmitter(ctx context.Context, userID string) (*float64, error) {
	query := `
		SELECT AVG(c.rating)::float8
		FROM comments c
		JOIN datasets d ON d.id = c.dataset_id
		WHERE d.submitted_by = $1 AND c.rating IS NOT NULL`

	var avg *float64
	if err := r.db.QueryRow(ctx, query, userID).Scan(&avg); err != nil {
		return nil, fmt.Errorf("ошибка расчёта рейтинга отправителя: %w", err)
	}
	return avg, nil
}
