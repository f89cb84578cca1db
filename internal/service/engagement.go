// engagement.go — комментарии и оценки датасетов.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/patrickeudess/nosdonnees/internal/domain/lifecycle"
	"github.com/patrickeudess/nosdonnees/internal/domain/model"
	"github.com/patrickeudess/nosdonnees/internal/repository"
)

// Ограничения комментария.
const (
	minRating        = 1
	maxRating        = 5
	maxCommentLength = 5000
)

// EngagementService — сервис комментариев.
type EngagementService struct {
	store   Store
	ratings *RatingService
	logger  *slog.Logger
}

// NewEngagementService создаёт сервис комментариев.
func NewEngagementService(store Store, ratings *RatingService, logger *slog.Logger) *EngagementService {
	return &EngagementService{
		store:   store,
		ratings: ratings,
		logger:  logger.With(slog.String("component", "engagement_service")),
	}
}

// AddComment добавляет комментарий с необязательной оценкой 1..5.
// Комментировать может любой вошедший пользователь, которому виден датасет.
func (s *EngagementService) AddComment(
	ctx context.Context,
	actor lifecycle.Actor,
	datasetID, text string,
	rating *int,
) (*model.Comment, error) {
	if !actor.IsAuthenticated() {
		return nil, ErrUnauthenticated
	}

	text = strings.TrimSpace(text)
	var invalid []string
	if text == "" || utf8.RuneCountInString(text) > maxCommentLength {
		invalid = append(invalid, "text")
	}
	if rating != nil && (*rating < minRating || *rating > maxRating) {
		invalid = append(invalid, "rating")
	}
	if len(invalid) > 0 {
		return nil, newValidationError("некорректный комментарий", invalid...)
	}

	c := &model.Comment{
		ID:        uuid.New().String(),
		DatasetID: datasetID,
		UserID:    actor.UserID,
		Text:      text,
		Rating:    rating,
	}

	err := s.store.WithinTx(ctx, func(repos *repository.Repositories) error {
		d, err := repos.Datasets.GetByID(ctx, datasetID)
		if err != nil {
			return mapRepoError(err)
		}
		if !lifecycle.PermissionsFor(actor, d).CanComment {
			return ErrNotFound
		}

		user, err := repos.Users.GetByID(ctx, actor.UserID)
		if err != nil {
			return fmt.Errorf("получение автора комментария: %w", err)
		}
		c.Username = user.Username

		return repos.Comments.Create(ctx, c)
	})
	if err != nil {
		return nil, err
	}

	// Инвалидация после коммита: следующий Fill прочитает новое среднее
	s.ratings.Invalidate(datasetID)

	s.logger.Info("Комментарий добавлен",
		slog.String("dataset_id", datasetID),
		slog.String("comment_id", c.ID),
		slog.Bool("rated", rating != nil),
	)
	return c, nil
}

// ListComments возвращает комментарии видимого датасета, новые первыми.
func (s *EngagementService) ListComments(ctx context.Context, actor lifecycle.Actor, datasetID string) ([]*model.Comment, error) {
	repos := s.store.Repos()
	d, err := repos.Datasets.GetByID(ctx, datasetID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	if !lifecycle.PermissionsFor(actor, d).CanView {
		return nil, ErrNotFound
	}

	comments, err := repos.Comments.ListByDataset(ctx, datasetID)
	if err != nil {
		return nil, fmt.Errorf("получение комментариев: %w", err)
	}
	return comments, nil
}
