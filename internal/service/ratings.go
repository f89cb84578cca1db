package service

import (
	"context"
	"slices"
	"sync"

	"github.com/patrickeudess/nosdonnees/internal/domain/model"
	"github.com/patrickeudess/nosdonnees/internal/repository"
)

// RatingService — средняя оценка датасетов с кэшированием.
// Среднее считается по комментариям с оценкой, комментарии без оценки
// не учитываются. Запись кэша сбрасывается при каждом новом комментарии.
type RatingService struct {
	// cache хранит nil для датасетов без оценок
	cache *CacheService[*float64]

	// mu защищает generation и связку «проверка поколения + запись в кэш»
	mu sync.Mutex
	// generation растёт при каждой инвалидации. Fill не кэширует среднее,
	// прочитанное до инвалидации, случившейся во время запроса.
	generation uint64
}

// NewRatingService создаёт сервис оценок поверх кэша.
func NewRatingService(cache *CacheService[*float64]) *RatingService {
	return &RatingService{cache: cache}
}

// Fill заполняет Rating у переданных датасетов.
// Промахи кэша запрашиваются одним запросом.
func (s *RatingService) Fill(ctx context.Context, comments repository.CommentRepository, datasets ...*model.Dataset) error {
	var missing []string
	for _, d := range datasets {
		if r, ok := s.cache.Get(d.ID); ok {
			d.Rating = r
			continue
		}
		missing = append(missing, d.ID)
	}
	if len(missing) == 0 {
		return nil
	}

	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()

	avg, err := comments.AverageRatings(ctx, missing)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cacheable := s.generation == gen

	for _, d := range datasets {
		if !slices.Contains(missing, d.ID) {
			continue
		}
		var rating *float64
		if v, ok := avg[d.ID]; ok {
			rating = &v
		}
		if cacheable {
			s.cache.Set(d.ID, rating)
		}
		d.Rating = rating
	}
	return nil
}

// Invalidate сбрасывает кэшированную оценку датасета.
func (s *RatingService) Invalidate(datasetID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.cache.Delete(datasetID)
}

