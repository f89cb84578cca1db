package service

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/patrickeudess/nosdonnees/internal/repository"
	"github.com/patrickeudess/nosdonnees/internal/storage/blobstore"
)

// Store — доступ к репозиториям и транзакциям.
// Реализуется repository.Store, в тестах подменяется in-memory fake.
type Store interface {
	// Repos возвращает репозитории вне транзакции.
	Repos() *repository.Repositories
	// WithinTx выполняет fn в одной транзакции: ошибка fn откатывает все изменения.
	WithinTx(ctx context.Context, fn func(repos *repository.Repositories) error) error
}

// BlobStore — хранилище файлов датасетов. Реализуется blobstore.Store.
type BlobStore interface {
	Put(reader io.Reader, originalFilename, owner string, maxSize int64) (*blobstore.PutResult, error)
	Open(key string) (*os.File, error)
	Delete(key string) error
}

// Clock возвращает текущее время. В тестах подменяется фиксированным.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}
