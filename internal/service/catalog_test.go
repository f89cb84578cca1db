package service

import (
	"errors"
	"testing"
	"time"

	"github.com/patrickeudess/nosdonnees/internal/database"
	"github.com/patrickeudess/nosdonnees/internal/domain/model"
)

func newCatalogService(db *memDB) *CatalogService {
	return NewCatalogService(db, NewCacheService[*model.Domain]("domains_test", 10, time.Minute), testLogger())
}

func TestSeedDomains_Idempotent(t *testing.T) {
	db := newMemDB()
	svc := newCatalogService(db)
	seed, err := database.DefaultDomains()
	if err != nil {
		t.Fatalf("DefaultDomains() ошибка: %v", err)
	}

	created, err := svc.SeedDomains(t.Context(), seed)
	if err != nil {
		t.Fatalf("SeedDomains() ошибка: %v", err)
	}
	if created != len(seed) {
		t.Errorf("создано %d, ожидается %d", created, len(seed))
	}

	created, err = svc.SeedDomains(t.Context(), seed)
	if err != nil {
		t.Fatalf("повторный SeedDomains() ошибка: %v", err)
	}
	if created != 0 || len(db.domains) != len(seed) {
		t.Errorf("повторная загрузка создала %d, всего %d", created, len(db.domains))
	}
}

func TestGetDomain_Cached(t *testing.T) {
	db := newMemDB()
	db.addDomain("dom-1", "Santé")
	svc := newCatalogService(db)

	d, err := svc.GetDomain(t.Context(), "dom-1")
	if err != nil || d.Name != "Santé" {
		t.Fatalf("GetDomain() = %v, %v", d, err)
	}

	// Вторая выборка берётся из кэша
	delete(db.domains, "dom-1")
	if _, err := svc.GetDomain(t.Context(), "dom-1"); err != nil {
		t.Errorf("ожидалось значение из кэша: %v", err)
	}

	if _, err := svc.GetDomain(t.Context(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetDomain(missing) = %v, ожидается ErrNotFound", err)
	}
}
