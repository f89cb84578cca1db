package service

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/patrickeudess/nosdonnees/internal/domain/lifecycle"
	"github.com/patrickeudess/nosdonnees/internal/domain/model"
	"github.com/patrickeudess/nosdonnees/internal/storage/blobstore"
)

// Акторы тестового окружения.
var (
	anonymous   = lifecycle.Actor{}
	ownerActor  = lifecycle.Actor{UserID: "u-owner", Role: "contributor"}
	otherActor  = lifecycle.Actor{UserID: "u-other", Role: "contributor"}
	visitorUser = lifecycle.Actor{UserID: "u-visitor", Role: "visitor"}
	adminActor  = lifecycle.Actor{UserID: "u-admin", Role: "admin"}
)

const testDomain = "7c9e6679-7425-40de-944b-e07fc1f90ae7"

// fixture — сервисы поверх memDB и blobstore во временной директории.
type fixture struct {
	db        *memDB
	blobs     *blobstore.Store
	ratings   *RatingService
	datasets  *DatasetService
	ingestion *IngestionService
	engage    *EngagementService
	query     *QueryService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := newMemDB()
	db.addUser(ownerActor.UserID, "owner", ownerActor.Role)
	db.addUser(otherActor.UserID, "other", otherActor.Role)
	db.addUser(visitorUser.UserID, "visitor", visitorUser.Role)
	db.addUser(adminActor.UserID, "admin", adminActor.Role)
	db.addDomain(testDomain, "Santé")

	blobs, err := blobstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("ошибка создания blobstore: %v", err)
	}

	ratings := NewRatingService(NewCacheService[*float64]("ratings_test", 100, time.Minute))
	logger := testLogger()

	return &fixture{
		db:        db,
		blobs:     blobs,
		ratings:   ratings,
		datasets:  NewDatasetService(db, blobs, ratings, fixedClock(), logger),
		ingestion: NewIngestionService(db, blobs, lifecycle.Policy{AutoValidateAdmin: true}, 1024, fixedClock(), logger),
		engage:    NewEngagementService(db, ratings, logger),
		query:     NewQueryService(db, ratings, 12, logger),
	}
}

// seedDataset создаёт датасет с файлом в blobstore.
func (f *fixture) seedDataset(t *testing.T, id, owner, status string) *model.Dataset {
	t.Helper()

	blob, err := f.blobs.Put(strings.NewReader("a;b\n1;2\n"), id+".csv", owner, 1024)
	if err != nil {
		t.Fatalf("ошибка записи файла: %v", err)
	}

	d := &model.Dataset{
		ID:          id,
		Title:       "Dataset " + id,
		DomainID:    testDomain,
		FilePath:    blob.Key,
		FileName:    id + ".csv",
		FileFormat:  "csv",
		FileSize:    blob.Size,
		SubmittedBy: owner,
		Status:      status,
	}
	switch status {
	case lifecycle.StatusRejected:
		d.RejectionReason = "incomplet"
	case lifecycle.StatusValidated:
		by := adminActor.UserID
		at := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
		d.ValidatedBy, d.ValidatedAt = &by, &at
	}
	return f.db.addDataset(d)
}

// blobCount возвращает количество файлов в хранилище.
func (f *fixture) blobCount(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(f.blobs.DataDir())
	if err != nil {
		t.Fatalf("ошибка чтения директории: %v", err)
	}
	return len(entries)
}

// assertInvariants проверяет согласованность полей модерации.
func assertInvariants(t *testing.T, d *model.Dataset) {
	t.Helper()
	if (d.Status == lifecycle.StatusRejected) != (d.RejectionReason != "") {
		t.Errorf("нарушена связь status=%q и rejection_reason=%q", d.Status, d.RejectionReason)
	}
	if (d.ValidatedBy == nil) != (d.ValidatedAt == nil) {
		t.Errorf("validated_by и validated_at должны задаваться вместе")
	}
	if d.Status == lifecycle.StatusValidated && d.ValidatedBy == nil {
		t.Errorf("validated без validated_by")
	}
}

func intPtr(v int) *int { return &v }
