package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/patrickeudess/nosdonnees/internal/domain/model"
	"github.com/patrickeudess/nosdonnees/internal/repository"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fixedClock — часы с фиксированным временем.
func fixedClock() Clock {
	t := time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

// memDB — in-memory хранилище для тестов сервисного слоя.
// WithinTx сериализует транзакции и откатывает изменения при ошибке.
type memDB struct {
	txMu sync.Mutex
	mu   sync.Mutex

	users     map[string]*model.User
	domains   map[string]*model.Domain
	datasets  map[string]*model.Dataset
	comments  []*model.Comment
	downloads []*model.DownloadLog

	// Инъекция ошибок
	failDatasetCreate error
	failDownload      error
}

func newMemDB() *memDB {
	return &memDB{
		users:    make(map[string]*model.User),
		domains:  make(map[string]*model.Domain),
		datasets: make(map[string]*model.Dataset),
	}
}

func (m *memDB) Repos() *repository.Repositories {
	return &repository.Repositories{
		Users:     &fakeUsers{m},
		Domains:   &fakeDomains{m},
		Datasets:  &fakeDatasets{m},
		Comments:  &fakeComments{m},
		Downloads: &fakeDownloads{m},
	}
}

func (m *memDB) WithinTx(_ context.Context, fn func(repos *repository.Repositories) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snap := m.snapshot()
	if err := fn(m.Repos()); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memSnapshot struct {
	users     map[string]model.User
	datasets  map[string]model.Dataset
	comments  int
	downloads int
}

func (m *memDB) snapshot() memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := memSnapshot{
		users:     make(map[string]model.User, len(m.users)),
		datasets:  make(map[string]model.Dataset, len(m.datasets)),
		comments:  len(m.comments),
		downloads: len(m.downloads),
	}
	for k, v := range m.users {
		s.users[k] = *v
	}
	for k, v := range m.datasets {
		s.datasets[k] = *v
	}
	return s
}

func (m *memDB) restore(s memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = make(map[string]*model.User, len(s.users))
	for k, v := range s.users {
		u := v
		m.users[k] = &u
	}
	m.datasets = make(map[string]*model.Dataset, len(s.datasets))
	for k, v := range s.datasets {
		d := v
		m.datasets[k] = &d
	}
	m.comments = m.comments[:s.comments]
	m.downloads = m.downloads[:s.downloads]
}

// --- Вспомогательные конструкторы ---

func (m *memDB) addUser(id, username, role string) *model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := &model.User{ID: id, Username: username, Email: username + "@example.org", Role: role}
	m.users[id] = u
	return u
}

func (m *memDB) addDomain(id, name string) *model.Domain {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := &model.Domain{ID: id, Name: name}
	m.domains[id] = d
	return d
}

func (m *memDB) addDataset(d *model.Dataset) *model.Dataset {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(len(m.datasets)) * time.Hour)
	}
	if d.Description == "" {
		d.Description = "description"
	}
	if d.Source == "" {
		d.Source = "source"
	}
	cp := *d
	m.datasets[d.ID] = &cp
	return d
}

func (m *memDB) dataset(id string) *model.Dataset {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.datasets[id]
	if !ok {
		return nil
	}
	cp := *d
	return &cp
}

func (m *memDB) downloadCount(datasetID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, l := range m.downloads {
		if l.DatasetID == datasetID {
			n++
		}
	}
	return n
}

// --- Users ---

type fakeUsers struct{ m *memDB }

func (r *fakeUsers) Create(_ context.Context, u *model.User) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, existing := range r.m.users {
		if existing.Username == u.Username {
			return errors.Join(repository.ErrConflict, errors.New("имя пользователя уже занято"))
		}
		if strings.EqualFold(existing.Email, u.Email) {
			return errors.Join(repository.ErrConflict, errors.New("email уже используется"))
		}
	}
	cp := *u
	r.m.users[u.ID] = &cp
	return nil
}

func (r *fakeUsers) GetByID(_ context.Context, id string) (*model.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, ok := r.m.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *fakeUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, u := range r.m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *fakeUsers) Update(_ context.Context, u *model.User) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.users[u.ID]; !ok {
		return repository.ErrNotFound
	}
	for id, existing := range r.m.users {
		if id != u.ID && strings.EqualFold(existing.Email, u.Email) {
			return errors.Join(repository.ErrConflict, errors.New("email уже используется"))
		}
	}
	cp := *u
	r.m.users[u.ID] = &cp
	return nil
}

func (r *fakeUsers) SetRole(_ context.Context, id, role string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, ok := r.m.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.Role = role
	return nil
}

func (r *fakeUsers) Count(context.Context) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return int64(len(r.m.users)), nil
}

// --- Domains ---

type fakeDomains struct{ m *memDB }

func (r *fakeDomains) CreateIfMissing(_ context.Context, d *model.Domain) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, existing := range r.m.domains {
		if existing.Name == d.Name {
			return false, nil
		}
	}
	cp := *d
	r.m.domains[d.ID] = &cp
	return true, nil
}

func (r *fakeDomains) GetByID(_ context.Context, id string) (*model.Domain, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	d, ok := r.m.domains[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *fakeDomains) ListWithCounts(context.Context) ([]*model.DomainStats, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var result []*model.DomainStats
	for _, id := range slices.Sorted(maps.Keys(r.m.domains)) {
		result = append(result, &model.DomainStats{Domain: *r.m.domains[id], DatasetCount: r.m.validatedIn(id)})
	}
	return result, nil
}

func (r *fakeDomains) MostActive(ctx context.Context, limit int) ([]*model.DomainStats, error) {
	all, _ := r.ListWithCounts(ctx)
	var active []*model.DomainStats
	for _, d := range all {
		if d.DatasetCount > 0 {
			active = append(active, d)
		}
	}
	sort.SliceStable(active, func(i, j int) bool { return active[i].DatasetCount > active[j].DatasetCount })
	if len(active) > limit {
		active = active[:limit]
	}
	return active, nil
}

// validatedIn вызывается под m.mu.
func (m *memDB) validatedIn(domainID string) int64 {
	var n int64
	for _, d := range m.datasets {
		if d.DomainID == domainID && d.Status == "validated" {
			n++
		}
	}
	return n
}

// --- Datasets ---

type fakeDatasets struct{ m *memDB }

func (r *fakeDatasets) Create(_ context.Context, d *model.Dataset) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failDatasetCreate != nil {
		return r.m.failDatasetCreate
	}
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	cp := *d
	r.m.datasets[d.ID] = &cp
	return nil
}

func (r *fakeDatasets) GetByID(_ context.Context, id string) (*model.Dataset, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	d, ok := r.m.datasets[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *d
	if dom, ok := r.m.domains[d.DomainID]; ok {
		cp.DomainName = dom.Name
	}
	return &cp, nil
}

func (r *fakeDatasets) GetByIDForUpdate(ctx context.Context, id string) (*model.Dataset, error) {
	return r.GetByID(ctx, id)
}

func (r *fakeDatasets) UpdateModeration(_ context.Context, d *model.Dataset) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	stored, ok := r.m.datasets[d.ID]
	if !ok {
		return repository.ErrNotFound
	}
	stored.Status = d.Status
	stored.RejectionReason = d.RejectionReason
	stored.ValidatedBy = d.ValidatedBy
	stored.ValidatedAt = d.ValidatedAt
	return nil
}

func (r *fakeDatasets) UpdateMetadata(_ context.Context, d *model.Dataset) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	stored, ok := r.m.datasets[d.ID]
	if !ok {
		return repository.ErrNotFound
	}
	status, reason, vb, va := stored.Status, stored.RejectionReason, stored.ValidatedBy, stored.ValidatedAt
	cp := *d
	cp.Status, cp.RejectionReason, cp.ValidatedBy, cp.ValidatedAt = status, reason, vb, va
	r.m.datasets[d.ID] = &cp
	return nil
}

func (r *fakeDatasets) IncrementViews(_ context.Context, id string) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	d, ok := r.m.datasets[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	d.ViewCount++
	return d.ViewCount, nil
}

func (r *fakeDatasets) IncrementDownloads(_ context.Context, id string) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	d, ok := r.m.datasets[id]
	if !ok {
		return 0, repository.ErrNotFound
	}
	d.DownloadCount++
	return d.DownloadCount, nil
}

func (r *fakeDatasets) Search(_ context.Context, p repository.SearchParams) ([]*model.Dataset, int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()

	var matched []*model.Dataset
	for _, d := range r.m.datasets {
		if !fakeVisible(p.Visibility, d) || !fakeMatches(p, d) {
			continue
		}
		cp := *d
		matched = append(matched, &cp)
	}

	sort.Slice(matched, func(i, j int) bool {
		if p.Sort == repository.SortPopular && matched[i].DownloadCount != matched[j].DownloadCount {
			return matched[i].DownloadCount > matched[j].DownloadCount
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if p.Offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[p.Offset:]
	if p.Limit > 0 && len(matched) > p.Limit {
		matched = matched[:p.Limit]
	}
	return matched, total, nil
}

func fakeVisible(v repository.Visibility, d *model.Dataset) bool {
	switch {
	case v.All:
		return true
	case v.UserID != "":
		return d.Status == "validated" || d.SubmittedBy == v.UserID
	default:
		return d.Status == "validated"
	}
}

func fakeMatches(p repository.SearchParams, d *model.Dataset) bool {
	if q := strings.ToLower(strings.TrimSpace(p.Query)); q != "" &&
		!strings.Contains(strings.ToLower(d.Title+" "+d.Description+" "+d.Tags+" "+d.Author), q) {
		return false
	}
	if p.DomainID != "" && d.DomainID != p.DomainID {
		return false
	}
	if p.Format != "" && d.FileFormat != strings.ToLower(p.Format) {
		return false
	}
	if p.Status != "" && d.Status != p.Status {
		return false
	}
	if p.SubmittedBy != "" && d.SubmittedBy != p.SubmittedBy {
		return false
	}
	if p.ExcludeID != "" && d.ID == p.ExcludeID {
		return false
	}
	return true
}

func (r *fakeDatasets) CountByStatus(_ context.Context, submittedBy string) (model.StatusCounts, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var c model.StatusCounts
	for _, d := range r.m.datasets {
		if submittedBy != "" && d.SubmittedBy != submittedBy {
			continue
		}
		c.Total++
		switch d.Status {
		case "draft":
			c.Draft++
		case "pending":
			c.Pending++
		case "validated":
			c.Validated++
		case "rejected":
			c.Rejected++
		}
	}
	return c, nil
}

func (r *fakeDatasets) TotalDownloads(context.Context) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for _, d := range r.m.datasets {
		if d.Status == "validated" {
			n += d.DownloadCount
		}
	}
	return n, nil
}

// --- Comments ---

type fakeComments struct{ m *memDB }

func (r *fakeComments) Create(_ context.Context, c *model.Comment) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c.CreatedAt = time.Now()
	cp := *c
	r.m.comments = append(r.m.comments, &cp)
	return nil
}

func (r *fakeComments) ListByDataset(_ context.Context, datasetID string) ([]*model.Comment, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var result []*model.Comment
	for i := len(r.m.comments) - 1; i >= 0; i-- {
		if r.m.comments[i].DatasetID == datasetID {
			cp := *r.m.comments[i]
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (r *fakeComments) AverageRatings(_ context.Context, ids []string) (map[string]float64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	sum := map[string]int{}
	cnt := map[string]int{}
	for _, c := range r.m.comments {
		if c.Rating == nil || !slices.Contains(ids, c.DatasetID) {
			continue
		}
		sum[c.DatasetID] += *c.Rating
		cnt[c.DatasetID]++
	}
	result := make(map[string]float64, len(cnt))
	for id, n := range cnt {
		result[id] = float64(sum[id]) / float64(n)
	}
	return result, nil
}

func (r *fakeComments) AverageRatingForSubmitter(_ context.Context, userID string) (*float64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	sum, n := 0, 0
	for _, c := range r.m.comments {
		d, ok := r.m.datasets[c.DatasetID]
		if !ok || d.SubmittedBy != userID || c.Rating == nil {
			continue
		}
		sum += *c.Rating
		n++
	}
	if n == 0 {
		return nil, nil
	}
	avg := float64(sum) / float64(n)
	return &avg, nil
}

// --- Downloads ---

type fakeDownloads struct{ m *memDB }

func (r *fakeDownloads) Append(_ context.Context, l *model.DownloadLog) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if r.m.failDownload != nil {
		return r.m.failDownload
	}
	l.DownloadedAt = time.Now()
	cp := *l
	r.m.downloads = append(r.m.downloads, &cp)
	return nil
}

func (r *fakeDownloads) CountByDataset(_ context.Context, datasetID string) (int64, error) {
	return int64(r.m.downloadCount(datasetID)), nil
}

func (r *fakeDownloads) CountForSubmitter(_ context.Context, userID string) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for _, l := range r.m.downloads {
		if d, ok := r.m.datasets[l.DatasetID]; ok && d.SubmittedBy == userID {
			n++
		}
	}
	return n, nil
}
