package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/patrickeudess/nosdonnees/internal/domain/model"
)

// datasetColumns — столбцы датасета с именами домена и отправителя.
// DRY: одно место для всех SELECT'ов, порядок совпадает с scanDataset.
const datasetColumns = `d.id, d.title, d.description, d.short_description, d.source, d.author,
	d.creation_date, d.file_path, d.file_name, d.file_format, d.file_size,
	d.domain_id, dm.name, d.tags, d.country, d.language, d.methodology, d.documentation,
	d.submitted_by, u.username, d.status, d.rejection_reason, d.validated_by, d.validated_at,
	d.view_count, d.download_count, d.created_at, d.updated_at`

const datasetFrom = `FROM datasets d
	JOIN domains dm ON dm.id = d.domain_id
	JOIN users u ON u.id = d.submitted_by`

// Порядок сортировки результатов поиска.
const (
	// SortNewest — сначала новые (по дате создания данных).
	SortNewest = "newest"
	// SortPopular — по убыванию количества скачиваний.
	SortPopular = "popular"
	// SortUpdated — сначала недавно изменённые.
	SortUpdated = "updated"
)

// Visibility — кому должны быть видны результаты.
// Нулевое значение — анонимный посетитель (только validated).
type Visibility struct {
	// UserID — автор запроса: видит также собственные датасеты
	UserID string
	// All — администратор: видит всё
	All bool
}

// SearchParams — параметры поиска датасетов.
// Пустые значения — фильтр не применяется.
type SearchParams struct {
	Visibility Visibility
	// Query — подстрока в title, description, tags или author (без учёта регистра)
	Query string
	// DomainID — точное совпадение домена
	DomainID string
	// Format — точное совпадение формата файла
	Format string
	// Country — подстрока в стране (без учёта регистра)
	Country string
	// DateFrom, DateTo — включительный диапазон creation_date
	DateFrom *time.Time
	DateTo   *time.Time
	// Status — точное совпадение статуса (поверх правила видимости)
	Status string
	// SubmittedBy — датасеты конкретного отправителя
	SubmittedBy string
	// ExcludeID — исключить датасет (для похожих)
	ExcludeID string
	// Sort — SortNewest (по умолчанию), SortPopular, SortUpdated
	Sort   string
	Limit  int
	Offset int
}

// DatasetRepository — интерфейс доступа к датасетам.
type DatasetRepository interface {
	// Create создаёт запись датасета.
	Create(ctx context.Context, d *model.Dataset) error
	// GetByID возвращает датасет по UUID.
	GetByID(ctx context.Context, id string) (*model.Dataset, error)
	// GetByIDForUpdate возвращает датасет с блокировкой строки до конца транзакции.
	GetByIDForUpdate(ctx context.Context, id string) (*model.Dataset, error)
	// UpdateModeration сохраняет статус и поля модерации.
	UpdateModeration(ctx context.Context, d *model.Dataset) error
	// UpdateMetadata сохраняет описательные поля.
	UpdateMetadata(ctx context.Context, d *model.Dataset) error
	// IncrementViews атомарно увеличивает view_count и возвращает новое значение.
	IncrementViews(ctx context.Context, id string) (int64, error)
	// IncrementDownloads атомарно увеличивает download_count и возвращает новое значение.
	IncrementDownloads(ctx context.Context, id string) (int64, error)
	// Search выполняет поиск с фильтрами и пагинацией.
	// Возвращает: список датасетов, общее количество, ошибка.
	Search(ctx context.Context, params SearchParams) ([]*model.Dataset, int, error)
	// CountByStatus возвращает количество датасетов по статусам.
	// submittedBy != "" ограничивает подсчёт датасетами отправителя.
	CountByStatus(ctx context.Context, submittedBy string) (model.StatusCounts, error)
	// TotalDownloads возвращает сумму скачиваний валидированных датасетов.
	TotalDownloads(ctx context.Context) (int64, error)
}

type datasetRepo struct {
	db DBTX
}

// NewDatasetRepository создаёт репозиторий датасетов.
func NewDatasetRepository(db DBTX) DatasetRepository {
	return &datasetRepo{db: db}
}

func (r *datasetRepo) Create(ctx context.Context, d *model.Dataset) error {
	query := `
		INSERT INTO datasets (id, title, description, short_description, source, author,
			creation_date, file_path, file_name, file_format, file_size, domain_id, tags,
			country, language, methodology, documentation, submitted_by, status,
			rejection_reason, validated_by, validated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22)
		RETURNING view_count, download_count, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		d.ID, d.Title, d.Description, d.ShortDescription, d.Source, d.Author,
		d.CreationDate, d.FilePath, d.FileName, d.FileFormat, d.FileSize, d.DomainID, d.Tags,
		d.Country, d.Language, d.Methodology, d.Documentation, d.SubmittedBy, d.Status,
		d.RejectionReason, d.ValidatedBy, d.ValidatedAt,
	).Scan(&d.ViewCount, &d.DownloadCount, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if _, ok := isUniqueViolation(err); ok {
			return fmt.Errorf("%w: датасет с таким ID уже существует", ErrConflict)
		}
		return fmt.Errorf("ошибка создания датасета: %w", err)
	}
	return nil
}

func (r *datasetRepo) GetByID(ctx context.Context, id string) (*model.Dataset, error) {
	return r.getOne(ctx, fmt.Sprintf(`SELECT %s %s WHERE d.id = $1`, datasetColumns, datasetFrom), id)
}

func (r *datasetRepo) GetByIDForUpdate(ctx context.Context, id string) (*model.Dataset, error) {
	return r.getOne(ctx, fmt.Sprintf(`SELECT %s %s WHERE d.id = $1 FOR UPDATE OF d`, datasetColumns, datasetFrom), id)
}

func (r *datasetRepo) getOne(ctx context.Context, query, id string) (*model.Dataset, error) {
	d, err := scanDataset(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения датасета: %w", err)
	}
	return d, nil
}

func (r *datasetRepo) UpdateModeration(ctx context.Context, d *model.Dataset) error {
	query := `
		UPDATE datasets
		SET status = $2, rejection_reason = $3, validated_by = $4, validated_at = $5,
			updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		d.ID, d.Status, d.RejectionReason, d.ValidatedBy, d.ValidatedAt,
	).Scan(&d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления статуса датасета: %w", err)
	}
	return nil
}

func (r *datasetRepo) UpdateMetadata(ctx context.Context, d *model.Dataset) error {
	query := `
		UPDATE datasets
		SET title = $2, description = $3, short_description = $4, source = $5, author = $6,
			creation_date = $7, domain_id = $8, tags = $9, country = $10, language = $11,
			methodology = $12, documentation = $13, updated_at = now()
		WHERE id = $1
		RETURNING updated_at`

	err := r.db.QueryRow(ctx, query,
		d.ID, d.Title, d.Description, d.ShortDescription, d.Source, d.Author,
		d.CreationDate, d.DomainID, d.Tags, d.Country, d.Language,
		d.Methodology, d.Documentation,
	).Scan(&d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка обновления датасета: %w", err)
	}
	return nil
}

func (r *datasetRepo) IncrementViews(ctx context.Context, id string) (int64, error) {
	return r.increment(ctx, `UPDATE datasets SET view_count = view_count + 1 WHERE id = $1 RETURNING view_count`, id)
}

func (r *datasetRepo) IncrementDownloads(ctx context.Context, id string) (int64, error) {
	return r.increment(ctx, `UPDATE datasets SET download_count = download_count + 1 WHERE id = $1 RETURNING download_count`, id)
}

// increment выполняет атомарный UPDATE ... SET x = x + 1 на стороне БД.
func (r *datasetRepo) increment(ctx context.Context, query, id string) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, query, id).Scan(&n); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("ошибка обновления счётчика: %w", err)
	}
	return n, nil
}

func (r *datasetRepo) Search(ctx context.Context, params SearchParams) ([]*model.Dataset, int, error) {
	where, args := buildDatasetWhere(params, 1)
	argNum := len(args) + 1

	dataQuery := fmt.Sprintf(`SELECT %s %s %s %s LIMIT $%d OFFSET $%d`,
		datasetColumns, datasetFrom, where, buildDatasetOrderBy(params.Sort), argNum, argNum+1)
	dataArgs := append(append([]any{}, args...), params.Limit, params.Offset)

	rows, err := r.db.Query(ctx, dataQuery, dataArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("ошибка поиска датасетов: %w", err)
	}
	defer rows.Close()

	var result []*model.Dataset
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("ошибка сканирования датасета: %w", err)
		}
		result = append(result, d)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("ошибка итерации результатов: %w", err)
	}

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM datasets d %s`, where)
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ошибка подсчёта датасетов: %w", err)
	}

	return result, total, nil
}

func (r *datasetRepo) CountByStatus(ctx context.Context, submittedBy string) (model.StatusCounts, error) {
	query := `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE status = 'draft'),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'validated'),
			COUNT(*) FILTER (WHERE status = 'rejected')
		FROM datasets
		WHERE $1 = '' OR submitted_by::text = $1`

	var c model.StatusCounts
	err := r.db.QueryRow(ctx, query, submittedBy).Scan(
		&c.Total, &c.Draft, &c.Pending, &c.Validated, &c.Rejected,
	)
	if err != nil {
		return c, fmt.Errorf("ошибка подсчёта датасетов по статусам: %w", err)
	}
	return c, nil
}

func (r *datasetRepo) TotalDownloads(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(download_count), 0) FROM datasets WHERE status = 'validated'`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ошибка подсчёта скачиваний: %w", err)
	}
	return n, nil
}

// rowScanner — общий интерфейс pgx.Row и pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanDataset читает строку в порядке datasetColumns.
func scanDataset(row rowScanner) (*model.Dataset, error) {
	d := &model.Dataset{}
	err := row.Scan(
		&d.ID, &d.Title, &d.Description, &d.ShortDescription, &d.Source, &d.Author,
		&d.CreationDate, &d.FilePath, &d.FileName, &d.FileFormat, &d.FileSize,
		&d.DomainID, &d.DomainName, &d.Tags, &d.Country, &d.Language, &d.Methodology, &d.Documentation,
		&d.SubmittedBy, &d.SubmitterName, &d.Status, &d.RejectionReason, &d.ValidatedBy, &d.ValidatedAt,
		&d.ViewCount, &d.DownloadCount, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// buildDatasetWhere строит WHERE-условие и аргументы для поиска датасетов.
// startArg — номер первого $-параметра (для корректной нумерации).
//
//nolint:cyclop // сложность обусловлена количеством фильтров
func buildDatasetWhere(params SearchParams, startArg int) (whereClause string, args []any) {
	var conditions []string
	argNum := startArg

	// Правило видимости применяется всегда
	switch {
	case params.Visibility.All:
	case params.Visibility.UserID != "":
		conditions = append(conditions, fmt.Sprintf("(d.status = 'validated' OR d.submitted_by = $%d)", argNum))
		args = append(args, params.Visibility.UserID)
		argNum++
	default:
		conditions = append(conditions, "d.status = 'validated'")
	}

	if q := strings.TrimSpace(params.Query); q != "" {
		conditions = append(conditions, fmt.Sprintf(
			"(d.title ILIKE $%[1]d OR d.description ILIKE $%[1]d OR d.tags ILIKE $%[1]d OR d.author ILIKE $%[1]d)",
			argNum))
		args = append(args, likePattern(q))
		argNum++
	}

	if params.DomainID != "" {
		conditions = append(conditions, fmt.Sprintf("d.domain_id = $%d", argNum))
		args = append(args, params.DomainID)
		argNum++
	}

	if params.Format != "" {
		conditions = append(conditions, fmt.Sprintf("d.file_format = $%d", argNum))
		args = append(args, strings.ToLower(params.Format))
		argNum++
	}

	if c := strings.TrimSpace(params.Country); c != "" {
		conditions = append(conditions, fmt.Sprintf("d.country ILIKE $%d", argNum))
		args = append(args, likePattern(c))
		argNum++
	}

	if params.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("d.creation_date >= $%d", argNum))
		args = append(args, *params.DateFrom)
		argNum++
	}

	if params.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("d.creation_date <= $%d", argNum))
		args = append(args, *params.DateTo)
		argNum++
	}

	if params.Status != "" {
		conditions = append(conditions, fmt.Sprintf("d.status = $%d", argNum))
		args = append(args, params.Status)
		argNum++
	}

	if params.SubmittedBy != "" {
		conditions = append(conditions, fmt.Sprintf("d.submitted_by = $%d", argNum))
		args = append(args, params.SubmittedBy)
		argNum++
	}

	if params.ExcludeID != "" {
		conditions = append(conditions, fmt.Sprintf("d.id <> $%d", argNum))
		args = append(args, params.ExcludeID)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args
}

// buildDatasetOrderBy строит ORDER BY по whitelist режимов сортировки.
func buildDatasetOrderBy(sort string) string {
	switch sort {
	case SortPopular:
		return "ORDER BY d.download_count DESC, d.created_at DESC"
	case SortUpdated:
		return "ORDER BY d.updated_at DESC"
	default:
		return "ORDER BY d.creation_date DESC, d.created_at DESC"
	}
}
