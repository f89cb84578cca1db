// Пакет model — доменные сущности каталога Nosdonnées.
// Структуры не содержат логики хранения, только данные.
package model

import "time"

// User — учётная запись пользователя.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	// Role — visitor, contributor или admin (см. пакет rbac)
	Role      string
	Profile   Profile
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Profile — произвольные атрибуты профиля. На жизненный цикл
// датасетов не влияют, хранятся в JSONB.
type Profile struct {
	Organization    string `json:"organization,omitempty"`
	Bio             string `json:"bio,omitempty"`
	EducationLevel  string `json:"education_level,omitempty"`
	Diploma         string `json:"diploma,omitempty"`
	FieldOfStudy    string `json:"field_of_study,omitempty"`
	Institution     string `json:"institution,omitempty"`
	GraduationYear  *int   `json:"graduation_year,omitempty"`
	JobTitle        string `json:"job_title,omitempty"`
	Department      string `json:"department,omitempty"`
	YearsExperience *int   `json:"years_experience,omitempty"`
	ExpertiseAreas  string `json:"expertise_areas,omitempty"`
	Phone           string `json:"phone,omitempty"`
	LinkedIn        string `json:"linkedin,omitempty"`
	Website         string `json:"website,omitempty"`
}

// Domain — тематическая категория датасетов.
type Domain struct {
	ID          string
	Name        string
	Description string
	Icon        string
	CreatedAt   time.Time
}

// DomainStats — домен с количеством валидированных датасетов.
type DomainStats struct {
	Domain
	DatasetCount int64
}

// Dataset — центральная сущность каталога.
type Dataset struct {
	ID               string
	Title            string
	Description      string
	ShortDescription string
	Source           string
	// Author — автор данных, не совпадает с учётной записью отправителя
	Author       string
	CreationDate time.Time

	// FilePath — ключ файла в blobstore
	FilePath   string
	FileName   string
	FileFormat string
	FileSize   int64

	DomainID string
	// DomainName заполняется при чтении через JOIN
	DomainName string

	Tags          string
	Country       string
	Language      string
	Methodology   string
	Documentation string

	SubmittedBy string
	// SubmitterName заполняется при чтении через JOIN
	SubmitterName string

	Status          string
	RejectionReason string
	ValidatedBy     *string
	ValidatedAt     *time.Time

	ViewCount     int64
	DownloadCount int64
	// Rating — среднее по оценкам комментариев, nil если оценок нет
	Rating *float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Comment — комментарий пользователя к датасету с необязательной оценкой.
type Comment struct {
	ID        string
	DatasetID string
	UserID    string
	Username  string
	Text      string
	// Rating — оценка 1..5 или nil
	Rating    *int
	CreatedAt time.Time
}

// DownloadLog — запись журнала скачиваний. Только добавление.
type DownloadLog struct {
	ID        string
	DatasetID string
	// UserID — nil для анонимного скачивания
	UserID       *string
	IPAddress    string
	UserAgent    string
	DownloadedAt time.Time
}

// StatusCounts — количество датасетов по статусам модерации.
type StatusCounts struct {
	Total     int64
	Draft     int64
	Pending   int64
	Validated int64
	Rejected  int64
}
