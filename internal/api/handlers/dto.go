// dto.go — JSON-представления сущностей каталога.
package handlers

import (
	"time"

	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/patrickeudess/nosdonnees/internal/domain/lifecycle"
	"github.com/patrickeudess/nosdonnees/internal/domain/model"
	"github.com/patrickeudess/nosdonnees/internal/service"
)

type userResponse struct {
	ID        string        `json:"id"`
	Username  string        `json:"username"`
	Email     string        `json:"email"`
	Role      string        `json:"role"`
	Profile   model.Profile `json:"profile"`
	CreatedAt time.Time     `json:"created_at"`
}

func toUser(u *model.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      u.Role,
		Profile:   u.Profile,
		CreatedAt: u.CreatedAt,
	}
}

type domainResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	Icon         string `json:"icon,omitempty"`
	DatasetCount *int64 `json:"dataset_count,omitempty"`
}

func toDomain(d *model.Domain) domainResponse {
	return domainResponse{ID: d.ID, Name: d.Name, Description: d.Description, Icon: d.Icon}
}

func toDomainStats(list []*model.DomainStats) []domainResponse {
	result := make([]domainResponse, 0, len(list))
	for _, d := range list {
		resp := toDomain(&d.Domain)
		count := d.DatasetCount
		resp.DatasetCount = &count
		result = append(result, resp)
	}
	return result
}

type datasetResponse struct {
	ID               string             `json:"id"`
	Title            string             `json:"title"`
	Description      string             `json:"description"`
	ShortDescription string             `json:"short_description,omitempty"`
	Source           string             `json:"source"`
	Author           string             `json:"author,omitempty"`
	CreationDate     openapi_types.Date `json:"creation_date"`
	FileName         string             `json:"file_name"`
	FileFormat       string             `json:"file_format"`
	FileSize         int64              `json:"file_size"`
	DomainID         string             `json:"domain_id"`
	DomainName       string             `json:"domain_name,omitempty"`
	Tags             string             `json:"tags,omitempty"`
	Country          string             `json:"country,omitempty"`
	Language         string             `json:"language,omitempty"`
	Methodology      string             `json:"methodology,omitempty"`
	Documentation    string             `json:"documentation,omitempty"`
	SubmittedBy      string             `json:"submitted_by"`
	SubmitterName    string             `json:"submitter_name,omitempty"`
	Status           string             `json:"status"`
	RejectionReason  string             `json:"rejection_reason,omitempty"`
	ValidatedBy      *string            `json:"validated_by"`
	ValidatedAt      *time.Time         `json:"validated_at"`
	ViewCount        int64              `json:"view_count"`
	DownloadCount    int64              `json:"download_count"`
	Rating           *float64           `json:"rating"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

func toDataset(d *model.Dataset) datasetResponse {
	return datasetResponse{
		ID:               d.ID,
		Title:            d.Title,
		Description:      d.Description,
		ShortDescription: d.ShortDescription,
		Source:           d.Source,
		Author:           d.Author,
		CreationDate:     openapi_types.Date{Time: d.CreationDate},
		FileName:         d.FileName,
		FileFormat:       d.FileFormat,
		FileSize:         d.FileSize,
		DomainID:         d.DomainID,
		DomainName:       d.DomainName,
		Tags:             d.Tags,
		Country:          d.Country,
		Language:         d.Language,
		Methodology:      d.Methodology,
		Documentation:    d.Documentation,
		SubmittedBy:      d.SubmittedBy,
		SubmitterName:    d.SubmitterName,
		Status:           d.Status,
		RejectionReason:  d.RejectionReason,
		ValidatedBy:      d.ValidatedBy,
		ValidatedAt:      d.ValidatedAt,
		ViewCount:        d.ViewCount,
		DownloadCount:    d.DownloadCount,
		Rating:           d.Rating,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

func toDatasets(list []*model.Dataset) []datasetResponse {
	result := make([]datasetResponse, 0, len(list))
	for _, d := range list {
		result = append(result, toDataset(d))
	}
	return result
}

type commentResponse struct {
	ID        string    `json:"id"`
	DatasetID string    `json:"dataset_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username,omitempty"`
	Text      string    `json:"text"`
	Rating    *int      `json:"rating"`
	CreatedAt time.Time `json:"created_at"`
}

func toComment(c *model.Comment) commentResponse {
	return commentResponse{
		ID:        c.ID,
		DatasetID: c.DatasetID,
		UserID:    c.UserID,
		Username:  c.Username,
		Text:      c.Text,
		Rating:    c.Rating,
		CreatedAt: c.CreatedAt,
	}
}

func toComments(list []*model.Comment) []commentResponse {
	result := make([]commentResponse, 0, len(list))
	for _, c := range list {
		result = append(result, toComment(c))
	}
	return result
}

type datasetDetailResponse struct {
	Dataset     datasetResponse       `json:"dataset"`
	Comments    []commentResponse     `json:"comments"`
	Similar     []datasetResponse     `json:"similar"`
	Permissions lifecycle.Permissions `json:"permissions"`
}

type datasetPageResponse struct {
	Items      []datasetResponse `json:"items"`
	Total      int               `json:"total"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	TotalPages int               `json:"total_pages"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
}

type homeResponse struct {
	ValidatedDatasets int64             `json:"validated_datasets"`
	TotalDownloads    int64             `json:"total_downloads"`
	TotalUsers        int64             `json:"total_users"`
	Popular           []datasetResponse `json:"popular"`
	ActiveDomains     []domainResponse  `json:"active_domains"`
}

type statusCountsResponse struct {
	Total     int64 `json:"total"`
	Draft     int64 `json:"draft"`
	Pending   int64 `json:"pending"`
	Validated int64 `json:"validated"`
	Rejected  int64 `json:"rejected"`
}

type adminDashboardResponse struct {
	Pending         []datasetResponse `json:"pending"`
	Rejected        []datasetResponse `json:"rejected"`
	RecentValidated []datasetResponse `json:"recent_validated"`
	TopDownloaded   []datasetResponse `json:"top_downloaded"`
}

type dashboardResponse struct {
	Counts            statusCountsResponse    `json:"counts"`
	DownloadsReceived int64                   `json:"downloads_received"`
	AverageRating     *float64                `json:"average_rating"`
	Datasets          []datasetResponse       `json:"datasets"`
	Admin             *adminDashboardResponse `json:"admin,omitempty"`
}

func toDashboard(d *service.Dashboard) dashboardResponse {
	resp := dashboardResponse{
		Counts: statusCountsResponse{
			Total:     d.Counts.Total,
			Draft:     d.Counts.Draft,
			Pending:   d.Counts.Pending,
			Validated: d.Counts.Validated,
			Rejected:  d.Counts.Rejected,
		},
		DownloadsReceived: d.DownloadsReceived,
		AverageRating:     d.AverageRating,
		Datasets:          toDatasets(d.Datasets),
	}
	if d.Admin != nil {
		resp.Admin = &adminDashboardResponse{
			Pending:         toDatasets(d.Admin.Pending),
			Rejected:        toDatasets(d.Admin.Rejected),
			RecentValidated: toDatasets(d.Admin.RecentValidated),
			TopDownloaded:   toDatasets(d.Admin.TopDownloaded),
		}
	}
	return resp
}

type sessionResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      userResponse `json:"user"`
}

type searchResponse struct {
	Results []service.SearchResult `json:"results"`
}
