package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/patrickeudess/nosdonnees/internal/domain/lifecycle"
	"github.com/patrickeudess/nosdonnees/internal/domain/model"
	"github.com/patrickeudess/nosdonnees/internal/domain/rbac"
	"github.com/patrickeudess/nosdonnees/internal/service"
)

type errorBody struct {
	Error struct {
		Code    string   `json:"code"`
		Message string   `json:"message"`
		Fields  []string `json:"fields"`
	} `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("ошибка декодирования ответа: %v", err)
	}
	return body
}

func TestWriteServiceError(t *testing.T) {
	h := newTestHandler(&stubServices{})

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"валидация с полями", &service.ValidationError{Message: "ошибка", Fields: []string{"title"}}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"валидация sentinel", fmt.Errorf("%w: формат", service.ErrValidation), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"аутентификация", service.ErrUnauthenticated, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"права", service.ErrPermissionDenied, http.StatusForbidden, "FORBIDDEN"},
		{"не найден", fmt.Errorf("датасет: %w", service.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"дубликат", service.ErrConflict, http.StatusConflict, "CONFLICT"},
		{"переход", fmt.Errorf("%w: уже валидирован", service.ErrInvalidTransition), http.StatusConflict, "CONFLICT"},
		{"размер", service.ErrPayloadTooLarge, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE"},
		{"непредвиденная", errors.New("connection reset"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.writeServiceError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)

			if rec.Code != tt.wantStatus {
				t.Errorf("статус = %d, ожидается %d", rec.Code, tt.wantStatus)
			}
			if body := decodeError(t, rec); body.Error.Code != tt.wantCode {
				t.Errorf("код = %q, ожидается %q", body.Error.Code, tt.wantCode)
			}
		})
	}
}

func TestValidationErrorFields(t *testing.T) {
	h := newTestHandler(&stubServices{})
	rec := httptest.NewRecorder()

	h.writeServiceError(rec, httptest.NewRequest(http.MethodPost, "/datasets", nil),
		&service.ValidationError{Message: "обязательные поля", Fields: []string{"title", "source", "file"}})

	body := decodeError(t, rec)
	if strings.Join(body.Error.Fields, ",") != "title,source,file" {
		t.Errorf("поля = %v, ожидаются все три", body.Error.Fields)
	}
}

func TestMalformedIDIsNotFound(t *testing.T) {
	called := false
	stub := &stubServices{detail: func(lifecycle.Actor, string) (*service.DatasetDetail, error) {
		called = true
		return nil, service.ErrNotFound
	}}
	router := newTestRouter(newTestHandler(stub))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/datasets/not-a-uuid", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("статус = %d, ожидается 404", rec.Code)
	}
	if called {
		t.Error("сервис не должен вызываться для некорректного идентификатора")
	}
}

func TestGetDataset(t *testing.T) {
	stub := &stubServices{detail: func(actor lifecycle.Actor, id string) (*service.DatasetDetail, error) {
		if id != testDatasetID {
			return nil, service.ErrNotFound
		}
		return &service.DatasetDetail{
			Dataset: &model.Dataset{
				ID:           id,
				Title:        "Qualité de l'eau",
				Status:       lifecycle.StatusValidated,
				CreationDate: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			},
			Permissions: lifecycle.Permissions{CanDownload: true},
		}, nil
	}}
	router := newTestRouter(newTestHandler(stub))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/datasets/"+testDatasetID, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидается 200: %s", rec.Code, rec.Body.String())
	}
	var body map[string]json.RawMessage
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("ошибка декодирования: %v", err)
	}
	for _, key := range []string{"dataset", "comments", "similar", "permissions"} {
		if _, ok := body[key]; !ok {
			t.Errorf("в ответе нет ключа %s", key)
		}
	}
	if string(body["comments"]) != "[]" {
		t.Errorf("comments = %s, ожидается пустой массив", body["comments"])
	}
	if !strings.Contains(string(body["dataset"]), `"creation_date":"2024-03-01"`) {
		t.Errorf("дата создания должна быть в формате даты: %s", body["dataset"])
	}
}

func TestSearchDatasets(t *testing.T) {
	var gotQuery string
	stub := &stubServices{search: func(q string) ([]service.SearchResult, error) {
		gotQuery = q
		if q == "" {
			return nil, nil
		}
		return []service.SearchResult{{ID: "ds-1", Title: "Eau", Description: "Qualité", URL: "/datasets/ds-1"}}, nil
	}}
	router := newTestRouter(newTestHandler(stub))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/search?q=eau", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, ожидается 200", rec.Code)
	}
	if gotQuery != "eau" {
		t.Errorf("запрос = %q, ожидается eau", gotQuery)
	}
	var body searchResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("ошибка декодирования: %v", err)
	}
	if len(body.Results) != 1 || body.Results[0].URL != "/datasets/ds-1" {
		t.Errorf("результаты = %+v", body.Results)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/search", nil))
	if got := strings.TrimSpace(rec.Body.String()); got != `{"results":[]}` {
		t.Errorf("пустой поиск = %s, ожидается {\"results\":[]}", got)
	}
}

func TestGetStats(t *testing.T) {
	stub := &stubServices{adminStats: func(actor lifecycle.Actor) (*service.AdminStats, error) {
		if !actor.IsAdmin() {
			return nil, service.ErrPermissionDenied
		}
		return &service.AdminStats{TotalDatasets: 7, ValidatedDatasets: 4, PendingDatasets: 2, RejectedDatasets: 1, TotalUsers: 3}, nil
	}}
	router := newTestRouter(newTestHandler(stub))

	tests := []struct {
		name string
		user *model.User
		want int
	}{
		{"аноним", nil, http.StatusForbidden},
		{"visitor", &model.User{ID: testUserID, Role: rbac.RoleVisitor}, http.StatusForbidden},
		{"contributor", &model.User{ID: testUserID, Role: rbac.RoleContributor}, http.StatusForbidden},
		{"admin", &model.User{ID: testUserID, Role: rbac.RoleAdmin}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
			if tt.user != nil {
				req = withUser(req, tt.user)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("статус = %d, ожидается %d", rec.Code, tt.want)
			}
			if tt.want != http.StatusOK {
				return
			}
			var stats service.AdminStats
			if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
				t.Fatalf("ошибка декодирования: %v", err)
			}
			if stats.TotalDatasets != 7 || stats.TotalUsers != 3 {
				t.Errorf("статистика = %+v", stats)
			}
		})
	}
}

func TestAddComment(t *testing.T) {
	var gotText string
	var gotRating *int
	stub := &stubServices{addComment: func(actor lifecycle.Actor, id, text string, rating *int) (*model.Comment, error) {
		if !actor.IsAuthenticated() {
			return nil, service.ErrUnauthenticated
		}
		gotText, gotRating = text, rating
		return &model.Comment{ID: "c-1", DatasetID: id, UserID: actor.UserID, Text: text, Rating: rating}, nil
	}}
	router := newTestRouter(newTestHandler(stub))

	body := `{"text":"Très utile","rating":5}`
	req := httptest.NewRequest(http.MethodPost, "/datasets/"+testDatasetID+"/comments", strings.NewReader(body))
	req = withUser(req, &model.User{ID: testUserID, Role: rbac.RoleVisitor})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("статус = %d, ожидается 201: %s", rec.Code, rec.Body.String())
	}
	if gotText != "Très utile" || gotRating == nil || *gotRating != 5 {
		t.Errorf("переданы text=%q rating=%v", gotText, gotRating)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/datasets/"+testDatasetID+"/comments", strings.NewReader(body)))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("аноним: статус = %d, ожидается 401", rec.Code)
	}
}

func TestDecodeJSON_RejectsUnknownFields(t *testing.T) {
	called := false
	stub := &stubServices{reject: func(lifecycle.Actor, string, string) (*model.Dataset, error) {
		called = true
		return &model.Dataset{}, nil
	}}
	router := newTestRouter(newTestHandler(stub))

	for _, body := range []string{"", "{", `{"reason":"doublon","extra":1}`} {
		req := httptest.NewRequest(http.MethodPost, "/admin/datasets/"+testDatasetID+"/reject", strings.NewReader(body))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("тело %q: статус = %d, ожидается 400", body, rec.Code)
		}
	}
	if called {
		t.Error("сервис не должен вызываться при некорректном теле")
	}
}
