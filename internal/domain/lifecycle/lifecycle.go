// Пакет lifecycle — конечный автомат модерации датасетов
// и вычисление прав актора на конкретный датасет.
//
// Состояния: draft, pending, validated, rejected. Конечных состояний нет:
// validated и rejected можно покинуть повторной модерацией.
//
//	pending/rejected --validate--> validated   (только admin)
//	pending/validated --reject---> rejected    (только admin, причина обязательна)
//	draft ------------publish----> pending     (только владелец)
//
// Функции пакета не хранят состояния и не обращаются к БД:
// актор и текущее время передаются явно.
package lifecycle

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/patrickeudess/nosdonnees/internal/domain/model"
	"github.com/patrickeudess/nosdonnees/internal/domain/rbac"
)

// Статусы датасета.
const (
	StatusDraft     = "draft"
	StatusPending   = "pending"
	StatusValidated = "validated"
	StatusRejected  = "rejected"
)

// Event — событие модерации.
type Event string

const (
	EventValidate Event = "validate"
	EventReject   Event = "reject"
	EventPublish  Event = "publish"
)

// Ошибки автомата модерации.
var (
	// ErrNotAllowed — актор не имеет права на действие.
	ErrNotAllowed = errors.New("действие недоступно для текущего пользователя")
	// ErrEmptyReason — отклонение без причины.
	ErrEmptyReason = errors.New("причина отклонения обязательна")
)

// TransitionError — ошибка недопустимого перехода.
type TransitionError struct {
	Code    string
	Message string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// transition — допустимые исходные состояния и целевое состояние события.
type transition struct {
	from map[string]bool
	to   string
}

// transitions — матрица переходов по событиям.
var transitions = map[Event]transition{
	EventValidate: {from: map[string]bool{StatusPending: true, StatusRejected: true}, to: StatusValidated},
	EventReject:   {from: map[string]bool{StatusPending: true, StatusValidated: true}, to: StatusRejected},
	EventPublish:  {from: map[string]bool{StatusDraft: true}, to: StatusPending},
}

// Actor — субъект запроса. Нулевое значение — анонимный посетитель.
type Actor struct {
	UserID string
	Role   string
}

// IsAuthenticated проверяет, что актор вошёл в систему.
func (a Actor) IsAuthenticated() bool {
	return a.UserID != ""
}

// IsAdmin проверяет роль администратора.
func (a Actor) IsAdmin() bool {
	return a.IsAuthenticated() && rbac.IsAdmin(a.Role)
}

// Owns проверяет, что актор — отправитель датасета.
func (a Actor) Owns(d *model.Dataset) bool {
	return a.IsAuthenticated() && d.SubmittedBy == a.UserID
}

// Permissions — права актора на датасет. Вычисляются один раз на запрос.
type Permissions struct {
	CanView     bool `json:"can_view"`
	CanDownload bool `json:"can_download"`
	CanEdit     bool `json:"can_edit"`
	CanModerate bool `json:"can_moderate"`
	CanPublish  bool `json:"can_publish"`
	CanComment  bool `json:"can_comment"`
}

// PermissionsFor вычисляет права актора на датасет.
//
// Видимость: validated видят все, остальные статусы — владелец и admin.
// Скачивание разрешено в тех же случаях.
func PermissionsFor(actor Actor, d *model.Dataset) Permissions {
	owner := actor.Owns(d)
	admin := actor.IsAdmin()
	visible := d.Status == StatusValidated || owner || admin

	return Permissions{
		CanView:     visible,
		CanDownload: visible,
		CanEdit:     owner || admin,
		CanModerate: admin,
		CanPublish:  owner && d.Status == StatusDraft,
		CanComment:  visible && actor.IsAuthenticated(),
	}
}

// CanTransition проверяет, допустимо ли событие из состояния from.
func CanTransition(from string, ev Event) bool {
	tr, ok := transitions[ev]
	if !ok {
		return false
	}
	return tr.from[from]
}

// IsValidStatus проверяет, является ли строка допустимым статусом.
func IsValidStatus(s string) bool {
	switch s {
	case StatusDraft, StatusPending, StatusValidated, StatusRejected:
		return true
	}
	return false
}

// Validate переводит датасет в validated.
// Заполняет validated_by/validated_at и очищает причину отклонения.
// При ошибке датасет не изменяется.
func Validate(d *model.Dataset, actor Actor, now time.Time) error {
	if !actor.IsAdmin() {
		return ErrNotAllowed
	}
	if err := checkTransition(d.Status, EventValidate); err != nil {
		return err
	}

	validator := actor.UserID
	at := now.UTC()
	d.Status = StatusValidated
	d.ValidatedBy = &validator
	d.ValidatedAt = &at
	d.RejectionReason = ""
	return nil
}

// Reject переводит датасет в rejected с указанной причиной.
// validated_by/validated_at не сбрасываются: они фиксируют,
// что датасет хотя бы раз был валидирован.
func Reject(d *model.Dataset, actor Actor, reason string) error {
	if !actor.IsAdmin() {
		return ErrNotAllowed
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return ErrEmptyReason
	}
	if err := checkTransition(d.Status, EventReject); err != nil {
		return err
	}

	d.Status = StatusRejected
	d.RejectionReason = reason
	return nil
}

// Publish отправляет черновик на модерацию. Доступно только владельцу.
func Publish(d *model.Dataset, actor Actor) error {
	if !actor.Owns(d) {
		return ErrNotAllowed
	}
	if err := checkTransition(d.Status, EventPublish); err != nil {
		return err
	}

	d.Status = StatusPending
	return nil
}

// Policy — политика начального состояния нового датасета.
type Policy struct {
	// AutoValidateAdmin — датасеты администратора минуют модерацию.
	AutoValidateAdmin bool
}

// Initialize задаёт начальное состояние нового датасета:
// draft по запросу отправителя, иначе pending, либо validated
// для администратора при включённой политике.
func (p Policy) Initialize(d *model.Dataset, actor Actor, draft bool, now time.Time) {
	d.RejectionReason = ""
	d.ValidatedBy = nil
	d.ValidatedAt = nil

	switch {
	case draft:
		d.Status = StatusDraft
	case p.AutoValidateAdmin && actor.IsAdmin():
		validator := actor.UserID
		at := now.UTC()
		d.Status = StatusValidated
		d.ValidatedBy = &validator
		d.ValidatedAt = &at
	default:
		d.Status = StatusPending
	}
}

// checkTransition возвращает TransitionError, если событие недопустимо.
func checkTransition(from string, ev Event) error {
	if CanTransition(from, ev) {
		return nil
	}
	return &TransitionError{
		Code:    "INVALID_TRANSITION",
		Message: fmt.Sprintf("событие %q недопустимо в состоянии %q", ev, from),
	}
}
