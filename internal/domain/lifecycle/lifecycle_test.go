package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/patrickeudess/nosdonnees/internal/domain/model"
	"github.com/patrickeudess/nosdonnees/internal/domain/rbac"
)

var (
	testNow     = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	admin       = Actor{UserID: "admin-1", Role: rbac.RoleAdmin}
	owner       = Actor{UserID: "owner-1", Role: rbac.RoleContributor}
	stranger    = Actor{UserID: "user-2", Role: rbac.RoleContributor}
	visitor     = Actor{UserID: "user-3", Role: rbac.RoleVisitor}
	anonymous   = Actor{}
	allStatuses = []string{StatusDraft, StatusPending, StatusValidated, StatusRejected}
)

func newDataset(status string) *model.Dataset {
	d := &model.Dataset{ID: "ds-1", SubmittedBy: owner.UserID, Status: status}
	if status == StatusRejected {
		d.RejectionReason = "неполные метаданные"
	}
	return d
}

// checkInvariants проверяет согласованность полей модерации.
func checkInvariants(t *testing.T, d *model.Dataset) {
	t.Helper()
	if (d.Status == StatusRejected) != (d.RejectionReason != "") {
		t.Errorf("status=%q, rejection_reason=%q: причина должна быть задана только для rejected",
			d.Status, d.RejectionReason)
	}
	if (d.ValidatedBy == nil) != (d.ValidatedAt == nil) {
		t.Error("validated_by и validated_at должны задаваться вместе")
	}
	if d.Status == StatusValidated && d.ValidatedBy == nil {
		t.Error("validated датасет без validated_by")
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from string
		ev   Event
		want bool
	}{
		{StatusPending, EventValidate, true},
		{StatusRejected, EventValidate, true},
		{StatusValidated, EventValidate, false},
		{StatusDraft, EventValidate, false},
		{StatusPending, EventReject, true},
		{StatusValidated, EventReject, true},
		{StatusRejected, EventReject, false},
		{StatusDraft, EventReject, false},
		{StatusDraft, EventPublish, true},
		{StatusPending, EventPublish, false},
		{StatusValidated, EventPublish, false},
		{StatusPending, Event("archive"), false},
	}

	for _, tt := range tests {
		t.Run(tt.from+"/"+string(tt.ev), func(t *testing.T) {
			if got := CanTransition(tt.from, tt.ev); got != tt.want {
				t.Errorf("CanTransition(%q, %q) = %v, ожидается %v", tt.from, tt.ev, got, tt.want)
			}
		})
	}
}

func TestValidate_FromPendingAndRejected(t *testing.T) {
	for _, status := range []string{StatusPending, StatusRejected} {
		t.Run(status, func(t *testing.T) {
			d := newDataset(status)
			if err := Validate(d, admin, testNow); err != nil {
				t.Fatalf("Validate() ошибка: %v", err)
			}
			if d.Status != StatusValidated {
				t.Errorf("Status = %q, ожидается validated", d.Status)
			}
			if d.ValidatedBy == nil || *d.ValidatedBy != admin.UserID {
				t.Errorf("ValidatedBy = %v, ожидается %q", d.ValidatedBy, admin.UserID)
			}
			if d.ValidatedAt == nil || !d.ValidatedAt.Equal(testNow) {
				t.Errorf("ValidatedAt = %v, ожидается %v", d.ValidatedAt, testNow)
			}
			if d.RejectionReason != "" {
				t.Errorf("RejectionReason = %q, ожидается пустая строка", d.RejectionReason)
			}
			checkInvariants(t, d)
		})
	}
}

func TestModeration_NonAdminDenied(t *testing.T) {
	for _, actor := range []Actor{owner, stranger, visitor, anonymous} {
		for _, status := range allStatuses {
			d := newDataset(status)
			before := *d

			if err := Validate(d, actor, testNow); !errors.Is(err, ErrNotAllowed) {
				t.Errorf("Validate(role=%q, status=%q) = %v, ожидается ErrNotAllowed", actor.Role, status, err)
			}
			if err := Reject(d, actor, "причина"); !errors.Is(err, ErrNotAllowed) {
				t.Errorf("Reject(role=%q, status=%q) = %v, ожидается ErrNotAllowed", actor.Role, status, err)
			}
			if d.Status != before.Status || d.RejectionReason != before.RejectionReason || d.ValidatedBy != nil {
				t.Errorf("датасет изменён после отказа: %+v", d)
			}
		}
	}
}

func TestReject_EmptyReason(t *testing.T) {
	for _, reason := range []string{"", "   ", "\n\t"} {
		d := newDataset(StatusPending)
		err := Reject(d, admin, reason)
		if !errors.Is(err, ErrEmptyReason) {
			t.Errorf("Reject(%q) = %v, ожидается ErrEmptyReason", reason, err)
		}
		if d.Status != StatusPending || d.RejectionReason != "" {
			t.Errorf("датасет изменён: status=%q reason=%q", d.Status, d.RejectionReason)
		}
	}
}

func TestReject_KeepsValidationFields(t *testing.T) {
	d := newDataset(StatusPending)
	if err := Validate(d, admin, testNow); err != nil {
		t.Fatalf("Validate() ошибка: %v", err)
	}
	if err := Reject(d, admin, "  данные устарели  "); err != nil {
		t.Fatalf("Reject() ошибка: %v", err)
	}
	if d.Status != StatusRejected {
		t.Errorf("Status = %q, ожидается rejected", d.Status)
	}
	if d.RejectionReason != "данные устарели" {
		t.Errorf("RejectionReason = %q, ожидается обрезанная причина", d.RejectionReason)
	}
	if d.ValidatedBy == nil || d.ValidatedAt == nil {
		t.Error("validated_by/validated_at должны сохраниться после отклонения")
	}
	checkInvariants(t, d)
}

// TestRejectThenValidate — сценарий: отклонение pending, затем валидация.
func TestRejectThenValidate(t *testing.T) {
	d := newDataset(StatusPending)

	if err := Reject(d, admin, "incomplete metadata"); err != nil {
		t.Fatalf("Reject() ошибка: %v", err)
	}
	if d.Status != StatusRejected || d.RejectionReason != "incomplete metadata" {
		t.Fatalf("после Reject: status=%q reason=%q", d.Status, d.RejectionReason)
	}
	checkInvariants(t, d)

	if err := Validate(d, admin, testNow); err != nil {
		t.Fatalf("Validate() ошибка: %v", err)
	}
	if d.Status != StatusValidated || d.RejectionReason != "" {
		t.Errorf("после Validate: status=%q reason=%q", d.Status, d.RejectionReason)
	}
	if *d.ValidatedBy != admin.UserID {
		t.Errorf("ValidatedBy = %q, ожидается %q", *d.ValidatedBy, admin.UserID)
	}
	checkInvariants(t, d)
}

func TestInvalidTransitions(t *testing.T) {
	d := newDataset(StatusDraft)
	var trErr *TransitionError
	if err := Validate(d, admin, testNow); !errors.As(err, &trErr) {
		t.Errorf("Validate(draft) = %v, ожидается TransitionError", err)
	}

	d = newDataset(StatusRejected)
	if err := Reject(d, admin, "ещё раз"); !errors.As(err, &trErr) {
		t.Errorf("Reject(rejected) = %v, ожидается TransitionError", err)
	}
	if d.RejectionReason != "неполные метаданные" {
		t.Errorf("RejectionReason изменена: %q", d.RejectionReason)
	}

	d = newDataset(StatusValidated)
	if err := Validate(d, admin, testNow); !errors.As(err, &trErr) {
		t.Errorf("Validate(validated) = %v, ожидается TransitionError", err)
	}
	if trErr.Code != "INVALID_TRANSITION" {
		t.Errorf("Code = %q, ожидается INVALID_TRANSITION", trErr.Code)
	}
}

func TestPublish(t *testing.T) {
	d := newDataset(StatusDraft)
	if err := Publish(d, stranger); !errors.Is(err, ErrNotAllowed) {
		t.Errorf("Publish(чужой) = %v, ожидается ErrNotAllowed", err)
	}
	if err := Publish(d, admin); !errors.Is(err, ErrNotAllowed) {
		t.Errorf("Publish(admin) = %v, ожидается ErrNotAllowed", err)
	}
	if err := Publish(d, owner); err != nil {
		t.Fatalf("Publish(владелец) ошибка: %v", err)
	}
	if d.Status != StatusPending {
		t.Errorf("Status = %q, ожидается pending", d.Status)
	}
	if d.ValidatedBy != nil {
		t.Error("Publish не должен заполнять validated_by")
	}

	var trErr *TransitionError
	if err := Publish(d, owner); !errors.As(err, &trErr) {
		t.Errorf("повторный Publish = %v, ожидается TransitionError", err)
	}
}

func TestPermissionsFor(t *testing.T) {
	tests := []struct {
		name         string
		actor        Actor
		status       string
		wantView     bool
		wantEdit     bool
		wantModerate bool
	}{
		{"аноним видит validated", anonymous, StatusValidated, true, false, false},
		{"аноним не видит pending", anonymous, StatusPending, false, false, false},
		{"чужой не видит pending", stranger, StatusPending, false, false, false},
		{"чужой не видит rejected", stranger, StatusRejected, false, false, false},
		{"чужой не видит draft", stranger, StatusDraft, false, false, false},
		{"владелец видит pending", owner, StatusPending, true, true, false},
		{"владелец видит rejected", owner, StatusRejected, true, true, false},
		{"владелец видит draft", owner, StatusDraft, true, true, false},
		{"admin видит pending", admin, StatusPending, true, true, true},
		{"admin видит draft", admin, StatusDraft, true, true, true},
		{"visitor видит validated", visitor, StatusValidated, true, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := PermissionsFor(tt.actor, newDataset(tt.status))
			if p.CanView != tt.wantView {
				t.Errorf("CanView = %v, ожидается %v", p.CanView, tt.wantView)
			}
			if p.CanDownload != tt.wantView {
				t.Errorf("CanDownload = %v, ожидается %v", p.CanDownload, tt.wantView)
			}
			if p.CanEdit != tt.wantEdit {
				t.Errorf("CanEdit = %v, ожидается %v", p.CanEdit, tt.wantEdit)
			}
			if p.CanModerate != tt.wantModerate {
				t.Errorf("CanModerate = %v, ожидается %v", p.CanModerate, tt.wantModerate)
			}
			if tt.actor == anonymous && p.CanComment {
				t.Error("аноним не может комментировать")
			}
		})
	}
}

func TestPolicy_Initialize(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		actor  Actor
		draft  bool
		want   string
	}{
		{"contributor → pending", Policy{AutoValidateAdmin: true}, owner, false, StatusPending},
		{"admin с политикой → validated", Policy{AutoValidateAdmin: true}, admin, false, StatusValidated},
		{"admin без политики → pending", Policy{AutoValidateAdmin: false}, admin, false, StatusPending},
		{"черновик имеет приоритет", Policy{AutoValidateAdmin: true}, admin, true, StatusDraft},
		{"черновик contributor", Policy{}, owner, true, StatusDraft},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &model.Dataset{SubmittedBy: tt.actor.UserID}
			tt.policy.Initialize(d, tt.actor, tt.draft, testNow)
			if d.Status != tt.want {
				t.Errorf("Status = %q, ожидается %q", d.Status, tt.want)
			}
			checkInvariants(t, d)
		})
	}
}
