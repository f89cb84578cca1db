package service

import (
	"errors"
	"slices"
	"testing"

	"github.com/patrickeudess/nosdonnees/internal/domain/lifecycle"
	"github.com/patrickeudess/nosdonnees/internal/repository"
)

func TestValidationError(t *testing.T) {
	err := error(newValidationError("некорректные данные", "title", "source"))

	if !errors.Is(err, ErrValidation) {
		t.Error("ValidationError должна сопоставляться с ErrValidation")
	}
	if errors.Is(err, ErrConflict) {
		t.Error("ValidationError не должна сопоставляться с ErrConflict")
	}
	if got, want := err.Error(), "некорректные данные: title, source"; got != want {
		t.Errorf("Error() = %q, ожидается %q", got, want)
	}

	var ve *ValidationError
	if !errors.As(err, &ve) || !slices.Equal(ve.Fields, []string{"title", "source"}) {
		t.Errorf("поля не сохранены: %v", ve)
	}
}

func TestMapLifecycleError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"нет прав", lifecycle.ErrNotAllowed, ErrPermissionDenied},
		{"пустая причина", lifecycle.ErrEmptyReason, ErrValidation},
		{"недопустимый переход", &lifecycle.TransitionError{Code: "INVALID_TRANSITION", Message: "rejected → rejected"}, ErrInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapLifecycleError(tt.in); !errors.Is(got, tt.want) {
				t.Errorf("mapLifecycleError() = %v, ожидается %v", got, tt.want)
			}
		})
	}
	if mapLifecycleError(nil) != nil {
		t.Error("nil должен остаться nil")
	}
}

func TestMapRepoError(t *testing.T) {
	if got := mapRepoError(repository.ErrNotFound); !errors.Is(got, ErrNotFound) {
		t.Errorf("ErrNotFound: %v", got)
	}

	conflict := errors.Join(repository.ErrConflict, errors.New("email уже используется"))
	got := mapRepoError(conflict)
	if !errors.Is(got, ErrConflict) {
		t.Errorf("ErrConflict: %v", got)
	}
	if errors.Is(got, repository.ErrConflict) {
		t.Error("ошибка репозитория не должна просачиваться наружу")
	}

	other := errors.New("сбой соединения")
	if mapRepoError(other) != other {
		t.Error("прочие ошибки должны возвращаться без изменений")
	}
}
