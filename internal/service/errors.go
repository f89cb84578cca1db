// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/patrickeudess/nosdonnees/internal/domain/lifecycle"
)

var (
	// ErrNotFound — ресурс не найден или не виден текущему пользователю.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict — конфликт (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — ресурс уже существует")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrPermissionDenied — недостаточно прав (роль или владение).
	ErrPermissionDenied = errors.New("недостаточно прав")
	// ErrUnauthenticated — требуется вход в систему.
	ErrUnauthenticated = errors.New("требуется аутентификация")
	// ErrPayloadTooLarge — размер загружаемого файла превышает лимит.
	ErrPayloadTooLarge = errors.New("размер файла превышает допустимый")
	// ErrInvalidTransition — переход недопустим в текущем состоянии датасета.
	ErrInvalidTransition = errors.New("недопустимый переход статуса")
)

// ValidationError — ошибка валидации с перечнем полей.
// errors.Is(err, ErrValidation) возвращает true.
type ValidationError struct {
	Message string
	// Fields — все некорректные поля, не только первое
	Fields []string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(e.Fields, ", "))
}

// Is сопоставляет ValidationError с ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func newValidationError(message string, fields ...string) *ValidationError {
	return &ValidationError{Message: message, Fields: fields}
}

// mapLifecycleError переводит ошибки автомата модерации в ошибки сервиса.
func mapLifecycleError(err error) error {
	var te *lifecycle.TransitionError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, lifecycle.ErrNotAllowed):
		return ErrPermissionDenied
	case errors.Is(err, lifecycle.ErrEmptyReason):
		return newValidationError("причина отклонения обязательна", "reason")
	case errors.As(err, &te):
		return fmt.Errorf("%w: %s", ErrInvalidTransition, te.Message)
	default:
		return err
	}
}
