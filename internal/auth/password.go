// Пакет auth — учётные данные Nosdonnées: хэширование паролей (bcrypt)
// и подписанные сессионные токены (JWT HS256).
package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials — неверное имя пользователя или пароль.
var ErrInvalidCredentials = errors.New("неверное имя пользователя или пароль")

// PasswordHasher хэширует и проверяет пароли с заданной стоимостью bcrypt.
type PasswordHasher struct {
	cost int
}

// NewPasswordHasher создаёт PasswordHasher. Стоимость вне диапазона bcrypt
// заменяется на bcrypt.DefaultCost.
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &PasswordHasher{cost: cost}
}

// Hash возвращает bcrypt-хэш пароля.
func (h *PasswordHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("ошибка хэширования пароля: %w", err)
	}
	return string(hash), nil
}

// Check сравнивает пароль с хэшем. Несовпадение — ErrInvalidCredentials.
func (h *PasswordHasher) Check(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrInvalidCredentials
	}
	return fmt.Errorf("ошибка проверки пароля: %w", err)
}
