package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// issuer — значение iss в сессионных токенах.
const issuer = "nosdonnees"

// ErrInvalidToken — токен не прошёл проверку (подпись, срок, формат).
var ErrInvalidToken = errors.New("невалидный или просроченный токен")

// Claims — содержимое сессионного токена.
type Claims struct {
	jwt.RegisteredClaims
	// Username — имя пользователя на момент входа
	Username string `json:"username"`
	// Role — роль на момент входа. Middleware перечитывает актуальную роль из БД.
	Role string `json:"role"`
}

// TokenManager выпускает и проверяет сессионные токены HS256.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	// now подменяется в тестах
	now func() time.Time
}

// NewTokenManager создаёт TokenManager с ключом HMAC и временем жизни токена.
func NewTokenManager(secret []byte, ttl time.Duration) *TokenManager {
	return &TokenManager{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
	}
}

// TTL возвращает время жизни токена.
func (m *TokenManager) TTL() time.Duration {
	return m.ttl
}

// Issue выпускает токен для пользователя. Возвращает токен и момент истечения.
func (m *TokenManager) Issue(userID, username, role string) (string, time.Time, error) {
	now := m.now()
	exp := now.Add(m.ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Username: username,
		Role:     role,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("ошибка подписи токена: %w", err)
	}
	return signed, exp, nil
}

// Parse проверяет подпись и срок действия токена и возвращает claims.
func (m *TokenManager) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
