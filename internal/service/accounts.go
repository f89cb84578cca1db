// accounts.go — регистрация, вход, профиль и управление ролями пользователей.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/patrickeudess/nosdonnees/internal/auth"
	"github.com/patrickeudess/nosdonnees/internal/domain/lifecycle"
	"github.com/patrickeudess/nosdonnees/internal/domain/model"
	"github.com/patrickeudess/nosdonnees/internal/domain/rbac"
	"github.com/patrickeudess/nosdonnees/internal/repository"
)

// minPasswordLength — минимальная длина пароля.
const minPasswordLength = 8

// usernamePattern — буквы, цифры и символы @.+-_, до 150 символов.
var usernamePattern = regexp.MustCompile(`^[\p{L}\p{N}@.+\-_]{1,150}$`)

// RegisterInput — данные формы регистрации.
type RegisterInput struct {
	Username        string
	Email           string
	Password        string
	PasswordConfirm string
	Profile         model.Profile
}

// ProfileInput — изменение профиля. nil-поля не изменяются.
type ProfileInput struct {
	Email   *string
	Profile *model.Profile
	// CurrentPassword обязателен при смене пароля
	CurrentPassword string
	NewPassword     string
}

// Session — выпущенная сессия пользователя.
type Session struct {
	Token     string
	ExpiresAt time.Time
	User      *model.User
}

// AccountService — сервис учётных записей.
type AccountService struct {
	store       Store
	hasher      *auth.PasswordHasher
	tokens      *auth.TokenManager
	defaultRole string
	logger      *slog.Logger
}

// NewAccountService создаёт сервис учётных записей.
// defaultRole — роль, назначаемая при регистрации.
func NewAccountService(
	store Store,
	hasher *auth.PasswordHasher,
	tokens *auth.TokenManager,
	defaultRole string,
	logger *slog.Logger,
) *AccountService {
	if !rbac.IsValidRole(defaultRole) {
		defaultRole = rbac.RoleVisitor
	}
	return &AccountService{
		store:       store,
		hasher:      hasher,
		tokens:      tokens,
		defaultRole: defaultRole,
		logger:      logger.With(slog.String("component", "account_service")),
	}
}

// Register создаёт учётную запись. Дублирующиеся username/email — ErrConflict,
// пользователь при этом не создаётся.
func (s *AccountService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)

	var invalid []string
	if !usernamePattern.MatchString(in.Username) {
		invalid = append(invalid, "username")
	}
	if !validEmail(in.Email) {
		invalid = append(invalid, "email")
	}
	if utf8.RuneCountInString(in.Password) < minPasswordLength {
		invalid = append(invalid, "password")
	}
	if in.Password != in.PasswordConfirm {
		invalid = append(invalid, "password_confirm")
	}
	if len(invalid) > 0 {
		return nil, newValidationError("некорректные данные регистрации", invalid...)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		ID:           uuid.New().String(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         s.defaultRole,
		Profile:      in.Profile,
	}
	if err := s.store.Repos().Users.Create(ctx, user); err != nil {
		return nil, mapRepoError(err)
	}

	s.logger.Info("Пользователь зарегистрирован",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
		slog.String("role", user.Role),
	)
	return user, nil
}

// Login проверяет пароль и выпускает сессию.
// Неизвестный пользователь и неверный пароль неразличимы для клиента.
func (s *AccountService) Login(ctx context.Context, username, password string) (*Session, error) {
	user, err := s.store.Repos().Users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, auth.ErrInvalidCredentials)
		}
		return nil, err
	}

	if err := s.hasher.Check(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.logger.Debug("Неудачная попытка входа", slog.String("username", user.Username))
			return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
		}
		return nil, err
	}

	token, exp, err := s.tokens.Issue(user.ID, user.Username, user.Role)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Пользователь вошёл в систему", slog.String("user_id", user.ID))
	return &Session{Token: token, ExpiresAt: exp, User: user}, nil
}

// Authenticate разрешает сессионный токен в пользователя.
// Роль берётся из БД, а не из токена: смена роли действует сразу.
func (s *AccountService) Authenticate(ctx context.Context, token string) (*model.User, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	user, err := s.store.Repos().Users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: пользователь сессии не существует", ErrUnauthenticated)
		}
		return nil, err
	}
	return user, nil
}

// GetUser возвращает пользователя по ID.
func (s *AccountService) GetUser(ctx context.Context, id string) (*model.User, error) {
	user, err := s.store.Repos().Users.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return user, nil
}

// UpdateProfile изменяет email, профиль и, при необходимости, пароль.
func (s *AccountService) UpdateProfile(ctx context.Context, actor lifecycle.Actor, in ProfileInput) (*model.User, error) {
	if !actor.IsAuthenticated() {
		return nil, ErrUnauthenticated
	}

	var updated *model.User
	err := s.store.WithinTx(ctx, func(repos *repository.Repositories) error {
		user, err := repos.Users.GetByID(ctx, actor.UserID)
		if err != nil {
			return mapRepoError(err)
		}

		var invalid []string
		if in.Email != nil {
			email := strings.TrimSpace(*in.Email)
			if validEmail(email) {
				user.Email = email
			} else {
				invalid = append(invalid, "email")
			}
		}
		if in.Profile != nil {
			if !validProfile(in.Profile) {
				invalid = append(invalid, "profile")
			}
			user.Profile = *in.Profile
		}
		if in.NewPassword != "" {
			if utf8.RuneCountInString(in.NewPassword) < minPasswordLength {
				invalid = append(invalid, "new_password")
			}
			if s.hasher.Check(user.PasswordHash, in.CurrentPassword) != nil {
				invalid = append(invalid, "current_password")
			}
		}
		if len(invalid) > 0 {
			return newValidationError("некорректные данные профиля", invalid...)
		}

		if in.NewPassword != "" {
			hash, err := s.hasher.Hash(in.NewPassword)
			if err != nil {
				return err
			}
			user.PasswordHash = hash
		}

		if err := repos.Users.Update(ctx, user); err != nil {
			return mapRepoError(err)
		}
		updated = user
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Профиль обновлён", slog.String("user_id", updated.ID))
	return updated, nil
}

// SetRole изменяет роль пользователя. Только для администратора;
// собственную роль администратор изменить не может.
func (s *AccountService) SetRole(ctx context.Context, actor lifecycle.Actor, userID, role string) (*model.User, error) {
	if !actor.IsAuthenticated() {
		return nil, ErrUnauthenticated
	}
	if !actor.IsAdmin() {
		return nil, ErrPermissionDenied
	}
	if !rbac.IsValidRole(role) {
		return nil, newValidationError(
			"некорректная роль: допустимые значения — "+strings.Join(rbac.Roles(), ", "), "role")
	}
	if userID == actor.UserID {
		return nil, newValidationError("нельзя изменить собственную роль", "role")
	}

	var user *model.User
	err := s.store.WithinTx(ctx, func(repos *repository.Repositories) error {
		if err := repos.Users.SetRole(ctx, userID, role); err != nil {
			return mapRepoError(err)
		}
		u, err := repos.Users.GetByID(ctx, userID)
		if err != nil {
			return mapRepoError(err)
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Роль пользователя изменена",
		slog.String("user_id", userID),
		slog.String("role", role),
		slog.String("changed_by", actor.UserID),
	)
	return user, nil
}

// EnsureAdmin создаёт администратора, если пользователя с таким именем нет.
// Существующему пользователю назначается роль admin. Возвращает true,
// если учётная запись была создана.
func (s *AccountService) EnsureAdmin(ctx context.Context, username, email, password string) (bool, error) {
	repos := s.store.Repos()

	existing, err := repos.Users.GetByUsername(ctx, username)
	switch {
	case err == nil:
		if existing.Role != rbac.RoleAdmin {
			if err := repos.Users.SetRole(ctx, existing.ID, rbac.RoleAdmin); err != nil {
				return false, err
			}
			s.logger.Info("Пользователю назначена роль admin", slog.String("username", username))
		}
		return false, nil
	case !errors.Is(err, repository.ErrNotFound):
		return false, err
	}

	if utf8.RuneCountInString(password) < minPasswordLength {
		return false, newValidationError("пароль администратора слишком короткий", "password")
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return false, err
	}

	admin := &model.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         rbac.RoleAdmin,
	}
	if err := repos.Users.Create(ctx, admin); err != nil {
		return false, mapRepoError(err)
	}

	s.logger.Info("Администратор создан", slog.String("username", username))
	return true, nil
}

// validEmail проверяет, что строка — одиночный адрес без отображаемого имени.
func validEmail(email string) bool {
	if email == "" || len(email) > 254 {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email && addr.Name == ""
}

// validProfile проверяет числовые поля профиля.
func validProfile(p *model.Profile) bool {
	if p.GraduationYear != nil && (*p.GraduationYear < 1900 || *p.GraduationYear > 2100) {
		return false
	}
	if p.YearsExperience != nil && (*p.YearsExperience < 0 || *p.YearsExperience > 80) {
		return false
	}
	return true
}

// mapRepoError переводит ошибки репозитория в ошибки сервиса,
// сохраняя текст причины.
func mapRepoError(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %s", ErrConflict, strings.TrimPrefix(err.Error(), repository.ErrConflict.Error()+": "))
	default:
		return err
	}
}
