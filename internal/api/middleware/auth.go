// auth.go — определение пользователя запроса по сессионному токену
// и проверки доступа по ролям.
//
// Токен берётся из заголовка Authorization: Bearer <token> либо из
// сессионной cookie. Отсутствующий или невалидный токен не является
// ошибкой: запрос продолжается от имени анонимного посетителя, а
// RequireAuth/RequireRole отвечают 401/403 на защищённых маршрутах.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/patrickeudess/nosdonnees/internal/api/errors"
	"github.com/patrickeudess/nosdonnees/internal/domain/lifecycle"
	"github.com/patrickeudess/nosdonnees/internal/domain/model"
	"github.com/patrickeudess/nosdonnees/internal/domain/rbac"
	"github.com/patrickeudess/nosdonnees/internal/service"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// ContextKeyUser — пользователь запроса в контексте.
const ContextKeyUser contextKey = "user"

// Authenticator разрешает сессионный токен в пользователя.
// Реализуется service.AccountService.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.User, error)
}

// Identity — middleware определения пользователя запроса.
type Identity struct {
	auth       Authenticator
	cookieName string
	logger     *slog.Logger
}

// NewIdentity создаёт middleware определения пользователя.
// cookieName — имя сессионной cookie (ND_SESSION_COOKIE).
func NewIdentity(auth Authenticator, cookieName string, logger *slog.Logger) *Identity {
	return &Identity{
		auth:       auth,
		cookieName: cookieName,
		logger:     logger.With(slog.String("component", "identity")),
	}
}

// Middleware возвращает HTTP middleware, помещающий пользователя в контекст.
func (i *Identity) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := i.tokenFromRequest(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			user, err := i.auth.Authenticate(r.Context(), token)
			switch {
			case err == nil:
				next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
			case errors.Is(err, service.ErrUnauthenticated):
				i.logger.Debug("Сессионный токен отклонён",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				next.ServeHTTP(w, r)
			default:
				i.logger.Error("Ошибка проверки сессии", slog.String("error", err.Error()))
				apierrors.InternalError(w, "Внутренняя ошибка сервера")
			}
		})
	}
}

// tokenFromRequest извлекает токен: сначала Bearer, затем cookie.
func (i *Identity) tokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if c, err := r.Cookie(i.cookieName); err == nil {
		return c.Value
	}
	return ""
}

// --- RBAC middleware helpers ---

// RequireAuth возвращает middleware, требующий вошедшего пользователя.
// Должен использоваться ПОСЛЕ Identity.Middleware().
func RequireAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if UserFromContext(r.Context()) == nil {
				apierrors.Unauthorized(w, "Требуется вход в систему")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireRole возвращает middleware, требующий роль не ниже role.
// Аноним получает 401, пользователь с недостаточной ролью — 403.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := UserFromContext(r.Context())
			if user == nil {
				apierrors.Unauthorized(w, "Требуется вход в систему")
				return
			}
			if !rbac.AtLeast(user.Role, role) {
				apierrors.Forbidden(w, fmt.Sprintf("Недостаточно прав: требуется роль %s", role))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// --- Context helpers ---

// WithUser помещает пользователя в контекст.
func WithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, ContextKeyUser, user)
}

// UserFromContext извлекает пользователя из контекста запроса.
// Возвращает nil для анонимного запроса.
func UserFromContext(ctx context.Context) *model.User {
	user, _ := ctx.Value(ContextKeyUser).(*model.User)
	return user
}

// ActorFromContext возвращает актора запроса. Для анонимного запроса —
// нулевой lifecycle.Actor.
func ActorFromContext(ctx context.Context) lifecycle.Actor {
	user := UserFromContext(ctx)
	if user == nil {
		return lifecycle.Actor{}
	}
	return lifecycle.Actor{UserID: user.ID, Role: user.Role}
}
