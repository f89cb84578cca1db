// accounts.go — регистрация, вход и выход, профиль и личная панель.
package handlers

import (
	"errors"
	"net/http"
	"time"

	apierrors "github.com/patrickeudess/nosdonnees/internal/api/errors"
	"github.com/patrickeudess/nosdonnees/internal/api/middleware"
	"github.com/patrickeudess/nosdonnees/internal/domain/model"
	"github.com/patrickeudess/nosdonnees/internal/service"
)

type registerRequest struct {
	Username        string        `json:"username"`
	Email           string        `json:"email"`
	Password        string        `json:"password"`
	PasswordConfirm string        `json:"password_confirm"`
	Profile         model.Profile `json:"profile"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type profileRequest struct {
	Email           *string        `json:"email"`
	Profile         *model.Profile `json:"profile"`
	CurrentPassword string         `json:"current_password"`
	NewPassword     string         `json:"new_password"`
}

// Register обрабатывает POST /auth/register. Все некорректные поля
// перечисляются в ответе 400.
func (h *APIHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.svc.Accounts.Register(r.Context(), service.RegisterInput{
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password,
		PasswordConfirm: req.PasswordConfirm,
		Profile:         req.Profile,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUser(u))
}

// Login обрабатывает POST /auth/login. Токен возвращается в теле
// и устанавливается в HttpOnly cookie.
func (h *APIHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := h.svc.Accounts.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, service.ErrUnauthenticated) {
			apierrors.Unauthorized(w, "Неверное имя пользователя или пароль")
			return
		}
		h.writeServiceError(w, r, err)
		return
	}

	http.SetCookie(w, h.sessionCookie(session.Token, session.ExpiresAt))
	writeJSON(w, http.StatusOK, sessionResponse{
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		User:      toUser(session.User),
	})
}

// Logout обрабатывает POST /auth/logout: cookie сессии очищается.
// Токен без состояния, поэтому на сервере ничего не инвалидируется.
func (h *APIHandler) Logout(w http.ResponseWriter, _ *http.Request) {
	cookie := h.sessionCookie("", time.Unix(0, 0))
	cookie.MaxAge = -1
	http.SetCookie(w, cookie)
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) sessionCookie(value string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     h.cookie.Name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.cookie.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// GetProfile обрабатывает GET /profile.
func (h *APIHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		apierrors.Unauthorized(w, "Требуется вход в систему")
		return
	}

	u, err := h.svc.Accounts.GetUser(r.Context(), user.ID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUser(u))
}

// UpdateProfile обрабатывает PUT /profile. Смена пароля требует
// текущий пароль.
func (h *APIHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := h.svc.Accounts.UpdateProfile(r.Context(), middleware.ActorFromContext(r.Context()), service.ProfileInput{
		Email:           req.Email,
		Profile:         req.Profile,
		CurrentPassword: req.CurrentPassword,
		NewPassword:     req.NewPassword,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toUser(u))
}

// GetDashboard обрабатывает GET /dashboard.
func (h *APIHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.Queries.Dashboard(r.Context(), middleware.ActorFromContext(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDashboard(d))
}
