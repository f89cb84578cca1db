// recoverer.go — перехват паник в обработчиках.
package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	apierrors "github.com/patrickeudess/nosdonnees/internal/api/errors"
)

// Recoverer превращает панику обработчика в ответ 500 и логирует
// значение паники со стеком. http.ErrAbortHandler пробрасывается дальше.
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler { //nolint:errorlint // сравнение значения паники
					panic(rec)
				}

				logger.Error("Паника в обработчике",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("panic", fmt.Sprint(rec)),
					slog.String("stack", string(debug.Stack())),
				)
				apierrors.InternalError(w, "Внутренняя ошибка сервера")
			}()

			next.ServeHTTP(w, r)
		})
	}
}
