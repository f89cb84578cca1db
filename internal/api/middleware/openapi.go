// openapi.go — валидация запросов по OpenAPI контракту (kin-openapi).
// Подключается к группам маршрутов chi: к моменту вызова маршрут уже
// сопоставлен, и шаблон пути chi совпадает с ключом paths в контракте.
package middleware

import (
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/go-chi/chi/v5"

	apierrors "github.com/patrickeudess/nosdonnees/internal/api/errors"
)

// Validator — middleware валидации запросов по OpenAPI документу.
type Validator struct {
	doc    *openapi3.T
	logger *slog.Logger
}

// NewValidator создаёт middleware валидации. doc должен быть
// предварительно проверен через doc.Validate.
func NewValidator(doc *openapi3.T, logger *slog.Logger) *Validator {
	return &Validator{
		doc:    doc,
		logger: logger.With(slog.String("component", "openapi_validator")),
	}
}

// Middleware возвращает HTTP middleware. Операции, отсутствующие
// в контракте, пропускаются без проверки.
func (v *Validator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rctx := chi.RouteContext(r.Context())
			if rctx == nil {
				next.ServeHTTP(w, r)
				return
			}

			pattern := rctx.RoutePattern()
			pathItem := v.doc.Paths.Find(pattern)
			if pathItem == nil {
				next.ServeHTTP(w, r)
				return
			}
			op := pathItem.GetOperation(r.Method)
			if op == nil {
				next.ServeHTTP(w, r)
				return
			}

			params := make(map[string]string, len(rctx.URLParams.Keys))
			for i, key := range rctx.URLParams.Keys {
				params[key] = rctx.URLParams.Values[i]
			}

			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: params,
				Route: &routers.Route{
					Spec:      v.doc,
					Path:      pattern,
					PathItem:  pathItem,
					Method:    r.Method,
					Operation: op,
				},
				Options: &openapi3filter.Options{
					AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
					MultiError:         true,
				},
			}

			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				v.logger.Debug("Запрос не соответствует контракту",
					slog.String("operation", op.OperationID),
					slog.String("error", err.Error()),
				)
				// Некорректный идентификатор в пути: такого ресурса нет
				if hasPathError(err) {
					apierrors.NotFound(w, "Ресурс не найден")
					return
				}
				apierrors.ValidationFields(w, "Запрос не соответствует контракту API", invalidFields(err))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func hasPathError(err error) bool {
	switch e := err.(type) {
	case openapi3.MultiError:
		return slices.ContainsFunc(e, hasPathError)
	case *openapi3filter.RequestError:
		return e.Parameter != nil && e.Parameter.In == openapi3.ParameterInPath
	}
	return false
}

// invalidFields собирает имена некорректных параметров и полей тела.
func invalidFields(err error) []string {
	var fields []string
	add := func(name string) {
		if name != "" && !slices.Contains(fields, name) {
			fields = append(fields, name)
		}
	}

	var walk func(error)
	walk = func(err error) {
		switch e := err.(type) {
		case openapi3.MultiError:
			for _, inner := range e {
				walk(inner)
			}
		case *openapi3filter.RequestError:
			switch {
			case e.Parameter != nil:
				add(e.Parameter.Name)
			case e.Err != nil:
				walk(e.Err)
			default:
				add("body")
			}
		case *openapi3.SchemaError:
			if path := e.JSONPointer(); len(path) > 0 {
				add(strings.Join(path, "."))
				return
			}
			add("body")
		default:
			add("body")
		}
	}
	walk(err)
	return fields
}
