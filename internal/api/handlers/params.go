// params.go — привязка параметров запроса к типам.
package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/bigkaa/goartstore/ingest-module/internal/api/errors"
	"github.com/bigkaa/goartstore/ingest-module/internal/service"
)

// bindFileID извлекает UUID файла из параметра пути name.
// При ошибке записывает 400 и возвращает false.
func bindFileID(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	var id openapi_types.UUID
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), &id,
		runtime.BindStyledParameterOptions{
			ParamLocation: runtime.ParamLocationPath,
			Explode:       false,
			Required:      true,
		})
	if err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный идентификатор файла: %s", err.Error()))
		return "", false
	}
	return id.String(), true
}

// bindPathString извлекает строковый параметр пути name (с декодированием).
func bindPathString(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	var value string
	err := runtime.BindStyledParameterWithOptions("simple", name, chi.URLParam(r, name), &value,
		runtime.BindStyledParameterOptions{
			ParamLocation: runtime.ParamLocationPath,
			Explode:       false,
			Required:      true,
		})
	if err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный параметр %s: %s", name, err.Error()))
		return "", false
	}
	return value, true
}

// writeServiceError записывает ошибку сервисного слоя в стандартном формате.
func writeServiceError(w http.ResponseWriter, err error) {
	var svcErr *service.Error
	if errors.As(err, &svcErr) {
		apierrors.WriteError(w, svcErr.StatusCode, svcErr.Code, svcErr.Message)
		return
	}
	apierrors.InternalError(w, "Внутренняя ошибка сервера")
}
