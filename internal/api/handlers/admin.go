// admin.go — служебные endpoints: кросс-партиционный листинг и ручная сверка.
package handlers

import (
	"fmt"
	"net/http"

	"github.com/oapi-codegen/runtime"

	apierrors "github.com/bigkaa/goartstore/ingest-module/internal/api/errors"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/service"
)

// defaultListAllLimit — limit по умолчанию для GET /admin/files.
const defaultListAllLimit = 100

// AdminHandler — обработчик служебных endpoints.
type AdminHandler struct {
	files     *service.FileService
	reconcile *service.ReconcileService
}

// NewAdminHandler создаёт обработчик служебных endpoints.
func NewAdminHandler(files *service.FileService, reconcile *service.ReconcileService) *AdminHandler {
	return &AdminHandler{
		files:     files,
		reconcile: reconcile,
	}
}

// ListAllFiles обрабатывает GET /admin/files?limit=.
func (h *AdminHandler) ListAllFiles(w http.ResponseWriter, r *http.Request) {
	var limit *int
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Некорректный параметр limit: %s", err.Error()))
		return
	}

	n := min(defaultListAllLimit, h.files.MaxListAll())
	if limit != nil {
		n = *limit
	}

	recs, err := h.files.ListAll(r.Context(), n)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.Descriptors(recs))
}

// Reconcile обрабатывает POST /admin/reconcile — однократная сверка.
// 409, если сверка уже выполняется.
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	result, err := h.reconcile.RunOnce(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
