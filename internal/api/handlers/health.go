// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bigkaa/goartstore/ingest-module/internal/config"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/state"
)

// statusFail — строковая константа для статуса "fail" в health checks.
const statusFail = "fail"

// HealthHandler реализует health endpoints: /health/live, /health/ready.
type HealthHandler struct {
	version string
	// dataDir — директория blob'ов
	dataDir string
	// journalDir — директория журнала намерений
	journalDir string
	// sm — состояние клиента хранилища метаданных
	sm *state.Machine
}

// NewHealthHandler создаёт обработчик health endpoints.
func NewHealthHandler(dataDir, journalDir string, sm *state.Machine) *HealthHandler {
	return &HealthHandler{
		version:    config.Version,
		dataDir:    dataDir,
		journalDir: journalDir,
		sm:         sm,
	}
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "ingest-module",
	})
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет: хранилище метаданных, директорию blob'ов, директорию журнала.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	overallStatus := "ok"
	httpStatus := http.StatusOK

	metaCheck := map[string]any{"status": "ok", "state": string(h.sm.Current())}
	if !h.sm.IsReady() {
		metaCheck["status"] = statusFail
		if reason := h.sm.Reason(); reason != "" {
			metaCheck["message"] = reason
		}
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	dataCheck := checkWritable(h.dataDir, "Директория файлов")
	if dataCheck["status"] != "ok" {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	// Без журнала загрузки работают, но окно несогласованности не фиксируется
	journalCheck := checkWritable(h.journalDir, "Директория журнала")
	if journalCheck["status"] != "ok" && overallStatus != statusFail {
		overallStatus = "degraded"
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "ingest-module",
		"checks": map[string]any{
			"metastore": metaCheck,
			"data_dir":  dataCheck,
			"journal":   journalCheck,
		},
	})
}

// checkWritable проверяет доступность директории на запись.
// Путь директории клиенту не возвращается.
func checkWritable(dir, title string) map[string]any {
	if dir == "" {
		return map[string]any{
			"status":  "ok",
			"message": "Проверка не настроена",
		}
	}

	testFile := filepath.Join(dir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": title + " недоступна для записи",
		}
	}
	_ = os.Remove(testFile)

	return map[string]any{"status": "ok"}
}
