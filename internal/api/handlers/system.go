// system.go — обработчик GET /api/v1/info (информация об Ingest Module).
// Публичный endpoint для service discovery и мониторинга.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/dustin/go-humanize"

	"github.com/bigkaa/goartstore/ingest-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/ingest-module/internal/config"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/state"
	"github.com/bigkaa/goartstore/ingest-module/internal/service"
)

// DiskUsageFunc возвращает ёмкость файловой системы директории blob'ов.
type DiskUsageFunc func() (total, used, available int64, err error)

// SystemHandler — обработчик системных endpoints.
type SystemHandler struct {
	cfg       *config.Config
	sm        *state.Machine
	cache     *service.OwnerCache
	diskUsage DiskUsageFunc
	logger    *slog.Logger
}

// NewSystemHandler создаёт обработчик системных endpoints.
// diskUsage — nil, если ёмкость не определяется.
func NewSystemHandler(
	cfg *config.Config,
	sm *state.Machine,
	cache *service.OwnerCache,
	diskUsage DiskUsageFunc,
	logger *slog.Logger,
) *SystemHandler {
	return &SystemHandler{
		cfg:       cfg,
		sm:        sm,
		cache:     cache,
		diskUsage: diskUsage,
		logger:    logger.With(slog.String("component", "system_handler")),
	}
}

type capacityInfo struct {
	TotalBytes     int64 `json:"total_bytes"`
	UsedBytes      int64 `json:"used_bytes"`
	AvailableBytes int64 `json:"available_bytes"`
}

type serviceInfo struct {
	ServiceID         string        `json:"service_id"`
	Version           string        `json:"version"`
	MetaBackend       string        `json:"meta_backend"`
	MetastoreState    string        `json:"metastore_state"`
	MaxUploadSize     int64         `json:"max_upload_size"`
	MaxUploadSizeText string        `json:"max_upload_size_text"`
	OwnerCacheEntries int           `json:"owner_cache_entries"`
	Capacity          *capacityInfo `json:"capacity,omitempty"`
}

// GetInfo обрабатывает GET /api/v1/info.
func (h *SystemHandler) GetInfo(w http.ResponseWriter, _ *http.Request) {
	resp := serviceInfo{
		ServiceID:         h.cfg.ServiceID,
		Version:           config.Version,
		MetaBackend:       h.cfg.MetaBackend,
		MetastoreState:    string(h.sm.Current()),
		MaxUploadSize:     h.cfg.MaxUploadSize,
		MaxUploadSizeText: humanize.IBytes(uint64(h.cfg.MaxUploadSize)),
		OwnerCacheEntries: h.cache.Len(),
	}

	if h.diskUsage != nil {
		total, used, available, err := h.diskUsage()
		if err != nil {
			h.logger.Warn("Ошибка получения ёмкости диска", slog.String("error", err.Error()))
		} else {
			resp.Capacity = &capacityInfo{
				TotalBytes:     total,
				UsedBytes:      used,
				AvailableBytes: available,
			}
			middleware.DataDirBytes.Set(float64(used))
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
