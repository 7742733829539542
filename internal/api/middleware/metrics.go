// metrics.go — Prometheus метрики Ingest Module.
// HTTP метрики собираются middleware, бизнес-метрики экспортируются
// для обновления из сервисного слоя.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP метрики
var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "im_http_requests_total",
			Help: "Общее количество HTTP-запросов к Ingest Module",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "im_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов к Ingest Module в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Бизнес-метрики
var (
	// OperationsTotal — количество операций над файлами (upload, list, get, download, delete).
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "im_operations_total",
			Help: "Общее количество операций над файлами",
		},
		[]string{"operation", "result"},
	)

	// UploadedBytesTotal — объём принятых данных.
	UploadedBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "im_uploaded_bytes_total",
			Help: "Общий объём загруженных файлов в байтах",
		},
	)

	// MetastoreReady — доступность хранилища метаданных (1 — ready).
	MetastoreReady = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "im_metastore_ready",
			Help: "Доступность хранилища метаданных (1 = ready, 0 = нет)",
		},
	)

	// DataDirBytes — занятое место в директории blob'ов.
	DataDirBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "im_data_dir_used_bytes",
			Help: "Занятое место на файловой системе директории blob'ов в байтах",
		},
	)
)

// MetricsMiddleware возвращает HTTP middleware для сбора Prometheus метрик.
// Лейбл path — шаблон маршрута chi, для несовпавших маршрутов —
// путь с UUID-сегментами, заменёнными на {id}.
func MetricsMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			path := routePattern(r)

			httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
			httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" && p != "/*" {
			return p
		}
	}
	return normalizePath(r.URL.Path)
}

// normalizePath заменяет UUID-сегменты пути на {id} для ограничения
// кардинальности метрик.
// /files/a1b2c3d4-e5f6-7890-abcd-ef1234567890/meta → /files/{id}/meta
func normalizePath(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		if len(s) == 36 {
			if _, err := uuid.Parse(s); err == nil {
				segments[i] = "{id}"
			}
		}
	}
	return strings.Join(segments, "/")
}
