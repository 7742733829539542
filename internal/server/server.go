// Пакет server — HTTP-сервер Ingest Module с TLS и graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/goartstore/ingest-module/internal/api/handlers"
	"github.com/bigkaa/goartstore/ingest-module/internal/api/middleware"
	"github.com/bigkaa/goartstore/ingest-module/internal/config"
)

// Routes — всё, что монтируется в роутер.
type Routes struct {
	// API — обработчики endpoints контракта
	API *handlers.APIHandler
	// OpenAPI — отдача контракта на /openapi.json
	OpenAPI http.Handler
	// Static — blob area только на чтение, монтируется под StaticPrefix
	Static       http.Handler
	StaticPrefix string
}

// NewRouter создаёт chi-роутер со всеми маршрутами и middleware.
func NewRouter(logger *slog.Logger, routes Routes) chi.Router {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Recoverer)
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(logger))

	api := routes.API

	// Файлы
	router.Post("/upload", api.UploadFile)
	router.Get("/files/{ref}", api.ListFilesByOwner)
	router.Delete("/files/{ref}", api.DeleteFile)
	router.Get("/files/{ref}/meta", api.GetFileMetadata)
	router.Get("/owners/{ownerKey}/files", api.ListFilesByOwnerKey)
	router.Get("/download/{id}", api.DownloadFile)

	// Служебные
	router.Get("/admin/files", api.ListAllFiles)
	router.Post("/admin/reconcile", api.Reconcile)

	// Система
	router.Get("/api/v1/info", api.GetInfo)
	router.Get("/health/live", api.HealthLive)
	router.Get("/health/ready", api.HealthReady)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	if routes.OpenAPI != nil {
		router.Method(http.MethodGet, "/openapi.json", routes.OpenAPI)
	}

	if routes.Static != nil {
		prefix := "/" + strings.Trim(routes.StaticPrefix, "/")
		router.Method(http.MethodGet, prefix+"/*", routes.Static)
		router.Method(http.MethodHead, prefix+"/*", routes.Static)
	}

	return router
}

// Server — HTTP-сервер Ingest Module.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер поверх готового handler.
func New(cfg *config.Config, logger *slog.Logger, handler http.Handler) *Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		// ReadTimeout и WriteTimeout не заданы: загрузка и скачивание
		// больших файлов ограничены размером, а не временем
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Настройка TLS
	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "http_server")),
		cfg:        cfg,
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM)
// или отмены ctx. Затем выполняется graceful shutdown с таймаутом
// IM_SHUTDOWN_TIMEOUT.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
			slog.Bool("tls", s.cfg.TLSCert != ""),
		)

		var err error
		if s.cfg.TLSCert != "" && s.cfg.TLSKey != "" {
			err = s.httpServer.ListenAndServeTLS(s.cfg.TLSCert, s.cfg.TLSKey)
		} else {
			err = s.httpServer.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case <-ctx.Done():
		s.logger.Info("Контекст сервера отменён")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...",
		slog.String("timeout", s.cfg.ShutdownTimeout.String()),
	)
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
