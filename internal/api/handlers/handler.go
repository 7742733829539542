// handler.go — APIHandler собирает доменные handlers в один объект,
// методы которого соответствуют operationId OpenAPI контракта.
package handlers

import (
	"net/http"
)

// APIHandler — единая реализация всех endpoints Ingest Module.
type APIHandler struct {
	files  *FilesHandler
	admin  *AdminHandler
	system *SystemHandler
	health *HealthHandler
}

// NewAPIHandler создаёт единый handler для всех endpoints.
func NewAPIHandler(
	files *FilesHandler,
	admin *AdminHandler,
	system *SystemHandler,
	health *HealthHandler,
) *APIHandler {
	return &APIHandler{
		files:  files,
		admin:  admin,
		system: system,
		health: health,
	}
}

// --- File Operations ---

func (h *APIHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	h.files.UploadFile(w, r)
}

func (h *APIHandler) ListFilesByOwner(w http.ResponseWriter, r *http.Request) {
	h.files.ListFilesByOwner(w, r)
}

func (h *APIHandler) ListFilesByOwnerKey(w http.ResponseWriter, r *http.Request) {
	h.files.ListFilesByOwnerKey(w, r)
}

func (h *APIHandler) GetFileMetadata(w http.ResponseWriter, r *http.Request) {
	h.files.GetFileMetadata(w, r)
}

func (h *APIHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	h.files.DownloadFile(w, r)
}

func (h *APIHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	h.files.DeleteFile(w, r)
}

// --- Admin ---

func (h *APIHandler) ListAllFiles(w http.ResponseWriter, r *http.Request) {
	h.admin.ListAllFiles(w, r)
}

func (h *APIHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	h.admin.Reconcile(w, r)
}

// --- System ---

func (h *APIHandler) GetInfo(w http.ResponseWriter, r *http.Request) {
	h.system.GetInfo(w, r)
}

// --- Health ---

func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}
