// files.go — HTTP handlers файловых операций Ingest Module.
// Upload, List (по идентичности и по ключу владельца), Get metadata, Download, Delete.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gosimple/slug"

	apierrors "github.com/bigkaa/goartstore/ingest-module/internal/api/errors"
	"github.com/bigkaa/goartstore/ingest-module/internal/domain/model"
	"github.com/bigkaa/goartstore/ingest-module/internal/service"
)

const (
	// multipartMemory — часть multipart-формы, хранимая в памяти; остальное во временных файлах.
	multipartMemory = 32 << 20
	// multipartOverhead — запас на заголовки и текстовые поля формы сверх размера файла.
	multipartOverhead = 1 << 20
)

// identityFields — поля формы с идентичностью владельца, в порядке приоритета.
var identityFields = []string{"email", "userId", "user"}

// FilesHandler — обработчик файловых endpoints.
type FilesHandler struct {
	ingest *service.IngestService
	files  *service.FileService
	logger *slog.Logger
}

// NewFilesHandler создаёт обработчик файловых endpoints.
func NewFilesHandler(ingest *service.IngestService, files *service.FileService, logger *slog.Logger) *FilesHandler {
	return &FilesHandler{
		ingest: ingest,
		files:  files,
		logger: logger.With(slog.String("component", "files_handler")),
	}
}

// UploadFile обрабатывает POST /upload.
// Multipart form: file (обязательно), email | userId | user (обязательно одно из).
func (h *FilesHandler) UploadFile(w http.ResponseWriter, r *http.Request) {
	maxSize := h.ingest.MaxSize()
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierrors.FileTooLarge(w, fmt.Sprintf("Размер файла превышает максимум %s (%d байт)",
				humanize.IBytes(uint64(maxSize)), maxSize))
			return
		}
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка парсинга multipart: %s", err.Error()))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	params := service.UploadParams{Owner: formIdentity(r)}

	file, header, err := r.FormFile("file")
	switch {
	case err == nil:
		defer file.Close()
		params.Reader = file
		params.Meta = model.UploadMeta{
			Attached:     true,
			OriginalName: header.Filename,
			MimeType:     header.Header.Get("Content-Type"),
			Size:         header.Size,
		}
	case errors.Is(err, http.ErrMissingFile):
		// Отсутствие вложения отклоняет сервис вместе с остальной валидацией
	default:
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка чтения поля 'file': %s", err.Error()))
		return
	}

	rec, err := h.ingest.Upload(r.Context(), params)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, rec.Descriptor())
}

// ListFilesByOwner обрабатывает GET /files/{ref}: ref — идентичность владельца.
func (h *FilesHandler) ListFilesByOwner(w http.ResponseWriter, r *http.Request) {
	identity, ok := bindPathString(w, r, "ref")
	if !ok {
		return
	}

	recs, err := h.files.ListByOwner(r.Context(), identity)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.Descriptors(recs))
}

// ListFilesByOwnerKey обрабатывает GET /owners/{ownerKey}/files.
func (h *FilesHandler) ListFilesByOwnerKey(w http.ResponseWriter, r *http.Request) {
	ownerKey, ok := bindPathString(w, r, "ownerKey")
	if !ok {
		return
	}

	recs, err := h.files.ListByOwnerKey(r.Context(), ownerKey)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, model.Descriptors(recs))
}

// GetFileMetadata обрабатывает GET /files/{ref}/meta: ref — идентификатор файла.
func (h *FilesHandler) GetFileMetadata(w http.ResponseWriter, r *http.Request) {
	id, ok := bindFileID(w, r, "ref")
	if !ok {
		return
	}

	rec, err := h.files.Get(r.Context(), id, r.URL.Query().Get("owner"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec.Descriptor())
}

// DownloadFile обрабатывает GET /download/{id}.
// Исходное имя передаётся в Content-Disposition. Поддерживает Range (206)
// и ETag (If-None-Match → 304) через http.ServeContent.
func (h *FilesHandler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	id, ok := bindFileID(w, r, "id")
	if !ok {
		return
	}

	rec, f, err := h.files.Open(r.Context(), id, r.URL.Query().Get("owner"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	defer f.Close()

	if rec.MimeType != "" {
		w.Header().Set("Content-Type", rec.MimeType)
	}
	if rec.Checksum != "" {
		w.Header().Set("ETag", `"`+rec.Checksum+`"`)
	}
	w.Header().Set("Content-Disposition", contentDisposition(rec.OriginalName))

	http.ServeContent(w, r, rec.OriginalName, rec.CreatedAt, f)
}

// DeleteFile обрабатывает DELETE /files/{ref}: ref — идентификатор файла.
func (h *FilesHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	id, ok := bindFileID(w, r, "ref")
	if !ok {
		return
	}

	if err := h.files.Delete(r.Context(), id, r.URL.Query().Get("owner")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// formIdentity возвращает первое непустое поле идентичности формы.
func formIdentity(r *http.Request) string {
	for _, field := range identityFields {
		if v := strings.TrimSpace(r.FormValue(field)); v != "" {
			return v
		}
	}
	return ""
}

// contentDisposition формирует заголовок attachment с ASCII-именем
// для старых клиентов и исходным именем в filename* (RFC 5987).
func contentDisposition(name string) string {
	ext := filepath.Ext(name)
	ascii := slug.Make(strings.TrimSuffix(name, ext))
	if ascii == "" {
		ascii = "file"
	}
	if e := slug.Make(ext); e != "" {
		ascii += "." + e
	}
	return fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, ascii, url.PathEscape(name))
}

// writeJSON сериализует v в ответ со статусом status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
