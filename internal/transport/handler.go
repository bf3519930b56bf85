package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/you-humble/docconv/internal/domain"
	"github.com/you-humble/docconv/internal/usecase"
)

const (
	multipartMemory   = 8 << 20
	multipartOverhead = 1 << 20
)

type Usecase interface {
	RunJob(ctx context.Context, up usecase.Upload) (*usecase.Outcome, error)
	ListHistory(ctx context.Context) ([]domain.ConversionRecord, error)
	SaveHistory(ctx context.Context, rec domain.ConversionRecord) (domain.ConversionRecord, error)
	DeleteHistory(ctx context.Context, id string) (domain.ConversionRecord, error)
	OpenArtifact(ctx context.Context, name string) (io.ReadCloser, int64, error)
}

type handler struct {
	maxUploadBytes int64
	usecase        Usecase
}

func NewHandler(maxUploadMb int64, uc Usecase) *handler {
	return &handler{
		maxUploadBytes: maxUploadMb << 20,
		usecase:        uc,
	}
}

func (h *handler) convert(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(w, r, "convert")

	defer r.Body.Close()
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.Warn("upload exceeds limit", slog.Int64("limit", h.maxUploadBytes))
			writeJobError(w, domain.ErrFileTooLarge)
			return
		}
		logger.Warn("ParseMultipartForm", slog.String("error", err.Error()))
		writeJobError(w, domain.ErrNoFile)
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			logger.Warn("remove multipart temp files", slog.String("error", err.Error()))
		}
	}()

	up := usecase.Upload{TargetFormat: r.FormValue("toType")}

	file, header, err := r.FormFile("file")
	if err == nil {
		defer file.Close()
		if header.Size > h.maxUploadBytes {
			logger.Warn("upload exceeds limit", slog.Int64("size", header.Size))
			writeJobError(w, domain.ErrFileTooLarge)
			return
		}

		up.Content = file
		up.Filename = header.Filename
		up.MediaType = declaredMediaType(header)
		up.Size = header.Size
		logger = logger.With(slog.String("file_name", header.Filename))
	} else if !errors.Is(err, http.ErrMissingFile) {
		logger.Warn("read form file", slog.String("error", err.Error()))
	}

	outcome, err := h.usecase.RunJob(r.Context(), up)
	if err != nil {
		logger.Warn("conversion rejected", slog.String("error", err.Error()))
		writeJobError(w, err)
		return
	}
	defer func() {
		if err := outcome.Close(); err != nil {
			logger.Warn("close outcome", slog.String("error", err.Error()))
		}
	}()

	w.Header().Set("Content-Type", outcome.ContentType)
	w.Header().Set("Content-Disposition", attachment(outcome.DownloadName))
	w.Header().Set("Content-Length", strconv.FormatInt(outcome.Size, 10))
	w.Header().Set("X-Converted-Name", outcome.Record.ConvertedName)
	if outcome.Record.ID != "" {
		w.Header().Set("X-Record-ID", outcome.Record.ID)
	}

	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, outcome.File); err != nil {
		logger.Error("convert: send file",
			slog.String("job_id", outcome.Job.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (h *handler) download(w http.ResponseWriter, r *http.Request) {
	logger := requestLogger(w, r, "download")

	name := r.PathValue("name")
	rc, size, err := h.usecase.OpenArtifact(r.Context(), name)
	if err != nil {
		if errors.Is(err, domain.ErrArtifactNotFound) {
			writeError(w, http.StatusNotFound, "File not found", "")
			return
		}
		logger.Error("OpenArtifact", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to fetch file", "")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", contentTypeByName(name))
	w.Header().Set("Content-Disposition", attachment(name))
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}

	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		logger.Error("download: send file",
			slog.String("name", name),
			slog.String("error", err.Error()),
		)
	}
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, domain.HealthResponse{
		Status:    "OK",
		Platform:  runtime.GOOS,
		Timestamp: time.Now().UTC(),
	})
}

func (h *handler) notFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "Route not found", "")
}

func requestLogger(w http.ResponseWriter, r *http.Request, name string) *slog.Logger {
	requestID := uuid.NewString()
	w.Header().Set("X-Request-ID", requestID)

	return slog.With(
		slog.String("request_id", requestID),
		slog.String("handler", name),
		slog.String("remote_addr", r.RemoteAddr),
	)
}

// declaredMediaType takes the part's Content-Type and falls back to the
// filename extension when the client sent a generic type.
func declaredMediaType(header *multipart.FileHeader) string {
	mt, _, err := mime.ParseMediaType(header.Header.Get("Content-Type"))
	if err == nil && mt != "" && mt != "application/octet-stream" {
		return mt
	}
	return contentTypeByName(header.Filename)
}

func contentTypeByName(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return domain.MediaTypePDF
	case ".docx":
		return domain.MediaTypeDOCX
	case ".doc":
		return domain.MediaTypeDOC
	default:
		return "application/octet-stream"
	}
}

func attachment(filename string) string {
	v := mime.FormatMediaType("attachment", map[string]string{"filename": filename})
	if v == "" {
		return "attachment"
	}
	return v
}
