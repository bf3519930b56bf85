package transport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/you-humble/docconv/internal/domain"
)

const maxRecordBytes = 1 << 20

func (h *handler) listHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.usecase.ListHistory(r.Context())
	if err != nil {
		slog.Error("ListHistory", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to fetch conversions", "")
		return
	}

	writeJSON(w, http.StatusOK, records)
}

func (h *handler) saveHistory(w http.ResponseWriter, r *http.Request) {
	var rec domain.ConversionRecord
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRecordBytes))
	if err := dec.Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid record", "")
		return
	}

	saved, err := h.usecase.SaveHistory(r.Context(), rec)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRecord) {
			writeError(w, http.StatusBadRequest, "Invalid record", "originalName and convertedName are required")
			return
		}
		slog.Error("SaveHistory", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to save conversion", "")
		return
	}

	writeJSON(w, http.StatusCreated, saved)
}

func (h *handler) deleteHistory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if _, err := h.usecase.DeleteHistory(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrRecordNotFound) {
			writeJSON(w, http.StatusNotFound, domain.MessageResponse{Message: "Record not found"})
			return
		}
		slog.Error("DeleteHistory",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, domain.MessageResponse{Message: "Failed to delete record"})
		return
	}

	writeJSON(w, http.StatusOK, domain.MessageResponse{Message: "Record deleted successfully", ID: id})
}
