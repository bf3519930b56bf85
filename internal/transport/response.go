package transport

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/you-humble/docconv/internal/domain"
)

// writeJobError maps a job error to its response. Internal paths, commands
// and tool output never reach the client.
func writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNoFile):
		writeError(w, http.StatusBadRequest, "No file uploaded", "")
	case errors.Is(err, domain.ErrInvalidFormat):
		writeError(w, http.StatusBadRequest, "Invalid type", "")
	case errors.Is(err, domain.ErrUnsupportedMediaType):
		writeError(w, http.StatusBadRequest, "Unsupported file type", "")
	case errors.Is(err, domain.ErrFileTooLarge):
		writeError(w, http.StatusBadRequest, "File too large", "")
	case errors.Is(err, domain.ErrConverterBusy):
		writeError(w, http.StatusServiceUnavailable, "Converter busy", "try again later")
	case errors.Is(err, domain.ErrOutputMissing):
		writeError(w, http.StatusInternalServerError, "Output file not found", "")
	case errors.Is(err, domain.ErrTimeout):
		writeError(w, http.StatusInternalServerError, "Conversion failed", "conversion timed out")
	case errors.Is(err, domain.ErrConversionFailed):
		writeError(w, http.StatusInternalServerError, "Conversion failed", "converter exited with an error")
	case errors.Is(err, domain.ErrSetupFailed):
		writeError(w, http.StatusInternalServerError, "Conversion setup failed", "")
	default:
		writeError(w, http.StatusInternalServerError, "Internal server error", "")
	}
}

func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, domain.ErrorResponse{
		Error:   message,
		Details: details,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writeJSON", slog.String("error", err.Error()))
	}
}
