package routes

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/coah80/enhancer/internal/services"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondMessage(w http.ResponseWriter, status int, msg string) {
	key := "message"
	if status >= 400 {
		key = "error"
	}
	respondJSON(w, status, map[string]string{key: msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrConflict):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, services.ErrSaturated):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as {error}. Server-side failures never leak their
// cause to the caller.
func respondError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	status := statusFor(err)
	msg, ok := services.PublicMessage(err)
	if status >= 500 {
		logger.Error().Err(err).Int("status", status).Msg("request failed")
		if !ok || status == http.StatusInternalServerError {
			msg = "Internal server error"
		}
	} else if !ok {
		msg = http.StatusText(status)
	}
	respondMessage(w, status, msg)
}

// attachment builds a Content-Disposition value. Non-ASCII names also get
// an RFC 5987 encoded form.
func attachment(name string) string {
	ascii := toASCIIFilename(name)
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" && ascii != name {
		return v + `; filename="` + strings.ReplaceAll(ascii, `"`, "_") + `"`
	}
	return `attachment; filename="` + strings.ReplaceAll(ascii, `"`, "_") + `"`
}

func toASCIIFilename(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= 0x20 && r <= 0x7E {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}
