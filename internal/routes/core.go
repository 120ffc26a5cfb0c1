package routes

import (
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/coah80/enhancer/internal/config"
	"github.com/coah80/enhancer/internal/services"
	"github.com/coah80/enhancer/internal/storage"
)

// API holds what the HTTP handlers need.
type API struct {
	Manager *services.Manager
	Config  *config.Config
	Logger  zerolog.Logger

	// LowDisk is called when an upload is refused for lack of space.
	LowDisk func(dir string, avail uint64)
}

func CoreRoutes(r chi.Router, api *API) {
	r.Get("/", api.handleRoot)
	r.Get("/health", api.handleHealth)
	r.Get("/api/limits", api.handleLimits)
}

func (a *API) handleRoot(w http.ResponseWriter, r *http.Request) {
	respondMessage(w, http.StatusOK, "Video Enhancer API running")
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	disk := map[string]interface{}{}
	if space, err := storage.FreeSpace(a.Config.UploadDir); err == nil {
		disk["free"] = humanize.IBytes(space.Avail)
		disk["total"] = humanize.IBytes(space.Total)
		disk["free_bytes"] = space.Avail
		disk["low"] = a.Config.DiskSpaceMinGB > 0 && space.AvailGB() < a.Config.DiskSpaceMinGB
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"version": config.Version,
		"queue":   a.Manager.Stats(),
		"disk":    disk,
	})
}

func (a *API) handleLimits(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"max_upload_bytes":   a.Config.MaxUploadSize,
		"max_upload":         humanize.IBytes(uint64(a.Config.MaxUploadSize)),
		"allowed_extensions": a.Config.AllowedExtensions,
		"max_scale":          a.Config.MaxScale,
		"default_options":    services.DefaultOptions(),
	})
}
