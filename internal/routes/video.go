package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/coah80/enhancer/internal/services"
	"github.com/coah80/enhancer/internal/storage"
)

const multipartMemory = 32 << 20

// VideoRoutes mounts the job endpoints under the configured prefix.
func VideoRoutes(r chi.Router, api *API) {
	r.Route(api.Config.APIPrefix, func(r chi.Router) {
		r.Post("/upload", api.handleUpload)
		r.Post("/process/{id}", api.handleProcess)
		r.Get("/status/{id}", api.handleStatus)
		r.Get("/download/{id}", api.handleDownload)
		r.Delete("/cleanup/{id}", api.handleCleanup)
	})
}

func (a *API) handleUpload(w http.ResponseWriter, r *http.Request) {
	if minGB := a.Config.DiskSpaceMinGB; minGB > 0 {
		if space, err := storage.FreeSpace(a.Config.UploadDir); err == nil && space.AvailGB() < minGB {
			if a.LowDisk != nil {
				a.LowDisk(a.Config.UploadDir, space.Avail)
			}
			respondMessage(w, http.StatusServiceUnavailable, "Server is low on disk space, try again later")
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, a.Config.MaxUploadSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			respondMessage(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("File too large (max %s)", humanize.IBytes(uint64(a.Config.MaxUploadSize))))
			return
		}
		respondMessage(w, http.StatusBadRequest, "No video file provided")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("video")
	if err != nil {
		// a part with an empty filename arrives as a plain value
		if _, ok := r.MultipartForm.Value["video"]; ok {
			respondMessage(w, http.StatusBadRequest, "No file selected")
			return
		}
		respondMessage(w, http.StatusBadRequest, "No video file provided")
		return
	}
	defer file.Close()

	res, err := a.Manager.Upload(r.Context(), header.Filename, file)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (a *API) handleProcess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	opts := services.DefaultOptions()
	if r.Body != nil {
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
			respondMessage(w, http.StatusBadRequest, "Invalid options: "+err.Error())
			return
		}
	}

	res, err := a.Manager.Process(r.Context(), id, opts)
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	rec, err := a.Manager.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}
	// Instance names are internal.
	rec.Instance = ""
	respondJSON(w, http.StatusOK, rec)
}

func (a *API) handleDownload(w http.ResponseWriter, r *http.Request) {
	dl, err := a.Manager.Download(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}

	f, err := os.Open(dl.Path)
	if err != nil {
		respondMessage(w, http.StatusNotFound, "Processed file not found")
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		respondError(w, a.Logger, err)
		return
	}

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", attachment(dl.Name))
	http.ServeContent(w, r, dl.Name, info.ModTime(), f)
}

func (a *API) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if err := a.Manager.Cleanup(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondError(w, a.Logger, err)
		return
	}
	respondMessage(w, http.StatusOK, "Files cleaned up successfully")
}
