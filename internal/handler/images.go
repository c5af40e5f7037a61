package handler

import (
	"fmt"
	"net/http"

	"polo/internal/dto"
	"polo/internal/logger"
	"polo/internal/service"
	"polo/internal/service/classify"
)

// ViewImageHandler serves the bytes of the image at the run and well query
// parameters.
func ViewImageHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		well := atoiDefault(q.Get("well"), 0)
		if well == 0 {
			http.Error(w, "Well parameter is required", http.StatusBadRequest)
			return
		}
		_, img, err := manager.Image(q.Get("run"), well)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		if img.IsPlaceholder() {
			http.NotFound(w, r)
			return
		}
		data, err := img.Bytes()
		if err != nil {
			logger.Error("Error reading image %s: %v", img.Path, err)
			http.Error(w, "Image unavailable", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", http.DetectContentType(data))
		w.Header().Set("Cache-Control", "private, max-age=3600")
		w.Write(data)
	}
}

// GetImageHandler returns the metadata of one image.
func GetImageHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		run, img, err := manager.Image(q.Get("run"), atoiDefault(q.Get("well"), 0))
		if err != nil {
			writeError(w, logger, err)
			return
		}
		if !run.TryLock() {
			writeError(w, logger, fmt.Errorf("%w: %s", classify.ErrRunBusy, run.Name))
			return
		}
		info := dto.NewImageInfo(img)
		run.Unlock()
		writeJSON(w, logger, http.StatusOK, info)
	}
}

// UpdateImageHandler sets the human classification and favorite flag of an
// image from the human and favorite form values. Absent values are left
// unchanged; an empty human value clears the label.
func UpdateImageHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Invalid form", http.StatusBadRequest)
			return
		}
		run, img, err := manager.Image(r.Form.Get("run"), atoiDefault(r.Form.Get("well"), 0))
		if err != nil {
			writeError(w, logger, err)
			return
		}

		if r.Form.Has("human") {
			if err := manager.SetHumanClass(run, img, r.Form.Get("human")); err != nil {
				writeError(w, logger, err)
				return
			}
		}
		if r.Form.Has("favorite") {
			if err := manager.SetFavorite(run, img, parseBool(r.Form.Get("favorite"))); err != nil {
				writeError(w, logger, err)
				return
			}
		}

		if !run.TryLock() {
			writeError(w, logger, fmt.Errorf("%w: %s", classify.ErrRunBusy, run.Name))
			return
		}
		info := dto.NewImageInfo(img)
		run.Unlock()
		writeJSON(w, logger, http.StatusOK, info)
	}
}
