package handler

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"polo/internal/dto"
	"polo/internal/importer"
	"polo/internal/logger"
	"polo/internal/model"
	"polo/internal/models"
	"polo/internal/service"
	"polo/internal/service/classify"
	"polo/internal/xtal"
)

const (
	// DefaultPageSize is the number of images returned per page.
	DefaultPageSize = 96
	// DefaultCatalogPageSize is the number of saved runs returned per page.
	DefaultCatalogPageSize = 24
)

// runInfos summarizes runs without waiting on runs that are being classified.
func runInfos(runs []*model.Run) []dto.RunInfo {
	infos := make([]dto.RunInfo, 0, len(runs))
	for _, run := range runs {
		if !run.TryLock() {
			infos = append(infos, dto.NewBusyRunInfo(run))
			continue
		}
		infos = append(infos, dto.NewRunInfo(run))
		run.Unlock()
	}
	return infos
}

// GetRunsHandler lists every loaded run.
func GetRunsHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, http.StatusOK, runInfos(manager.Arena().Runs()))
	}
}

// GetRunHandler returns one page of a run's images, narrowed by the
// classes, human, machine and favorites query parameters.
func GetRunHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		run, err := manager.Run(q.Get("run"))
		if err != nil {
			writeError(w, logger, err)
			return
		}
		page := atoiDefault(q.Get("page"), 1)
		limit := atoiDefault(q.Get("limit"), DefaultPageSize)

		filter := dto.ImageFilters{
			Classes:   q.Get("classes"),
			Human:     parseBool(q.Get("human")),
			Machine:   parseBool(q.Get("machine")),
			Favorites: parseBool(q.Get("favorites")),
		}

		if !run.TryLock() {
			writeError(w, logger, fmt.Errorf("%w: %s", classify.ErrRunBusy, run.Name))
			return
		}
		info := dto.NewRunInfo(run)
		images := run.FilterImages(filter.Model())
		total := len(images)
		start := min((page-1)*limit, total)
		end := min(start+limit, total)
		pictures := make([]dto.ImageInfo, 0, end-start)
		for _, img := range images[start:end] {
			pictures = append(pictures, dto.NewImageInfo(img))
		}
		run.Unlock()

		writeJSON(w, logger, http.StatusOK, dto.RunData{
			Run:         info,
			Images:      pictures,
			Length:      total,
			TotalPages:  totalPages(total, limit),
			CurrentPage: page,
			Limit:       limit,
		})
	}
}

// GetLinkedRunsHandler lists the runs linked to a run along the axis query
// parameter (date or spectrum).
func GetLinkedRunsHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		run, err := manager.Run(q.Get("run"))
		if err != nil {
			writeError(w, logger, err)
			return
		}
		axis := q.Get("axis")
		if axis == "" {
			axis = service.AxisDate
		}
		runs, err := manager.Linked(run, axis)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, dto.LinkedData{Axis: axis, Runs: runInfos(runs)})
	}
}

// RelinkHandler rebuilds every relationship between loaded runs.
func RelinkHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := manager.Relink()
		out := dto.LinkReport{
			Linked:  len(report.Runs) - len(report.Skipped),
			Skipped: make(map[string]string, len(report.Skipped)),
		}
		for _, s := range report.Skipped {
			out.Skipped[s.Run] = s.Reason
		}
		writeJSON(w, logger, http.StatusOK, out)
	}
}

// SpliceHandler inserts a visible run into its spectrum ring.
func SpliceHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return runAction(manager, logger, func(r *http.Request, run *model.Run) (any, error) {
		if err := manager.Splice(run); err != nil {
			return nil, err
		}
		return runInfos([]*model.Run{run})[0], nil
	})
}

// UnspliceHandler restores the ring a run was spliced into.
func UnspliceHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return runAction(manager, logger, func(r *http.Request, run *model.Run) (any, error) {
		if err := manager.Unsplice(run); err != nil {
			return nil, err
		}
		return runInfos([]*model.Run{run})[0], nil
	})
}

// ImportRunHandler imports a server-side directory given by the dir form
// value. name, spectrum, wells and sample override what the directory
// name implies.
func ImportRunHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dir := strings.TrimSpace(r.FormValue("dir"))
		if dir == "" {
			http.Error(w, "Directory required", http.StatusBadRequest)
			return
		}
		opts := importer.HWIOptions{
			Name:   strings.TrimSpace(r.FormValue("name")),
			Sample: strings.TrimSpace(r.FormValue("sample")),
		}
		if v := r.FormValue("spectrum"); v != "" {
			opts.Spectrum = model.ParseSpectrum(v)
		}
		if v := r.FormValue("wells"); v != "" {
			opts.NumWells = atoiDefault(v, 0)
			if !importer.ValidWellCount(opts.NumWells) {
				http.Error(w, "Unsupported well count", http.StatusBadRequest)
				return
			}
		}

		run, err := manager.ImportDirectory(dir, opts)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		logger.Info("Imported %s as run %s", dir, run.Name)
		writeJSON(w, logger, http.StatusCreated, runInfos([]*model.Run{run})[0])
	}
}

// SaveRunHandler writes a run to the store. inline=true embeds the image
// bytes in the saved file.
func SaveRunHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return runAction(manager, logger, func(r *http.Request, run *model.Run) (any, error) {
		info, err := manager.SaveRun(r.Context(), run, xtal.Options{InlineImages: parseBool(r.URL.Query().Get("inline"))})
		if err != nil {
			return nil, err
		}
		return info, nil
	})
}

// LoadRunHandler loads the saved run named by the name query parameter.
func LoadRunHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		if name == "" {
			http.Error(w, "Name required", http.StatusBadRequest)
			return
		}
		run, err := manager.LoadRun(r.Context(), name)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, runInfos([]*model.Run{run})[0])
	}
}

// DeleteRunHandler unloads a run; purge=true also deletes its saved copy.
func DeleteRunHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return runAction(manager, logger, func(r *http.Request, run *model.Run) (any, error) {
		if err := manager.RemoveRun(r.Context(), run, parseBool(r.URL.Query().Get("purge"))); err != nil {
			return nil, err
		}
		return map[string]string{"status": "deleted", "run": run.Name}, nil
	})
}

// GetSavedRunsHandler pages through the catalog of saved runs.
func GetSavedRunsHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page := atoiDefault(q.Get("page"), 1)
		limit := atoiDefault(q.Get("limit"), DefaultCatalogPageSize)

		filter := &models.RunFilter{
			Spectrum: q.Get("spectrum"),
			Sample:   q.Get("sample"),
			PlateID:  q.Get("plate"),
			After:    parseDate(q.Get("dateAfter")),
			Before:   parseDate(q.Get("dateBefore")),
			Limit:    limit,
			Offset:   (page - 1) * limit,
		}
		runs, total, err := manager.SavedRuns(filter)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		if runs == nil {
			runs = []models.Run{}
		}
		writeJSON(w, logger, http.StatusOK, dto.CatalogData{
			Runs:        runs,
			Length:      total,
			TotalPages:  totalPages(total, limit),
			CurrentPage: page,
			Limit:       limit,
		})
	}
}

// GetStatsHandler returns catalog totals.
func GetStatsHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := manager.Stats()
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, stats)
	}
}

// GetStoredHandler lists the xtal files in the store.
func GetStoredHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		infos, err := manager.GetRunStore().List(r.Context())
		if err != nil {
			writeError(w, logger, err)
			return
		}
		sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
		writeJSON(w, logger, http.StatusOK, infos)
	}
}

// runAction resolves the run query parameter and writes the result of fn.
func runAction(manager *service.Manager, logger *logger.Logger, fn func(*http.Request, *model.Run) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := manager.Run(r.URL.Query().Get("run"))
		if err != nil {
			writeError(w, logger, err)
			return
		}
		out, err := fn(r, run)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, logger, http.StatusOK, out)
	}
}
