package handler

import (
	"context"
	"net/http"

	"polo/internal/logger"
	"polo/internal/model"
	"polo/internal/service"
)

// ClassifyRunHandler starts classifying a run. Progress is streamed on the
// websocket endpoint; the response returns as soon as the task starts.
func ClassifyRunHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return runAction(manager, logger, func(r *http.Request, run *model.Run) (any, error) {
		// The task outlives the request.
		if _, err := manager.Classify(context.WithoutCancel(r.Context()), run); err != nil {
			return nil, err
		}
		return map[string]string{"status": "started", "run": run.Name}, nil
	})
}

// CancelClassifyHandler asks a running classification to stop.
func CancelClassifyHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return runAction(manager, logger, func(r *http.Request, run *model.Run) (any, error) {
		status := "idle"
		if manager.CancelClassify(run) {
			status = "cancelling"
		}
		return map[string]string{"status": status, "run": run.Name}, nil
	})
}

// ClassifyAllHandler classifies every loaded visible run in the background.
func ClassifyAllHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithoutCancel(r.Context())
		go func() {
			results, failed := manager.ClassifyAll(ctx)
			for name, err := range failed {
				logger.Warning("Run %s not classified: %v", name, err)
			}
			logger.Info("Classified %d runs", len(results))
		}()
		writeJSON(w, logger, http.StatusAccepted, map[string]string{"status": "started"})
	}
}
