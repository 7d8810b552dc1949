package monitor

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/phrazzld/scry-batch/internal/progress"
)

// ProgressResponse is the body of GET /progress: the snapshot plus derived
// values so that clients need no arithmetic.
type ProgressResponse struct {
	progress.Snapshot
	Remaining  int64   `json:"remaining"`
	Fraction   float64 `json:"fraction"`
	AgeSeconds float64 `json:"age_seconds"`
}

type progressHandler struct {
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// NewRouter creates the monitoring router for the given progress file.
func NewRouter(progressPath string, logger *slog.Logger) http.Handler {
	h := &progressHandler{
		path:   progressPath,
		logger: logger.With("component", "monitor"),
		now:    time.Now,
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.NoCache)

	r.Get("/progress", h.getProgress)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			h.logger.Error("failed to write health check response", "error", err)
		}
	})

	return r
}

func (h *progressHandler) getProgress(w http.ResponseWriter, r *http.Request) {
	snap, err := progress.ReadSnapshot(h.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		respondWithErrorAndLog(w, r, h.logger, http.StatusNotFound, "no progress snapshot yet", err)
		return
	case err != nil:
		// A snapshot is replaced atomically, so this is a broken file rather
		// than a torn write.
		respondWithErrorAndLog(w, r, h.logger, http.StatusServiceUnavailable, "progress snapshot unreadable", err)
		return
	}

	resp := ProgressResponse{
		Snapshot:  *snap,
		Remaining: snap.Remaining(),
		Fraction:  snap.Fraction(),
	}
	if !snap.SnapshotAt.IsZero() {
		resp.AgeSeconds = h.now().Sub(snap.SnapshotAt).Seconds()
	}

	respondWithJSON(w, h.logger, http.StatusOK, resp)
}
