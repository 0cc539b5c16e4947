package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lapseforge/lapseforge/internal/catalog"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSAllowlist())

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))
		r.Post("/runner/pause", pauseHandler(cfg, true))
		r.Post("/runner/resume", pauseHandler(cfg, false))
		r.Post("/maintenance/sweep", sweepHandler(cfg))

		r.Route("/projects", func(r chi.Router) {
			r.Get("/", listProjectsHandler(cfg))
			r.Post("/", createProjectHandler(cfg))
			r.Get("/{id}", getProjectHandler(cfg))
			r.Patch("/{id}", renameProjectHandler(cfg))
			r.Delete("/{id}", deleteProjectHandler(cfg))
			r.Get("/{id}/preview", previewHandler(cfg))
			r.Get("/{id}/edl", edlHandler(cfg))
			r.Post("/{id}/sequences", addSequenceHandler(cfg))
			r.Post("/{id}/sequences/{seqID}/move", moveSequenceHandler(cfg))
			r.Post("/{id}/export", exportHandler(cfg))
			r.Post("/{id}/import", importHandler(cfg))
		})

		r.Route("/sequences/{id}", func(r chi.Router) {
			r.Get("/", getSequenceHandler(cfg))
			r.Patch("/", updateSequenceHandler(cfg))
			r.Delete("/", deleteSequenceHandler(cfg))
			r.Post("/rotate", rotateSequenceHandler(cfg))
			r.Get("/frames", listFramesHandler(cfg))
			r.Post("/frames", uploadFrameHandler(cfg))
			r.Get("/frames/{index}", getFrameHandler(cfg))
			r.Delete("/captures/{captureID}", deleteCaptureHandler(cfg))
			r.Get("/thumbnails", thumbnailsHandler(cfg))
		})

		r.Get("/jobs", listJobsHandler(cfg))
		r.Get("/jobs/{id}", getJobHandler(cfg))
		r.Post("/jobs/{id}/cancel", cancelJobHandler(cfg))
		r.Get("/jobs/{id}/events", jobEventsHandler(cfg))

		r.Group(func(r chi.Router) {
			r.Use(LoopbackGuard())
			r.Get("/jobs/{id}/video", videoHandler(cfg))
			r.Head("/jobs/{id}/video", videoHandler(cfg))
		})
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: cfg.Version,
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		projects, _ := cfg.CatalogService.ListProjects(ctx)
		jobs, _ := cfg.CatalogService.ListJobs(ctx, 20)

		state := "idle"
		var activeJob *JobResponse
		jobsRunning, jobsPending := 0, 0
		lastError := ""

		for _, j := range jobs {
			switch j.Status {
			case catalog.JobStatusRunning:
				state = j.Type + "ing"
				resp := JobToResponse(j)
				activeJob = &resp
				jobsRunning++
			case catalog.JobStatusPending:
				jobsPending++
			case catalog.JobStatusFailed:
				if lastError == "" {
					lastError = j.Error
				}
			}
		}

		paused := cfg.Runner != nil && cfg.Runner.IsPaused()
		if paused {
			state = "paused"
		} else if lastError != "" && state == "idle" {
			state = "error"
		}

		resp := StatusResponse{
			State:       state,
			Paused:      paused,
			LastError:   lastError,
			Projects:    len(projects),
			JobsRunning: jobsRunning,
			JobsPending: jobsPending,
			ActiveJob:   activeJob,
		}

		if cfg.Hub != nil && activeJob != nil {
			if live, ok := cfg.Hub.Snapshot(activeJob.ID); ok {
				resp.Live = &live
			}
		}

		if cfg.Doctor != nil {
			if caps := cfg.Doctor.Peek(); caps != nil {
				resp.Capabilities = CapabilitiesToResponse(caps)
			}
		}

		WriteJSON(w, http.StatusOK, resp)
	}
}

func pauseHandler(cfg ServerConfig, pause bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if cfg.Runner == nil {
			WriteError(w, http.StatusServiceUnavailable, "job runner not available", "UNAVAILABLE")
			return
		}
		if pause {
			cfg.Runner.Pause()
		} else {
			cfg.Runner.Resume()
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func sweepHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := cfg.CatalogService.Sweep(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, SweepResponse{
			RemovedDirs:  res.RemovedDirs,
			RemovedFiles: res.RemovedFiles,
			Failures:     res.Failures,
		})
	}
}

func listJobsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 {
				WriteError(w, http.StatusBadRequest, "limit must be a positive integer", "BAD_REQUEST")
				return
			}
			limit = min(n, 500)
		}

		jobs, err := cfg.CatalogService.ListJobs(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list jobs", "INTERNAL_ERROR")
			return
		}

		resp := JobsResponse{Jobs: make([]JobResponse, len(jobs))}
		for i, j := range jobs {
			resp.Jobs[i] = JobToResponse(j)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.CatalogService.GetJob(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, JobToResponse(job))
	}
}

func cancelJobHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var err error
		if cfg.Runner != nil {
			err = cfg.Runner.Cancel(r.Context(), id)
		} else {
			err = cfg.CatalogService.CancelJob(r.Context(), id)
		}
		if err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func videoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := cfg.CatalogService.GetJob(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if job.Type != catalog.JobTypeExport || job.Status != catalog.JobStatusCompleted || job.Output == "" {
			WriteError(w, http.StatusNotFound, "job has no exported video", "NOT_FOUND")
			return
		}
		if cfg.PlaybackServer == nil {
			WriteError(w, http.StatusServiceUnavailable, "playback not available", "UNAVAILABLE")
			return
		}
		if err := cfg.PlaybackServer.ServeFile(w, r, job.Output); err != nil {
			cfg.Logger.Error("playback error", "error", err, "job_id", job.ID)
		}
	}
}
