package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/lapseforge/lapseforge/internal/catalog"
	"github.com/lapseforge/lapseforge/internal/export"
	"github.com/lapseforge/lapseforge/internal/framestore"
	"github.com/lapseforge/lapseforge/internal/lapse"
)

const (
	maxFrameBytes = 32 << 20

	placeholderHeader = "X-Frame-Placeholder"

	defaultPixelsPerSecond = 20.0
	defaultThumbWidth      = 60.0
)

func listProjectsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects, err := cfg.CatalogService.ListProjects(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list projects", "INTERNAL_ERROR")
			return
		}

		resp := ProjectsResponse{Projects: make([]ProjectResponse, len(projects))}
		for i, p := range projects {
			resp.Projects[i] = ProjectToResponse(p)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func createProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateProjectRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
				return
			}
		}

		p, err := cfg.CatalogService.CreateProject(r.Context(), req.Title)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, ProjectToResponse(p))
	}
}

func getProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := cfg.CatalogService.GetProject(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, ProjectToResponse(p))
	}
}

func renameProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RenameProjectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		id := chi.URLParam(r, "id")
		if err := cfg.CatalogService.RenameProject(r.Context(), id, req.Title); err != nil {
			writeServiceError(w, err)
			return
		}

		p, err := cfg.CatalogService.GetProject(r.Context(), id)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, ProjectToResponse(p))
	}
}

func deleteProjectHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.CatalogService.DeleteProject(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// previewHandler serves the frame at global time t. Any failure to resolve
// or read the frame is answered with a placeholder image, never an error.
func previewHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := strconv.ParseFloat(r.URL.Query().Get("t"), 64)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "t must be a number of seconds", "BAD_REQUEST")
			return
		}

		p, err := cfg.CatalogService.GetProject(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}

		data, err := cfg.Frames.ReadFrameAt(p, t)
		if err != nil {
			cfg.Logger.Debug("preview unavailable", "project_id", p.ID, "t", t, "error", err)
			writePlaceholder(w)
			return
		}
		writeImage(w, data)
	}
}

func edlHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := cfg.CatalogService.GetProject(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}

		fps := float64(cfg.ExportFPS)
		if v := r.URL.Query().Get("fps"); v != "" {
			fps, err = strconv.ParseFloat(v, 64)
			if err != nil || fps <= 0 {
				WriteError(w, http.StatusBadRequest, "fps must be a positive number", "BAD_REQUEST")
				return
			}
		}

		name := export.SanitizeName(p.Title, 64)
		if name == "" {
			name = "timeline"
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".edl"))
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, export.GenerateEDL(p, fps))
	}
}

func addSequenceHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AddSequenceRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
				return
			}
		}

		seq, err := cfg.CatalogService.AddSequence(r.Context(), chi.URLParam(r, "id"), req.Title)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, SequenceToResponse(seq))
	}
}

func moveSequenceHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req MoveSequenceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Position == nil {
			WriteError(w, http.StatusBadRequest, "position is required", "BAD_REQUEST")
			return
		}

		p, err := cfg.CatalogService.MoveSequence(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "seqID"), *req.Position)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, ProjectToResponse(p))
	}
}

func exportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ExportRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
				return
			}
		}

		job, err := cfg.CatalogService.CreateExportJob(r.Context(), export.Request{
			ProjectID:  chi.URLParam(r, "id"),
			OutputName: req.OutputName,
			OutputDir:  req.OutputDir,
			FPS:        req.FPS,
			ChunkSize:  req.ChunkSize,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, JobCreatedResponse{JobID: job.ID})
	}
}

func importHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ImportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.Path == "" {
			WriteError(w, http.StatusBadRequest, "path is required", "BAD_REQUEST")
			return
		}

		job, err := cfg.CatalogService.CreateImportJob(r.Context(), catalog.ImportRequest{
			ProjectID: chi.URLParam(r, "id"),
			Path:      req.Path,
			Frames:    req.Frames,
			Title:     req.Title,
			Duration:  req.Duration,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, JobCreatedResponse{JobID: job.ID})
	}
}

func getSequenceHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		seq, err := cfg.CatalogService.GetSequence(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, SequenceToResponse(seq))
	}
}

func updateSequenceHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req catalog.SequenceUpdate
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		seq, err := cfg.CatalogService.UpdateSequence(r.Context(), chi.URLParam(r, "id"), req)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, SequenceToResponse(seq))
	}
}

func deleteSequenceHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.CatalogService.DeleteSequence(r.Context(), chi.URLParam(r, "id")); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func rotateSequenceHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		seq, err := cfg.CatalogService.RotateSequence(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, SequenceToResponse(seq))
	}
}

func listFramesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		seq, err := cfg.CatalogService.GetSequence(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, CapturesResponse{Captures: CapturesToResponse(seq.Frames())})
	}
}

// uploadFrameHandler appends the request body as a new frame. Any format the
// frame store can decode is accepted and stored as jpeg.
func uploadFrameHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxFrameBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				WriteError(w, http.StatusRequestEntityTooLarge, "frame too large", "TOO_LARGE")
				return
			}
			WriteError(w, http.StatusBadRequest, "failed to read frame", "BAD_REQUEST")
			return
		}
		if len(body) == 0 {
			WriteError(w, http.StatusBadRequest, "frame body is empty", "BAD_REQUEST")
			return
		}

		data, err := framestore.ToJPEG(body)
		if err != nil {
			WriteError(w, http.StatusUnsupportedMediaType, "frame is not a supported image", "UNSUPPORTED_MEDIA")
			return
		}

		c, err := cfg.CatalogService.AppendFrame(r.Context(), chi.URLParam(r, "id"), data)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, CaptureToResponse(c))
	}
}

func getFrameHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		index, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil || index < 0 {
			WriteError(w, http.StatusBadRequest, "index must be a non-negative integer", "BAD_REQUEST")
			return
		}

		seq, err := cfg.CatalogService.GetSequence(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}

		data, err := cfg.Frames.ReadTransformed(seq, index)
		if err != nil {
			if errors.Is(err, framestore.ErrMissingFrame) {
				cfg.Logger.Debug("no frame at index", "sequence_id", seq.ID, "index", index)
			} else {
				cfg.Logger.Warn("frame read failed", "sequence_id", seq.ID, "index", index, "error", err)
			}
			writePlaceholder(w)
			return
		}
		writeImage(w, data)
	}
}

func deleteCaptureHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := cfg.CatalogService.RemoveCapture(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "captureID"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// thumbnailsHandler samples the captures to draw for a sequence at the
// caller's timeline zoom.
func thumbnailsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pps, err := queryFloat(r, "pps", defaultPixelsPerSecond)
		if err != nil || pps <= 0 {
			WriteError(w, http.StatusBadRequest, "pps must be a positive number", "BAD_REQUEST")
			return
		}
		width, err := queryFloat(r, "width", defaultThumbWidth)
		if err != nil || width <= 0 {
			WriteError(w, http.StatusBadRequest, "width must be a positive number", "BAD_REQUEST")
			return
		}

		seq, err := cfg.CatalogService.GetSequence(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}

		slots := lapse.SlotCount(seq.ExpectedDuration, pps, width)
		WriteJSON(w, http.StatusOK, ThumbnailsResponse{
			Slots:    slots,
			Captures: CapturesToResponse(lapse.Sample(seq, slots)),
		})
	}
}

func queryFloat(r *http.Request, key string, def float64) (float64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.ParseFloat(v, 64)
}

func writeImage(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

var placeholderPNG = sync.OnceValue(func() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 320, 180))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{R: 40, G: 40, B: 40, A: 255}}, image.Point{}, draw.Src)
	data, err := framestore.Encode(img, "png")
	if err != nil {
		return nil
	}
	return data
})

func writePlaceholder(w http.ResponseWriter) {
	w.Header().Set(placeholderHeader, "1")
	writeImage(w, placeholderPNG())
}
