package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/lapseforge/lapseforge/internal/catalog"
	"github.com/lapseforge/lapseforge/internal/export"
	"github.com/lapseforge/lapseforge/internal/lapse"
	"github.com/lapseforge/lapseforge/internal/pipeline"
	"github.com/lapseforge/lapseforge/internal/playback"
)

// FrameReader reads stored frames for the preview and frame endpoints.
type FrameReader interface {
	ReadCapture(seq *lapse.Sequence, c *lapse.Capture) ([]byte, error)
	ReadTransformed(seq *lapse.Sequence, index int) ([]byte, error)
	ReadFrameAt(p *lapse.Project, t float64) ([]byte, error)
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

type ServerConfig struct {
	Port           int
	CatalogService catalog.CatalogService
	Repository     catalog.Repository
	Frames         FrameReader
	PlaybackServer playback.PlaybackService
	Runner         *catalog.Runner
	Hub            *export.Hub
	Doctor         *pipeline.CachedDoctor
	Logger         *slog.Logger
	StartTime      time.Time
	ExportFPS      int
	Version        string
}

// NewServer binds to loopback only. Reads are bounded per header rather than
// per request since frame uploads and event streams are long lived.
func NewServer(cfg ServerConfig) *Server {
	httpServer := &http.Server{
		Addr:              net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Port)),
		Handler:           NewRouter(cfg),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if cfg.Hub != nil {
		// Hijacked websocket connections are not closed by Shutdown; closing
		// the hub ends every event stream.
		httpServer.RegisterOnShutdown(cfg.Hub.Close)
	}

	return &Server{
		httpServer: httpServer,
		logger:     cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
