package playback

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lapseforge/lapseforge/internal/logging"
)

// PlaybackService streams exported videos with byte range support so players
// can seek without downloading the whole file.
type PlaybackService interface {
	ServeFile(w http.ResponseWriter, r *http.Request, filePath string) error
}

var videoTypes = map[string]string{
	".mp4": "video/mp4",
	".m4v": "video/mp4",
	".mov": "video/quicktime",
	".edl": "text/plain; charset=utf-8",
}

type Server struct {
	logger *slog.Logger
}

func NewServer(logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{logger: logging.WithComponent(logger, "playback")}
}

func contentType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := videoTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// ServeFile writes filePath honoring Range and HEAD. Missing files and
// unsatisfiable ranges are answered directly; only I/O failures are returned.
func (s *Server) ServeFile(w http.ResponseWriter, r *http.Request, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.Error(w, "file not found", http.StatusNotFound)
			return nil
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}
	if stat.IsDir() {
		http.Error(w, "file not found", http.StatusNotFound)
		return nil
	}

	size := stat.Size()
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", contentType(filePath))
	w.Header().Set("Last-Modified", stat.ModTime().UTC().Format(http.TimeFormat))

	parsed, err := ParseRange(r.Header.Get("Range"), size)
	switch {
	case errors.Is(err, ErrUnsatisfiable):
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		http.Error(w, "Range Not Satisfiable", http.StatusRequestedRangeNotSatisfiable)
		return nil
	case errors.Is(err, ErrInvalidRange):
		// Malformed ranges are ignored and the whole file is sent.
		parsed = nil
	case err != nil:
		return err
	}

	start, length, status := int64(0), size, http.StatusOK
	if parsed != nil {
		start, length, status = parsed.Start, parsed.ContentLength(), http.StatusPartialContent
		w.Header().Set("Content-Range", parsed.ContentRange(size))
	}
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		return nil
	}

	if start > 0 {
		if _, err := file.Seek(start, io.SeekStart); err != nil {
			return fmt.Errorf("failed to seek: %w", err)
		}
	}

	began := time.Now()
	n, err := io.CopyN(w, file, length)
	if err != nil {
		// Players drop connections while seeking; that is not worth more
		// than a debug line.
		s.logger.Debug("video stream ended early",
			"path", logging.SanitizePath(filePath),
			"sent", n,
			"error", err,
		)
		return nil
	}
	s.logger.Debug("video range served",
		"path", logging.SanitizePath(filePath),
		"start", start,
		"bytes", n,
		"duration_ms", time.Since(began).Milliseconds(),
	)
	return nil
}
