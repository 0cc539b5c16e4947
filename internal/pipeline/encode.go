package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ConcatListName is the name of the demuxer playlist written next to the parts.
const ConcatListName = "concat.txt"

// EncodeChunk encodes frames into an H.264 mp4 at dst, one frame per 1/fps
// seconds. The output size is taken from the first frame and every frame
// must match it. Frames are streamed to ffmpeg's stdin in order; each write
// blocks until the encoder has consumed the previous data.
func (f *FFmpeg) EncodeChunk(ctx context.Context, dst string, frames []*image.RGBA, fps int) error {
	if len(frames) == 0 {
		return fmt.Errorf("%w: no frames", ErrEncode)
	}
	if fps < 1 {
		return fmt.Errorf("%w: invalid frame rate %d", ErrEncode, fps)
	}
	w, h := frames[0].Rect.Dx(), frames[0].Rect.Dy()
	if w == 0 || h == 0 || w%2 != 0 || h%2 != 0 {
		return fmt.Errorf("%w: frame size %dx%d must be even and non-zero", ErrEncode, w, h)
	}
	for i, fr := range frames {
		if fr.Rect.Dx() != w || fr.Rect.Dy() != h {
			return fmt.Errorf("%w: frame %d is %dx%d, want %dx%d", ErrEncode, i, fr.Rect.Dx(), fr.Rect.Dy(), w, h)
		}
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("%w: create output directory: %v", ErrEncode, err)
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(writeRawFrames(pw, frames))
	}()

	res := f.exec(ctx, f.cfg.FFmpegPath, pr, nil, encodeArgs(dst, w, h, fps)...)
	pr.Close()

	if !res.IsSuccess() {
		return fmt.Errorf("%w: %s: %s", ErrEncode, filepath.Base(dst), res.describe())
	}
	return nil
}

func encodeArgs(dst string, w, h, fps int) []string {
	rate := strconv.Itoa(fps)
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", w, h),
		"-framerate", rate,
		"-i", "pipe:0",
		"-an",
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "18",
		"-pix_fmt", "yuv420p",
		"-r", rate,
		"-movflags", "+faststart",
		dst,
	}
}

// writeRawFrames writes tightly packed rgba rows for each frame.
func writeRawFrames(w io.Writer, frames []*image.RGBA) error {
	for _, fr := range frames {
		rowLen := fr.Rect.Dx() * 4
		if fr.Stride == rowLen {
			if _, err := w.Write(fr.Pix[:rowLen*fr.Rect.Dy()]); err != nil {
				return err
			}
			continue
		}
		for y := 0; y < fr.Rect.Dy(); y++ {
			off := y * fr.Stride
			if _, err := w.Write(fr.Pix[off : off+rowLen]); err != nil {
				return err
			}
		}
	}
	return nil
}

// Concat joins parts, in order, into dst without re-encoding. Every part is
// probed for a video track before the join; progress is called once per
// part added to the playlist.
func (f *FFmpeg) Concat(ctx context.Context, parts []string, dst string, progress func(done, total int)) error {
	if len(parts) == 0 {
		return fmt.Errorf("%w: no parts", ErrConcat)
	}

	for i, part := range parts {
		probe, err := f.Probe(ctx, part)
		if err != nil {
			return fmt.Errorf("%w: part %d: %v", ErrConcat, i, err)
		}
		if !probe.HasVideo() {
			return fmt.Errorf("%w: part %d: %w", ErrConcat, i, ErrNoVideoTrack)
		}
		if progress != nil {
			progress(i+1, len(parts))
		}
	}

	listPath := filepath.Join(filepath.Dir(parts[0]), ConcatListName)
	if err := writeConcatList(listPath, parts); err != nil {
		return fmt.Errorf("%w: %v", ErrConcat, err)
	}
	defer f.remove(listPath)

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("%w: create output directory: %v", ErrConcat, err)
	}

	res := f.exec(ctx, f.cfg.FFmpegPath, nil, nil,
		"-y", "-hide_banner", "-loglevel", "error",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-movflags", "+faststart",
		dst,
	)
	if !res.IsSuccess() {
		return fmt.Errorf("%w: %s", ErrConcat, res.describe())
	}
	return nil
}

// writeConcatList writes an ffmpeg concat demuxer playlist. Paths are made
// absolute and single quotes escaped.
func writeConcatList(path string, parts []string) error {
	var b strings.Builder
	for _, part := range parts {
		abs, err := filepath.Abs(part)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", part, err)
		}
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(filepath.ToSlash(abs), "'", `'\''`))
		b.WriteString("'\n")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("write concat list: %w", err)
	}
	return nil
}

func (f *FFmpeg) remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		f.cfg.Logger.Debug("cleanup failed", "path", f.safePath(path), "error", err)
	}
}
