package pipeline

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunResult_IsSuccess(t *testing.T) {
	tests := []struct {
		res  RunResult
		want bool
	}{
		{RunResult{ExitCode: 0}, true},
		{RunResult{ExitCode: 1}, false},
		{RunResult{ExitCode: -1}, false},
		{RunResult{ExitCode: 0, Err: context.Canceled}, false},
	}
	for _, tt := range tests {
		if got := tt.res.IsSuccess(); got != tt.want {
			t.Errorf("%+v.IsSuccess() = %v, want %v", tt.res, got, tt.want)
		}
	}
}

func TestLimitedWriter_KeepsOnlyTail(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 10}

	lw.Write([]byte("hello"))
	if buf.String() != "hello" {
		t.Errorf("after short write got %q, want %q", buf.String(), "hello")
	}

	n, err := lw.Write([]byte(" world of test data"))
	if err != nil || n != 19 {
		t.Errorf("Write() = %d, %v, want 19, nil", n, err)
	}
	if got := buf.String(); got != " test data" {
		t.Errorf("after overflow got %q, want %q", got, " test data")
	}
}

func TestParseProbe(t *testing.T) {
	data := []byte(`{
		"streams": [
			{"codec_type": "audio", "codec_name": "aac"},
			{"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080,
			 "avg_frame_rate": "30000/1001", "r_frame_rate": "30/1"}
		],
		"format": {"duration": "12.500000"}
	}`)

	got, err := parseProbe(data)
	if err != nil {
		t.Fatalf("parseProbe() error = %v", err)
	}
	if got.Duration != 12.5 {
		t.Errorf("Duration = %v, want 12.5", got.Duration)
	}
	if got.FrameRate < 29.96 || got.FrameRate > 29.98 {
		t.Errorf("FrameRate = %v, want ~29.97", got.FrameRate)
	}
	if got.Width != 1920 || got.Height != 1080 || got.Codec != "h264" {
		t.Errorf("video stream = %dx%d %s", got.Width, got.Height, got.Codec)
	}
	if !got.HasVideo() {
		t.Error("HasVideo() = false")
	}
}

func TestParseProbe_Fallbacks(t *testing.T) {
	data := []byte(`{
		"streams": [{"codec_type": "video", "avg_frame_rate": "0/0", "r_frame_rate": "25/1", "duration": "4.0"}],
		"format": {"duration": "N/A"}
	}`)
	got, err := parseProbe(data)
	if err != nil {
		t.Fatalf("parseProbe() error = %v", err)
	}
	if got.FrameRate != 25 {
		t.Errorf("FrameRate = %v, want r_frame_rate fallback 25", got.FrameRate)
	}
	if got.Duration != 4 {
		t.Errorf("Duration = %v, want stream fallback 4", got.Duration)
	}

	audioOnly, err := parseProbe([]byte(`{"streams": [{"codec_type": "audio"}], "format": {}}`))
	if err != nil {
		t.Fatalf("parseProbe() error = %v", err)
	}
	if audioOnly.HasVideo() {
		t.Error("HasVideo() = true for audio-only")
	}

	if _, err := parseProbe([]byte("not json")); !errors.Is(err, ErrProbe) {
		t.Errorf("parseProbe(junk) error = %v, want ErrProbe", err)
	}
}

func TestParseRate(t *testing.T) {
	tests := map[string]float64{
		"30/1":       30,
		"24000/1001": 24000.0 / 1001.0,
		"0/0":        0,
		"N/A":        0,
		"25":         25,
		"":           0,
	}
	for in, want := range tests {
		if got := parseRate(in); got != want {
			t.Errorf("parseRate(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestEncodeArgs(t *testing.T) {
	args := strings.Join(encodeArgs("/tmp/out.mp4", 640, 480, 30), " ")
	for _, want := range []string{
		"-f rawvideo -pix_fmt rgba -s 640x480 -framerate 30 -i pipe:0",
		"-c:v libx264",
		"-pix_fmt yuv420p",
		"-movflags +faststart /tmp/out.mp4",
	} {
		if !strings.Contains(args, want) {
			t.Errorf("encodeArgs() = %q, missing %q", args, want)
		}
	}
}

func TestWriteRawFrames_PacksRows(t *testing.T) {
	full := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := range full.Pix {
		full.Pix[i] = byte(i)
	}
	// SubImage keeps the parent stride, so rows are not contiguous.
	sub := full.SubImage(image.Rect(0, 0, 2, 2)).(*image.RGBA)

	var buf bytes.Buffer
	if err := writeRawFrames(&buf, []*image.RGBA{sub}); err != nil {
		t.Fatalf("writeRawFrames() error = %v", err)
	}
	want := append(append([]byte(nil), full.Pix[0:8]...), full.Pix[16:24]...)
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("writeRawFrames() = %v, want %v", buf.Bytes(), want)
	}
}

func TestWriteConcatList(t *testing.T) {
	dir := t.TempDir()
	parts := []string{
		filepath.Join(dir, "part-0.mp4"),
		filepath.Join(dir, "it's-1.mp4"),
	}
	listPath := filepath.Join(dir, ConcatListName)

	if err := writeConcatList(listPath, parts); err != nil {
		t.Fatalf("writeConcatList() error = %v", err)
	}
	data, err := os.ReadFile(listPath)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if !strings.HasPrefix(lines[0], "file '") || !strings.HasSuffix(lines[0], "part-0.mp4'") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.Contains(lines[1], `it'\''s-1.mp4`) {
		t.Errorf("line 1 = %q, want escaped quote", lines[1])
	}
}

func TestEncodeChunk_Validation(t *testing.T) {
	f := New(Config{FFmpegPath: "/nonexistent/ffmpeg"})
	dst := filepath.Join(t.TempDir(), "out.mp4")
	even := image.NewRGBA(image.Rect(0, 0, 4, 4))

	tests := []struct {
		name   string
		frames []*image.RGBA
		fps    int
	}{
		{"no frames", nil, 30},
		{"bad fps", []*image.RGBA{even}, 0},
		{"odd size", []*image.RGBA{image.NewRGBA(image.Rect(0, 0, 3, 4))}, 30},
		{"mismatched", []*image.RGBA{even, image.NewRGBA(image.Rect(0, 0, 6, 4))}, 30},
		{"missing binary", []*image.RGBA{even}, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.EncodeChunk(context.Background(), dst, tt.frames, tt.fps)
			if !errors.Is(err, ErrEncode) {
				t.Errorf("EncodeChunk() error = %v, want ErrEncode", err)
			}
		})
	}
}

func TestConcat_NoParts(t *testing.T) {
	f := New(Config{})
	if err := f.Concat(context.Background(), nil, "out.mp4", nil); !errors.Is(err, ErrConcat) {
		t.Errorf("Concat(nil) error = %v, want ErrConcat", err)
	}
}

func TestHasEncoderAndVersion(t *testing.T) {
	out := []byte("Encoders:\n V..... = Video\n ------\n V....D libx264              libx264 H.264\n V....D mjpeg                MJPEG\n")
	if !hasEncoder(out, "libx264") || !hasEncoder(out, "mjpeg") {
		t.Error("hasEncoder() missed a listed encoder")
	}
	if hasEncoder(out, "libx265") {
		t.Error("hasEncoder(libx265) = true")
	}
	if got := parseVersion("ffmpeg version 6.1.1 Copyright (c) 2000-2023\nbuilt with gcc"); got != "6.1.1" {
		t.Errorf("parseVersion() = %q", got)
	}
}

// TestFFmpeg_RoundTrip runs the real binaries when they are installed.
func TestFFmpeg_RoundTrip(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed")
	}
	ctx := context.Background()
	f := New(Config{})

	caps, err := f.RunDoctor(ctx)
	if err != nil || !caps.CanExport() || !caps.CanImport() {
		t.Skip("ffmpeg lacks libx264 or mjpeg")
	}

	dir := t.TempDir()
	var parts []string
	for p := 0; p < 2; p++ {
		frames := make([]*image.RGBA, 5)
		for i := range frames {
			img := image.NewRGBA(image.Rect(0, 0, 32, 16))
			for y := 0; y < 16; y++ {
				for x := 0; x < 32; x++ {
					img.Set(x, y, color.RGBA{R: byte(i * 40), G: byte(p * 100), A: 255})
				}
			}
			frames[i] = img
		}
		part := filepath.Join(dir, "part-"+string(rune('0'+p))+".mp4")
		if err := f.EncodeChunk(ctx, part, frames, 10); err != nil {
			t.Fatalf("EncodeChunk() error = %v", err)
		}
		parts = append(parts, part)
	}

	out := filepath.Join(dir, "out.mp4")
	var calls int
	if err := f.Concat(ctx, parts, out, func(done, total int) { calls++ }); err != nil {
		t.Fatalf("Concat() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("progress calls = %d, want 2", calls)
	}

	probe, err := f.Probe(ctx, out)
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if probe.Width != 32 || probe.Height != 16 {
		t.Errorf("output size = %dx%d, want 32x16", probe.Width, probe.Height)
	}
	if probe.Duration < 0.9 || probe.Duration > 1.1 {
		t.Errorf("output duration = %v, want ~1s", probe.Duration)
	}

	jpg, err := f.ExtractFrame(ctx, out, 0.55)
	if err != nil {
		t.Fatalf("ExtractFrame() error = %v", err)
	}
	if len(jpg) < 2 || jpg[0] != 0xFF || jpg[1] != 0xD8 {
		t.Error("ExtractFrame() did not return a jpeg")
	}
}
