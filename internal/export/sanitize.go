package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// ErrInvalidOutput is returned for unusable output names or directories.
var ErrInvalidOutput = errors.New("invalid export output")

const maxOutputNameLen = 120

// SanitizeName keeps letters, digits and a few separators, replacing
// everything else with '_'. Input is NFC-normalized first so decomposed
// accents survive as letters.
func SanitizeName(s string, maxLen int) string {
	var b strings.Builder
	for _, r := range norm.NFC.String(s) {
		if unicode.IsControl(r) {
			continue
		}
		if isAllowedNameRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	cleaned := strings.TrimSpace(b.String())
	if maxLen > 0 {
		runes := []rune(cleaned)
		if len(runes) > maxLen {
			cleaned = strings.TrimSpace(string(runes[:maxLen]))
		}
	}
	return cleaned
}

func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case ' ', '-', '_', '.', ',', '(', ')':
		return true
	default:
		return false
	}
}

// ValidateOutputDir requires an existing, clean directory path without
// traversal segments.
func ValidateOutputDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("%w: output_dir is required", ErrInvalidOutput)
	}

	for _, part := range strings.Split(filepath.ToSlash(dir), "/") {
		if part == ".." {
			return fmt.Errorf("%w: output_dir cannot contain path traversal", ErrInvalidOutput)
		}
	}

	if filepath.Clean(dir) != dir {
		return fmt.Errorf("%w: output_dir must be clean path", ErrInvalidOutput)
	}

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: output_dir does not exist", ErrInvalidOutput)
		}
		return fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: output_dir is not a directory", ErrInvalidOutput)
	}
	return nil
}

// OutputPath builds <dir>/<name>.mp4, falling back to fallback when name
// sanitizes to nothing. Leading dots are stripped so the file is never hidden.
func OutputPath(dir, name, fallback string) (string, error) {
	if err := ValidateOutputDir(dir); err != nil {
		return "", err
	}
	clean := strings.TrimLeft(SanitizeName(strings.TrimSuffix(name, ".mp4"), maxOutputNameLen), ". ")
	if clean == "" {
		clean = strings.TrimLeft(SanitizeName(fallback, maxOutputNameLen), ". ")
	}
	if clean == "" {
		clean = "export"
	}
	return filepath.Join(dir, clean+".mp4"), nil
}

// Request is the input of an export job.
type Request struct {
	ProjectID  string `json:"project_id"`
	OutputName string `json:"output_name,omitempty"`
	OutputDir  string `json:"output_dir,omitempty"`
	FPS        int    `json:"fps,omitempty"`
	ChunkSize  int    `json:"chunk_size,omitempty"`
}
