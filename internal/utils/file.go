package utils

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// ErrTooLarge is returned by SaveUpload when the content exceeds the size limit
var ErrTooLarge = errors.New("upload exceeds size limit")

var imageExts = []string{"jpg", "jpeg", "png", "bmp", "tiff", "tif", "webp"}

// EnsureDir creates dir and its parents as needed
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}

// GetFileExtension returns the lower-cased extension without the dot
func GetFileExtension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// IsImageFile reports whether the name carries an extension the analyzer decodes
func IsImageFile(filename string) bool {
	return slices.Contains(imageExts, GetFileExtension(filename))
}

// GenerateOutputFilename names a derived image (debug overlay, preview) after
// its source: outputDir/prefix+stem+suffix.format. format defaults to the
// source extension, then jpg.
func GenerateOutputFilename(inputFile, outputDir, prefix, suffix, format string) string {
	base := filepath.Base(inputFile)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if format == "" {
		format = cmp.Or(GetFileExtension(inputFile), "jpg")
	}
	return filepath.Join(outputDir, prefix+stem+suffix+"."+format)
}

// SaveUpload copies an uploaded photo into dir/field-<id>/ under a fresh
// name "<role>-<uuid>.<ext>" and returns the stored path and size.
// A partially written file is removed on error.
func SaveUpload(dir string, fieldID uint, role, originalName string, r io.Reader, maxBytes int64) (string, int64, error) {
	if !IsImageFile(originalName) {
		return "", 0, fmt.Errorf("%s: unsupported file type %q", role, originalName)
	}

	target := filepath.Join(dir, fmt.Sprintf("field-%d", fieldID))
	if err := EnsureDir(target); err != nil {
		return "", 0, fmt.Errorf("create upload dir: %w", err)
	}

	name := fmt.Sprintf("%s-%s.%s", SanitizeFilename(role), uuid.NewString(), GetFileExtension(originalName))
	path := filepath.Join(target, name)

	out, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", 0, err
	}

	src := r
	if maxBytes > 0 {
		src = io.LimitReader(r, maxBytes+1)
	}
	n, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil && maxBytes > 0 && n > maxBytes {
		err = fmt.Errorf("%s: %w (%s)", role, ErrTooLarge, FormatFileSize(maxBytes))
	}
	if err != nil {
		os.Remove(path)
		return "", 0, err
	}
	return path, n, nil
}

// FileExists reports whether filename is an existing regular file
func FileExists(filename string) bool {
	info, err := os.Stat(filename)
	return err == nil && !info.IsDir()
}

var unsafeChars = strings.NewReplacer(
	"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
	"\"", "_", "<", "_", ">", "_", "|", "_",
)

// SanitizeFilename makes a client-supplied name safe as a path element
func SanitizeFilename(filename string) string {
	return strings.Trim(unsafeChars.Replace(filename), " .")
}

// FormatFileSize formats file size in human-readable format
func FormatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}

	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
