package analyzer

import (
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

// createTestImage creates a simple test image
func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	// Fill with a gradient pattern
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r := uint8((x * 255) / width)
			g := uint8((y * 255) / height)
			b := uint8(128)
			img.Set(x, y, color.RGBA{r, g, b, 255})
		}
	}

	return img
}

// fillImage creates an image of a single colour
func fillImage(width, height int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func writePNG(t *testing.T, img image.Image) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "img.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return path
}

func TestNew(t *testing.T) {
	analyzer := New()
	if analyzer == nil {
		t.Fatal("New() returned nil")
	}

	if analyzer.config.ExGThreshold != 20 {
		t.Errorf("Expected ExG threshold 20, got %d", analyzer.config.ExGThreshold)
	}
	if analyzer.config.GridSize != 5 {
		t.Errorf("Expected grid size 5, got %d", analyzer.config.GridSize)
	}
}

func TestNewWithConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinImageSize = 200
	cfg.BoardHeightCM = 50

	analyzer := NewWithConfig(cfg)
	if analyzer.Config().MinImageSize != 200 {
		t.Errorf("Expected min size 200, got %d", analyzer.Config().MinImageSize)
	}
	if analyzer.Config().BoardHeightCM != 50 {
		t.Errorf("Expected board height 50, got %f", analyzer.Config().BoardHeightCM)
	}
}

func TestGetImageInfo(t *testing.T) {
	analyzer := New()
	img := createTestImage(400, 300)

	info := analyzer.GetImageInfo(img)

	if info.Width != 400 {
		t.Errorf("Expected width 400, got %d", info.Width)
	}
	if info.Height != 300 {
		t.Errorf("Expected height 300, got %d", info.Height)
	}
	if info.Area != 120000 {
		t.Errorf("Expected area 120000, got %d", info.Area)
	}
}

func TestValidateImage(t *testing.T) {
	analyzer := New()

	if err := analyzer.ValidateImage(createTestImage(200, 200)); err != nil {
		t.Errorf("Valid image should pass validation: %v", err)
	}
	if err := analyzer.ValidateImage(createTestImage(50, 50)); err == nil {
		t.Error("Small image should fail validation")
	}
}

func TestIsFormatSupported(t *testing.T) {
	analyzer := New()

	for _, format := range []string{"jpg", "jpeg", "png", "JPEG", "webp", "tiff"} {
		if !analyzer.isFormatSupported(format) {
			t.Errorf("Format %s should be supported", format)
		}
	}
	if analyzer.isFormatSupported("gif") {
		t.Error("Format gif should not be supported")
	}
}

func TestLoadImage(t *testing.T) {
	analyzer := New()
	path := writePNG(t, createTestImage(120, 80))

	img, err := analyzer.LoadImage(path)
	if err != nil {
		t.Fatalf("LoadImage failed: %v", err)
	}
	if img.Bounds().Dx() != 120 || img.Bounds().Dy() != 80 {
		t.Errorf("Expected 120x80, got %v", img.Bounds())
	}
}

func TestLoadImageMissing(t *testing.T) {
	analyzer := New()
	path := filepath.Join(t.TempDir(), "missing.jpg")

	_, err := analyzer.LoadImage(path)
	var loadErr *ImageLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("Expected *ImageLoadError, got %v", err)
	}
	if loadErr.Path != path {
		t.Errorf("Expected path %s, got %s", path, loadErr.Path)
	}
	if loadErr.Temporary() {
		t.Error("Missing file should not be temporary")
	}
}

func TestLoadImageCorrupt(t *testing.T) {
	analyzer := New()
	path := filepath.Join(t.TempDir(), "corrupt.jpg")
	if err := os.WriteFile(path, []byte("not an image at all"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := analyzer.LoadImage(path)
	var loadErr *ImageLoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("Expected *ImageLoadError, got %v", err)
	}
	if loadErr.Path != path {
		t.Errorf("Expected path %s, got %s", path, loadErr.Path)
	}
	if loadErr.Temporary() {
		t.Error("Decode failure should not be temporary")
	}
}

func TestLoadImageUnsupportedFormat(t *testing.T) {
	analyzer := New()
	path := filepath.Join(t.TempDir(), "img.gif")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := gif.Encode(f, createTestImage(100, 100), nil); err != nil {
		t.Fatal(err)
	}
	f.Close()

	if _, err := analyzer.LoadImage(path); err == nil {
		t.Error("Expected gif to be rejected")
	}
}

func BenchmarkGetImageInfo(b *testing.B) {
	analyzer := New()
	img := createTestImage(1920, 1080)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		analyzer.GetImageInfo(img)
	}
}
