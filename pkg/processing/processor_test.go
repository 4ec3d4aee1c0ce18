package processing

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
)

func createTestImage(width, height int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(x % 256), uint8(y % 256), 90, 255})
		}
	}
	return img
}

func TestPrepareImageForModelResizes(t *testing.T) {
	p := NewProcessor()
	data, mime, err := p.PrepareImageForModel(createTestImage(800, 400), "jpg", 200, 80)
	if err != nil {
		t.Fatalf("PrepareImageForModel failed: %v", err)
	}
	if mime != "image/jpeg" {
		t.Errorf("Expected image/jpeg, got %s", mime)
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 200 || img.Bounds().Dy() != 100 {
		t.Errorf("Expected 200x100, got %v", img.Bounds())
	}
}

func TestPrepareImageForModelKeepsSmallImages(t *testing.T) {
	p := NewProcessor()
	data, mime, err := p.PrepareImageForModel(createTestImage(120, 90), "png", 1024, 0)
	if err != nil {
		t.Fatalf("PrepareImageForModel failed: %v", err)
	}
	if mime != "image/png" {
		t.Errorf("Expected image/png, got %s", mime)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 120 {
		t.Errorf("Expected width 120, got %d", img.Bounds().Dx())
	}
}

func TestPrepareImageForModelNil(t *testing.T) {
	if _, _, err := NewProcessor().PrepareImageForModel(nil, "jpg", 0, 80); err == nil {
		t.Error("Expected error for nil image")
	}
}

func TestDebugOverlay(t *testing.T) {
	p := NewProcessor()
	img := createTestImage(200, 200)

	out := p.DebugOverlay(img, image.Rect(10, 10, 50, 150), []image.Rectangle{image.Rect(100, 100, 140, 199)})

	if got := out.NRGBAAt(10, 80); got != (color.NRGBA{255, 204, 0, 255}) {
		t.Errorf("Expected board outline at left edge, got %v", got)
	}
	if got := out.NRGBAAt(100, 150); got != (color.NRGBA{255, 0, 0, 255}) {
		t.Errorf("Expected plant outline, got %v", got)
	}
	if got := out.NRGBAAt(180, 20); got == (color.NRGBA{255, 0, 0, 255}) {
		t.Error("Pixels outside boxes should be untouched")
	}
}

func TestSaveImage(t *testing.T) {
	p := NewProcessor()
	dir := t.TempDir()

	for _, format := range []string{"jpg", "png", "webp"} {
		path := filepath.Join(dir, "out."+format)
		if err := p.SaveImage(createTestImage(64, 64), path, format, 80, false); err != nil {
			t.Fatalf("SaveImage(%s) failed: %v", format, err)
		}
		if format == "webp" {
			continue
		}
		if _, err := imaging.Open(path); err != nil {
			t.Errorf("Saved %s could not be reopened: %v", format, err)
		}
	}
}
