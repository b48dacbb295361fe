package media

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func writePNG(t *testing.T, w, h int) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), uint8(x ^ y), 255})
		}
	}

	path := filepath.Join(t.TempDir(), "test.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Run("within limits", func(t *testing.T) {
		path := writePNG(t, 64, 32)
		im, err := Loader{}.Load(path)
		if err != nil {
			t.Fatalf("Unexpected error %s", err)
		}
		if expected, actual := "image/png", im.MediaType; expected != actual {
			t.Errorf("Expected media type %q, got %q", expected, actual)
		}
		if im.Width != 64 || im.Height != 32 {
			t.Errorf("Expected 64x32, got %dx%d", im.Width, im.Height)
		}
	})

	t.Run("downscales long edge", func(t *testing.T) {
		path := writePNG(t, 200, 100)
		im, err := Load(path, DefaultMaxSize, 50)
		if err != nil {
			t.Fatalf("Unexpected error %s", err)
		}
		if expected, actual := "image/jpeg", im.MediaType; expected != actual {
			t.Errorf("Expected media type %q, got %q", expected, actual)
		}
		if im.Width != 50 || im.Height != 25 {
			t.Errorf("Expected 50x25, got %dx%d", im.Width, im.Height)
		}
	})

	t.Run("too large", func(t *testing.T) {
		path := writePNG(t, 16, 16)
		_, err := Load(path, 10, DefaultMaxDimension)
		if !errors.Is(err, ErrTooLarge) {
			t.Errorf("Expected ErrTooLarge, got %v", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Loader{}.Load(filepath.Join(t.TempDir(), "nope.jpg"))
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("not an image", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "notes.jpg")
		if err := os.WriteFile(path, []byte("hello, not really a jpeg"), 0o644); err != nil {
			t.Fatal(err)
		}
		_, err := Loader{}.Load(path)
		if !errors.Is(err, ErrUnsupported) {
			t.Errorf("Expected ErrUnsupported, got %v", err)
		}
	})
}

func TestDataURL(t *testing.T) {
	im := Image{Data: []byte("abc"), MediaType: "image/png"}
	if expected, actual := "data:image/png;base64,YWJj", im.DataURL(); expected != actual {
		t.Errorf("Expected %q, got %q", expected, actual)
	}
}
