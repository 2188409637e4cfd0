package thumbnail

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
)

func TestFit(t *testing.T) {
	tests := []struct {
		w, h, max    int
		wantW, wantH int
	}{
		{4000, 3000, 200, 200, 150},
		{3000, 4000, 200, 150, 200},
		{200, 200, 200, 200, 200},
		{100, 50, 200, 100, 50},
		{201, 100, 200, 200, 100},
		{1000, 1, 200, 200, 1},
		{1, 1000, 200, 1, 200},
		{1920, 1080, 200, 200, 113},
	}
	for _, tt := range tests {
		gotW, gotH := Fit(tt.w, tt.h, tt.max)
		if gotW != tt.wantW || gotH != tt.wantH {
			t.Errorf("Fit(%d, %d, %d) = %dx%d, want %dx%d", tt.w, tt.h, tt.max, gotW, gotH, tt.wantW, tt.wantH)
		}
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func TestMake(t *testing.T) {
	g := NewGenerator(200, 70)

	t.Run("Downscales", func(t *testing.T) {
		img, format, err := Decode(pngBytes(t, 400, 300))
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if format != "png" {
			t.Errorf("expected png, got %s", format)
		}

		data, dims, err := g.Make(img)
		if err != nil {
			t.Fatalf("Make failed: %v", err)
		}
		if dims != (Dimensions{Width: 200, Height: 150}) {
			t.Errorf("unexpected dims %+v", dims)
		}

		cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("thumbnail not decodable: %v", err)
		}
		if format != "jpeg" || cfg.Width != 200 || cfg.Height != 150 {
			t.Errorf("got %s %dx%d", format, cfg.Width, cfg.Height)
		}
	})

	t.Run("Small Image Is Re-encoded", func(t *testing.T) {
		img, _, err := Decode(pngBytes(t, 50, 40))
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		data, dims, err := g.Make(img)
		if err != nil {
			t.Fatalf("Make failed: %v", err)
		}
		if dims != (Dimensions{Width: 50, Height: 40}) {
			t.Errorf("unexpected dims %+v", dims)
		}
		if _, format, _ := image.DecodeConfig(bytes.NewReader(data)); format != "jpeg" {
			t.Errorf("expected jpeg output, got %s", format)
		}
	})
}

func TestDecode_Garbage(t *testing.T) {
	_, _, err := Decode([]byte("definitely not an image"))
	if !errors.Is(err, ErrDecodeFailure) {
		t.Errorf("expected ErrDecodeFailure, got %v", err)
	}
}

// pngHeader returns a PNG signature and IHDR chunk declaring w x h, with no
// pixel data. DecodeConfig only reads this far.
func pngHeader(w, h uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 0 // grayscale

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestDecode_PixelLimit(t *testing.T) {
	data := pngHeader(20000, 20000)
	if _, err := png.DecodeConfig(bytes.NewReader(data)); err != nil {
		t.Fatalf("header should be a valid PNG config: %v", err)
	}

	_, _, err := Decode(data)
	if !errors.Is(err, ErrDecodeFailure) {
		t.Fatalf("expected ErrDecodeFailure, got %v", err)
	}
	if !strings.Contains(err.Error(), "20000x20000") {
		t.Errorf("expected dimensions in error, got %v", err)
	}

	// At the limit the header passes; the missing pixel data fails later.
	_, _, err = Decode(pngHeader(10000, 5000))
	if err == nil || strings.Contains(err.Error(), "exceeds") {
		t.Errorf("10000x5000 should pass the pixel check, got %v", err)
	}
}

func TestNewGenerator_Defaults(t *testing.T) {
	g := NewGenerator(0, 0)
	if g.MaxDimension != DefaultMaxDimension || g.Quality != DefaultQuality {
		t.Errorf("unexpected defaults %+v", g)
	}
}
