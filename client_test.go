package gallerycache

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lucasew/gallerycache/internal/app"
	"github.com/lucasew/gallerycache/internal/handler"
	"github.com/shogo82148/go-sfv"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := app.DefaultConfig()
	cfg.DetectFaces = false
	g, err := app.NewGallery(context.Background(), cfg)
	if err != nil {
		t.Fatalf("failed to create gallery: %v", err)
	}
	ts := httptest.NewServer(handler.NewGalleryHandler(g.Service, handler.Options{}))
	t.Cleanup(func() {
		ts.Close()
		_ = g.Close()
	})
	return ts
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, 12, 8))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestClient(t *testing.T) {
	ts := newServer(t)
	c := NewClient(nil, ts.URL)

	t.Run("Upload", func(t *testing.T) {
		report, err := c.Upload(t.Context(), UploadOptions{
			Files: []File{
				{Name: "dir/a.png", Reader: bytes.NewReader(pngBytes(t))},
				{Name: "notes.txt", Reader: bytes.NewReader([]byte("not an image"))},
			},
			Owner: "alice",
			Tags:  []string{"reception", "first dance"},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if report.Admitted() != 1 {
			t.Fatalf("expected 1 admitted, got %d", report.Admitted())
		}
		p := report.Photos[0]
		if p.Filename != "a.png" || p.Owner != "alice" {
			t.Errorf("unexpected photo %+v", p)
		}
		if len(p.Tags) != 2 {
			t.Errorf("expected 2 tags, got %v", p.Tags)
		}
	})

	t.Run("Upload All Rejected", func(t *testing.T) {
		report, err := c.Upload(t.Context(), UploadOptions{
			Files: []File{{Name: "x.bin", Reader: bytes.NewReader([]byte{1, 2, 3})}},
		})
		if !errors.Is(err, ErrBatchFailed) {
			t.Fatalf("expected ErrBatchFailed, got %v", err)
		}
		if report == nil || len(report.Results) != 1 {
			t.Errorf("expected report with 1 result, got %+v", report)
		}
	})

	t.Run("Upload Paths", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "b.png")
		if err := os.WriteFile(path, pngBytes(t), 0o644); err != nil {
			t.Fatal(err)
		}
		report, err := c.UploadPaths(t.Context(), []string{path}, UploadOptions{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if report.Photos[0].Filename != "b.png" {
			t.Errorf("unexpected filename %s", report.Photos[0].Filename)
		}
	})

	t.Run("Storage And Photos", func(t *testing.T) {
		info, err := c.StorageInfo(t.Context())
		if err != nil {
			t.Fatal(err)
		}
		if info.Photos != 2 {
			t.Errorf("expected 2 photos, got %d", info.Photos)
		}
		photos, err := c.Photos(t.Context(), 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(photos) != 1 {
			t.Errorf("expected 1 photo, got %d", len(photos))
		}
	})

	t.Run("Clear And Delete", func(t *testing.T) {
		r, err := c.ClearCache(t.Context())
		if err != nil {
			t.Fatal(err)
		}
		if r.EntriesRemoved != 2 {
			t.Errorf("expected 2 entries removed, got %d", r.EntriesRemoved)
		}

		photos, err := c.Photos(t.Context(), 0)
		if err != nil {
			t.Fatal(err)
		}
		if err := c.DeletePhoto(t.Context(), photos[0].ID); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		err = c.DeletePhoto(t.Context(), photos[0].ID)
		var se *HTTPStatusError
		if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
			t.Errorf("expected 404 status error, got %v", err)
		}
	})
}

func TestClient_Failover(t *testing.T) {
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer broken.Close()
	ts := newServer(t)

	c := NewClient(nil, broken.URL, ts.URL)
	if _, err := c.StorageInfo(t.Context()); err != nil {
		t.Fatalf("expected failover to succeed, got %v", err)
	}

	c = NewClient(nil, broken.URL)
	_, err := c.StorageInfo(t.Context())
	if !errors.Is(err, ErrAllServersFailed) {
		t.Errorf("expected ErrAllServersFailed, got %v", err)
	}
}

func TestNewClient_Env(t *testing.T) {
	list := sfv.List{sfv.Item{Value: "http://a"}, sfv.Item{Value: "http://b"}}
	val, err := sfv.EncodeList(list)
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv("GALLERY_SERVER", val)

	c := NewClient(nil)
	if len(c.Servers) != 2 || c.Servers[1] != "http://b" {
		t.Errorf("unexpected servers %v", c.Servers)
	}

	t.Setenv("GALLERY_SERVER", "")
	if _, err := NewClient(nil).StorageInfo(t.Context()); !errors.Is(err, ErrNoServers) {
		t.Errorf("expected ErrNoServers, got %v", err)
	}
}

func TestParseServers(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{`"http://a", "http://b"`, []string{"http://a", "http://b"}},
		{"http://localhost:8080", []string{"http://localhost:8080"}},
		{"https://gallery.example/api?x=1", []string{"https://gallery.example/api?x=1"}},
		{`"unterminated, x`, nil},
	}
	for _, tc := range cases {
		got := ParseServers(tc.in)
		if strings.Join(got, "|") != strings.Join(tc.want, "|") {
			t.Errorf("ParseServers(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
