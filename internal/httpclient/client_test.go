package httpclient

import (
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestNewClient(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	caFile := filepath.Join(t.TempDir(), "ca.pem")
	block := &pem.Block{Type: "CERTIFICATE", Bytes: ts.Certificate().Raw}
	if err := os.WriteFile(caFile, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Run("Trusts Custom CA", func(t *testing.T) {
		c, err := NewClient(caFile, 0)
		if err != nil {
			t.Fatal(err)
		}
		resp, err := c.Get(ts.URL)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			t.Errorf("expected 204, got %d", resp.StatusCode)
		}
	})

	t.Run("Rejects Unknown CA", func(t *testing.T) {
		c, err := NewClient("", 0)
		if err != nil {
			t.Fatal(err)
		}
		if c.Timeout != DefaultTimeout {
			t.Errorf("expected default timeout, got %v", c.Timeout)
		}
		if _, err := c.Get(ts.URL); err == nil {
			t.Error("expected TLS verification failure")
		}
	})

	t.Run("Bad CA File", func(t *testing.T) {
		bad := filepath.Join(t.TempDir(), "bad.pem")
		if err := os.WriteFile(bad, []byte("nope"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := NewClient(bad, 0); err == nil {
			t.Error("expected error for file without certificates")
		}
		if _, err := NewClient(filepath.Join(t.TempDir(), "missing.pem"), 0); err == nil {
			t.Error("expected error for missing file")
		}
	})
}
