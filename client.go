// Package gallerycache is a client for the gallery HTTP API.
package gallerycache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/lucasew/gallerycache/internal/errutil"
	"github.com/lucasew/gallerycache/internal/eviction"
	"github.com/lucasew/gallerycache/internal/gallery"
	"github.com/shogo82148/go-sfv"
)

var (
	// ErrNoServers is returned when the client has no server to talk to.
	ErrNoServers = errors.New("no gallery server configured")

	// ErrAllServersFailed is returned when every server failed to answer.
	ErrAllServersFailed = errors.New("all servers failed")

	// ErrBatchFailed is returned by Upload when the server admitted nothing.
	ErrBatchFailed = gallery.ErrBatchFailed
)

// HTTPStatusError is returned when a server answers with an unexpected status.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	HTTP    *http.Client
	Servers []string
}

// NewClient reads servers from GALLERY_SERVER when none are given.
func NewClient(client *http.Client, servers ...string) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	if len(servers) == 0 {
		servers = ParseServers(os.Getenv("GALLERY_SERVER"))
	}
	return &Client{HTTP: client, Servers: servers}
}

// ParseServers decodes a structured-field list of base URLs. A lone URL that
// is not valid structured-field syntax is taken as is.
func ParseServers(v string) []string {
	if v == "" {
		return nil
	}
	list, err := sfv.DecodeList([]string{v})
	if err != nil {
		if !strings.ContainsAny(v, "\", \t") {
			return []string{v}
		}
		errutil.LogMsg(err, "Failed to parse server list", "value", v)
		return nil
	}

	var servers []string
	for _, item := range list {
		switch s := item.Value.(type) {
		case string:
			servers = append(servers, s)
		case sfv.Token:
			servers = append(servers, string(s))
		}
	}
	return servers
}

// File is one upload. Name is sent as the part filename.
type File struct {
	Name   string
	Reader io.Reader
}

type UploadOptions struct {
	Files  []File
	Owner  string
	Folder string
	Tags   []string
}

// Upload sends the files as one batch. The report is returned even when
// every file was rejected, alongside ErrBatchFailed.
func (c *Client) Upload(ctx context.Context, opts UploadOptions) (*gallery.BatchReport, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range opts.Files {
		fw, err := mw.CreateFormFile("file", filepath.Base(f.Name))
		if err != nil {
			return nil, err
		}
		if _, err := io.Copy(fw, f.Reader); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", f.Name, err)
		}
	}
	for k, v := range map[string]string{"owner": opts.Owner, "folder": opts.Folder} {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	header := http.Header{"Content-Type": {mw.FormDataContentType()}}
	if len(opts.Tags) > 0 {
		list := make(sfv.List, len(opts.Tags))
		for i, tag := range opts.Tags {
			list[i] = sfv.Item{Value: tag}
		}
		val, err := sfv.EncodeList(list)
		if err != nil {
			return nil, fmt.Errorf("failed to encode X-Photo-Tags: %w", err)
		}
		header.Set("X-Photo-Tags", val)
	}

	var report gallery.BatchReport
	status, err := c.do(ctx, http.MethodPost, "/api/photos", header, body.Bytes(), &report,
		http.StatusOK, http.StatusMultiStatus, http.StatusUnprocessableEntity)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnprocessableEntity {
		return &report, ErrBatchFailed
	}
	return &report, nil
}

// UploadPaths opens each path and uploads them as one batch.
func (c *Client) UploadPaths(ctx context.Context, paths []string, opts UploadOptions) (*gallery.BatchReport, error) {
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		defer func() { errutil.LogMsg(f.Close(), "Failed to close file", "path", p) }()
		opts.Files = append(opts.Files, File{Name: p, Reader: f})
	}
	return c.Upload(ctx, opts)
}

func (c *Client) StorageInfo(ctx context.Context) (*gallery.StorageInfo, error) {
	var info gallery.StorageInfo
	if _, err := c.do(ctx, http.MethodGet, "/api/storage", nil, nil, &info, http.StatusOK); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) Photos(ctx context.Context, limit int) ([]*gallery.PhotoRecord, error) {
	var photos []*gallery.PhotoRecord
	path := fmt.Sprintf("/api/photos?limit=%d", limit)
	if _, err := c.do(ctx, http.MethodGet, path, nil, nil, &photos, http.StatusOK); err != nil {
		return nil, err
	}
	return photos, nil
}

func (c *Client) DeletePhoto(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/api/photos/"+id, nil, nil, nil, http.StatusNoContent)
	return err
}

func (c *Client) ClearCache(ctx context.Context) (*eviction.Report, error) {
	var r eviction.Report
	if _, err := c.do(ctx, http.MethodPost, "/api/cache/clear", nil, nil, &r, http.StatusOK); err != nil {
		return nil, err
	}
	return &r, nil
}

// do tries each server in order. A 4xx answer is final; transport errors
// and 5xx move on to the next server.
func (c *Client) do(ctx context.Context, method, path string, header http.Header, body []byte, out any, accept ...int) (int, error) {
	if len(c.Servers) == 0 {
		return 0, ErrNoServers
	}

	var lastErr error
	for _, server := range c.Servers {
		status, err := c.doOne(ctx, server, method, path, header, body, out, accept)
		if err == nil {
			return status, nil
		}
		var se *HTTPStatusError
		if errors.As(err, &se) && se.StatusCode < 500 {
			return status, err
		}
		errutil.LogMsg(err, "Gallery server failed", "server", server)
		lastErr = err
	}
	return 0, fmt.Errorf("%w: %w", ErrAllServersFailed, lastErr)
}

func (c *Client) doOne(ctx context.Context, server, method, path string, header http.Header, body []byte, out any, accept []int) (int, error) {
	u := strings.TrimRight(server, "/") + path
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return 0, err
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { errutil.LogMsg(resp.Body.Close(), "Failed to close response body") }()

	if !slices.Contains(accept, resp.StatusCode) {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, &HTTPStatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
