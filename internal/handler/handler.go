package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/lucasew/gallerycache/internal/errutil"
	"github.com/lucasew/gallerycache/internal/gallery"
	"github.com/shogo82148/go-sfv"
	"golang.org/x/time/rate"
)

// TagsHeader carries extra photo tags as a structured-field list of strings.
const TagsHeader = "X-Photo-Tags"

const multipartMemory = 32 << 20

// Options tune the handler. Zero values disable the feature.
type Options struct {
	// UploadLimiter throttles POST /api/photos.
	UploadLimiter *rate.Limiter
	// MaxRequestBytes caps an upload request body.
	MaxRequestBytes int64
	// Metrics is served on /metrics.
	Metrics http.Handler
}

// GalleryHandler serves the gallery JSON API:
//
//	POST   /api/photos                          multipart upload, one or more "file" parts
//	GET    /api/photos                          list, ?limit=N
//	GET    /api/photos/{id}                     metadata
//	GET    /api/photos/{id}/image               best stored payload
//	DELETE /api/photos/{id}
//	GET    /api/storage
//	POST   /api/cache/clear
//	POST   /api/folders                         {"name","owner"}
//	GET    /api/folders
//	GET    /api/folders/{id}/photos
//	PUT    /api/folders/{id}/photos/{photoID}
//	GET    /api/persons
//	GET    /api/persons/{id}/photos
//	PUT    /api/persons/{id}                    {"name"}
type GalleryHandler struct {
	svc  *gallery.Service
	opts Options
	mux  *http.ServeMux
}

func NewGalleryHandler(svc *gallery.Service, opts Options) *GalleryHandler {
	h := &GalleryHandler{svc: svc, opts: opts, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /api/photos", h.upload)
	h.mux.HandleFunc("GET /api/photos", h.listPhotos)
	h.mux.HandleFunc("GET /api/photos/{id}", h.getPhoto)
	h.mux.HandleFunc("GET /api/photos/{id}/image", h.getImage)
	h.mux.HandleFunc("DELETE /api/photos/{id}", h.deletePhoto)
	h.mux.HandleFunc("GET /api/storage", h.storage)
	h.mux.HandleFunc("POST /api/cache/clear", h.clearCache)
	h.mux.HandleFunc("POST /api/folders", h.createFolder)
	h.mux.HandleFunc("GET /api/folders", h.listFolders)
	h.mux.HandleFunc("GET /api/folders/{id}/photos", h.folderPhotos)
	h.mux.HandleFunc("PUT /api/folders/{id}/photos/{photoID}", h.addToFolder)
	h.mux.HandleFunc("GET /api/persons", h.listPersons)
	h.mux.HandleFunc("GET /api/persons/{id}/photos", h.personPhotos)
	h.mux.HandleFunc("PUT /api/persons/{id}", h.renamePerson)
	if opts.Metrics != nil {
		h.mux.Handle("GET /metrics", opts.Metrics)
	}
	return h
}

func (h *GalleryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// upload answers 200 when every file was admitted, 207 when some were
// rejected and 422 when all were.
func (h *GalleryHandler) upload(w http.ResponseWriter, r *http.Request) {
	if h.opts.UploadLimiter != nil && !h.opts.UploadLimiter.Allow() {
		http.Error(w, "Too many uploads, slow down", http.StatusTooManyRequests)
		return
	}
	if h.opts.MaxRequestBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxRequestBytes)
	}

	tags, err := ParseTags(r.Header.Get(TagsHeader))
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid %s header: %v", TagsHeader, err), http.StatusBadRequest)
		return
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, fmt.Sprintf("Invalid multipart body: %v", err), http.StatusBadRequest)
		return
	}
	defer func() {
		errutil.LogMsg(r.MultipartForm.RemoveAll(), "Failed to remove multipart temp files")
	}()

	files := r.MultipartForm.File["file"]
	if len(files) == 0 {
		http.Error(w, "No file parts in request", http.StatusBadRequest)
		return
	}

	uploads := make([]gallery.Upload, len(files))
	for i, fh := range files {
		uploads[i] = fileUpload(fh, tags)
	}

	report, err := h.svc.UploadBatch(r.Context(), uploads, r.FormValue("owner"), r.FormValue("folder"))
	status := http.StatusOK
	switch {
	case errors.Is(err, gallery.ErrBatchFailed):
		status = http.StatusUnprocessableEntity
	case err != nil:
		h.fail(w, err)
		return
	case report.Admitted() < len(files):
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, report)
}

func fileUpload(fh *multipart.FileHeader, tags []string) gallery.Upload {
	return gallery.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Tags:        tags,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

// ParseTags decodes a structured-field list of strings.
func ParseTags(header string) ([]string, error) {
	if header == "" {
		return nil, nil
	}
	list, err := sfv.DecodeList([]string{header})
	if err != nil {
		return nil, err
	}
	tags := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.Value.(string)
		if !ok {
			return nil, fmt.Errorf("tag %v is not a string", item.Value)
		}
		tags = append(tags, s)
	}
	return tags, nil
}

func (h *GalleryHandler) listPhotos(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	photos, err := h.svc.Photos(r.Context(), limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, photos)
}

func (h *GalleryHandler) getPhoto(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Photo(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *GalleryHandler) getImage(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := h.svc.PhotoData(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if _, err := w.Write(data); err != nil {
		slog.Debug("Client went away while serving image", "error", err)
	}
}

func (h *GalleryHandler) deletePhoto(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeletePhoto(r.Context(), r.PathValue("id")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *GalleryHandler) storage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.GetStorageInfo(r.Context()))
}

func (h *GalleryHandler) clearCache(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.ClearCache(r.Context()))
}

type folderRequest struct {
	Name  string `json:"name"`
	Owner string `json:"owner"`
}

func (h *GalleryHandler) createFolder(w http.ResponseWriter, r *http.Request) {
	var req folderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	f, err := h.svc.CreateFolder(r.Context(), req.Name, req.Owner)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (h *GalleryHandler) listFolders(w http.ResponseWriter, r *http.Request) {
	folders, err := h.svc.Folders(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, folders)
}

func (h *GalleryHandler) folderPhotos(w http.ResponseWriter, r *http.Request) {
	photos, err := h.svc.PhotosByFolder(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(photos))
}

func (h *GalleryHandler) addToFolder(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.AddPhotoToFolder(r.Context(), r.PathValue("photoID"), r.PathValue("id")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *GalleryHandler) listPersons(w http.ResponseWriter, r *http.Request) {
	persons, err := h.svc.Persons(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, persons)
}

func (h *GalleryHandler) personPhotos(w http.ResponseWriter, r *http.Request) {
	photos, err := h.svc.PhotosByPerson(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(photos))
}

type personRequest struct {
	Name string `json:"name"`
}

func (h *GalleryHandler) renamePerson(w http.ResponseWriter, r *http.Request) {
	var req personRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := h.svc.RenamePerson(r.Context(), r.PathValue("id"), req.Name)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// fail maps service errors to status codes.
func (h *GalleryHandler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gallery.ErrPhotoNotFound),
		errors.Is(err, gallery.ErrFolderNotFound),
		errors.Is(err, gallery.ErrPersonNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, gallery.ErrInvalidName):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		errutil.ReportError(err, "Request failed")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON body: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
