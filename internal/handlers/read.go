package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/hideki0403/ofuton/internal/storage"
)

// ReadObject serves GET and HEAD for a stored object. Range requests are
// honored on GET; HEAD returns headers (including Content-Length) only.
func (h *Handler) ReadObject(w http.ResponseWriter, r *http.Request) {
	objectPath := r.URL.Path
	if objectPath == "" || objectPath == "/" {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	isHead := r.Method == http.MethodHead
	data, err := h.store.GetObject(r.Context(), objectPath, !isHead)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}
		internalError(w, err)
		return
	}

	meta := data.Metadata
	header := w.Header()
	header.Set("Cache-Control", "max-age=31536000, immutable")
	header.Set("Content-Type", meta.MimeType)
	header.Set("ETag", `"`+meta.InternalFilename+`"`)
	header.Set("Accept-Ranges", "bytes")

	disposition := "inline"
	if params := BuildContentDispositionFilename(meta.Filename, meta.EncodedFilename); params != "" {
		disposition += "; " + params
	}
	header.Set("Content-Disposition", disposition)

	if isHead {
		header.Set("Content-Length", strconv.FormatInt(meta.ContentSize, 10))
		w.WriteHeader(http.StatusOK)
		return
	}

	defer data.File.Close()
	// ServeContent handles Range and conditional requests against the ETag
	// set above. Objects are immutable, so no modification time is exposed.
	http.ServeContent(w, r, "", time.Time{}, data.File)
}
