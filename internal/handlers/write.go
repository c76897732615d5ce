package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/hideki0403/ofuton/internal/storage"
	"github.com/hideki0403/ofuton/internal/xmlutil"
)

// operation is the S3 write operation a request maps to.
type operation int

const (
	opUnknown operation = iota
	opPutObject
	opCreateMultipartUpload
	opUploadPart
	opCompleteMultipartUpload
	opAbortMultipartUpload
	opDeleteObject
)

func (o operation) String() string {
	switch o {
	case opPutObject:
		return "PutObject"
	case opCreateMultipartUpload:
		return "CreateMultipartUpload"
	case opUploadPart:
		return "UploadPart"
	case opCompleteMultipartUpload:
		return "CompleteMultipartUpload"
	case opAbortMultipartUpload:
		return "AbortMultipartUpload"
	case opDeleteObject:
		return "DeleteObject"
	}
	return "Unknown"
}

// classifyOperation maps (method, uploadId present) to the S3 operation.
func classifyOperation(method string, isMultipart bool) operation {
	switch method {
	case http.MethodPut:
		if isMultipart {
			return opUploadPart
		}
		return opPutObject
	case http.MethodPost:
		if isMultipart {
			return opCompleteMultipartUpload
		}
		return opCreateMultipartUpload
	case http.MethodDelete:
		if isMultipart {
			return opAbortMultipartUpload
		}
		return opDeleteObject
	}
	return opUnknown
}

// WriteObject dispatches PUT, POST, and DELETE requests to the S3 write
// operations.
func (h *Handler) WriteObject(w http.ResponseWriter, r *http.Request) {
	objectPath := r.URL.Path
	if objectPath == "" || objectPath == "/" {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	state := MultipartStateFrom(r.Context())
	op := classifyOperation(r.Method, state.UploadID != "")
	if op == opUnknown {
		http.Error(w, "unknown operation", http.StatusBadRequest)
		return
	}

	slog.Debug("Dispatching write operation", "operation", op.String(), "path", objectPath)

	switch op {
	case opPutObject:
		h.putObject(w, r, objectPath)
	case opCreateMultipartUpload:
		h.createMultipartUpload(w, r, objectPath)
	case opUploadPart:
		h.uploadPart(w, r, state)
	case opCompleteMultipartUpload:
		h.completeMultipartUpload(w, r, objectPath, state)
	case opAbortMultipartUpload:
		h.abortMultipartUpload(w, r, state)
	case opDeleteObject:
		h.deleteObject(w, r, objectPath)
	}
}

// requestMimeType returns the Content-Type header with the S3 default.
func requestMimeType(r *http.Request) string {
	if mime := r.Header.Get("Content-Type"); mime != "" {
		return mime
	}
	return "application/octet-stream"
}

// requestFilenames extracts the display names from Content-Disposition,
// defaulting the plain filename to "unknown".
func requestFilenames(r *http.Request) (filename, encodedFilename string) {
	disposition := ParseContentDisposition(r.Header.Get("Content-Disposition"))
	filename = disposition.Filename
	if filename == "" {
		filename = "unknown"
	}
	return filename, disposition.EncodedFilename
}

// splitBucketKey splits the object path once on '/'. Paths start with a
// slash, so the bucket is normally empty and the key carries no leading
// slash.
func splitBucketKey(objectPath string) (bucket, key string) {
	if before, after, ok := strings.Cut(objectPath, "/"); ok {
		return before, after
	}
	return "", objectPath
}

func (h *Handler) putObject(w http.ResponseWriter, r *http.Request, objectPath string) {
	contentSize := r.ContentLength
	if contentSize < 0 {
		contentSize = 0
	}
	filename, encodedFilename := requestFilenames(r)

	err := h.store.PutObject(r.Context(), storage.WriteObjectData{
		Path:            objectPath,
		MimeType:        requestMimeType(r),
		ContentSize:     contentSize,
		Filename:        filename,
		EncodedFilename: encodedFilename,
		Body:            r.Body,
	})
	if err != nil {
		internalError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *Handler) createMultipartUpload(w http.ResponseWriter, r *http.Request, objectPath string) {
	filename, encodedFilename := requestFilenames(r)
	uploadID := h.store.CreateMultipartUpload(objectPath, filename, encodedFilename, requestMimeType(r))

	bucket, key := splitBucketKey(objectPath)
	err := xmlutil.Write(w, http.StatusOK, xmlutil.InitiateMultipartUploadResult{
		Bucket:   bucket,
		Key:      key,
		UploadID: uploadID,
	})
	if err != nil {
		internalError(w, err)
	}
}

func (h *Handler) uploadPart(w http.ResponseWriter, r *http.Request, state MultipartState) {
	if !state.HasPartNumber {
		http.Error(w, "Missing uploadId or partNumber", http.StatusBadRequest)
		return
	}
	if !state.IsRegistered {
		http.Error(w, "Invalid or expired uploadId", http.StatusBadRequest)
		return
	}

	if err := h.store.UploadPart(r.Context(), state.UploadID, state.PartNumber, r.Body); err != nil {
		if errors.Is(err, storage.ErrNoSuchUpload) {
			http.Error(w, "Invalid or expired uploadId", http.StatusBadRequest)
			return
		}
		internalError(w, err)
		return
	}

	// Part digests are not computed; clients only need a distinct token.
	w.Header().Set("ETag", uuid.NewString())
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) completeMultipartUpload(w http.ResponseWriter, r *http.Request, objectPath string, state MultipartState) {
	if !state.IsRegistered {
		http.Error(w, "Invalid or expired uploadId", http.StatusBadRequest)
		return
	}

	if err := h.store.CompleteMultipartUpload(r.Context(), state.UploadID); err != nil {
		if errors.Is(err, storage.ErrNoSuchUpload) {
			http.Error(w, "Invalid or expired uploadId", http.StatusBadRequest)
			return
		}
		internalError(w, err)
		return
	}

	bucket, key := splitBucketKey(objectPath)
	err := xmlutil.Write(w, http.StatusOK, xmlutil.CompleteMultipartUploadResult{
		Location: r.URL.EscapedPath(),
		Bucket:   bucket,
		Key:      key,
		ETag:     uuid.NewString(),
	})
	if err != nil {
		internalError(w, err)
	}
}

func (h *Handler) abortMultipartUpload(w http.ResponseWriter, r *http.Request, state MultipartState) {
	if err := h.store.AbortMultipartUpload(r.Context(), state.UploadID); err != nil {
		internalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteObject(w http.ResponseWriter, r *http.Request, objectPath string) {
	if err := h.store.DeleteObject(r.Context(), objectPath); err != nil {
		internalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
