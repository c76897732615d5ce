// Package handlers implements the HTTP handlers for object reads and the
// S3 write operations.
package handlers

import (
	"context"

	"github.com/hideki0403/ofuton/internal/storage"
)

// Handler serves the object routes on top of the storage engine.
type Handler struct {
	store *storage.Storage
}

// New creates a Handler backed by the given storage engine.
func New(store *storage.Storage) *Handler {
	return &Handler{store: store}
}

// MultipartState carries the multipart query parameters and the registry
// probe result, attached to the request context by the server middleware so
// handlers never touch the registry lock themselves.
type MultipartState struct {
	// IsRegistered is true when UploadID refers to a live session.
	IsRegistered bool
	UploadID     string
	PartNumber   int
	// HasPartNumber distinguishes partNumber=0 from an absent parameter.
	HasPartNumber bool
}

type multipartStateKey struct{}

// WithMultipartState attaches the multipart state to the context.
func WithMultipartState(ctx context.Context, state MultipartState) context.Context {
	return context.WithValue(ctx, multipartStateKey{}, state)
}

// MultipartStateFrom retrieves the multipart state; the zero value is
// returned when the middleware did not run.
func MultipartStateFrom(ctx context.Context) MultipartState {
	state, _ := ctx.Value(multipartStateKey{}).(MultipartState)
	return state
}
