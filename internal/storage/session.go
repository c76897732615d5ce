package storage

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hideki0403/ofuton/internal/metrics"
)

// cleanupGrace is added on top of the TTL when the cleanup task computes its
// wake-up time, so a session is never swept at the exact expiry boundary.
const cleanupGrace = time.Second

// MultipartUploadItem tracks one in-flight multipart upload session.
// Sessions live only in memory; a restart discards them (and their on-disk
// part directories, which are removed on startup).
type MultipartUploadItem struct {
	UploadID        string
	Path            string
	Filename        string
	EncodedFilename string
	MimeType        string
	// LastUploadAt is advanced by every successful part upload and drives
	// TTL expiration.
	LastUploadAt time.Time
}

// SessionRegistry is the process-wide map of active multipart upload
// sessions, guarded by a single mutex. Critical sections are short and
// never cross I/O; expired sessions' on-disk cleanup runs via onExpire
// outside the lock.
type SessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*MultipartUploadItem

	// ttl is how long a session may idle before the sweeper removes it.
	ttl time.Duration

	// cleanupArmed gates the cleanup scheduler to a single pending task.
	cleanupArmed atomic.Bool

	// onExpire is invoked (outside the lock) for every session removed by
	// the TTL sweep, typically to delete its multipart directory.
	onExpire func(uploadID string)
}

// NewSessionRegistry creates an empty registry with the given idle TTL.
// onExpire may be nil.
func NewSessionRegistry(ttl time.Duration, onExpire func(uploadID string)) *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*MultipartUploadItem),
		ttl:      ttl,
		onExpire: onExpire,
	}
}

// Add registers a new session and arms the cleanup scheduler.
func (r *SessionRegistry) Add(item *MultipartUploadItem) {
	r.mu.Lock()
	r.sessions[item.UploadID] = item
	metrics.MultipartSessionsActive.Set(float64(len(r.sessions)))
	r.mu.Unlock()

	go r.runCleanup()
}

// Contains reports whether the given upload ID is registered.
func (r *SessionRegistry) Contains(uploadID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sessions[uploadID]
	return ok
}

// Touch refreshes the session's last-upload timestamp and returns a copy of
// the session. Returns false when the ID is not registered.
func (r *SessionRegistry) Touch(uploadID string) (MultipartUploadItem, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.sessions[uploadID]
	if !ok {
		return MultipartUploadItem{}, false
	}
	item.LastUploadAt = time.Now().UTC()
	return *item, true
}

// Remove deletes the session and returns a copy of it. Returns false when
// the ID is not registered, which makes removal atomic: of two racing
// callers, exactly one wins.
func (r *SessionRegistry) Remove(uploadID string) (MultipartUploadItem, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.sessions[uploadID]
	if !ok {
		return MultipartUploadItem{}, false
	}
	delete(r.sessions, uploadID)
	metrics.MultipartSessionsActive.Set(float64(len(r.sessions)))
	return *item, true
}

// Len returns the number of registered sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// earliestLastUpload returns the oldest LastUploadAt across all sessions.
// ok is false when the registry is empty.
func (r *SessionRegistry) earliestLastUpload() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var earliest time.Time
	found := false
	for _, item := range r.sessions {
		if !found || item.LastUploadAt.Before(earliest) {
			earliest = item.LastUploadAt
			found = true
		}
	}
	return earliest, found
}

// sweepExpired removes every session idle longer than the TTL and returns
// the removed upload IDs.
func (r *SessionRegistry) sweepExpired() []string {
	deadline := time.Now().UTC().Add(-r.ttl)

	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []string
	for id, item := range r.sessions {
		if item.LastUploadAt.Before(deadline) {
			delete(r.sessions, id)
			expired = append(expired, id)
		}
	}
	metrics.MultipartSessionsActive.Set(float64(len(r.sessions)))
	return expired
}

// runCleanup is the body of the cleanup scheduler. At most one task is
// pending at any time: the armed flag is taken with a CAS and cleared only
// after the sweep, and a fresh task is spawned afterwards to cover sessions
// that arrived during the sleep. With no live sessions the flag stays clear
// and the next Add re-arms, keeping idle cost zero.
func (r *SessionRegistry) runCleanup() {
	if !r.cleanupArmed.CompareAndSwap(false, true) {
		return
	}

	earliest, ok := r.earliestLastUpload()
	if !ok {
		r.cleanupArmed.Store(false)
		return
	}

	time.Sleep(time.Until(earliest.Add(r.ttl + cleanupGrace)))

	expired := r.sweepExpired()
	for _, id := range expired {
		slog.Debug("Expired multipart upload session removed", "upload_id", id)
		if r.onExpire != nil {
			r.onExpire(id)
		}
	}

	r.cleanupArmed.Store(false)
	if r.Len() > 0 {
		go r.runCleanup()
	}
}
