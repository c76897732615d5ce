package storage

import (
	"sync"
	"testing"
	"time"
)

func TestRegistryAddContainsRemove(t *testing.T) {
	r := NewSessionRegistry(time.Hour, nil)

	r.Add(&MultipartUploadItem{UploadID: "u1", Path: "/a", LastUploadAt: time.Now().UTC()})
	if !r.Contains("u1") {
		t.Fatal("expected u1 to be registered")
	}
	if r.Contains("u2") {
		t.Fatal("did not expect u2 to be registered")
	}

	item, ok := r.Remove("u1")
	if !ok || item.Path != "/a" {
		t.Fatalf("Remove = (%+v, %v)", item, ok)
	}
	if _, ok := r.Remove("u1"); ok {
		t.Fatal("second Remove must lose the race")
	}
}

func TestRegistryTouchRefreshesTimestamp(t *testing.T) {
	r := NewSessionRegistry(time.Hour, nil)

	old := time.Now().UTC().Add(-time.Minute)
	r.Add(&MultipartUploadItem{UploadID: "u1", LastUploadAt: old})

	item, ok := r.Touch("u1")
	if !ok {
		t.Fatal("Touch on live session failed")
	}
	if !item.LastUploadAt.After(old) {
		t.Errorf("LastUploadAt = %v, want after %v", item.LastUploadAt, old)
	}

	if _, ok := r.Touch("missing"); ok {
		t.Fatal("Touch on unknown session must fail")
	}
}

func TestRegistryExpiresIdleSessions(t *testing.T) {
	var mu sync.Mutex
	var expired []string
	r := NewSessionRegistry(50*time.Millisecond, func(uploadID string) {
		mu.Lock()
		expired = append(expired, uploadID)
		mu.Unlock()
	})

	// Already past the TTL, so the sweeper fires after the grace period.
	r.Add(&MultipartUploadItem{UploadID: "u1", LastUploadAt: time.Now().UTC().Add(-time.Second)})

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if !r.Contains("u1") {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if r.Contains("u1") {
		t.Fatal("expected u1 to be swept")
	}

	deadline = time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(expired)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(expired) != 1 || expired[0] != "u1" {
		t.Fatalf("expired = %v, want [u1]", expired)
	}
}

func TestRegistryKeepsFreshSessions(t *testing.T) {
	r := NewSessionRegistry(time.Hour, nil)
	r.Add(&MultipartUploadItem{UploadID: "u1", LastUploadAt: time.Now().UTC()})

	if got := r.sweepExpired(); len(got) != 0 {
		t.Fatalf("sweepExpired = %v, want none", got)
	}
	if !r.Contains("u1") {
		t.Fatal("fresh session must survive a sweep")
	}
}

func TestRegistryEarliestLastUpload(t *testing.T) {
	r := NewSessionRegistry(time.Hour, nil)

	if _, ok := r.earliestLastUpload(); ok {
		t.Fatal("empty registry must report no earliest time")
	}

	oldest := time.Now().UTC().Add(-2 * time.Minute)
	r.Add(&MultipartUploadItem{UploadID: "u1", LastUploadAt: time.Now().UTC()})
	r.Add(&MultipartUploadItem{UploadID: "u2", LastUploadAt: oldest})

	got, ok := r.earliestLastUpload()
	if !ok || !got.Equal(oldest) {
		t.Fatalf("earliestLastUpload = (%v, %v), want (%v, true)", got, ok, oldest)
	}
}
