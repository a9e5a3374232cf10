package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"zonewatch/internal/model"
)

type fakeSource struct {
	mu    sync.Mutex
	calls int
	fail  bool
	out   []model.Geofence
}

func (f *fakeSource) ListActiveGeofences(ctx context.Context, tenantID string) ([]model.Geofence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return nil, errors.New("db down")
	}
	return f.out, nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestActiveCachesWithinTTL(t *testing.T) {
	src := &fakeSource{out: []model.Geofence{{ID: "g1", TenantID: "t1", Kind: model.KindCircle}}}
	r := New(src, time.Minute, time.Second)

	for i := 0; i < 5; i++ {
		fences, err := r.Active(context.Background(), "t1")
		if err != nil {
			t.Fatalf("Active: %v", err)
		}
		if len(fences) != 1 || fences[0].ID != "g1" {
			t.Fatalf("unexpected fences: %+v", fences)
		}
	}
	if src.callCount() != 1 {
		t.Fatalf("source called %d times, want 1 (cached)", src.callCount())
	}
}

func TestActiveReloadsAfterExpiry(t *testing.T) {
	src := &fakeSource{}
	r := New(src, time.Millisecond, time.Second)
	if _, err := r.Active(context.Background(), "t1"); err != nil {
		t.Fatalf("Active: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := r.Active(context.Background(), "t1"); err != nil {
		t.Fatalf("Active after expiry: %v", err)
	}
	if src.callCount() != 2 {
		t.Fatalf("source called %d times, want 2", src.callCount())
	}
}

func TestActiveStoreUnavailable(t *testing.T) {
	src := &fakeSource{fail: true}
	r := New(src, time.Minute, time.Second)
	_, err := r.Active(context.Background(), "t1")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("want ErrStoreUnavailable, got %v", err)
	}
}

func TestActiveServesStaleOnFailure(t *testing.T) {
	src := &fakeSource{out: []model.Geofence{{ID: "g1"}}}
	r := New(src, time.Millisecond, time.Second)
	if _, err := r.Active(context.Background(), "t1"); err != nil {
		t.Fatalf("warm load: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	src.mu.Lock()
	src.fail = true
	src.mu.Unlock()
	fences, err := r.Active(context.Background(), "t1")
	if err != nil {
		t.Fatalf("expected stale snapshot, got error: %v", err)
	}
	if len(fences) != 1 {
		t.Fatalf("stale snapshot lost: %+v", fences)
	}
}

func TestInvalidateDropsSnapshot(t *testing.T) {
	src := &fakeSource{}
	r := New(src, time.Hour, time.Second)
	if _, err := r.Active(context.Background(), "t1"); err != nil {
		t.Fatalf("Active: %v", err)
	}
	r.Invalidate("t1")
	if _, err := r.Active(context.Background(), "t1"); err != nil {
		t.Fatalf("Active: %v", err)
	}
	if src.callCount() != 2 {
		t.Fatalf("source called %d times after invalidate, want 2", src.callCount())
	}
}
