package idempotency

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	now := fixedTime

	res, err := store.Reserve(ctx, "k1|anon", "fp1", now, time.Hour)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected new reservation, got %+v %v", res, err)
	}
	res, err = store.Reserve(ctx, "k1|anon", "fp1", now, time.Hour)
	if err != nil || res.State != ReservationStatePending {
		t.Fatalf("expected pending reservation, got %+v %v", res, err)
	}
	if _, err := store.Reserve(ctx, "k1|anon", "fp2", now, time.Hour); !errors.Is(err, ErrFingerprintMismatch) {
		t.Fatalf("expected fingerprint mismatch, got %v", err)
	}

	resp := Response{
		Status:  http.StatusCreated,
		Headers: http.Header{"Content-Type": {"application/json"}, "Content-Length": {"11"}},
		Body:    []byte(`{"ok":true}`),
	}
	if err := store.SaveResponse(ctx, "k1|anon", "fp1", resp, now, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}
	res, err = store.Reserve(ctx, "k1|anon", "fp1", now, time.Hour)
	if err != nil || res.State != ReservationStateCompleted {
		t.Fatalf("expected completed reservation, got %+v %v", res, err)
	}
	if string(res.Record.ResponseBody) != `{"ok":true}` || res.Record.ResponseStatus != http.StatusCreated {
		t.Fatalf("unexpected stored response %+v", res.Record)
	}
	if _, ok := res.Record.ResponseHeaders["Content-Length"]; ok {
		t.Fatalf("hop-by-hop headers must not be stored")
	}

	if err := store.Release(ctx, "k1|anon", "fp1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	res, err = store.Reserve(ctx, "k1|anon", "fp2", now, time.Hour)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected released key to be reservable, got %+v %v", res, err)
	}
}

func TestMemoryStoreLifecycle(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStoreCleanupExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, key := range []string{"a", "b", "c"} {
		if _, err := store.Reserve(ctx, key, "fp", fixedTime, time.Minute); err != nil {
			t.Fatalf("reserve: %v", err)
		}
	}
	removed, err := store.CleanupExpired(ctx, fixedTime.Add(2*time.Minute), 2)
	if err != nil || removed != 2 {
		t.Fatalf("expected 2 removed, got %d %v", removed, err)
	}
	removed, _ = store.CleanupExpired(ctx, fixedTime.Add(2*time.Minute), 0)
	if removed != 1 {
		t.Fatalf("expected remaining record removed, got %d", removed)
	}
}

func TestRedisStoreLifecycle(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client, "test:idem")
	exerciseStore(t, store)

	if ttl := mr.TTL("test:idem:" + documentID("k1|anon")); ttl != time.Hour {
		t.Fatalf("expected record TTL of one hour, got %v", ttl)
	}
	mr.FastForward(2 * time.Hour)
	res, err := store.Reserve(context.Background(), "k1|anon", "fp9", fixedTime, time.Hour)
	if err != nil || res.State != ReservationStateNew {
		t.Fatalf("expected expired key to be reservable, got %+v %v", res, err)
	}
}

func TestRunJanitorStopsOnCancel(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		RunJanitor(ctx, store, 5*time.Millisecond, 10, nil)
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("janitor did not stop after cancel")
	}
}
