package protocol

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"magpipeline/internal/model"
)

func setupTestRedis(t *testing.T) (*RedisStateStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	store, err := NewRedisStateStore(context.Background(), "redis://"+s.Addr(), "test:")
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func TestRedisStateStore_SaveGetDelete(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	p := model.PendingUpdateRequest{
		Requester: alice,
		State:     model.StateAwaiting,
		UpdatedAt: time.Now().UTC().Truncate(time.Second),
		ExpiresAt: time.Now().UTC().Add(time.Hour).Truncate(time.Second),
	}
	if err := store.Save(ctx, p); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !s.Exists("test:" + alice) {
		t.Fatalf("expected key with prefix")
	}
	if ttl := s.TTL("test:" + alice); ttl <= 0 || ttl > time.Hour {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	got, ok, err := store.Get(ctx, alice)
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	if got.State != model.StateAwaiting || !got.ExpiresAt.Equal(p.ExpiresAt) {
		t.Fatalf("unexpected state %+v", got)
	}

	if err := store.Delete(ctx, alice); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := store.Get(ctx, alice); ok {
		t.Fatalf("expected state deleted")
	}
}

func TestRedisStateStore_ExpiresWithTTL(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	err := store.Save(ctx, model.PendingUpdateRequest{
		Requester: alice,
		State:     model.StateAwaiting,
		ExpiresAt: time.Now().Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	s.FastForward(2 * time.Minute)

	if _, ok, err := store.Get(ctx, alice); err != nil || ok {
		t.Fatalf("expected expired state, ok=%v err=%v", ok, err)
	}
}

func TestRedisStateStore_DrivesMachine(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	m, tmpl, _ := newTestMachine(t, NewRedisStateStoreWithClient(client, ""))
	m.now = time.Now

	handle(t, m, CommandAdjustColumns, msg(alice, "Adjust Columns", nil))
	if !s.Exists(defaultRedisPrefix + alice) {
		t.Fatalf("expected pending state in redis")
	}
	res := handle(t, m, CommandHere, msg(alice, "Here", []byte("v2")))
	if res.Outcome != OutcomeTemplateUpdated || tmpl.GetActive().Version != "v2" {
		t.Fatalf("unexpected result %+v", res)
	}
	if s.Exists(defaultRedisPrefix + alice) {
		t.Fatalf("expected pending state cleared")
	}
}
