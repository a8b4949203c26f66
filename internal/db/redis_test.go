package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/aminefth/kidsclub-sub001/internal/cache"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	return s, &RedisStore{Client: redis.NewClient(&redis.Options{Addr: s.Addr()})}
}

func TestRedisStore_GetSet(t *testing.T) {
	s, store := setupTestRedis(t)
	ctx := context.Background()

	if _, err := store.Get(ctx, "sponsored:sidebar:all:all:3"); !errors.Is(err, cache.ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}
	if err := store.Set(ctx, "sponsored:sidebar:all:all:3", []byte(`[1]`), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := store.Get(ctx, "sponsored:sidebar:all:all:3")
	if err != nil || string(got) != "[1]" {
		t.Fatalf("get = %q, %v", got, err)
	}

	s.FastForward(2 * time.Minute)
	if _, err := store.Get(ctx, "sponsored:sidebar:all:all:3"); !errors.Is(err, cache.ErrMiss) {
		t.Fatalf("expected expired key to miss, got %v", err)
	}
}

func TestRedisStore_DeletePrefix(t *testing.T) {
	s, store := setupTestRedis(t)
	ctx := context.Background()

	for i := 0; i < scanBatch+5; i++ {
		if err := s.Set(fmt.Sprintf("sponsored:sidebar:all:all:%d", i), "x"); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	_ = s.Set("sponsored:feed:all:all:3", "keep")

	if err := store.DeletePrefix(ctx, "sponsored:sidebar:"); err != nil {
		t.Fatalf("delete prefix: %v", err)
	}
	if keys := s.Keys(); len(keys) != 1 || keys[0] != "sponsored:feed:all:all:3" {
		t.Fatalf("expected only feed key to survive, got %v", keys)
	}
}

func TestRedisStore_PublishCampaignUpdate(t *testing.T) {
	_, store := setupTestRedis(t)
	ctx := context.Background()

	sub := store.Client.Subscribe(ctx, CampaignUpdateChannel)
	defer func() { _ = sub.Close() }()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if err := store.PublishCampaignUpdate(ctx, "paused", "c1"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		var upd CampaignUpdate
		if err := json.Unmarshal([]byte(msg.Payload), &upd); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if upd.Entity != "campaign" || upd.Action != "paused" || upd.ID != "c1" {
			t.Fatalf("unexpected payload %+v", upd)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}
