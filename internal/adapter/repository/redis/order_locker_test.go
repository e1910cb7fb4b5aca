package redis

import (
	"context"
	"testing"
	"time"
)

func TestOrderLocker_AcquireAndRelease(t *testing.T) {
	client, mr := newMiniredis(t)

	locker := NewOrderLocker(client)
	ctx := context.Background()

	release, ok, err := locker.TryLock(ctx, "01ORDER", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected lock, got ok=%v err=%v", ok, err)
	}
	if !mr.Exists(locker.prefix + "01ORDER") {
		t.Fatalf("expected lock key to exist")
	}

	if err := release(ctx); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if mr.Exists(locker.prefix + "01ORDER") {
		t.Fatalf("expected lock key to be removed")
	}
}

func TestOrderLocker_HeldLockIsNotAcquired(t *testing.T) {
	client, _ := newMiniredis(t)

	locker := NewOrderLocker(client)
	ctx := context.Background()

	if _, ok, err := locker.TryLock(ctx, "01ORDER", time.Minute); err != nil || !ok {
		t.Fatalf("expected first lock, got ok=%v err=%v", ok, err)
	}

	release, ok, err := locker.TryLock(ctx, "01ORDER", time.Minute)
	if err != nil {
		t.Fatalf("TryLock failed: %v", err)
	}
	if ok || release != nil {
		t.Fatalf("expected lock to be held elsewhere")
	}

	if _, ok, err := locker.TryLock(ctx, "01OTHER", time.Minute); err != nil || !ok {
		t.Fatalf("expected independent order to lock, got ok=%v err=%v", ok, err)
	}
}

func TestOrderLocker_ExpiredLockCanBeTaken(t *testing.T) {
	client, mr := newMiniredis(t)

	locker := NewOrderLocker(client)
	ctx := context.Background()

	if _, ok, err := locker.TryLock(ctx, "01ORDER", time.Second); err != nil || !ok {
		t.Fatalf("expected lock, got ok=%v err=%v", ok, err)
	}

	mr.FastForward(2 * time.Second)

	if _, ok, err := locker.TryLock(ctx, "01ORDER", time.Minute); err != nil || !ok {
		t.Fatalf("expected expired lock to be reacquired, got ok=%v err=%v", ok, err)
	}
}

func TestOrderLocker_StaleReleaseKeepsNewHolder(t *testing.T) {
	client, mr := newMiniredis(t)

	locker := NewOrderLocker(client)
	ctx := context.Background()

	staleRelease, ok, err := locker.TryLock(ctx, "01ORDER", time.Second)
	if err != nil || !ok {
		t.Fatalf("expected lock, got ok=%v err=%v", ok, err)
	}

	mr.FastForward(2 * time.Second)

	if _, ok, err := locker.TryLock(ctx, "01ORDER", time.Minute); err != nil || !ok {
		t.Fatalf("expected new holder, got ok=%v err=%v", ok, err)
	}

	if err := staleRelease(ctx); err != nil {
		t.Fatalf("stale release failed: %v", err)
	}
	if !mr.Exists(locker.prefix + "01ORDER") {
		t.Fatalf("stale release must not drop the new holder's lock")
	}
}

func TestOrderLocker_RedisDown(t *testing.T) {
	client, mr := newMiniredis(t)

	locker := NewOrderLocker(client)
	mr.Close()

	if _, ok, err := locker.TryLock(context.Background(), "01ORDER", time.Minute); err == nil || ok {
		t.Fatalf("expected error when redis is unavailable, got ok=%v err=%v", ok, err)
	}
}
