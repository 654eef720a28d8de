package cron

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeLocker struct {
	held     map[string]string
	released []string
	err      error
}

func (f *fakeLocker) AcquireLock(_ context.Context, name string, _ time.Duration) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	if f.held == nil {
		f.held = map[string]string{}
	}
	if _, ok := f.held[name]; ok {
		return "", false, nil
	}
	token := "token-" + name
	f.held[name] = token
	return token, true, nil
}

func (f *fakeLocker) ReleaseLock(_ context.Context, name, token string) error {
	if f.held[name] == token {
		delete(f.held, name)
	}
	f.released = append(f.released, token)
	return nil
}

func TestRedisLockAcquireRelease(t *testing.T) {
	locker := &fakeLocker{}
	first, err := NewRedisLock(locker, "", 0)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	second, _ := NewRedisLock(locker, "", 0)
	ctx := context.Background()

	ok, err := first.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("expected first acquire, got %v %v", ok, err)
	}
	ok, err = second.Acquire(ctx)
	if err != nil || ok {
		t.Fatalf("expected second acquire to fail, got %v %v", ok, err)
	}
	if err := second.Release(ctx); err != nil {
		t.Fatalf("release without ownership: %v", err)
	}
	if len(locker.released) != 0 {
		t.Fatalf("non-owner must not release")
	}
	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, _ = second.Acquire(ctx)
	if !ok {
		t.Fatalf("expected lock free after release")
	}
}

func TestRedisLockWrapsErrors(t *testing.T) {
	lock, _ := NewRedisLock(&fakeLocker{err: errors.New("conn refused")}, "jobs", time.Minute)
	if _, err := lock.Acquire(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := NewRedisLock(nil, "jobs", time.Minute); err == nil {
		t.Fatalf("expected locker required")
	}
}
