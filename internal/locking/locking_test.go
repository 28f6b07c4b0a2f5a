package locking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLocalSerializesSameKey(t *testing.T) {
	l := NewLocal()
	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "asset:1", time.Second)
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Errorf("max holders = %d, want 1", maxSeen)
	}
}

func TestLocalHonorsContext(t *testing.T) {
	l := NewLocal()
	unlock, _ := l.Lock(context.Background(), "office:Treasury", time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "office:Treasury", time.Second); !errors.Is(err, ErrNotObtained) {
		t.Fatalf("Lock = %v, want ErrNotObtained", err)
	}

	unlock()
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	again, err := l.Lock(ctx2, "office:Treasury", time.Second)
	if err != nil {
		t.Fatalf("Lock after release: %v", err)
	}
	again()
}

func TestLockAllDedupesAndReleases(t *testing.T) {
	l := NewLocal()
	unlock, err := LockAll(context.Background(), l, []string{"office:B", "office:A", "office:B"}, time.Second)
	if err != nil {
		t.Fatalf("LockAll: %v", err)
	}
	unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for _, k := range []string{"office:A", "office:B"} {
		u, err := l.Lock(ctx, k, time.Second)
		if err != nil {
			t.Fatalf("%s still held: %v", k, err)
		}
		u()
	}
}
