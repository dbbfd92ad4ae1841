package arbiter

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSimpleHoldersCoexist(t *testing.T) {
	a := New()
	ctx := context.Background()

	h1, err := a.Acquire(ctx, "7", Simple)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := a.Acquire(ctx, "7", Simple)
	if err != nil {
		t.Fatal(err)
	}
	if st := a.Status("7"); st.ActiveSimple != 2 || st.HostHeld {
		t.Fatalf("unexpected status: %+v", st)
	}
	h1.Release()
	h2.Release()
	if st := a.Status("7"); st.ActiveSimple != 0 {
		t.Fatalf("expected 0 active simple after release, got %+v", st)
	}
}

func TestHostExcludesSimple(t *testing.T) {
	a := New()
	ctx := context.Background()

	start := make(chan struct{})
	released := make(chan time.Time, 1)
	admitted := make(chan time.Time, 1)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		h, err := a.Acquire(ctx, "7", Host)
		if err != nil {
			t.Error(err)
			return
		}
		close(start)
		time.Sleep(200 * time.Millisecond)
		h.Release()
		released <- time.Now()
	}()

	go func() {
		defer wg.Done()
		<-start
		h, err := a.Acquire(ctx, "7", Simple)
		if err != nil {
			t.Error(err)
			return
		}
		admitted <- time.Now()
		h.Release()
	}()

	wg.Wait()
	rel := <-released
	adm := <-admitted
	if adm.Before(rel) {
		t.Fatalf("simple admitted at %v before host released at %v", adm, rel)
	}
}

func TestAcquireCancellation(t *testing.T) {
	a := New()
	ctx := context.Background()

	hostHandle, err := a.Acquire(ctx, "9", Host)
	if err != nil {
		t.Fatal(err)
	}
	defer hostHandle.Release()

	cctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := a.Acquire(cctx, "9", Simple); err == nil {
		t.Fatal("expected cancellation error while host is held")
	}
}

func TestStatusIndependentPerGame(t *testing.T) {
	a := New()
	ctx := context.Background()
	h, err := a.Acquire(ctx, "1", Host)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release()

	if a.IsHostHeld("2") {
		t.Fatal("game 2 should not be affected by game 1's lock")
	}
	if !a.IsHostHeld("1") {
		t.Fatal("game 1 should be host-held")
	}
}
