package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGuard_EnterExit(t *testing.T) {
	now := time.Unix(100, 0)
	g := NewGuard(WithClock(func() time.Time { return now }))

	inv, err := g.Enter(context.Background(), "startup")
	if err != nil {
		t.Fatal(err)
	}
	cur, ok := g.Current()
	if !ok || cur.Method != "startup" {
		t.Errorf("Current() = %+v, %v", cur, ok)
	}

	now = now.Add(250 * time.Millisecond)
	d, err := g.Exit(inv)
	if err != nil {
		t.Fatal(err)
	}
	if d != 250*time.Millisecond {
		t.Errorf("Exit duration = %v, want 250ms", d)
	}
	if _, ok := g.Current(); ok {
		t.Error("Current() should be empty after Exit")
	}
	if inv.Context().Err() == nil {
		t.Error("invocation context should be cancelled after Exit")
	}
}

func TestGuard_ExitUnknownToken(t *testing.T) {
	g := NewGuard()
	inv, _ := g.Enter(context.Background(), "a")
	g.Exit(inv)

	if _, err := g.Exit(inv); !errors.Is(err, ErrUnknownInvocation) {
		t.Errorf("second Exit error = %v", err)
	}
	if _, err := g.Exit(nil); !errors.Is(err, ErrUnknownInvocation) {
		t.Errorf("Exit(nil) error = %v", err)
	}
}

func TestGuard_BlockingPolicyWaits(t *testing.T) {
	g := NewGuard()
	first, _ := g.Enter(context.Background(), "startup")

	entered := make(chan *Invocation)
	go func() {
		inv, err := g.Enter(context.Background(), "shutdown")
		if err != nil {
			t.Error(err)
		}
		entered <- inv
	}()

	select {
	case <-entered:
		t.Fatal("second Enter should block while the first is outstanding")
	case <-time.After(50 * time.Millisecond):
	}

	g.Exit(first)
	select {
	case second := <-entered:
		if second.Method() != "shutdown" {
			t.Errorf("second method = %s", second.Method())
		}
		g.Exit(second)
	case <-time.After(time.Second):
		t.Fatal("second Enter did not proceed after Exit")
	}
}

func TestGuard_BlockingHonoursContext(t *testing.T) {
	g := NewGuard()
	g.Enter(context.Background(), "startup")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := g.Enter(ctx, "shutdown"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Enter error = %v, want deadline exceeded", err)
	}
}

func TestGuard_FailFastPolicyRejects(t *testing.T) {
	g := NewGuard(WithPolicy(PolicyFailFast))
	first, _ := g.Enter(context.Background(), "startup")

	if _, err := g.Enter(context.Background(), "activate"); !errors.Is(err, ErrInvocationInFlight) {
		t.Errorf("Enter error = %v, want ErrInvocationInFlight", err)
	}
	g.Exit(first)
	inv, err := g.Enter(context.Background(), "activate")
	if err != nil {
		t.Fatalf("Enter after Exit error = %v", err)
	}
	g.Exit(inv)
}

func TestGuard_NeverRunsTwoBodies(t *testing.T) {
	g := NewGuard()
	var inside, overlaps int32

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Run(context.Background(), "work", func(ctx context.Context) error {
				if atomic.AddInt32(&inside, 1) > 1 {
					atomic.AddInt32(&overlaps, 1)
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		}()
	}
	wg.Wait()

	if overlaps != 0 {
		t.Errorf("%d overlapping bodies", overlaps)
	}
}

func TestGuard_RunConvertsPanicAndError(t *testing.T) {
	g := NewGuard()

	res := g.Run(context.Background(), "startup", func(ctx context.Context) error {
		panic("kaboom")
	})
	if !res.Failed() || !errors.Is(res.Err(), ErrPanic) {
		t.Errorf("panic result = %v, err %v", res, res.Err())
	}

	boom := errors.New("boom")
	res = g.Run(context.Background(), "startup", func(ctx context.Context) error { return boom })
	if !res.Failed() || !errors.Is(res.Err(), boom) || res.Reason() != "startup: boom" {
		t.Errorf("error result = %v", res)
	}

	if res := g.Run(context.Background(), "startup", func(ctx context.Context) error { return nil }); res.Failed() {
		t.Errorf("ok result = %v", res)
	}
	if _, busy := g.Current(); busy {
		t.Error("guard should be free after Run")
	}
}

func TestGuard_CancelCurrent(t *testing.T) {
	g := NewGuard()
	if g.CancelCurrent() {
		t.Error("CancelCurrent with nothing in flight should report false")
	}

	started := make(chan struct{})
	done := make(chan Result)
	go func() {
		done <- g.Run(context.Background(), "shutdown", func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		})
	}()

	<-started
	if !g.CancelCurrent() {
		t.Fatal("CancelCurrent should report true")
	}
	select {
	case res := <-done:
		if !errors.Is(res.Err(), context.Canceled) {
			t.Errorf("result = %v", res)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled call did not return")
	}
}
