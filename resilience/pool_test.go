package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeConn struct {
	id     int
	closed bool
}

func newFakePool(t *testing.T, size int, timeout time.Duration) (*Pool[*fakeConn], *atomic.Int32) {
	t.Helper()

	var created atomic.Int32
	pool, err := NewPool(PoolConfig[*fakeConn]{
		Size:           size,
		AcquireTimeout: timeout,
		Factory: func(ctx context.Context) (*fakeConn, error) {
			return &fakeConn{id: int(created.Add(1))}, nil
		},
		Destructor: func(c *fakeConn) error {
			c.closed = true
			return nil
		},
	})
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	return pool, &created
}

func TestNewPool_RequiresFactory(t *testing.T) {
	_, err := NewPool(PoolConfig[*fakeConn]{})
	if err == nil {
		t.Error("NewPool() without factory = nil error, want error")
	}
}

func TestPool_LazyCreation(t *testing.T) {
	pool, created := newFakePool(t, 4, time.Second)

	if got := created.Load(); got != 0 {
		t.Errorf("Handles created before first acquire = %d, want 0", got)
	}

	h, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if got := created.Load(); got != 1 {
		t.Errorf("Handles created after one acquire = %d, want 1", got)
	}

	// Released handle is reused, not recreated.
	pool.Release(h)
	h2, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if got := created.Load(); got != 1 {
		t.Errorf("Handles created after reuse = %d, want 1", got)
	}
	pool.Release(h2)
}

func TestPool_CapacityInvariant(t *testing.T) {
	pool, _ := newFakePool(t, 3, 20*time.Millisecond)

	var handles []*fakeConn
	for i := 0; i < 3; i++ {
		h, err := pool.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire %d error = %v", i, err)
		}
		handles = append(handles, h)
	}

	stats := pool.Stats()
	if stats.InUse > stats.Size {
		t.Errorf("InUse = %d exceeds Size = %d", stats.InUse, stats.Size)
	}
	if stats.Available+stats.InUse != stats.Created {
		t.Errorf("Available(%d)+InUse(%d) != Created(%d)", stats.Available, stats.InUse, stats.Created)
	}

	// Fourth acquire must time out.
	_, err := pool.Acquire(context.Background())
	if err != ErrPoolExhausted {
		t.Errorf("Acquire at capacity = %v, want ErrPoolExhausted", err)
	}

	for _, h := range handles {
		pool.Release(h)
	}
	stats = pool.Stats()
	if stats.Available+stats.InUse != stats.Created || stats.Created > stats.Size {
		t.Errorf("Stats after release = %+v, accounting broken", stats)
	}
}

func TestPool_DirectHandoff(t *testing.T) {
	pool, created := newFakePool(t, 1, time.Second)

	h, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	got := make(chan *fakeConn, 1)
	go func() {
		h2, err := pool.Acquire(context.Background())
		if err != nil {
			t.Errorf("Queued Acquire() error = %v", err)
		}
		got <- h2
	}()

	// Wait until the second acquirer is queued.
	deadline := time.Now().Add(time.Second)
	for pool.Stats().Waiting == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Second acquirer never queued")
		}
		time.Sleep(time.Millisecond)
	}

	pool.Release(h)
	h2 := <-got

	if h2 != h {
		t.Error("Released handle was not handed to the waiter")
	}
	if created.Load() != 1 {
		t.Errorf("Created = %d, want 1", created.Load())
	}
	pool.Release(h2)
}

func TestPool_WaiterFIFO(t *testing.T) {
	pool, _ := newFakePool(t, 1, time.Second)

	h, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	// Register three claims in order.
	var readies []<-chan AcquireResult[*fakeConn]
	for i := 0; i < 3; i++ {
		ready, _ := pool.AcquireAsync(context.Background())
		readies = append(readies, ready)
	}
	if w := pool.Stats().Waiting; w != 3 {
		t.Fatalf("Waiting = %d, want 3", w)
	}

	// Release once; only the first claim should be satisfied.
	pool.Release(h)
	res := <-readies[0]
	if res.Err != nil {
		t.Fatalf("First waiter error = %v", res.Err)
	}
	select {
	case <-readies[1]:
		t.Error("Second waiter satisfied before first release")
	default:
	}

	pool.Release(res.Handle)
	res2 := <-readies[1]
	if res2.Err != nil {
		t.Fatalf("Second waiter error = %v", res2.Err)
	}
	pool.Release(res2.Handle)
	res3 := <-readies[2]
	if res3.Err != nil {
		t.Fatalf("Third waiter error = %v", res3.Err)
	}
	pool.Release(res3.Handle)
}

func TestPool_AcquireContextCancelled(t *testing.T) {
	pool, _ := newFakePool(t, 1, time.Hour)

	h, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = pool.Acquire(ctx)
	if err != context.DeadlineExceeded {
		t.Errorf("Acquire() with cancelled ctx = %v, want DeadlineExceeded", err)
	}

	// The abandoned claim must not leak a waiter slot.
	if w := pool.Stats().Waiting; w != 0 {
		t.Errorf("Waiting after cancellation = %d, want 0", w)
	}
	pool.Release(h)
}

func TestPool_Destroy(t *testing.T) {
	pool, _ := newFakePool(t, 1, time.Hour)

	h, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	// Queue a waiter, then destroy: the waiter must be rejected.
	ready, _ := pool.AcquireAsync(context.Background())

	if err := pool.Destroy(); err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}

	res := <-ready
	if res.Err != ErrPoolClosed {
		t.Errorf("Waiter after Destroy = %v, want ErrPoolClosed", res.Err)
	}

	// In-use handle is destroyed on release.
	pool.Release(h)
	if !h.closed {
		t.Error("In-use handle not destroyed on release after Destroy")
	}

	// Acquire on a destroyed pool fails.
	_, err = pool.Acquire(context.Background())
	if err != ErrPoolClosed {
		t.Errorf("Acquire() after Destroy = %v, want ErrPoolClosed", err)
	}
}

func TestPool_FactoryError(t *testing.T) {
	factoryErr := errors.New("dial failed")
	pool, err := NewPool(PoolConfig[*fakeConn]{
		Size: 2,
		Factory: func(ctx context.Context) (*fakeConn, error) {
			return nil, factoryErr
		},
	})
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}

	_, err = pool.Acquire(context.Background())
	if err != factoryErr {
		t.Errorf("Acquire() = %v, want factory error", err)
	}

	// Failed creation must not consume capacity.
	stats := pool.Stats()
	if stats.Created != 0 || stats.InUse != 0 {
		t.Errorf("Stats after factory error = %+v, want zeroed", stats)
	}
}

func TestPool_ConcurrentAcquireRelease(t *testing.T) {
	pool, _ := newFakePool(t, 4, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := pool.Acquire(context.Background())
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			time.Sleep(time.Millisecond)
			pool.Release(h)
		}()
	}
	wg.Wait()

	stats := pool.Stats()
	if stats.InUse != 0 {
		t.Errorf("InUse after drain = %d, want 0", stats.InUse)
	}
	if stats.Created > stats.Size {
		t.Errorf("Created = %d exceeds Size = %d", stats.Created, stats.Size)
	}
	if stats.Available != stats.Created {
		t.Errorf("Available = %d, want %d", stats.Available, stats.Created)
	}
}
