package modbusnet

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func newFakeNetwork(fake *fakeController, opts ...NetworkOption) *TCPNetwork {
	opts = append([]NetworkOption{WithControllerFactory(fake.factory())}, opts...)
	return NewTCPNetwork("fake", 502, opts...)
}

func readOne(ctx context.Context, conn Connection) error {
	_, err := conn.ReadWords(ctx, ReadHoldingRegister, 0, 1)
	return err
}

// holdLock run an action that keeps the link locked until the returned func
// is called
func holdLock(t *testing.T, n Network) (release func(), done <-chan error) {
	t.Helper()
	started := make(chan struct{})
	unblock := make(chan struct{})
	result := make(chan error, 1)
	go func() {
		result <- n.PerformAction(context.Background(), 1, func(ctx context.Context, conn Connection) error {
			close(started)
			<-unblock
			return nil
		})
	}()
	select {
	case <-started:
	case err := <-result:
		t.Fatalf("holder failed: %v", err)
	}
	var once sync.Once
	release = func() { once.Do(func() { close(unblock) }) }
	t.Cleanup(release)
	return release, result
}

func TestPerformActionMutualExclusion(t *testing.T) {
	fake := newFakeController()
	fake.delay = 20 * time.Millisecond
	n := newFakeNetwork(fake)
	defer n.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- n.PerformAction(context.Background(), 1, func(ctx context.Context, conn Connection) error {
				if err := readOne(ctx, conn); err != nil {
					return err
				}
				return conn.WriteWords(ctx, WriteHoldingRegister, 0, []uint16{1})
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NilError(t, err)
	}

	assert.Assert(t, !fake.overlap.Load())
	spans := fake.exchangeSpans()
	assert.Equal(t, len(spans), 10)
	sort.Slice(spans, func(i, j int) bool { return spans[i].start.Before(spans[j].start) })
	for i := 1; i < len(spans); i++ {
		assert.Assert(t, !spans[i].start.Before(spans[i-1].end), "exchange %d overlaps its predecessor", i)
	}
}

func TestPerformActionFIFO(t *testing.T) {
	fake := newFakeController()
	n := newFakeNetwork(fake)
	defer n.Close()

	release, _ := holdLock(t, n)
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 1; i <= 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := n.PerformAction(context.Background(), 1, func(ctx context.Context, conn Connection) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
			assert.Check(t, err)
		}(i)
		// queue the waiters in a known order
		time.Sleep(20 * time.Millisecond)
	}
	release()
	wg.Wait()
	assert.DeepEqual(t, order, []int{1, 2, 3})
}

func TestLockTimeoutZero(t *testing.T) {
	fake := newFakeController()
	n := newFakeNetwork(fake, WithLockTimeout(0))
	defer n.Close()

	release, done := holdLock(t, n)
	ran := false
	err := n.PerformAction(context.Background(), 1, func(ctx context.Context, conn Connection) error {
		ran = true
		return nil
	})
	var lockErr *LockTimeoutError
	assert.Assert(t, errors.As(err, &lockErr))
	assert.Equal(t, lockErr.Link, "fake:502")
	assert.Equal(t, lockErr.Timeout, time.Duration(0))
	assert.ErrorContains(t, err, "could not acquire port fake:502 lock")
	assert.Assert(t, !ran)

	release()
	assert.NilError(t, <-done)
	assert.NilError(t, n.PerformAction(context.Background(), 1, readOneAction))
}

func readOneAction(ctx context.Context, conn Connection) error {
	return readOne(ctx, conn)
}

func TestLockTimeoutElapsed(t *testing.T) {
	fake := newFakeController()
	n := newFakeNetwork(fake, WithLockTimeout(50*time.Millisecond))
	defer n.Close()

	holdLock(t, n)
	start := time.Now()
	err := n.PerformAction(context.Background(), 1, readOneAction)
	var lockErr *LockTimeoutError
	assert.Assert(t, errors.As(err, &lockErr))
	assert.Assert(t, errors.Is(err, context.DeadlineExceeded))
	assert.Assert(t, time.Since(start) >= 50*time.Millisecond)
	_, _, calls := fake.stats()
	assert.Equal(t, calls, 0)
}

func TestLockWaitCancelled(t *testing.T) {
	fake := newFakeController()
	n := newFakeNetwork(fake, WithLockTimeout(time.Minute))
	defer n.Close()

	holdLock(t, n)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := n.PerformAction(ctx, 1, readOneAction)
	assert.Assert(t, errors.Is(err, context.DeadlineExceeded))
	assert.Assert(t, is.ErrorContains(err, "wait for link lock"))
	var lockErr *LockTimeoutError
	assert.Assert(t, !errors.As(err, &lockErr))
}

func TestPerformActionReentrant(t *testing.T) {
	fake := newFakeController()
	n := newFakeNetwork(fake, WithLockTimeout(0))
	defer n.Close()

	err := n.PerformAction(context.Background(), 1, func(ctx context.Context, outer Connection) error {
		if err := readOne(ctx, outer); err != nil {
			return err
		}
		err := n.PerformAction(ctx, 2, func(ctx context.Context, inner Connection) error {
			assert.Equal(t, inner.UnitID(), uint8(2))
			return inner.WriteWords(ctx, WriteHoldingRegister, 3, []uint16{7})
		})
		if err != nil {
			return err
		}
		conn := n.CreateConnection(3)
		if err := conn.Open(ctx); err != nil {
			return err
		}
		defer conn.Close()
		return readOne(ctx, conn)
	})
	assert.NilError(t, err)

	opens, _, calls := fake.stats()
	assert.Equal(t, opens, 1)
	assert.Equal(t, calls, 3)
	assert.Equal(t, fake.holding[3], uint16(7))

	// the outer session released the lock
	assert.NilError(t, n.PerformAction(context.Background(), 1, readOneAction))
}

func TestLockReleasedOnError(t *testing.T) {
	fake := newFakeController()
	n := newFakeNetwork(fake, WithLockTimeout(0))
	defer n.Close()

	errBoom := errors.New("boom")
	err := n.PerformAction(context.Background(), 1, func(ctx context.Context, conn Connection) error {
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.NilError(t, n.PerformAction(context.Background(), 1, readOneAction))

	func() {
		defer func() {
			assert.Equal(t, recover(), "action panic")
		}()
		n.PerformAction(context.Background(), 1, func(ctx context.Context, conn Connection) error {
			panic("action panic")
		})
	}()
	assert.NilError(t, n.PerformAction(context.Background(), 1, readOneAction))
}

func TestFactoryErrorReleasesLock(t *testing.T) {
	errBoom := errors.New("no device")
	n := NewTCPNetwork("fake", 502, WithLockTimeout(0), WithControllerFactory(func() (Controller, error) {
		return nil, errBoom
	}))
	defer n.Close()

	for i := 0; i < 2; i++ {
		err := n.PerformAction(context.Background(), 1, readOneAction)
		var commErr *CommunicationError
		assert.Assert(t, errors.As(err, &commErr))
		assert.Assert(t, errors.Is(err, errBoom))
	}
}

func TestKeepOpenCachesConnection(t *testing.T) {
	fake := newFakeController()
	n := newFakeNetwork(fake, WithKeepOpen(200*time.Millisecond))
	defer n.Close()

	ctx := context.Background()
	assert.NilError(t, n.PerformAction(ctx, 1, readOneAction))
	assert.NilError(t, n.PerformAction(ctx, 1, readOneAction))
	opens, closes, _ := fake.stats()
	assert.Equal(t, opens, 1)
	assert.Equal(t, closes, 0)

	time.Sleep(300 * time.Millisecond)
	// closed in the background once idle
	_, closes, _ = fake.stats()
	assert.Equal(t, closes, 1)

	assert.NilError(t, n.PerformAction(ctx, 1, readOneAction))
	opens, _, _ = fake.stats()
	assert.Equal(t, opens, 2)
}

func TestKeepOpenDisabled(t *testing.T) {
	fake := newFakeController()
	n := newFakeNetwork(fake, WithKeepOpen(0))
	defer n.Close()

	for i := 0; i < 3; i++ {
		assert.NilError(t, n.PerformAction(context.Background(), 1, readOneAction))
	}
	opens, closes, calls := fake.stats()
	assert.Equal(t, opens, 3)
	assert.Equal(t, closes, 3)
	assert.Equal(t, calls, 3)
}

func TestStartOpensController(t *testing.T) {
	fake := newFakeController()
	n := newFakeNetwork(fake)
	defer n.Close()

	assert.NilError(t, n.Start(context.Background()))
	assert.Assert(t, fake.IsOpen())
	assert.NilError(t, n.PerformAction(context.Background(), 1, readOneAction))
	opens, _, _ := fake.stats()
	assert.Equal(t, opens, 1)
}

func TestCreateConnectionHoldsLock(t *testing.T) {
	fake := newFakeController()
	n := newFakeNetwork(fake, WithLockTimeout(0))
	defer n.Close()

	ctx := context.Background()
	conn := n.CreateConnection(4)
	_, err := conn.ReadWords(ctx, ReadHoldingRegister, 0, 1)
	assert.ErrorIs(t, err, ErrConnectionClosed)

	assert.NilError(t, conn.Open(ctx))
	assert.NilError(t, conn.Open(ctx))
	assert.NilError(t, readOne(ctx, conn))

	err = n.PerformAction(ctx, 1, readOneAction)
	assert.Assert(t, is.ErrorType(err, &LockTimeoutError{}))

	assert.NilError(t, conn.Close())
	assert.NilError(t, conn.Close())
	assert.NilError(t, n.PerformAction(ctx, 1, readOneAction))
}

func TestSessionContextReenters(t *testing.T) {
	fake := newFakeController()
	n := newFakeNetwork(fake, WithLockTimeout(200*time.Millisecond))
	defer n.Close()

	ctx := context.Background()
	session := n.CreateConnection(1)
	assert.Equal(t, session.Context(), context.Background())
	assert.NilError(t, session.Open(ctx))

	// calls back into the network with the session context share its lock
	err := n.PerformAction(session.Context(), 2, func(ctx context.Context, conn Connection) error {
		return conn.WriteWords(ctx, WriteHoldingRegister, 8, []uint16{5})
	})
	assert.NilError(t, err)
	nested := n.CreateConnection(3)
	assert.NilError(t, nested.Open(session.Context()))
	assert.NilError(t, readOne(nested.Context(), nested))
	assert.NilError(t, nested.Close())
	assert.NilError(t, readOne(ctx, session))

	err = n.PerformAction(ctx, 1, readOneAction)
	assert.Assert(t, is.ErrorType(err, &LockTimeoutError{}))

	assert.NilError(t, session.Close())
	assert.Equal(t, session.Context(), context.Background())
	assert.NilError(t, n.PerformAction(ctx, 1, readOneAction))
	opens, _, calls := fake.stats()
	assert.Equal(t, opens, 1)
	assert.Equal(t, calls, 4)
	assert.Equal(t, fake.holding[8], uint16(5))
}

func TestNetworkClose(t *testing.T) {
	fake := newFakeController()
	n := newFakeNetwork(fake)

	assert.NilError(t, n.PerformAction(context.Background(), 1, readOneAction))
	assert.NilError(t, n.Close())
	assert.Assert(t, !fake.IsOpen())
	assert.ErrorIs(t, n.Close(), ErrNetworkClosed)

	err := n.PerformAction(context.Background(), 1, readOneAction)
	assert.ErrorIs(t, err, ErrNetworkClosed)
	assert.ErrorIs(t, n.Start(context.Background()), ErrNetworkClosed)
	assert.ErrorIs(t, n.Reconfigure(context.Background()), ErrNetworkClosed)
	assert.ErrorIs(t, n.CreateConnection(1).Open(context.Background()), ErrNetworkClosed)
}

func TestNetworkCloseWaitsForAction(t *testing.T) {
	fake := newFakeController()
	n := newFakeNetwork(fake)

	release, done := holdLock(t, n)
	closed := make(chan error, 1)
	go func() { closed <- n.Close() }()

	select {
	case <-closed:
		t.Fatal("Close returned while an action was running")
	case <-time.After(50 * time.Millisecond):
	}
	release()
	assert.NilError(t, <-done)
	assert.NilError(t, <-closed)
}

func TestReconfigure(t *testing.T) {
	first := newFakeController()
	n := newFakeNetwork(first)
	defer n.Close()

	ctx := context.Background()
	assert.NilError(t, n.PerformAction(ctx, 1, readOneAction))
	assert.Assert(t, first.IsOpen())

	second := newFakeController()
	second.holding[0] = 42
	assert.NilError(t, n.Reconfigure(ctx, WithControllerFactory(second.factory()), WithKeepOpen(0)))
	assert.Assert(t, !first.IsOpen())

	words, err := Perform(ctx, n, 1, func(ctx context.Context, conn Connection) ([]uint16, error) {
		return conn.ReadWords(ctx, ReadHoldingRegister, 0, 1)
	})
	assert.NilError(t, err)
	assert.DeepEqual(t, words, []uint16{42})
	opens, closes, _ := second.stats()
	assert.Equal(t, opens, 1)
	assert.Equal(t, closes, 1)
	assert.Equal(t, n.Description(), "fake:502")

	err = n.PerformAction(ctx, 1, func(ctx context.Context, conn Connection) error {
		return n.Reconfigure(ctx, WithKeepOpen(time.Second))
	})
	assert.ErrorContains(t, err, "cannot reconfigure")
}

func TestSerialNetwork(t *testing.T) {
	fake := newFakeController()
	fake.holding[5] = 0xBEEF
	n := NewSerialNetwork("/dev/ttyUSB0", WithControllerFactory(fake.factory()), WithBaudRate(19200))
	ctx := context.Background()

	assert.Equal(t, n.Description(), "/dev/ttyUSB0")
	assert.Equal(t, n.String(), "serial modbus network /dev/ttyUSB0")

	err := n.PerformAction(ctx, 248, readOneAction)
	var limitErr *ProtocolLimitError
	assert.Assert(t, errors.As(err, &limitErr))
	_, _, calls := fake.stats()
	assert.Equal(t, calls, 0)

	for i := 0; i < 2; i++ {
		words, err := Perform(ctx, n, UnitIndividualMax, func(ctx context.Context, conn Connection) ([]uint16, error) {
			return conn.ReadWords(ctx, ReadHoldingRegister, 5, 1)
		})
		assert.NilError(t, err)
		assert.DeepEqual(t, words, []uint16{0xBEEF})
	}
	// the port stays open between actions
	opens, closes, _ := fake.stats()
	assert.Equal(t, opens, 1)
	assert.Equal(t, closes, 0)

	assert.NilError(t, n.Close())
	_, closes, _ = fake.stats()
	assert.Equal(t, closes, 1)
}

func TestSerialWorkerPanics(t *testing.T) {
	w := newSerialWorker()
	defer w.stop()

	func() {
		defer func() {
			assert.Equal(t, recover(), "driver panic")
		}()
		w.do(func() { panic("driver panic") })
	}()

	ran := false
	assert.NilError(t, w.do(func() { ran = true }))
	assert.Assert(t, ran)

	w.stop()
	assert.ErrorIs(t, w.do(func() {}), ErrPoolClosed)
}

func TestNetworkDescription(t *testing.T) {
	n := NewTCPNetwork("10.0.0.1", 0)
	defer n.Close()
	assert.Equal(t, n.Description(), "10.0.0.1:502")
	assert.Equal(t, n.String(), "tcp modbus network 10.0.0.1:502")

	v6 := NewTCPNetwork("::1", 1502)
	defer v6.Close()
	assert.Equal(t, v6.Description(), "[::1]:1502")
}

func TestActionFailureLogged(t *testing.T) {
	var buf bytes.Buffer
	fake := newFakeController()
	n := newFakeNetwork(fake, WithLogger(zerolog.New(&buf)))
	defer n.Close()

	err := n.PerformAction(context.Background(), 9, func(ctx context.Context, conn Connection) error {
		return errors.New("bad reading")
	})
	assert.ErrorContains(t, err, "bad reading")
	assert.Assert(t, is.Contains(buf.String(), `"message":"modbus action failed"`))
	assert.Assert(t, is.Contains(buf.String(), `"network":"fake:502"`))
	assert.Assert(t, is.Contains(buf.String(), `"unit":9`))
}
