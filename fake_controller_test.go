package modbusnet

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type span struct {
	start, end time.Time
}

// fakeController in-memory Controller recording opens, closes and the timing
// of every exchange
type fakeController struct {
	mu       sync.Mutex
	open     bool
	opens    int
	closes   int
	calls    int
	spans    []span
	holding  map[uint16]uint16
	input    map[uint16]uint16
	coils    map[uint16]bool
	delay    time.Duration
	failWith error

	active  atomic.Int32
	overlap atomic.Bool
}

func newFakeController() *fakeController {
	return &fakeController{
		holding: map[uint16]uint16{},
		input:   map[uint16]uint16{},
		coils:   map[uint16]bool{},
	}
}

func (f *fakeController) factory() ControllerFactory {
	return func() (Controller, error) {
		return f, nil
	}
}

func (f *fakeController) Open(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		f.open = true
		f.opens++
	}
	return nil
}

func (f *fakeController) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.open {
		f.open = false
		f.closes++
	}
	return nil
}

func (f *fakeController) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeController) stats() (opens, closes, calls int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens, f.closes, f.calls
}

func (f *fakeController) exchangeSpans() []span {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]span(nil), f.spans...)
}

// exchange run one simulated exchange, flagging any overlap with another
func (f *fakeController) exchange(fn func() error) error {
	if f.active.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.active.Add(-1)
	start := time.Now()
	f.mu.Lock()
	delay, failWith := f.delay, f.failWith
	f.calls++
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spans = append(f.spans, span{start: start, end: time.Now()})
	if !f.open {
		return ErrConnectionClosed
	}
	if failWith != nil {
		return failWith
	}
	return fn()
}

func (f *fakeController) ReadBits(ctx context.Context, unitID uint8, fn Function, address, count uint16) ([]bool, error) {
	var values []bool
	err := f.exchange(func() error {
		values = make([]bool, count)
		for i := range values {
			values[i] = f.coils[address+uint16(i)]
		}
		return nil
	})
	return values, err
}

func (f *fakeController) ReadRegisters(ctx context.Context, unitID uint8, fn Function, address, count uint16) ([]uint16, error) {
	var words []uint16
	err := f.exchange(func() error {
		table := f.holding
		if fn == ReadInputRegister {
			table = f.input
		}
		words = make([]uint16, count)
		for i := range words {
			words[i] = table[address+uint16(i)]
		}
		return nil
	})
	return words, err
}

func (f *fakeController) WriteBits(ctx context.Context, unitID uint8, fn Function, address uint16, values []bool) error {
	return f.exchange(func() error {
		for i, v := range values {
			f.coils[address+uint16(i)] = v
		}
		return nil
	})
}

func (f *fakeController) WriteRegisters(ctx context.Context, unitID uint8, fn Function, address uint16, values []uint16) error {
	return f.exchange(func() error {
		for i, v := range values {
			f.holding[address+uint16(i)] = v
		}
		return nil
	})
}
