package modbusnet

import (
	"context"
	"runtime"

	"github.com/rs/zerolog"
)

// serialWorker goroutine locked to one OS thread. Every call touching a serial
// port runs here, so the native driver never sees more than one thread.
type serialWorker struct {
	jobs chan func()
	quit chan struct{}
	done chan struct{}
}

func newSerialWorker() *serialWorker {
	w := &serialWorker{
		jobs: make(chan func()),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *serialWorker) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(w.done)
	for {
		select {
		case job := <-w.jobs:
			job()
		case <-w.quit:
			return
		}
	}
}

// do run fn on the worker and wait for it. A panic in fn is raised again in the
// caller.
func (w *serialWorker) do(fn func()) error {
	finished := make(chan any, 1)
	job := func() {
		defer func() {
			finished <- recover()
		}()
		fn()
	}
	select {
	case w.jobs <- job:
	case <-w.done:
		return ErrPoolClosed
	}
	if p := <-finished; p != nil {
		panic(p)
	}
	return nil
}

func (w *serialWorker) stop() {
	select {
	case <-w.quit:
	default:
		close(w.quit)
	}
	<-w.done
}

// pinnedController runs every call of a controller on a serialWorker
type pinnedController struct {
	ctrl   Controller
	worker *serialWorker
}

func (c *pinnedController) Open(ctx context.Context) (err error) {
	if werr := c.worker.do(func() { err = c.ctrl.Open(ctx) }); werr != nil {
		return werr
	}
	return err
}

func (c *pinnedController) Close() (err error) {
	if werr := c.worker.do(func() { err = c.ctrl.Close() }); werr != nil {
		return werr
	}
	return err
}

func (c *pinnedController) IsOpen() (open bool) {
	if c.worker.do(func() { open = c.ctrl.IsOpen() }) != nil {
		return false
	}
	return open
}

func (c *pinnedController) ReadBits(ctx context.Context, unitID uint8, fn Function, address, count uint16) (values []bool, err error) {
	if werr := c.worker.do(func() { values, err = c.ctrl.ReadBits(ctx, unitID, fn, address, count) }); werr != nil {
		return nil, werr
	}
	return values, err
}

func (c *pinnedController) ReadRegisters(ctx context.Context, unitID uint8, fn Function, address, count uint16) (values []uint16, err error) {
	if werr := c.worker.do(func() { values, err = c.ctrl.ReadRegisters(ctx, unitID, fn, address, count) }); werr != nil {
		return nil, werr
	}
	return values, err
}

func (c *pinnedController) WriteBits(ctx context.Context, unitID uint8, fn Function, address uint16, values []bool) (err error) {
	if werr := c.worker.do(func() { err = c.ctrl.WriteBits(ctx, unitID, fn, address, values) }); werr != nil {
		return werr
	}
	return err
}

func (c *pinnedController) WriteRegisters(ctx context.Context, unitID uint8, fn Function, address uint16, values []uint16) (err error) {
	if werr := c.worker.do(func() { err = c.ctrl.WriteRegisters(ctx, unitID, fn, address, values) }); werr != nil {
		return werr
	}
	return err
}

// rtuPool the one serial port controller of a serial network, pinned to the
// network's worker. The port stays open between actions and is reopened after
// a transport failure closed it.
type rtuPool struct {
	cfg    networkConfig
	logger zerolog.Logger
	worker *serialWorker
	ctrl   Controller
	closed bool
}

func newRTUPool(cfg networkConfig, logger zerolog.Logger) *rtuPool {
	return &rtuPool{cfg: cfg, logger: logger, worker: newSerialWorker()}
}

func (p *rtuPool) Get(ctx context.Context) (Controller, error) {
	if p.closed {
		return nil, ErrPoolClosed
	}
	if p.ctrl == nil {
		ctrl, err := newController(p.cfg)
		if err != nil {
			return nil, err
		}
		p.ctrl = &pinnedController{ctrl: ctrl, worker: p.worker}
	}
	if !p.ctrl.IsOpen() {
		if err := p.ctrl.Open(ctx); err != nil {
			return nil, err
		}
		p.logger.Info().Str("device", p.cfg.Device).Int("baud", p.cfg.BaudRate).Msg("serial port opened")
	}
	return p.ctrl, nil
}

func (p *rtuPool) Put(ctrl Controller) error {
	if p.closed {
		return ctrl.Close()
	}
	return nil
}

// Close close the port and stop the worker
func (p *rtuPool) Close() error {
	if p.closed {
		return ErrPoolClosed
	}
	p.closed = true
	var err error
	if p.ctrl != nil {
		err = p.ctrl.Close()
		p.ctrl = nil
	}
	p.worker.stop()
	return err
}
