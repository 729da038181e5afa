package modbusnet

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// tcpPool single slot holding the persistent controller of a TCP network.
//
// With KeepOpen > 0 the open controller is handed to every caller until it has
// been idle longer than KeepOpen, then it is closed and reopened. A background
// timer closes an idle controller once KeepOpen elapses. With KeepOpen <= 0
// the controller is opened on Get and closed on Put.
type tcpPool struct {
	cfg    networkConfig
	lock   *linkLock
	logger zerolog.Logger

	ctrl    Controller
	lastUse time.Time
	expiry  *time.Timer
	closed  atomic.Bool
}

func newTCPPool(cfg networkConfig, lock *linkLock, logger zerolog.Logger) *tcpPool {
	p := &tcpPool{cfg: cfg, lock: lock, logger: logger}
	p.expiry = time.AfterFunc(time.Hour, p.expire)
	p.expiry.Stop()
	return p
}

// Get get the controller, opening it when needed
func (p *tcpPool) Get(ctx context.Context) (Controller, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	if p.ctrl == nil {
		ctrl, err := newController(p.cfg)
		if err != nil {
			return nil, err
		}
		p.ctrl = ctrl
	}
	if p.ctrl.IsOpen() {
		idle := time.Since(p.lastUse)
		if p.cfg.KeepOpen > 0 && idle <= p.cfg.KeepOpen {
			p.logger.Debug().Dur("idle", idle).Msg("reusing cached connection")
			return p.ctrl, nil
		}
		// stale: idle too long, or left open without keep-open
		p.logger.Debug().Dur("idle", idle).Msg("cached connection expired")
		if err := p.ctrl.Close(); err != nil {
			p.logger.Debug().Err(err).Msg("close expired connection")
		}
	}
	if err := p.ctrl.Open(ctx); err != nil {
		return nil, err
	}
	if p.cfg.KeepOpen > 0 {
		p.logger.Info().Dur("keepOpen", p.cfg.KeepOpen).Msg("opened cached connection")
	} else {
		p.logger.Debug().Msg("opened connection")
	}
	return p.ctrl, nil
}

// Put put the controller back, closing it unless it is kept open
func (p *tcpPool) Put(ctrl Controller) error {
	p.lastUse = time.Now()
	if p.closed.Load() || p.cfg.KeepOpen <= 0 || !ctrl.IsOpen() {
		return ctrl.Close()
	}
	p.expiry.Reset(p.cfg.KeepOpen)
	return nil
}

// expire timer callback. Closing only happens when the lock is free right
// now; otherwise the check is postponed.
func (p *tcpPool) expire() {
	if p.closed.Load() {
		return
	}
	if !p.lock.tryAcquire() {
		p.expiry.Reset(p.cfg.KeepOpen)
		return
	}
	defer p.lock.release()
	if p.ctrl == nil || !p.ctrl.IsOpen() {
		return
	}
	idle := time.Since(p.lastUse)
	if idle < p.cfg.KeepOpen {
		p.expiry.Reset(p.cfg.KeepOpen - idle)
		return
	}
	p.logger.Debug().Dur("idle", idle).Msg("closing idle cached connection")
	if err := p.ctrl.Close(); err != nil {
		p.logger.Debug().Err(err).Msg("close idle connection")
	}
}

// Close close the pool and its controller
func (p *tcpPool) Close() error {
	if p.closed.Swap(true) {
		return ErrPoolClosed
	}
	p.expiry.Stop()
	if p.ctrl == nil {
		return nil
	}
	err := p.ctrl.Close()
	p.ctrl = nil
	return err
}
