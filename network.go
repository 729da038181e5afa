package modbusnet

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ActionFunc work done against a locked Connection. ctx carries the lock
// ownership: passing it to the same network again does not wait for the lock.
type ActionFunc func(ctx context.Context, conn Connection) error

// Network entry point to one physical link (a serial port or a TCP host:port).
// All access to the link is serialized by a fair lock.
type Network interface {
	// Description link description, host:port or the serial device path
	Description() string
	// PerformAction lock the link, open a Connection to unitID, run action and
	// release everything on every exit path
	PerformAction(ctx context.Context, unitID uint8, action ActionFunc) error
	// CreateConnection Connection whose Open locks the link and Close releases it
	CreateConnection(unitID uint8) Session
	// Start open the underlying controller ahead of the first action
	Start(ctx context.Context) error
	// Reconfigure stop the controller, apply opts and rebuild lazily
	Reconfigure(ctx context.Context, opts ...NetworkOption) error
	Close() error
}

// Perform PerformAction returning a value
func Perform[T any](ctx context.Context, n Network, unitID uint8, fn func(ctx context.Context, conn Connection) (T, error)) (T, error) {
	var result T
	err := n.PerformAction(ctx, unitID, func(ctx context.Context, conn Connection) error {
		var err error
		result, err = fn(ctx, conn)
		return err
	})
	return result, err
}

// Session Connection managing the link lock itself
type Session interface {
	Connection
	// Context the context owning the link lock between Open and Close. Calls
	// back into the network made with it do not wait for the lock. Before Open
	// and after Close it is context.Background().
	Context() context.Context
}

type sessionKey struct {
	n *network
}

// network base shared by the TCP and serial networks
type network struct {
	id      string
	lock    *linkLock
	newPool func(cfg networkConfig, lock *linkLock, logger zerolog.Logger) ConnPool

	// written with both lock and mu held
	mu     sync.RWMutex
	cfg    networkConfig
	pool   ConnPool
	logger zerolog.Logger
	closed bool
}

func newNetwork(cfg *networkConfig, newPool func(networkConfig, *linkLock, zerolog.Logger) ConnPool) *network {
	n := &network{
		id:      uuid.New().String(),
		lock:    newLinkLock(),
		newPool: newPool,
	}
	n.rebuild(*cfg)
	return n
}

// rebuild install cfg and a fresh pool
func (n *network) rebuild(cfg networkConfig) {
	n.cfg = cfg
	n.logger = cfg.logger.With().Str("network", cfg.description()).Str("id", n.id).Logger()
	n.pool = n.newPool(cfg, n.lock, n.logger)
}

func (n *network) snapshot() (networkConfig, ConnPool, zerolog.Logger, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.cfg, n.pool, n.logger, n.closed
}

func (n *network) Description() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.cfg.description()
}

func (n *network) String() string {
	cfg, _, _, _ := n.snapshot()
	return cfg.linkType.String() + " modbus network " + cfg.description()
}

// checkUnit reject unit ids a serial line cannot address
func (n *network) checkUnit(cfg networkConfig, unitID uint8) error {
	if cfg.linkType == LinkSerial && unitID > UnitIndividualMax {
		return &ProtocolLimitError{Address: int(unitID), Count: 1,
			Reason: "unit id must be between 0 and 247 on a serial line"}
	}
	return nil
}

// acquire take the link lock for ctx
func (n *network) acquire(ctx context.Context, cfg networkConfig) (context.Context, bool, error) {
	owned, reentered, err := n.lock.acquire(ctx, cfg.lockTimeout)
	if err == nil {
		return owned, reentered, nil
	}
	if ctx.Err() != nil {
		return nil, false, errors.Wrap(ctx.Err(), "wait for link lock")
	}
	return nil, false, &LockTimeoutError{Link: cfg.description(), Timeout: cfg.lockTimeout, Err: err}
}

func (n *network) CreateConnection(unitID uint8) Session {
	return &lockingConnection{
		connection: connection{unitID: unitID, link: n.Description()},
		net:        n,
	}
}

func (n *network) PerformAction(ctx context.Context, unitID uint8, action ActionFunc) (err error) {
	conn := &lockingConnection{connection: connection{unitID: unitID}, net: n}
	defer func() {
		if err != nil {
			conn.logger.Warn().Err(err).Uint8("unit", unitID).Msg("modbus action failed")
		}
	}()
	owned, err := conn.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			conn.logger.Debug().Err(cerr).Msg("release connection")
		}
	}()
	return action(owned, conn)
}

func (n *network) Start(ctx context.Context) error {
	cfg, _, logger, closed := n.snapshot()
	if closed {
		return ErrNetworkClosed
	}
	owned, reentered, err := n.acquire(ctx, cfg)
	if err != nil {
		return err
	}
	if !reentered {
		defer n.lock.release()
	}
	_, pool, _, closed := n.snapshot()
	if closed {
		return ErrNetworkClosed
	}
	ctrl, err := pool.Get(owned)
	if err != nil {
		return &CommunicationError{Link: cfg.description(), Err: err}
	}
	logger.Debug().Msg("network started")
	return pool.Put(ctrl)
}

func (n *network) Reconfigure(ctx context.Context, opts ...NetworkOption) error {
	cfg, _, _, closed := n.snapshot()
	if closed {
		return ErrNetworkClosed
	}
	_, reentered, err := n.acquire(ctx, cfg)
	if err != nil {
		return err
	}
	if reentered {
		return errors.New("cannot reconfigure a network from inside one of its actions")
	}
	defer n.lock.release()

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrNetworkClosed
	}
	if err := n.pool.Close(); err != nil && !errors.Is(err, ErrPoolClosed) {
		n.logger.Debug().Err(err).Msg("close pool for reconfiguration")
	}
	next := n.cfg
	for _, opt := range opts {
		opt(&next)
	}
	n.rebuild(next)
	n.logger.Debug().Str("engine", next.engine.String()).Msg("network reconfigured")
	return nil
}

// Close shut the network down after the running action, if any, finished
func (n *network) Close() error {
	if _, _, _, closed := n.snapshot(); closed {
		return ErrNetworkClosed
	}
	if _, _, err := n.lock.acquire(context.Background(), -1); err != nil {
		return err
	}
	defer n.lock.release()

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrNetworkClosed
	}
	n.closed = true
	n.logger.Debug().Msg("network closed")
	return n.pool.Close()
}

// lockingConnection Connection owning the link lock between Open and Close
type lockingConnection struct {
	connection
	net    *network
	pool   ConnPool
	owned  context.Context
	locked bool
	logger zerolog.Logger
}

func (c *lockingConnection) Context() context.Context {
	if c.owned == nil {
		return context.Background()
	}
	return c.owned
}

func (c *lockingConnection) Open(ctx context.Context) error {
	_, err := c.open(ctx)
	return err
}

// open lock the link and fetch the controller. Inside an action of the same
// network the action's controller is shared and nothing is acquired.
func (c *lockingConnection) open(ctx context.Context) (context.Context, error) {
	if c.ctrl != nil {
		return c.owned, nil
	}
	n := c.net
	cfg, _, logger, closed := n.snapshot()
	c.link, c.logger = cfg.description(), logger
	if closed {
		return nil, ErrNetworkClosed
	}
	if err := n.checkUnit(cfg, c.unitID); err != nil {
		return nil, err
	}
	owned, reentered, err := n.acquire(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if reentered {
		ctrl, ok := ctx.Value(sessionKey{n}).(Controller)
		if !ok {
			return nil, errors.New("link lock held without an open session")
		}
		c.ctrl, c.owned = ctrl, ctx
		return ctx, nil
	}
	logger.Debug().Uint8("unit", c.unitID).Msg("link lock acquired")

	_, pool, _, closed := n.snapshot()
	if closed {
		n.lock.release()
		return nil, ErrNetworkClosed
	}
	ctrl, err := pool.Get(owned)
	if err != nil {
		n.lock.release()
		return nil, &CommunicationError{Link: c.link, UnitID: c.unitID, Err: err}
	}
	c.ctrl, c.pool, c.locked = ctrl, pool, true
	c.owned = context.WithValue(owned, sessionKey{n}, ctrl)
	return c.owned, nil
}

// Close hand the controller back and release the lock. A reentrant session
// leaves both to the outer one.
func (c *lockingConnection) Close() error {
	if c.ctrl == nil {
		return nil
	}
	ctrl, locked := c.ctrl, c.locked
	c.ctrl, c.owned, c.locked = nil, nil, false
	if !locked {
		return nil
	}
	defer func() {
		c.net.lock.release()
		c.logger.Debug().Uint8("unit", c.unitID).Msg("link lock released")
	}()
	return c.pool.Put(ctrl)
}
