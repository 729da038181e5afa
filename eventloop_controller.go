package modbusnet

import (
	"bytes"
	"context"
	"io"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var errLoopStopped = errors.New("modbus event loop stopped")

// exchange one request handed to the event loop
type exchange struct {
	unitID  uint8
	pdu     []byte
	noReply bool
	reply   chan exchangeResult
}

type exchangeResult struct {
	pdu []byte
	err error
}

// eventLoop goroutine owning the transport. Requests arrive on a channel and are
// served one at a time; an I/O failure stops the loop and closes the transport.
type eventLoop struct {
	requests chan *exchange
	quit     chan struct{}
	stopped  chan struct{}
}

// eventLoopController native engine: PDUs are framed here (MBAP, RTU or RTU over
// TCP) and exchanged by an event loop goroutine.
type eventLoopController struct {
	cfg    networkConfig
	logger zerolog.Logger
	framer framer
	loop   *eventLoop
	// connect opens the transport; it runs on the loop goroutine
	connect func(ctx context.Context) (io.ReadWriteCloser, error)
}

func newEventLoopController(cfg networkConfig, logger zerolog.Logger) *eventLoopController {
	c := &eventLoopController{cfg: cfg, logger: logger, framer: tcpFramer{}}
	if cfg.linkType == LinkSerial || cfg.headless {
		c.framer = rtuFramer{}
	}
	c.connect = func(ctx context.Context) (io.ReadWriteCloser, error) {
		if cfg.linkType == LinkSerial {
			return openSerial(cfg)
		}
		return dialTCP(ctx, cfg)
	}
	return c
}

// Open start the loop and wait until it has opened the transport
func (c *eventLoopController) Open(ctx context.Context) error {
	if c.IsOpen() {
		return nil
	}
	loop := &eventLoop{
		requests: make(chan *exchange),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	ready := make(chan error, 1)
	go c.run(ctx, loop, ready)
	if err := <-ready; err != nil {
		return err
	}
	c.loop = loop
	return nil
}

func (c *eventLoopController) Close() error {
	if c.loop == nil {
		return nil
	}
	close(c.loop.quit)
	<-c.loop.stopped
	c.loop = nil
	return nil
}

func (c *eventLoopController) IsOpen() bool {
	if c.loop == nil {
		return false
	}
	select {
	case <-c.loop.stopped:
		return false
	default:
		return true
	}
}

func (c *eventLoopController) run(ctx context.Context, loop *eventLoop, ready chan<- error) {
	if c.cfg.linkType == LinkSerial {
		// one thread opens, uses and closes the port
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}
	defer close(loop.stopped)
	rw, err := c.connect(ctx)
	ready <- err
	if err != nil {
		return
	}
	defer func() {
		if err := rw.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("close transport")
		}
	}()
	var txID uint16
	for {
		select {
		case <-loop.quit:
			return
		case ex := <-loop.requests:
			txID++
			pdu, err := c.roundTrip(rw, txID, ex)
			ex.reply <- exchangeResult{pdu: pdu, err: err}
			if err != nil {
				c.logger.Debug().Err(err).Msg("event loop stopped after I/O failure")
				return
			}
		}
	}
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

func (c *eventLoopController) roundTrip(rw io.ReadWriter, txID uint16, ex *exchange) ([]byte, error) {
	adu := c.framer.encode(txID, ex.unitID, ex.pdu)
	if d, ok := rw.(deadliner); ok && c.cfg.replyTimeout > 0 {
		if err := d.SetDeadline(time.Now().Add(c.cfg.replyTimeout)); err != nil {
			return nil, errors.Wrap(err, "set deadline")
		}
	}
	if c.cfg.wireLogging {
		c.logger.Debug().Uint16("tx", txID).Hex("adu", adu).Msg("send")
	}
	if _, err := rw.Write(adu); err != nil {
		return nil, errors.Wrap(err, "write request")
	}
	if ex.noReply {
		return nil, nil
	}
	var r io.Reader = rw
	var wire bytes.Buffer
	if c.cfg.wireLogging {
		r = io.TeeReader(rw, &wire)
	}
	pdu, err := c.framer.decode(r, txID, ex.unitID)
	if c.cfg.wireLogging {
		c.logger.Debug().Uint16("tx", txID).Hex("adu", wire.Bytes()).Msg("recv")
	}
	return pdu, err
}

// submit hand pdu to the loop and wait for its response
func (c *eventLoopController) submit(ctx context.Context, unitID uint8, pdu []byte) ([]byte, error) {
	if c.loop == nil {
		return nil, ErrConnectionClosed
	}
	ex := &exchange{
		unitID: unitID,
		pdu:    pdu,
		// broadcast requests on a serial line are never answered
		noReply: unitID == UnitBroadcast && c.cfg.linkType == LinkSerial,
		reply:   make(chan exchangeResult, 1),
	}
	select {
	case c.loop.requests <- ex:
	case <-c.loop.stopped:
		return nil, errLoopStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	res := <-ex.reply
	return res.pdu, res.err
}

func (c *eventLoopController) ReadBits(ctx context.Context, unitID uint8, fn Function, address, count uint16) ([]bool, error) {
	if fn != ReadCoil && fn != ReadDiscreteInput {
		return nil, errUnsupported("ReadBits", fn)
	}
	resp, err := c.submit(ctx, unitID, readRequestPDU(fn, address, count))
	if err != nil {
		return nil, err
	}
	return parseReadBits(fn, resp, int(count))
}

func (c *eventLoopController) ReadRegisters(ctx context.Context, unitID uint8, fn Function, address, count uint16) ([]uint16, error) {
	if fn != ReadHoldingRegister && fn != ReadInputRegister {
		return nil, errUnsupported("ReadRegisters", fn)
	}
	resp, err := c.submit(ctx, unitID, readRequestPDU(fn, address, count))
	if err != nil {
		return nil, err
	}
	return parseReadRegisters(fn, resp, int(count))
}

func (c *eventLoopController) write(ctx context.Context, unitID uint8, fn Function, req []byte) error {
	resp, err := c.submit(ctx, unitID, req)
	if err != nil {
		return err
	}
	if resp == nil && unitID == UnitBroadcast {
		return nil
	}
	return checkWriteResponse(fn, req, resp)
}

func (c *eventLoopController) WriteBits(ctx context.Context, unitID uint8, fn Function, address uint16, values []bool) error {
	if fn != WriteCoil && fn != WriteMultipleCoils {
		return errUnsupported("WriteBits", fn)
	}
	return c.write(ctx, unitID, fn, writeBitsPDU(fn, address, values))
}

func (c *eventLoopController) WriteRegisters(ctx context.Context, unitID uint8, fn Function, address uint16, values []uint16) error {
	if fn != WriteHoldingRegister && fn != WriteMultipleHoldingRegisters {
		return errUnsupported("WriteRegisters", fn)
	}
	return c.write(ctx, unitID, fn, writeRegistersPDU(fn, address, values))
}
