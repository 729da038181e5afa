package modbusnet

import (
	"context"
	"io"
	"log"
	"net"
	"time"

	"github.com/goburrow/modbus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// transactionController blocking transaction engine on top of goburrow/modbus.
// Every call is one synchronous transaction on the handler.
type transactionController struct {
	cfg    networkConfig
	logger zerolog.Logger
	// socket options ignored by the library dialer were reported
	socketOptsLogged bool

	handler io.Closer
	client  modbus.Client
	slaveID func(uint8)
}

func newTransactionController(cfg networkConfig, logger zerolog.Logger) *transactionController {
	return &transactionController{cfg: cfg, logger: logger}
}

func (c *transactionController) logIgnoredSocketOptions() {
	if !c.socketOptsLogged {
		logIgnoredSocketOptions(c.cfg, c.logger)
		c.socketOptsLogged = true
	}
}

func (c *transactionController) wireLogger() *log.Logger {
	if !c.cfg.wireLogging {
		return nil
	}
	return log.New(c.logger.With().Str("wire", "goburrow").Logger(), "", 0)
}

func (c *transactionController) Open(ctx context.Context) error {
	if c.IsOpen() {
		return nil
	}
	switch {
	case c.cfg.linkType == LinkSerial:
		handler := c.rtuHandler()
		if err := handler.Connect(); err != nil {
			return errors.Wrapf(err, "connect %s", c.cfg.Device)
		}
		c.handler, c.client = handler, modbus.NewClient(handler)
		c.slaveID = func(id uint8) { handler.SlaveId = id }
	case c.cfg.headless:
		conn, err := dialTCP(ctx, c.cfg)
		if err != nil {
			return err
		}
		// RTU packaging over a plain socket
		packager := modbus.NewRTUClientHandler("")
		transporter := &rtuOverTCPTransporter{conn: conn, timeout: c.cfg.replyTimeout}
		if c.cfg.wireLogging {
			transporter.logger = c.logger.With().Str("wire", "rtuovertcp").Logger()
			transporter.wire = true
		}
		c.handler, c.client = transporter, modbus.NewClient2(packager, transporter)
		c.slaveID = func(id uint8) { packager.SlaveId = id }
	default:
		handler := c.tcpHandler()
		c.logIgnoredSocketOptions()
		if err := handler.Connect(); err != nil {
			return errors.Wrapf(err, "connect %s", c.cfg.TCPConfig.Address())
		}
		c.handler, c.client = handler, modbus.NewClient(handler)
		c.slaveID = func(id uint8) { handler.SlaveId = id }
	}
	return nil
}

// rtuHandler serial handler. goburrow's idle timer would close the port from
// its own goroutine, so it is disabled: the port is only touched by the
// network's serial worker.
func (c *transactionController) rtuHandler() *modbus.RTUClientHandler {
	handler := modbus.NewRTUClientHandler(c.cfg.Device)
	handler.BaudRate = c.cfg.BaudRate
	handler.DataBits = c.cfg.DataBits
	handler.Parity = c.cfg.Parity
	handler.StopBits = c.cfg.StopBits
	handler.RS485 = c.cfg.RS485
	handler.Timeout = c.cfg.replyTimeout
	handler.IdleTimeout = 0
	handler.Logger = c.wireLogger()
	return handler
}

func (c *transactionController) tcpHandler() *modbus.TCPClientHandler {
	handler := modbus.NewTCPClientHandler(c.cfg.TCPConfig.Address())
	handler.Timeout = c.cfg.replyTimeout
	// idle close is handled by the network
	handler.IdleTimeout = 0
	handler.Logger = c.wireLogger()
	return handler
}

func (c *transactionController) Close() error {
	if c.handler == nil {
		return nil
	}
	err := c.handler.Close()
	c.handler, c.client, c.slaveID = nil, nil, nil
	return err
}

func (c *transactionController) IsOpen() bool {
	return c.handler != nil
}

// prepare select the unit of the next transaction
func (c *transactionController) prepare(ctx context.Context, unitID uint8) error {
	if !c.IsOpen() {
		return ErrConnectionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.slaveID(unitID)
	return nil
}

// fail translate an exception response; any other failure leaves the stream in
// an unknown state, so the handler is closed
func (c *transactionController) fail(fn Function, err error) error {
	var mbErr *modbus.ModbusError
	if errors.As(err, &mbErr) {
		return &ExceptionError{Function: fn, Code: mbErr.ExceptionCode}
	}
	if cerr := c.Close(); cerr != nil {
		c.logger.Debug().Err(cerr).Msg("close after failed transaction")
	}
	return err
}

func (c *transactionController) ReadBits(ctx context.Context, unitID uint8, fn Function, address, count uint16) ([]bool, error) {
	if err := c.prepare(ctx, unitID); err != nil {
		return nil, err
	}
	var data []byte
	var err error
	switch fn {
	case ReadCoil:
		data, err = c.client.ReadCoils(address, count)
	case ReadDiscreteInput:
		data, err = c.client.ReadDiscreteInputs(address, count)
	default:
		return nil, errUnsupported("ReadBits", fn)
	}
	if err != nil {
		return nil, c.fail(fn, err)
	}
	if len(data) != (int(count)+7)/8 {
		return nil, errors.Errorf("%s response carries %d bytes for %d bits", fn, len(data), count)
	}
	return unpackBits(data, int(count)), nil
}

func (c *transactionController) ReadRegisters(ctx context.Context, unitID uint8, fn Function, address, count uint16) ([]uint16, error) {
	if err := c.prepare(ctx, unitID); err != nil {
		return nil, err
	}
	var data []byte
	var err error
	switch fn {
	case ReadHoldingRegister:
		data, err = c.client.ReadHoldingRegisters(address, count)
	case ReadInputRegister:
		data, err = c.client.ReadInputRegisters(address, count)
	default:
		return nil, errUnsupported("ReadRegisters", fn)
	}
	if err != nil {
		return nil, c.fail(fn, err)
	}
	if len(data) != int(count)*2 {
		return nil, errors.Errorf("%s response carries %d bytes for %d registers", fn, len(data), count)
	}
	return BytesToWords(data), nil
}

func (c *transactionController) WriteBits(ctx context.Context, unitID uint8, fn Function, address uint16, values []bool) error {
	if err := c.prepare(ctx, unitID); err != nil {
		return err
	}
	var err error
	switch fn {
	case WriteCoil:
		var value uint16
		if values[0] {
			value = 0xFF00
		}
		_, err = c.client.WriteSingleCoil(address, value)
	case WriteMultipleCoils:
		_, err = c.client.WriteMultipleCoils(address, uint16(len(values)), packBits(values))
	default:
		return errUnsupported("WriteBits", fn)
	}
	if err != nil {
		return c.fail(fn, err)
	}
	return nil
}

func (c *transactionController) WriteRegisters(ctx context.Context, unitID uint8, fn Function, address uint16, values []uint16) error {
	if err := c.prepare(ctx, unitID); err != nil {
		return err
	}
	var err error
	switch fn {
	case WriteHoldingRegister:
		_, err = c.client.WriteSingleRegister(address, values[0])
	case WriteMultipleHoldingRegisters:
		_, err = c.client.WriteMultipleRegisters(address, uint16(len(values)), WordsToBytes(values))
	default:
		return errUnsupported("WriteRegisters", fn)
	}
	if err != nil {
		return c.fail(fn, err)
	}
	return nil
}

// rtuOverTCPTransporter goburrow transporter sending RTU frames on a TCP socket
type rtuOverTCPTransporter struct {
	conn    net.Conn
	timeout time.Duration
	wire    bool
	logger  zerolog.Logger
}

func (t *rtuOverTCPTransporter) Send(aduRequest []byte) ([]byte, error) {
	if t.conn == nil {
		return nil, ErrConnectionClosed
	}
	if t.timeout > 0 {
		if err := t.conn.SetDeadline(time.Now().Add(t.timeout)); err != nil {
			return nil, errors.Wrap(err, "set deadline")
		}
	}
	if t.wire {
		t.logger.Debug().Hex("adu", aduRequest).Msg("send")
	}
	if _, err := t.conn.Write(aduRequest); err != nil {
		return nil, errors.Wrap(err, "write RTU frame")
	}
	aduResponse, err := readRTUFrame(t.conn)
	if err != nil {
		return nil, err
	}
	if t.wire {
		t.logger.Debug().Hex("adu", aduResponse).Msg("recv")
	}
	return aduResponse, nil
}

func (t *rtuOverTCPTransporter) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}
