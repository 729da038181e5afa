package modbusnet

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/simonvetter/modbus"
)

// masterController master/poller engine on top of simonvetter/modbus. The
// master object is configured from a URL and keeps its own transport.
type masterController struct {
	cfg    networkConfig
	logger zerolog.Logger
	client *modbus.ModbusClient

	socketOptsLogged bool
}

func newMasterController(cfg networkConfig, logger zerolog.Logger) *masterController {
	return &masterController{cfg: cfg, logger: logger}
}

func (c *masterController) url() string {
	switch {
	case c.cfg.linkType == LinkSerial:
		return "rtu://" + c.cfg.Device
	case c.cfg.headless:
		return "rtuovertcp://" + c.cfg.TCPConfig.Address()
	}
	return "tcp://" + c.cfg.TCPConfig.Address()
}

func masterParity(parity string) uint {
	switch parity {
	case "E":
		return modbus.PARITY_EVEN
	case "O":
		return modbus.PARITY_ODD
	}
	return modbus.PARITY_NONE
}

func (c *masterController) Open(ctx context.Context) error {
	if c.client != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.cfg.linkType == LinkTCP && !c.socketOptsLogged {
		logIgnoredSocketOptions(c.cfg, c.logger)
		c.socketOptsLogged = true
	}
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:      c.url(),
		Speed:    uint(c.cfg.BaudRate),
		DataBits: uint(c.cfg.DataBits),
		Parity:   masterParity(c.cfg.Parity),
		StopBits: uint(c.cfg.StopBits),
		Timeout:  c.cfg.replyTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create modbus master: %w", err)
	}
	if err = client.Open(); err != nil {
		return errors.Wrapf(err, "open %s", c.url())
	}
	c.logger.Debug().Str("url", c.url()).Msg("master opened")
	c.client = client
	return nil
}

func (c *masterController) Close() error {
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	return err
}

func (c *masterController) IsOpen() bool {
	return c.client != nil
}

func (c *masterController) prepare(ctx context.Context, unitID uint8) error {
	if c.client == nil {
		return ErrConnectionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.client.SetUnitId(unitID)
}

var masterExceptions = map[error]byte{
	modbus.ErrIllegalFunction:         0x01,
	modbus.ErrIllegalDataAddress:      0x02,
	modbus.ErrIllegalDataValue:        0x03,
	modbus.ErrServerDeviceFailure:     0x04,
	modbus.ErrAcknowledge:             0x05,
	modbus.ErrServerDeviceBusy:        0x06,
	modbus.ErrMemoryParityError:       0x08,
	modbus.ErrGWPathUnavailable:       0x0A,
	modbus.ErrGWTargetFailedToRespond: 0x0B,
}

// fail translate exception errors; transport failures close the master
func (c *masterController) fail(fn Function, err error) error {
	if code, ok := masterExceptions[err]; ok {
		return &ExceptionError{Function: fn, Code: code}
	}
	if cerr := c.Close(); cerr != nil {
		c.logger.Debug().Err(cerr).Msg("close after failed request")
	}
	return err
}

func (c *masterController) ReadBits(ctx context.Context, unitID uint8, fn Function, address, count uint16) ([]bool, error) {
	if err := c.prepare(ctx, unitID); err != nil {
		return nil, err
	}
	var values []bool
	var err error
	switch fn {
	case ReadCoil:
		values, err = c.client.ReadCoils(address, count)
	case ReadDiscreteInput:
		values, err = c.client.ReadDiscreteInputs(address, count)
	default:
		return nil, errUnsupported("ReadBits", fn)
	}
	if err != nil {
		return nil, c.fail(fn, err)
	}
	if len(values) != int(count) {
		return nil, errors.Errorf("%s returned %d bits, want %d", fn, len(values), count)
	}
	return values, nil
}

func (c *masterController) ReadRegisters(ctx context.Context, unitID uint8, fn Function, address, count uint16) ([]uint16, error) {
	if err := c.prepare(ctx, unitID); err != nil {
		return nil, err
	}
	regType := modbus.HOLDING_REGISTER
	switch fn {
	case ReadHoldingRegister:
	case ReadInputRegister:
		regType = modbus.INPUT_REGISTER
	default:
		return nil, errUnsupported("ReadRegisters", fn)
	}
	values, err := c.client.ReadRegisters(address, count, regType)
	if err != nil {
		return nil, c.fail(fn, err)
	}
	if len(values) != int(count) {
		return nil, errors.Errorf("%s returned %d registers, want %d", fn, len(values), count)
	}
	return values, nil
}

func (c *masterController) WriteBits(ctx context.Context, unitID uint8, fn Function, address uint16, values []bool) error {
	if err := c.prepare(ctx, unitID); err != nil {
		return err
	}
	var err error
	switch fn {
	case WriteCoil:
		err = c.client.WriteCoil(address, values[0])
	case WriteMultipleCoils:
		err = c.client.WriteCoils(address, values)
	default:
		return errUnsupported("WriteBits", fn)
	}
	if err != nil {
		return c.fail(fn, err)
	}
	return nil
}

func (c *masterController) WriteRegisters(ctx context.Context, unitID uint8, fn Function, address uint16, values []uint16) error {
	if err := c.prepare(ctx, unitID); err != nil {
		return err
	}
	var err error
	switch fn {
	case WriteHoldingRegister:
		err = c.client.WriteRegister(address, values[0])
	case WriteMultipleHoldingRegisters:
		err = c.client.WriteRegisters(address, values)
	default:
		return errUnsupported("WriteRegisters", fn)
	}
	if err != nil {
		return c.fail(fn, err)
	}
	return nil
}
