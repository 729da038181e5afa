package modbusnet

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gotest.tools/v3/assert"
)

func TestTransactionSerialHandler(t *testing.T) {
	cfg := newDefaultConfig()
	cfg.linkType = LinkSerial
	cfg.SerialConfig = SerialConfig{Device: "/dev/ttyUSB0", BaudRate: 19200, DataBits: 8, StopBits: 1, Parity: "E"}
	c := newTransactionController(*cfg, zerolog.Nop())

	handler := c.rtuHandler()
	// an idle close would run on goburrow's timer goroutine
	assert.Equal(t, handler.IdleTimeout, time.Duration(0))
	assert.Equal(t, handler.Address, "/dev/ttyUSB0")
	assert.Equal(t, handler.BaudRate, 19200)
	assert.Equal(t, handler.Parity, "E")
	assert.Equal(t, handler.Timeout, DefaultReplyTimeout)
	assert.Assert(t, handler.Logger == nil)
}

func TestTransactionTCPHandler(t *testing.T) {
	cfg := newDefaultConfig()
	cfg.linkType = LinkTCP
	cfg.TCPConfig = TCPConfig{Host: "10.0.0.1", Port: 502}
	cfg.wireLogging = true
	c := newTransactionController(*cfg, zerolog.Nop())

	handler := c.tcpHandler()
	assert.Equal(t, handler.IdleTimeout, time.Duration(0))
	assert.Equal(t, handler.Address, "10.0.0.1:502")
	assert.Assert(t, handler.Logger != nil)
}
