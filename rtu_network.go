package modbusnet

import (
	"github.com/rs/zerolog"
)

// SerialNetwork Modbus RTU link on one serial port. All port I/O runs on a
// single dedicated worker goroutine locked to its OS thread.
type SerialNetwork struct {
	*network
}

// NewSerialNetwork new serial network, 9600 8N1 unless configured otherwise
func NewSerialNetwork(device string, opts ...NetworkOption) *SerialNetwork {
	cfg := newDefaultConfig()
	cfg.linkType = LinkSerial
	cfg.headless = true
	cfg.SerialConfig = SerialConfig{
		Device:   device,
		BaudRate: 9600,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &SerialNetwork{network: newNetwork(cfg, func(cfg networkConfig, _ *linkLock, logger zerolog.Logger) ConnPool {
		return newRTUPool(cfg, logger)
	})}
}
