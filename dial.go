package modbusnet

import (
	"context"
	"net"
	"time"

	"github.com/goburrow/serial"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const tcpKeepAlivePeriod = 15 * time.Second

// dialTCP connect to the configured host, applying the socket options
func dialTCP(ctx context.Context, cfg networkConfig) (net.Conn, error) {
	dialer := net.Dialer{Timeout: cfg.replyTimeout, KeepAlive: -1}
	if cfg.SocketKeepAlive {
		dialer.KeepAlive = tcpKeepAlivePeriod
	}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.TCPConfig.Address())
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", cfg.TCPConfig.Address())
	}
	if tcp, ok := conn.(*net.TCPConn); ok && cfg.SocketLinger >= 0 {
		if err := tcp.SetLinger(cfg.SocketLinger); err != nil {
			conn.Close()
			return nil, errors.Wrap(err, "set socket linger")
		}
	}
	return conn, nil
}

// logIgnoredSocketOptions report socket options set away from their defaults
// on a TCP link whose socket is dialled by an engine library
func logIgnoredSocketOptions(cfg networkConfig, logger zerolog.Logger) {
	if cfg.SocketLinger == DefaultSocketLinger && cfg.SocketKeepAlive == DefaultSocketKeepAlive {
		return
	}
	logger.Debug().
		Int("socketLinger", cfg.SocketLinger).
		Bool("socketKeepAlive", cfg.SocketKeepAlive).
		Msg("socket options are not applied by this engine")
}

func serialConfig(cfg networkConfig) *serial.Config {
	return &serial.Config{
		Address:  cfg.Device,
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		StopBits: cfg.StopBits,
		Parity:   cfg.Parity,
		Timeout:  cfg.replyTimeout,
		RS485:    cfg.RS485,
	}
}

// openSerial open the configured serial device
func openSerial(cfg networkConfig) (serial.Port, error) {
	port, err := serial.Open(serialConfig(cfg))
	if err != nil {
		return nil, errors.Wrapf(err, "open serial port %s", cfg.Device)
	}
	return port, nil
}
