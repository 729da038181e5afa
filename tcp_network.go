package modbusnet

import (
	"github.com/rs/zerolog"
)

// TCPNetwork Modbus TCP link to one host:port. One persistent controller is
// created lazily and, with keep-open, cached between actions.
type TCPNetwork struct {
	*network
}

// NewTCPNetwork new TCP network; port <= 0 selects 502
func NewTCPNetwork(host string, port int, opts ...NetworkOption) *TCPNetwork {
	cfg := newDefaultConfig()
	cfg.linkType = LinkTCP
	if port <= 0 {
		port = defaultModbusTCPPort
	}
	cfg.TCPConfig = TCPConfig{
		Host:            host,
		Port:            port,
		KeepOpen:        DefaultKeepOpen,
		SocketLinger:    DefaultSocketLinger,
		SocketKeepAlive: DefaultSocketKeepAlive,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &TCPNetwork{network: newNetwork(cfg, func(cfg networkConfig, lock *linkLock, logger zerolog.Logger) ConnPool {
		return newTCPPool(cfg, lock, logger)
	})}
}
