package modbusnet

import (
	"net"
	"strconv"
	"time"

	"github.com/goburrow/serial"
	"github.com/rs/zerolog"
)

// Defaults shared by all networks.
const (
	DefaultLockTimeout     = 10 * time.Second
	DefaultReplyTimeout    = 5 * time.Second
	DefaultKeepOpen        = 90 * time.Second
	DefaultSocketLinger    = 1
	DefaultSocketKeepAlive = true
)

// TCPConfig Connection config of TCP
type TCPConfig struct {
	Host string
	Port int
	// KeepOpen how long an idle connection stays open for reuse; <= 0 opens a
	// fresh connection per action
	KeepOpen time.Duration
	// SocketLinger SO_LINGER seconds, negative keeps the OS default
	SocketLinger    int
	SocketKeepAlive bool
}

// Address host:port
func (c TCPConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SerialConfig Connection config of RTU
type SerialConfig struct {
	Device   string
	BaudRate int
	DataBits int
	Parity   string // (N, E, O)
	StopBits int
	RS485    serial.RS485Config
}

// networkConfig everything a network and its controllers are built from
type networkConfig struct {
	linkType LinkType
	TCPConfig
	SerialConfig

	engine       Engine
	headless     bool
	lockTimeout  time.Duration
	replyTimeout time.Duration
	wireLogging  bool
	logger       zerolog.Logger
	factory      ControllerFactory
}

func newDefaultConfig() *networkConfig {
	return &networkConfig{
		engine:       EngineTransaction,
		lockTimeout:  DefaultLockTimeout,
		replyTimeout: DefaultReplyTimeout,
		logger:       zerolog.Nop(),
	}
}

func (c *networkConfig) description() string {
	if c.linkType == LinkSerial {
		return c.Device
	}
	return c.TCPConfig.Address()
}

type NetworkOption func(*networkConfig)

// WithEngine Set the backend controller engine
func WithEngine(engine Engine) NetworkOption {
	return func(c *networkConfig) {
		c.engine = engine
	}
}

// WithControllerFactory Set a custom controller factory, replacing the engine
func WithControllerFactory(factory ControllerFactory) NetworkOption {
	return func(c *networkConfig) {
		c.factory = factory
	}
}

// WithHeadless Set headless framing; on TCP links this selects RTU over TCP
func WithHeadless(headless bool) NetworkOption {
	return func(c *networkConfig) {
		c.headless = headless
	}
}

// WithLockTimeout Set how long to wait for the link lock; 0 fails at once when
// the link is busy, negative waits without limit
func WithLockTimeout(timeout time.Duration) NetworkOption {
	return func(c *networkConfig) {
		c.lockTimeout = timeout
	}
}

// WithReplyTimeout Set the transport timeout of one exchange
func WithReplyTimeout(timeout time.Duration) NetworkOption {
	return func(c *networkConfig) {
		c.replyTimeout = timeout
	}
}

// WithWireLogging Log every frame at debug level
func WithWireLogging(enabled bool) NetworkOption {
	return func(c *networkConfig) {
		c.wireLogging = enabled
	}
}

// WithLogger Set the logger
func WithLogger(logger zerolog.Logger) NetworkOption {
	return func(c *networkConfig) {
		c.logger = logger
	}
}

// WithKeepOpen Set how long an idle TCP connection is kept for reuse
func WithKeepOpen(d time.Duration) NetworkOption {
	return func(c *networkConfig) {
		c.KeepOpen = d
	}
}

// WithSocketLinger Set SO_LINGER seconds of TCP sockets
func WithSocketLinger(seconds int) NetworkOption {
	return func(c *networkConfig) {
		c.SocketLinger = seconds
	}
}

// WithSocketKeepAlive Set TCP keep-alive of sockets
func WithSocketKeepAlive(enabled bool) NetworkOption {
	return func(c *networkConfig) {
		c.SocketKeepAlive = enabled
	}
}

// WithBaudRate Set the baud rate of the serial port
func WithBaudRate(baudRate int) NetworkOption {
	return func(c *networkConfig) {
		c.BaudRate = baudRate
	}
}

// WithDataBits Set the data bits of the serial port
func WithDataBits(dataBits int) NetworkOption {
	return func(c *networkConfig) {
		c.DataBits = dataBits
	}
}

// WithParity Set the parity of the serial port
func WithParity(parity string) NetworkOption {
	return func(c *networkConfig) {
		c.Parity = parity
	}
}

// WithStopBits Set the stop bits of the serial port
func WithStopBits(stopBits int) NetworkOption {
	return func(c *networkConfig) {
		c.StopBits = stopBits
	}
}

// WithRS485 Set RS485 line control of the serial port
func WithRS485(rs485 serial.RS485Config) NetworkOption {
	return func(c *networkConfig) {
		c.RS485 = rs485
	}
}

// WithTCPConfig Replace the whole TCP configuration
func WithTCPConfig(tcp TCPConfig) NetworkOption {
	return func(c *networkConfig) {
		c.TCPConfig = tcp
	}
}

// WithSerialConfig Replace the whole serial configuration
func WithSerialConfig(s SerialConfig) NetworkOption {
	return func(c *networkConfig) {
		c.SerialConfig = s
	}
}
