package modbusnet

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrNetworkClosed    = errors.New("modbus network is closed")
	ErrPoolClosed       = errors.New("modbus pool is closed")
	ErrFactoryNil       = errors.New("controller factory cannot be nil")
	ErrConnectionClosed = errors.New("modbus connection is not open")
)

// DecodeError word or byte count inconsistent with the requested value
type DecodeError struct {
	Op   string
	Want int
	Got  int
	Msg  string
}

func (e *DecodeError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("modbus decode %s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("modbus decode %s: want %d words, got %d", e.Op, e.Want, e.Got)
}

// ProtocolLimitError request shape rejected before any I/O
type ProtocolLimitError struct {
	Function Function
	Address  int
	Count    int
	Max      int
	Reason   string
}

func (e *ProtocolLimitError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("modbus %s @ %d x %d: %s", e.Function, e.Address, e.Count, e.Reason)
	}
	return fmt.Sprintf("modbus %s @ %d x %d: count must be between 1 and %d", e.Function, e.Address, e.Count, e.Max)
}

// CommunicationError wraps a transport failure with the link description
type CommunicationError struct {
	Link     string
	Function Function
	UnitID   uint8
	Err      error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("modbus %s unit %d on %s: %v", e.Function, e.UnitID, e.Link, e.Err)
}

func (e *CommunicationError) Unwrap() error {
	return e.Err
}

// LockTimeoutError the link lock was not acquired in time; nothing was sent
type LockTimeoutError struct {
	Link    string
	Timeout time.Duration
	Err     error
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("could not acquire port %s lock within %s", e.Link, e.Timeout)
}

func (e *LockTimeoutError) Unwrap() error {
	return e.Err
}

// ExceptionError exception response returned by the remote device
type ExceptionError struct {
	Function Function
	Code     byte
}

func (e *ExceptionError) Error() string {
	return fmt.Sprintf("modbus exception %#02x (%s) for %s", e.Code, exceptionMessage(e.Code), e.Function)
}

func exceptionMessage(code byte) string {
	switch code {
	case 0x01:
		return "illegal function"
	case 0x02:
		return "illegal data address"
	case 0x03:
		return "illegal data value"
	case 0x04:
		return "server device failure"
	case 0x05:
		return "acknowledge"
	case 0x06:
		return "server device busy"
	case 0x08:
		return "memory parity error"
	case 0x0A:
		return "gateway path unavailable"
	case 0x0B:
		return "gateway target device failed to respond"
	}
	return "unknown exception"
}
