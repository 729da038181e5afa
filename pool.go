package modbusnet

import (
	"context"
)

// ConnPool source of the controller a network hands to its connections. Get,
// Put and Close are only called while the link lock is held.
type ConnPool interface {
	Get(ctx context.Context) (Controller, error)
	Put(ctrl Controller) error
	Close() error
}
