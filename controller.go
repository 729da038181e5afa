package modbusnet

import (
	"context"

	"github.com/pkg/errors"
)

// Controller performs Modbus request/response exchanges over one link.
//
// A Controller is not safe for concurrent use: the owning network serializes
// every call through its link lock. Addresses and counts reaching a Controller
// have already been validated against the function's protocol limits.
type Controller interface {
	Open(ctx context.Context) error
	Close() error
	IsOpen() bool

	ReadBits(ctx context.Context, unitID uint8, fn Function, address, count uint16) ([]bool, error)
	ReadRegisters(ctx context.Context, unitID uint8, fn Function, address, count uint16) ([]uint16, error)
	WriteBits(ctx context.Context, unitID uint8, fn Function, address uint16, values []bool) error
	WriteRegisters(ctx context.Context, unitID uint8, fn Function, address uint16, values []uint16) error
}

// ControllerFactory creates an unopened Controller
type ControllerFactory func() (Controller, error)

// newController build the controller selected by cfg
func newController(cfg networkConfig) (Controller, error) {
	if cfg.factory != nil {
		ctrl, err := cfg.factory()
		if err != nil {
			return nil, errors.Wrap(err, "controller factory")
		}
		return ctrl, nil
	}
	logger := cfg.logger.With().Str("engine", cfg.engine.String()).Logger()
	switch cfg.engine {
	case EngineTransaction:
		return newTransactionController(cfg, logger), nil
	case EngineMaster:
		return newMasterController(cfg, logger), nil
	case EngineEventLoop:
		return newEventLoopController(cfg, logger), nil
	}
	return nil, errors.Errorf("unsupported modbus engine %s", cfg.engine)
}

func errUnsupported(op string, fn Function) error {
	return errors.Errorf("%s does not support %s", op, fn)
}
