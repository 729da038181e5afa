package modbusnet

import (
	"context"

	"github.com/bits-and-blooms/bitset"
	"github.com/pkg/errors"
)

// Connection session with one unit over one link. A Connection is not safe for
// concurrent use; every read or write is exactly one request/response exchange
// and is never retried.
type Connection interface {
	// UnitID the target device address
	UnitID() uint8
	Open(ctx context.Context) error
	Close() error

	ReadWords(ctx context.Context, fn Function, address, count int) ([]uint16, error)
	ReadWordsUnsigned(ctx context.Context, fn Function, address, count int) ([]uint, error)
	// ReadBytes count is a word count, the result holds 2*count bytes
	ReadBytes(ctx context.Context, fn Function, address, count int) ([]byte, error)
	ReadString(ctx context.Context, fn Function, address, count int, trim bool, enc Encoding) (string, error)
	ReadBits(ctx context.Context, fn Function, address, count int) (*bitset.BitSet, error)
	// ReadBitsAt read count bits at each address, one request per address. Bits
	// of addresses[i] land at i*count to i*count+count-1.
	ReadBitsAt(ctx context.Context, fn Function, addresses []int, count int) (*bitset.BitSet, error)
	// ReadNumber read t.WordCount() registers and decode them as t
	ReadNumber(ctx context.Context, fn Function, address int, t DataType, order WordOrder) (any, error)

	WriteWords(ctx context.Context, fn Function, address int, values []uint16) error
	WriteBytes(ctx context.Context, fn Function, address int, data []byte) error
	WriteString(ctx context.Context, fn Function, address int, s string, enc Encoding) error
	WriteBits(ctx context.Context, fn Function, address, count int, bits *bitset.BitSet) error
	// WriteBitsAt write bit i to the coil at addresses[i], one WriteCoil
	// request per address
	WriteBitsAt(ctx context.Context, addresses []int, bits *bitset.BitSet) error
	WriteNumber(ctx context.Context, fn Function, address int, t DataType, order WordOrder, v any) error
}

// connection Connection over a Controller. Transport failures are wrapped in a
// CommunicationError here and nowhere else.
type connection struct {
	ctrl   Controller
	unitID uint8
	link   string
}

// NewConnection Connection to unitID through ctrl; link describes the transport
// in errors. Open and Close open and close ctrl.
func NewConnection(ctrl Controller, unitID uint8, link string) Connection {
	return &connection{ctrl: ctrl, unitID: unitID, link: link}
}

func (c *connection) UnitID() uint8 {
	return c.unitID
}

func (c *connection) Open(ctx context.Context) error {
	if c.ctrl == nil {
		return ErrConnectionClosed
	}
	if err := c.ctrl.Open(ctx); err != nil {
		return &CommunicationError{Link: c.link, UnitID: c.unitID, Err: err}
	}
	return nil
}

func (c *connection) Close() error {
	if c.ctrl == nil {
		return nil
	}
	return c.ctrl.Close()
}

func (c *connection) communicationError(fn Function, err error) error {
	var ce *CommunicationError
	if errors.As(err, &ce) {
		return err
	}
	return &CommunicationError{Link: c.link, Function: fn, UnitID: c.unitID, Err: err}
}

func (c *connection) ReadWords(ctx context.Context, fn Function, address, count int) ([]uint16, error) {
	if err := fn.checkShape(address, count, false, false); err != nil {
		return nil, err
	}
	if c.ctrl == nil {
		return nil, ErrConnectionClosed
	}
	words, err := c.ctrl.ReadRegisters(ctx, c.unitID, fn, uint16(address), uint16(count))
	if err != nil {
		return nil, c.communicationError(fn, err)
	}
	return words, nil
}

func (c *connection) ReadWordsUnsigned(ctx context.Context, fn Function, address, count int) ([]uint, error) {
	words, err := c.ReadWords(ctx, fn, address, count)
	if err != nil {
		return nil, err
	}
	return WordsToUnsigned(words), nil
}

func (c *connection) ReadBytes(ctx context.Context, fn Function, address, count int) ([]byte, error) {
	words, err := c.ReadWords(ctx, fn, address, count)
	if err != nil {
		return nil, err
	}
	return WordsToBytes(words), nil
}

func (c *connection) ReadString(ctx context.Context, fn Function, address, count int, trim bool, enc Encoding) (string, error) {
	words, err := c.ReadWords(ctx, fn, address, count)
	if err != nil {
		return "", err
	}
	return WordsToString(words, enc, trim)
}

func (c *connection) ReadBits(ctx context.Context, fn Function, address, count int) (*bitset.BitSet, error) {
	if err := fn.checkShape(address, count, false, true); err != nil {
		return nil, err
	}
	if c.ctrl == nil {
		return nil, ErrConnectionClosed
	}
	values, err := c.ctrl.ReadBits(ctx, c.unitID, fn, uint16(address), uint16(count))
	if err != nil {
		return nil, c.communicationError(fn, err)
	}
	return boolsToBitSet(values), nil
}

func (c *connection) ReadBitsAt(ctx context.Context, fn Function, addresses []int, count int) (*bitset.BitSet, error) {
	for _, address := range addresses {
		if err := fn.checkShape(address, count, false, true); err != nil {
			return nil, err
		}
	}
	result := bitset.New(uint(len(addresses) * count))
	for i, address := range addresses {
		bits, err := c.ReadBits(ctx, fn, address, count)
		if err != nil {
			return nil, err
		}
		for j := 0; j < count; j++ {
			result.SetTo(uint(i*count+j), bits.Test(uint(j)))
		}
	}
	return result, nil
}

func (c *connection) ReadNumber(ctx context.Context, fn Function, address int, t DataType, order WordOrder) (any, error) {
	count := t.WordCount()
	if count == 0 {
		return nil, errors.Errorf("%s has no fixed word count", t)
	}
	words, err := c.ReadWords(ctx, fn, address, count)
	if err != nil {
		return nil, err
	}
	return ParseNumber(t, words, order)
}

func (c *connection) WriteWords(ctx context.Context, fn Function, address int, values []uint16) error {
	if err := fn.checkShape(address, len(values), true, false); err != nil {
		return err
	}
	if c.ctrl == nil {
		return ErrConnectionClosed
	}
	if err := c.ctrl.WriteRegisters(ctx, c.unitID, fn, uint16(address), values); err != nil {
		return c.communicationError(fn, err)
	}
	return nil
}

func (c *connection) WriteBytes(ctx context.Context, fn Function, address int, data []byte) error {
	return c.WriteWords(ctx, fn, address, BytesToWords(data))
}

func (c *connection) WriteString(ctx context.Context, fn Function, address int, s string, enc Encoding) error {
	words, err := StringToWords(s, enc)
	if err != nil {
		return err
	}
	return c.WriteWords(ctx, fn, address, words)
}

func (c *connection) WriteBits(ctx context.Context, fn Function, address, count int, bits *bitset.BitSet) error {
	if err := fn.checkShape(address, count, true, true); err != nil {
		return err
	}
	if c.ctrl == nil {
		return ErrConnectionClosed
	}
	if err := c.ctrl.WriteBits(ctx, c.unitID, fn, uint16(address), bitSetToBools(bits, count)); err != nil {
		return c.communicationError(fn, err)
	}
	return nil
}

func (c *connection) WriteBitsAt(ctx context.Context, addresses []int, bits *bitset.BitSet) error {
	for _, address := range addresses {
		if err := WriteCoil.checkShape(address, 1, true, true); err != nil {
			return err
		}
	}
	for i, address := range addresses {
		value := bitset.New(1)
		if bits != nil {
			value.SetTo(0, bits.Test(uint(i)))
		}
		if err := c.WriteBits(ctx, WriteCoil, address, 1, value); err != nil {
			return err
		}
	}
	return nil
}

func (c *connection) WriteNumber(ctx context.Context, fn Function, address int, t DataType, order WordOrder, v any) error {
	words, err := EncodeNumber(t, v, order)
	if err != nil {
		return err
	}
	return c.WriteWords(ctx, fn, address, words)
}
