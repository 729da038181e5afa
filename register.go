package modbusnet

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bitset"
	"github.com/pkg/errors"
)

// Register register table entry of a device
type Register struct {
	// read function selecting the address space, like ReadHoldingRegister
	Function Function
	// address, like 900, represents read/write from 900th register
	Address int
	// data type, like DataTypeUInt32
	DataType DataType
	// word order of multi-word values
	WordOrder WordOrder
	// words of variable length types (Bytes, strings)
	WordCount int
	// coefficient, like 0.1, represents the value should be multiplied by 0.1
	Coefficient float64
	// offset, like -10, represents the value should be subtracted by 10
	Offset float64
}

// RegisterMap register table by name
type RegisterMap map[string]Register

// GetCoefficient get coefficient, if coefficient not set, return 1
func (r Register) GetCoefficient() float64 {
	if r.Coefficient == 0 {
		return 1
	}
	return r.Coefficient
}

func (r Register) scaled() bool {
	return r.Coefficient != 0 || r.Offset != 0
}

// words registers covered by r
func (r Register) words() int {
	if n := r.DataType.WordCount(); n > 0 {
		return n
	}
	return r.WordCount
}

// Read read r through conn. Bit functions give a bool, strings a string, and
// scaled registers a float64; other types decode as ParseNumber does.
func (r Register) Read(ctx context.Context, conn Connection) (any, error) {
	if r.Function.IsBit() {
		bits, err := conn.ReadBits(ctx, r.Function, r.Address, 1)
		if err != nil {
			return nil, err
		}
		return bits.Test(0), nil
	}
	if r.DataType.IsString() {
		return conn.ReadString(ctx, r.Function, r.Address, r.WordCount, true, r.DataType.Encoding())
	}
	words, err := conn.ReadWords(ctx, r.Function, r.Address, r.words())
	if err != nil {
		return nil, err
	}
	v, err := ParseNumber(r.DataType, words, r.WordOrder)
	if err != nil || !r.scaled() {
		return v, err
	}
	f, i, _, isFloat, err := numberKind(v)
	if err != nil {
		return nil, errors.Wrapf(err, "scale %s", r.DataType)
	}
	if isFloat {
		return f*r.GetCoefficient() + r.Offset, nil
	}
	f = float64(i)
	if u, ok := v.(uint64); ok {
		f = float64(u)
	}
	return cal(f, r.GetCoefficient()) + r.Offset, nil
}

// Write write value to r through conn, using the write function of r's address
// space
func (r Register) Write(ctx context.Context, conn Connection, value any) error {
	count := r.words()
	if r.Function.IsBit() {
		count = 1
	}
	fn, ok := r.Function.WriteFor(count)
	if !ok {
		return &ProtocolLimitError{Function: r.Function, Address: r.Address, Count: count, Reason: "read-only address space"}
	}
	if r.Function.IsBit() {
		b, ok := value.(bool)
		if !ok {
			return errors.Errorf("cannot write %T to a coil", value)
		}
		bits := bitset.New(1)
		bits.SetTo(0, b)
		return conn.WriteBits(ctx, fn, r.Address, 1, bits)
	}
	var words []uint16
	var err error
	switch {
	case r.DataType.IsString():
		s, ok := value.(string)
		if !ok {
			return errors.Errorf("cannot write %T as %s", value, r.DataType)
		}
		words, err = StringToWords(s, r.DataType.Encoding())
	default:
		if r.scaled() {
			f, i, _, isFloat, kerr := numberKind(value)
			if kerr != nil {
				return kerr
			}
			if !isFloat {
				f = float64(i)
			}
			value = math.Round((f - r.Offset) / r.GetCoefficient())
		}
		words, err = EncodeNumber(r.DataType, value, r.WordOrder)
	}
	if err != nil {
		return err
	}
	if r.WordCount > 0 && r.DataType.WordCount() == 0 {
		if len(words) > r.WordCount {
			return &DecodeError{Op: r.DataType.String(), Want: r.WordCount, Got: len(words), Msg: "value does not fit the register"}
		}
		padded := make([]uint16, r.WordCount)
		if r.DataType.IsString() {
			copy(padded, words)
		} else {
			copy(padded[r.WordCount-len(words):], words)
		}
		words = padded
	}
	return conn.WriteWords(ctx, fn, r.Address, words)
}

// ReadAll read every register of m, or only the named ones
func (m RegisterMap) ReadAll(ctx context.Context, conn Connection, filter ...string) (map[string]any, error) {
	names := make([]string, 0, len(m))
	if len(filter) > 0 {
		for _, name := range filter {
			if _, ok := m[name]; !ok {
				return nil, fmt.Errorf("register %s not found", name)
			}
			names = append(names, name)
		}
	} else {
		for name := range m {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		return m[names[i]].Address < m[names[j]].Address
	})
	values := make(map[string]any, len(names))
	for _, name := range names {
		v, err := m[name].Read(ctx, conn)
		if err != nil {
			return nil, fmt.Errorf("read %s failed: %w", name, err)
		}
		values[name] = v
	}
	return values, nil
}

// cal apply a coefficient to an integer reading, rounded to the decimals of
// the coefficient (123 * 0.1 = 12.3, not 12.300000000000001)
func cal(before, c float64) float64 {
	decimals := 0
	if s := strconv.FormatFloat(c, 'f', -1, 64); strings.Contains(s, ".") {
		decimals = len(s) - strings.Index(s, ".") - 1
	}
	point := math.Pow10(decimals)
	return math.Round(before*c*point) / point
}
