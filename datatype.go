package modbusnet

import (
	"fmt"
	"math/big"

	"github.com/pkg/errors"
)

// DataType register data type for encoding/decoding
type DataType uint8

const (
	DataTypeBoolean DataType = iota
	DataTypeFloat16
	DataTypeFloat32
	DataTypeFloat64
	DataTypeInt16
	DataTypeUInt16
	DataTypeInt32
	DataTypeUInt32
	DataTypeInt64
	DataTypeUInt64
	DataTypeBytes
	DataTypeStringASCII
	DataTypeStringUTF8
)

var dataTypeNames = []string{
	"Boolean", "Float16", "Float32", "Float64", "Int16", "UInt16", "Int32",
	"UInt32", "Int64", "UInt64", "Bytes", "StringAscii", "StringUtf8",
}

func (t DataType) String() string {
	if int(t) < len(dataTypeNames) {
		return dataTypeNames[t]
	}
	return fmt.Sprintf("DataType(%d)", uint8(t))
}

// WordCount words used by a fixed size type, 0 for variable length types
func (t DataType) WordCount() int {
	switch t {
	case DataTypeBoolean, DataTypeFloat16, DataTypeInt16, DataTypeUInt16:
		return 1
	case DataTypeFloat32, DataTypeInt32, DataTypeUInt32:
		return 2
	case DataTypeFloat64, DataTypeInt64, DataTypeUInt64:
		return 4
	}
	return 0
}

// IsString reports whether t is a text type
func (t DataType) IsString() bool {
	return t == DataTypeStringASCII || t == DataTypeStringUTF8
}

// Encoding text encoding of a string type
func (t DataType) Encoding() Encoding {
	if t == DataTypeStringUTF8 {
		return EncodingUTF8
	}
	return EncodingASCII
}

// ParseNumber decode words as a number of type t. The result is bool, float32
// (Float16 and Float32), float64, int16, uint16, int32, uint32, int64, uint64 or
// *big.Int (Bytes, unsigned, most significant byte first).
func ParseNumber(t DataType, words []uint16, order WordOrder) (any, error) {
	switch t {
	case DataTypeBoolean:
		if len(words) != 1 {
			return nil, &DecodeError{Op: t.String(), Want: 1, Got: len(words)}
		}
		return words[0] != 0, nil
	case DataTypeFloat16:
		if len(words) != 1 {
			return nil, &DecodeError{Op: t.String(), Want: 1, Got: len(words)}
		}
		return WordToFloat16(words[0]), nil
	case DataTypeFloat32:
		return WordsToFloat32(words, order)
	case DataTypeFloat64:
		return WordsToFloat64(words, order)
	case DataTypeInt16:
		return decodeAs[int16](words, order)
	case DataTypeUInt16:
		return decodeAs[uint16](words, order)
	case DataTypeInt32:
		return decodeAs[int32](words, order)
	case DataTypeUInt32:
		return decodeAs[uint32](words, order)
	case DataTypeInt64:
		return decodeAs[int64](words, order)
	case DataTypeUInt64:
		return decodeAs[uint64](words, order)
	case DataTypeBytes:
		return new(big.Int).SetBytes(WordsToBytes(ordered(words, order))), nil
	}
	return nil, &DecodeError{Op: t.String(), Msg: "not a number type"}
}

func decodeAs[T int16 | uint16 | int32 | uint32 | int64 | uint64](words []uint16, order WordOrder) (any, error) {
	v, err := DecodeInteger[T](words, order)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// EncodeNumber encode v as type t. Any Go integer or float kind is accepted and
// converted; Bytes takes a *big.Int or []byte.
func EncodeNumber(t DataType, v any, order WordOrder) ([]uint16, error) {
	switch t {
	case DataTypeBytes:
		switch b := v.(type) {
		case *big.Int:
			if b.Sign() < 0 {
				return nil, errors.Errorf("cannot encode negative %s as %s", b, t)
			}
			return ordered(BytesToWords(leftPad(b.Bytes())), order), nil
		case []byte:
			return ordered(BytesToWords(leftPad(b)), order), nil
		}
		return nil, errors.Errorf("cannot encode %T as %s", v, t)
	case DataTypeBoolean:
		if b, ok := v.(bool); ok {
			if b {
				return []uint16{1}, nil
			}
			return []uint16{0}, nil
		}
	}
	if t.WordCount() == 0 {
		return nil, errors.Errorf("%s is not a number type", t)
	}
	f, i, u, isFloat, err := numberKind(v)
	if err != nil {
		return nil, err
	}
	switch t {
	case DataTypeFloat16:
		if !isFloat {
			f = float64(i)
		}
		return []uint16{Float16ToWord(float32(f))}, nil
	case DataTypeFloat32:
		if !isFloat {
			f = float64(i)
		}
		return Float32ToWords(float32(f), order), nil
	case DataTypeFloat64:
		if !isFloat {
			f = float64(i)
		}
		return Float64ToWords(f, order), nil
	case DataTypeUInt64:
		if !isFloat {
			return UintToWords(u, 64, order)
		}
	case DataTypeBoolean:
		if isFloat && f != 0 || !isFloat && i != 0 {
			return []uint16{1}, nil
		}
		return []uint16{0}, nil
	}
	if isFloat {
		i = int64(f)
	}
	return IntToWords(i, t.WordCount()*16, order)
}

// numberKind normalise a Go number into float, signed and unsigned views
func numberKind(v any) (f float64, i int64, u uint64, isFloat bool, err error) {
	switch n := v.(type) {
	case float32:
		return float64(n), 0, 0, true, nil
	case float64:
		return n, 0, 0, true, nil
	case int:
		return 0, int64(n), uint64(n), false, nil
	case int8:
		return 0, int64(n), uint64(n), false, nil
	case int16:
		return 0, int64(n), uint64(n), false, nil
	case int32:
		return 0, int64(n), uint64(n), false, nil
	case int64:
		return 0, n, uint64(n), false, nil
	case uint:
		return 0, int64(n), uint64(n), false, nil
	case uint8:
		return 0, int64(n), uint64(n), false, nil
	case uint16:
		return 0, int64(n), uint64(n), false, nil
	case uint32:
		return 0, int64(n), uint64(n), false, nil
	case uint64:
		return 0, int64(n), n, false, nil
	}
	return 0, 0, 0, false, errors.Errorf("unsupported number type %T", v)
}

// leftPad prefix a zero byte to odd length data so the value stays right aligned
func leftPad(b []byte) []byte {
	if len(b)%2 == 0 {
		return b
	}
	return append([]byte{0}, b...)
}
