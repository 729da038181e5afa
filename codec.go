package modbusnet

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// WordsToBytes expand each word into two bytes, high byte first
func WordsToBytes(words []uint16) []byte {
	data := make([]byte, len(words)*2)
	for i, w := range words {
		binary.BigEndian.PutUint16(data[i*2:], w)
	}
	return data
}

// BytesToWords pack bytes into words, high byte first; an odd final byte is
// padded with a zero low byte
func BytesToWords(data []byte) []uint16 {
	words := make([]uint16, (len(data)+1)/2)
	for i := range words {
		hi := uint16(data[i*2]) << 8
		if i*2+1 < len(data) {
			hi |= uint16(data[i*2+1])
		}
		words[i] = hi
	}
	return words
}

// wordsForWidth number of words holding a value of width bits
func wordsForWidth(width int) (int, bool) {
	switch width {
	case 8, 16:
		return 1, true
	case 32:
		return 2, true
	case 64:
		return 4, true
	}
	return 0, false
}

// ordered copy of words in high-word-first order
func ordered(words []uint16, order WordOrder) []uint16 {
	out := make([]uint16, len(words))
	copy(out, words)
	if order == LowWordFirst {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

func checkWidth(op string, words []uint16, width int) error {
	n, ok := wordsForWidth(width)
	if !ok {
		return &DecodeError{Op: op, Msg: "unsupported width"}
	}
	if len(words) != n {
		return &DecodeError{Op: op, Want: n, Got: len(words)}
	}
	return nil
}

// WordsToUint decode an unsigned integer of width bits (8, 16, 32 or 64).
// An 8-bit value is taken from the low byte of its single word.
func WordsToUint(words []uint16, width int, order WordOrder) (uint64, error) {
	if err := checkWidth("uint", words, width); err != nil {
		return 0, err
	}
	var v uint64
	for _, w := range ordered(words, order) {
		v = v<<16 | uint64(w)
	}
	if width == 8 {
		v &= 0xFF
	}
	return v, nil
}

// WordsToInt decode a two's-complement signed integer of width bits
func WordsToInt(words []uint16, width int, order WordOrder) (int64, error) {
	u, err := WordsToUint(words, width, order)
	if err != nil {
		return 0, err
	}
	switch width {
	case 8:
		return int64(int8(u)), nil
	case 16:
		return int64(int16(u)), nil
	case 32:
		return int64(int32(u)), nil
	}
	return int64(u), nil
}

// UintToWords encode the low width bits of v
func UintToWords(v uint64, width int, order WordOrder) ([]uint16, error) {
	n, ok := wordsForWidth(width)
	if !ok {
		return nil, &DecodeError{Op: "uint", Msg: "unsupported width"}
	}
	if width == 8 {
		v &= 0xFF
	}
	words := make([]uint16, n)
	for i := n - 1; i >= 0; i-- {
		words[i] = uint16(v)
		v >>= 16
	}
	return ordered(words, order), nil
}

// IntToWords encode a two's-complement signed integer of width bits
func IntToWords(v int64, width int, order WordOrder) ([]uint16, error) {
	return UintToWords(uint64(v), width, order)
}

// bitWidth number of bits in T
func bitWidth[T constraints.Integer]() int {
	n := 0
	for x := T(1); x != 0; x <<= 1 {
		n++
	}
	return n
}

func isSigned[T constraints.Integer]() bool {
	return ^T(0) < 0
}

// DecodeInteger decode words into the integer type T, its width taken from T
func DecodeInteger[T constraints.Integer](words []uint16, order WordOrder) (T, error) {
	width := bitWidth[T]()
	if isSigned[T]() {
		v, err := WordsToInt(words, width, order)
		return T(v), err
	}
	v, err := WordsToUint(words, width, order)
	return T(v), err
}

// EncodeInteger encode v using the width of T
func EncodeInteger[T constraints.Integer](v T, order WordOrder) []uint16 {
	words, _ := UintToWords(uint64(v), bitWidth[T](), order)
	return words
}

// WordsToFloat32 reinterpret two words as an IEEE-754 single
func WordsToFloat32(words []uint16, order WordOrder) (float32, error) {
	if len(words) != 2 {
		return 0, &DecodeError{Op: "float32", Want: 2, Got: len(words)}
	}
	u, _ := WordsToUint(words, 32, order)
	return math.Float32frombits(uint32(u)), nil
}

// WordsToFloat64 reinterpret four words as an IEEE-754 double
func WordsToFloat64(words []uint16, order WordOrder) (float64, error) {
	if len(words) != 4 {
		return 0, &DecodeError{Op: "float64", Want: 4, Got: len(words)}
	}
	u, _ := WordsToUint(words, 64, order)
	return math.Float64frombits(u), nil
}

// Float32ToWords encode an IEEE-754 single into two words
func Float32ToWords(v float32, order WordOrder) []uint16 {
	words, _ := UintToWords(uint64(math.Float32bits(v)), 32, order)
	return words
}

// Float64ToWords encode an IEEE-754 double into four words
func Float64ToWords(v float64, order WordOrder) []uint16 {
	words, _ := UintToWords(math.Float64bits(v), 64, order)
	return words
}

// WordToFloat16 reinterpret one word as an IEEE-754 half, widened to float32
func WordToFloat16(w uint16) float32 {
	return float16.Frombits(w).Float32()
}

// Float16ToWord encode v as an IEEE-754 half, rounding to nearest even
func Float16ToWord(v float32) uint16 {
	return float16.Fromfloat32(v).Bits()
}

// WordsToString decode the bytes of words as text. With trim, trailing zero
// bytes are removed first. Bytes not valid in the encoding decode to U+FFFD.
func WordsToString(words []uint16, enc Encoding, trim bool) (string, error) {
	data := WordsToBytes(words)
	if trim {
		data = bytes.TrimRight(data, "\x00")
	}
	switch enc {
	case EncodingASCII:
		var sb strings.Builder
		sb.Grow(len(data))
		for _, b := range data {
			if b < utf8.RuneSelf {
				sb.WriteByte(b)
			} else {
				sb.WriteRune(utf8.RuneError)
			}
		}
		return sb.String(), nil
	case EncodingUTF8:
		return strings.ToValidUTF8(string(data), string(utf8.RuneError)), nil
	}
	return "", &DecodeError{Op: "string", Msg: "unsupported encoding"}
}

// StringToWords encode text into words, zero padding an odd final byte
func StringToWords(s string, enc Encoding) ([]uint16, error) {
	switch enc {
	case EncodingASCII:
		for i := 0; i < len(s); i++ {
			if s[i] >= utf8.RuneSelf {
				return nil, &DecodeError{Op: "string", Msg: "text is not US-ASCII"}
			}
		}
	case EncodingUTF8:
		if !utf8.ValidString(s) {
			return nil, &DecodeError{Op: "string", Msg: "text is not valid UTF-8"}
		}
	default:
		return nil, &DecodeError{Op: "string", Msg: "unsupported encoding"}
	}
	return BytesToWords([]byte(s)), nil
}

// WordsToUnsigned widen each word to an unsigned int
func WordsToUnsigned(words []uint16) []uint {
	out := make([]uint, len(words))
	for i, w := range words {
		out[i] = uint(w)
	}
	return out
}
