package modbusnet

import (
	"github.com/bits-and-blooms/bitset"
)

// packBits pack bit values LSB first, as carried by coil requests and responses
func packBits(values []bool) []byte {
	data := make([]byte, (len(values)+7)/8)
	for i, v := range values {
		if v {
			data[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return data
}

// unpackBits unpack count bit values from LSB-first bytes
func unpackBits(data []byte, count int) []bool {
	values := make([]bool, count)
	for i := range values {
		if i/8 < len(data) {
			values[i] = data[i/8]&(1<<(uint(i)%8)) != 0
		}
	}
	return values
}

func boolsToBitSet(values []bool) *bitset.BitSet {
	bits := bitset.New(uint(len(values)))
	for i, v := range values {
		if v {
			bits.Set(uint(i))
		}
	}
	return bits
}

func bitSetToBools(bits *bitset.BitSet, count int) []bool {
	values := make([]bool, count)
	if bits == nil {
		return values
	}
	for i := range values {
		values[i] = bits.Test(uint(i))
	}
	return values
}

// BitsToWords pack the first count*16 bits into count words. Bit 0 is the least
// significant bit of the least significant word, whose position follows order.
func BitsToWords(bits *bitset.BitSet, count int, order WordOrder) []uint16 {
	words := make([]uint16, count)
	if bits == nil {
		return words
	}
	for i, ok := bits.NextSet(0); ok && i < uint(count*16); i, ok = bits.NextSet(i + 1) {
		pos := count - int(i/16) - 1
		if order == LowWordFirst {
			pos = int(i / 16)
		}
		words[pos] |= 1 << (i % 16)
	}
	return words
}

// WordsToBits inverse of BitsToWords
func WordsToBits(words []uint16, order WordOrder) *bitset.BitSet {
	size := len(words)
	bits := bitset.New(uint(size * 16))
	for pos, w := range words {
		base := (size - pos - 1) * 16
		if order == LowWordFirst {
			base = pos * 16
		}
		for i := 0; i < 16; i++ {
			if w&(1<<i) != 0 {
				bits.Set(uint(base + i))
			}
		}
	}
	return bits
}
