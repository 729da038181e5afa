package modbusnet

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const (
	mbapHeaderSize = 7
	maxPDUSize     = 253
)

var crcTable = func() (table [256]uint16) {
	for i := range table {
		crc := uint16(i)
		for j := 0; j < 8; j++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ 0xA001
			} else {
				crc >>= 1
			}
		}
		table[i] = crc
	}
	return
}()

// crc16 Modbus CRC, transmitted low byte first
func crc16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc = crc>>8 ^ crcTable[byte(crc)^b]
	}
	return crc
}

// framer wraps a PDU into an ADU for one link framing and reads it back
type framer interface {
	encode(txID uint16, unitID uint8, pdu []byte) []byte
	decode(r io.Reader, txID uint16, unitID uint8) ([]byte, error)
}

// tcpFramer Modbus TCP: MBAP header (transaction, protocol, length, unit) + PDU
type tcpFramer struct{}

func (tcpFramer) encode(txID uint16, unitID uint8, pdu []byte) []byte {
	adu := make([]byte, mbapHeaderSize, mbapHeaderSize+len(pdu))
	binary.BigEndian.PutUint16(adu[0:], txID)
	binary.BigEndian.PutUint16(adu[4:], uint16(1+len(pdu)))
	adu[6] = unitID
	return append(adu, pdu...)
}

func (tcpFramer) decode(r io.Reader, txID uint16, unitID uint8) ([]byte, error) {
	header := make([]byte, mbapHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, errors.Wrap(err, "read MBAP header")
	}
	if p := binary.BigEndian.Uint16(header[2:]); p != 0 {
		return nil, errors.Errorf("invalid protocol identifier %d", p)
	}
	length := int(binary.BigEndian.Uint16(header[4:]))
	if length < 2 || length > maxPDUSize+1 {
		return nil, errors.Errorf("invalid MBAP length %d", length)
	}
	pdu := make([]byte, length-1)
	if _, err := io.ReadFull(r, pdu); err != nil {
		return nil, errors.Wrap(err, "read PDU")
	}
	if got := binary.BigEndian.Uint16(header[0:]); got != txID {
		return nil, errors.Errorf("transaction id %d does not match request %d", got, txID)
	}
	if header[6] != unitID {
		return nil, errors.Errorf("unit id %d does not match request %d", header[6], unitID)
	}
	return pdu, nil
}

// rtuFramer Modbus RTU: unit id + PDU + CRC. Used on serial links and for
// headless (RTU over TCP) framing.
type rtuFramer struct{}

func (rtuFramer) encode(_ uint16, unitID uint8, pdu []byte) []byte {
	adu := make([]byte, 1, len(pdu)+3)
	adu[0] = unitID
	adu = append(adu, pdu...)
	crc := crc16(adu)
	return append(adu, byte(crc), byte(crc>>8))
}

func (rtuFramer) decode(r io.Reader, _ uint16, unitID uint8) ([]byte, error) {
	adu, err := readRTUFrame(r)
	if err != nil {
		return nil, err
	}
	if adu[0] != unitID {
		return nil, errors.Errorf("unit id %d does not match request %d", adu[0], unitID)
	}
	return adu[1 : len(adu)-2], nil
}

// readRTUFrame read one RTU response ADU, sizing it from the function code, and
// verify its CRC
func readRTUFrame(r io.Reader) ([]byte, error) {
	adu := make([]byte, 2, 256)
	if _, err := io.ReadFull(r, adu); err != nil {
		return nil, errors.Wrap(err, "read RTU header")
	}
	var rest int
	fc := adu[1]
	switch {
	case fc&0x80 != 0:
		rest = 3 // exception code + CRC
	case fc >= 0x01 && fc <= 0x04:
		count := make([]byte, 1)
		if _, err := io.ReadFull(r, count); err != nil {
			return nil, errors.Wrap(err, "read RTU byte count")
		}
		adu = append(adu, count[0])
		rest = int(count[0]) + 2
	case fc == 0x05 || fc == 0x06 || fc == 0x0F || fc == 0x10:
		rest = 6 // address + value/quantity + CRC
	default:
		return nil, errors.Errorf("unsupported function %#02x in RTU response", fc)
	}
	tail := make([]byte, rest)
	if _, err := io.ReadFull(r, tail); err != nil {
		return nil, errors.Wrap(err, "read RTU frame")
	}
	adu = append(adu, tail...)
	n := len(adu)
	if want, got := crc16(adu[:n-2]), binary.LittleEndian.Uint16(adu[n-2:]); want != got {
		return nil, errors.Errorf("RTU CRC mismatch: computed %#04x, received %#04x", want, got)
	}
	return adu, nil
}
