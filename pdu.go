package modbusnet

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// readRequestPDU function code, starting address, quantity
func readRequestPDU(fn Function, address, count uint16) []byte {
	pdu := make([]byte, 5)
	pdu[0] = fn.Code()
	binary.BigEndian.PutUint16(pdu[1:], address)
	binary.BigEndian.PutUint16(pdu[3:], count)
	return pdu
}

func writeBitsPDU(fn Function, address uint16, values []bool) []byte {
	if fn == WriteCoil {
		pdu := make([]byte, 5)
		pdu[0] = fn.Code()
		binary.BigEndian.PutUint16(pdu[1:], address)
		if values[0] {
			binary.BigEndian.PutUint16(pdu[3:], 0xFF00)
		}
		return pdu
	}
	packed := packBits(values)
	pdu := make([]byte, 6, 6+len(packed))
	pdu[0] = fn.Code()
	binary.BigEndian.PutUint16(pdu[1:], address)
	binary.BigEndian.PutUint16(pdu[3:], uint16(len(values)))
	pdu[5] = byte(len(packed))
	return append(pdu, packed...)
}

func writeRegistersPDU(fn Function, address uint16, values []uint16) []byte {
	if fn == WriteHoldingRegister {
		pdu := make([]byte, 5)
		pdu[0] = fn.Code()
		binary.BigEndian.PutUint16(pdu[1:], address)
		binary.BigEndian.PutUint16(pdu[3:], values[0])
		return pdu
	}
	data := WordsToBytes(values)
	pdu := make([]byte, 6, 6+len(data))
	pdu[0] = fn.Code()
	binary.BigEndian.PutUint16(pdu[1:], address)
	binary.BigEndian.PutUint16(pdu[3:], uint16(len(values)))
	pdu[5] = byte(len(data))
	return append(pdu, data...)
}

// checkResponse turn an exception response into *ExceptionError and reject a
// response for another function
func checkResponse(fn Function, pdu []byte) error {
	if len(pdu) == 0 {
		return errors.New("empty response")
	}
	if pdu[0] == fn.Code()|0x80 {
		if len(pdu) < 2 {
			return errors.New("short exception response")
		}
		return &ExceptionError{Function: fn, Code: pdu[1]}
	}
	if pdu[0] != fn.Code() {
		return errors.Errorf("response function %#02x does not match request %#02x", pdu[0], fn.Code())
	}
	return nil
}

// readPayload data bytes of a read response, checked against the expected length
func readPayload(fn Function, pdu []byte, want int) ([]byte, error) {
	if err := checkResponse(fn, pdu); err != nil {
		return nil, err
	}
	if len(pdu) < 2 {
		return nil, errors.Errorf("short %s response: %d bytes", fn, len(pdu))
	}
	n := int(pdu[1])
	if n != want || len(pdu) != 2+n {
		return nil, errors.Errorf("invalid %s response length: byte count %d, want %d, got %d bytes",
			fn, n, want, len(pdu)-2)
	}
	return pdu[2:], nil
}

func parseReadBits(fn Function, pdu []byte, count int) ([]bool, error) {
	data, err := readPayload(fn, pdu, (count+7)/8)
	if err != nil {
		return nil, err
	}
	return unpackBits(data, count), nil
}

func parseReadRegisters(fn Function, pdu []byte, count int) ([]uint16, error) {
	data, err := readPayload(fn, pdu, count*2)
	if err != nil {
		return nil, err
	}
	return BytesToWords(data), nil
}

// checkWriteResponse a write response echoes the request address and the value
// (single writes) or quantity (multiple writes)
func checkWriteResponse(fn Function, req, resp []byte) error {
	if err := checkResponse(fn, resp); err != nil {
		return err
	}
	if len(resp) != 5 {
		return errors.Errorf("invalid %s response length: %d bytes", fn, len(resp))
	}
	if string(resp[1:5]) != string(req[1:5]) {
		return errors.Errorf("%s response % x does not echo request % x", fn, resp[1:5], req[1:5])
	}
	return nil
}
