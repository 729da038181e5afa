package modbusnet

import "fmt"

// Function Modbus function, valued with its wire opcode
type Function uint8

const (
	ReadCoil                      Function = 0x01 // Coil (0x01-Read single or multiple)
	ReadDiscreteInput             Function = 0x02 // Discrete Input (0x02-Read single or multiple)
	ReadHoldingRegister           Function = 0x03 // Holding Register (0x03-Read single or multiple)
	ReadInputRegister             Function = 0x04 // Input Register (0x04-Read single or multiple)
	WriteCoil                     Function = 0x05 // Coil (0x05-Write single)
	WriteHoldingRegister          Function = 0x06 // Holding Register (0x06-Write single)
	WriteMultipleCoils            Function = 0x0F // Coil (0x0F-Write multiple)
	WriteMultipleHoldingRegisters Function = 0x10 // Holding Register (0x10-Write multiple)
)

var functionNames = map[Function]string{
	ReadCoil:                      "ReadCoil",
	ReadDiscreteInput:             "ReadDiscreteInput",
	ReadHoldingRegister:           "ReadHoldingRegister",
	ReadInputRegister:             "ReadInputRegister",
	WriteCoil:                     "WriteCoil",
	WriteHoldingRegister:          "WriteHoldingRegister",
	WriteMultipleCoils:            "WriteMultipleCoils",
	WriteMultipleHoldingRegisters: "WriteMultipleHoldingRegisters",
}

// FunctionList all supported functions
var FunctionList = []Function{
	ReadCoil,
	ReadDiscreteInput,
	ReadHoldingRegister,
	ReadInputRegister,
	WriteCoil,
	WriteHoldingRegister,
	WriteMultipleCoils,
	WriteMultipleHoldingRegisters,
}

func (f Function) String() string {
	if s, ok := functionNames[f]; ok {
		return s
	}
	return fmt.Sprintf("Function(%#02x)", uint8(f))
}

// Code wire opcode
func (f Function) Code() byte {
	return byte(f)
}

// Supported reports whether f is one of the known functions
func (f Function) Supported() bool {
	_, ok := functionNames[f]
	return ok
}

// IsRead reports whether f reads from the device
func (f Function) IsRead() bool {
	switch f {
	case ReadCoil, ReadDiscreteInput, ReadHoldingRegister, ReadInputRegister:
		return true
	}
	return false
}

// IsWrite reports whether f writes to the device
func (f Function) IsWrite() bool {
	switch f {
	case WriteCoil, WriteHoldingRegister, WriteMultipleCoils, WriteMultipleHoldingRegisters:
		return true
	}
	return false
}

// IsBit reports whether f addresses single-bit values (coils, discrete inputs)
func (f Function) IsBit() bool {
	switch f {
	case ReadCoil, ReadDiscreteInput, WriteCoil, WriteMultipleCoils:
		return true
	}
	return false
}

// MaxCount protocol maximum of values in one request, 0 when unsupported
func (f Function) MaxCount() int {
	switch f {
	case ReadCoil, ReadDiscreteInput:
		return MaxReadBits
	case ReadHoldingRegister, ReadInputRegister:
		return MaxReadRegisters
	case WriteCoil, WriteHoldingRegister:
		return 1
	case WriteMultipleCoils:
		return MaxWriteBits
	case WriteMultipleHoldingRegisters:
		return MaxWriteRegisters
	}
	return 0
}

// Validate check a request of count values starting at address
func (f Function) Validate(address, count int) error {
	if !f.Supported() {
		return &ProtocolLimitError{Function: f, Address: address, Count: count, Reason: "unsupported function"}
	}
	max := f.MaxCount()
	if count < 1 || count > max {
		return &ProtocolLimitError{Function: f, Address: address, Count: count, Max: max}
	}
	if address < 0 || address+count > addressSpaceSize {
		return &ProtocolLimitError{Function: f, Address: address, Count: count, Max: max,
			Reason: "address range outside 0-65535"}
	}
	return nil
}

// WriteFor the write function matching the address space of a read function,
// choosing the single or multiple variant from count.
func (f Function) WriteFor(count int) (Function, bool) {
	switch f {
	case ReadCoil, WriteCoil, WriteMultipleCoils:
		if count == 1 {
			return WriteCoil, true
		}
		return WriteMultipleCoils, true
	case ReadHoldingRegister, WriteHoldingRegister, WriteMultipleHoldingRegisters:
		if count == 1 {
			return WriteHoldingRegister, true
		}
		return WriteMultipleHoldingRegisters, true
	}
	return 0, false
}

// checkShape verify direction and value kind before Validate
func (f Function) checkShape(address, count int, write, bit bool) error {
	switch {
	case write && !f.IsWrite():
		return &ProtocolLimitError{Function: f, Address: address, Count: count, Reason: "not a write function"}
	case !write && !f.IsRead():
		return &ProtocolLimitError{Function: f, Address: address, Count: count, Reason: "not a read function"}
	case bit && !f.IsBit():
		return &ProtocolLimitError{Function: f, Address: address, Count: count, Reason: "not a bit function"}
	case !bit && f.IsBit():
		return &ProtocolLimitError{Function: f, Address: address, Count: count, Reason: "not a register function"}
	}
	return f.Validate(address, count)
}
