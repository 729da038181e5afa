package modbusnet

import (
	"fmt"
	"strings"
)

// LinkType physical link type of a network
type LinkType uint8

const (
	LinkTCP    LinkType = 1
	LinkSerial LinkType = 2
)

func (t LinkType) String() string {
	switch t {
	case LinkTCP:
		return "tcp"
	case LinkSerial:
		return "serial"
	}
	return fmt.Sprintf("LinkType(%d)", uint8(t))
}

// WordOrder order of the words of a multi-word value
type WordOrder uint8

const (
	HighWordFirst WordOrder = iota // default, most significant word first
	LowWordFirst                   // least significant word first
)

func (o WordOrder) String() string {
	if o == LowWordFirst {
		return "LowWordFirst"
	}
	return "HighWordFirst"
}

// Encoding text encoding of string registers
type Encoding uint8

const (
	EncodingASCII Encoding = iota
	EncodingUTF8
)

func (e Encoding) String() string {
	if e == EncodingUTF8 {
		return "UTF-8"
	}
	return "US-ASCII"
}

// Engine selects the backend controller implementation of a network
type Engine uint8

const (
	EngineTransaction Engine = iota // blocking transaction engine (goburrow/modbus)
	EngineMaster                    // master object engine (simonvetter/modbus)
	EngineEventLoop                 // goroutine event loop engine
)

var engineNames = map[Engine]string{
	EngineTransaction: "transaction",
	EngineMaster:      "master",
	EngineEventLoop:   "eventloop",
}

func (e Engine) String() string {
	if s, ok := engineNames[e]; ok {
		return s
	}
	return fmt.Sprintf("Engine(%d)", uint8(e))
}

// ParseEngine parse an engine name, as used by configuration surfaces
func ParseEngine(s string) (Engine, error) {
	for e, name := range engineNames {
		if strings.EqualFold(name, s) {
			return e, nil
		}
	}
	return 0, fmt.Errorf("unknown modbus engine %q", s)
}

// Unit identifier ranges.
const (
	UnitBroadcast     uint8 = 0
	UnitIndividualMax uint8 = 247
	UnitTCP           uint8 = 255
)

// Modbus protocol limits per request.
const (
	MaxReadBits          = 2000
	MaxReadRegisters     = 125
	MaxWriteBits         = 1968
	MaxWriteRegisters    = 123
	addressSpaceSize     = 65536
	defaultModbusTCPPort = 502
)
