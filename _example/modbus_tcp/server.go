package main

import (
	"encoding/binary"
	"log"
	"math"
	"time"

	"github.com/goburrow/modbus"
	"github.com/tbrandon/mbserver"
)

// newServer in-process slave: counters at 0-1999, a serial number string at
// 404, pi as float32 at 500 and exception responses at 201-211
func newServer(listenAddr string) (*mbserver.Server, error) {
	serv := mbserver.NewServer()
	for i := 0; i < 2000; i++ {
		serv.HoldingRegisters[i] = uint16(i)
	}

	word := []byte("SN-2024-0042")
	for i := 0; i+1 < len(word); i += 2 {
		serv.HoldingRegisters[404+i/2] = binary.BigEndian.Uint16(word[i : i+2])
	}

	pi32 := math.Float32bits(math.Pi)
	serv.HoldingRegisters[500] = uint16(pi32 >> 16)
	serv.HoldingRegisters[501] = uint16(pi32)

	// inverter state: 230.4 V as 2304, -12.5 A as -125 in tenths
	serv.InputRegisters[100] = 2304
	serv.InputRegisters[101] = uint16(0xFFFF - 125 + 1)

	serv.RegisterFunctionHandler(modbus.FuncCodeReadHoldingRegisters, readHoldingRegisters)

	log.Printf("Modbus Server listening on %s", listenAddr)
	if err := serv.ListenTCP(listenAddr); err != nil {
		return nil, err
	}
	// give the listener a moment to accept
	time.Sleep(50 * time.Millisecond)
	return serv, nil
}

var exceptions = map[int]*mbserver.Exception{
	201: &mbserver.IllegalFunction,
	202: &mbserver.IllegalDataAddress,
	203: &mbserver.IllegalDataValue,
	204: &mbserver.SlaveDeviceFailure,
	205: &mbserver.AcknowledgeSlave,
	206: &mbserver.SlaveDeviceBusy,
	208: &mbserver.MemoryParityError,
	210: &mbserver.GatewayPathUnavailable,
	211: &mbserver.GatewayTargetDeviceFailedtoRespond,
}

func readHoldingRegisters(s *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	register := int(binary.BigEndian.Uint16(data[0:2]))
	numRegs := int(binary.BigEndian.Uint16(data[2:4]))
	endRegister := register + numRegs
	if endRegister > 65536 {
		return []byte{}, &mbserver.IllegalDataAddress
	}
	if exception, ok := exceptions[register]; ok {
		return []byte{}, exception
	}
	return append([]byte{byte(numRegs * 2)}, mbserver.Uint16ToBytes(s.HoldingRegisters[register:endRegister])...), &mbserver.Success
}
