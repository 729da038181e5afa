package main

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/solarnode/modbusnet"
)

const listenAddr = "127.0.0.1:1502"

func main() {
	serv, err := newServer(listenAddr)
	if err != nil {
		log.Fatalf("Error: %s", err)
	}
	defer serv.Close()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	engine := modbusnet.EngineTransaction
	if len(os.Args) > 1 {
		if engine, err = modbusnet.ParseEngine(os.Args[1]); err != nil {
			log.Fatalf("Error: %s", err)
		}
	}

	network := modbusnet.NewTCPNetwork("127.0.0.1", 1502,
		modbusnet.WithEngine(engine),
		modbusnet.WithKeepOpen(30*time.Second),
		modbusnet.WithLogger(logger),
		modbusnet.WithWireLogging(true),
	)
	defer network.Close()

	ctx := context.Background()
	registers := registerMap()

	values, err := modbusnet.Perform(ctx, network, 1, func(ctx context.Context, conn modbusnet.Connection) (map[string]any, error) {
		return registers.ReadAll(ctx, conn)
	})
	if err != nil {
		log.Fatalf("Error: %s", err)
	}
	log.Printf("Read: %v", values)

	err = network.PerformAction(ctx, 1, func(ctx context.Context, conn modbusnet.Connection) error {
		if err := registers["setpoint"].Write(ctx, conn, 48.5); err != nil {
			return err
		}
		if err := conn.WriteWords(ctx, modbusnet.WriteMultipleHoldingRegisters, 10, []uint16{0x1234, 0x4321, 0xFFFF, 0x1000}); err != nil {
			return err
		}
		words, err := conn.ReadWords(ctx, modbusnet.ReadHoldingRegister, 10, 4)
		if err != nil {
			return err
		}
		log.Printf("Words: %04x", words)
		return nil
	})
	if err != nil {
		log.Fatalf("Error: %s", err)
	}

	// device exception responses surface as *ExceptionError
	err = network.PerformAction(ctx, 1, func(ctx context.Context, conn modbusnet.Connection) error {
		_, err := conn.ReadWords(ctx, modbusnet.ReadHoldingRegister, 202, 1)
		return err
	})
	var exception *modbusnet.ExceptionError
	if errors.As(err, &exception) {
		log.Printf("Exception: %s", exception)
	}
}

func registerMap() modbusnet.RegisterMap {
	return modbusnet.RegisterMap{
		"serial": {
			Function:  modbusnet.ReadHoldingRegister,
			Address:   404,
			DataType:  modbusnet.DataTypeStringASCII,
			WordCount: 8,
		},
		"pi": {
			Function: modbusnet.ReadHoldingRegister,
			Address:  500,
			DataType: modbusnet.DataTypeFloat32,
		},
		"voltage": {
			Function:    modbusnet.ReadInputRegister,
			Address:     100,
			DataType:    modbusnet.DataTypeUInt16,
			Coefficient: 0.1,
		},
		"current": {
			Function:    modbusnet.ReadInputRegister,
			Address:     101,
			DataType:    modbusnet.DataTypeInt16,
			Coefficient: 0.1,
		},
		"setpoint": {
			Function:    modbusnet.ReadHoldingRegister,
			Address:     120,
			DataType:    modbusnet.DataTypeUInt32,
			Coefficient: 0.01,
		},
	}
}
