package energymeter

import (
	"fmt"
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

// EnergyReader reads the cumulative imported energy of a meter.
type EnergyReader interface {
	Open() error
	Close() error
	ReadEnergyKWh() (float64, error)
}

type ModbusInstrument struct {
	RecordTime func(fnName string, readTime time.Duration)
}

// ModbusEnergyReader reads a float32 energy counter over Modbus TCP.
type ModbusEnergyReader struct {
	client     *modbus.ModbusClient
	register   uint16
	regType    modbus.RegType
	instrument []ModbusInstrument
}

func ParseRegType(s string) (modbus.RegType, error) {
	switch s {
	case "input":
		return modbus.INPUT_REGISTER, nil
	case "holding", "":
		return modbus.HOLDING_REGISTER, nil
	}
	return 0, fmt.Errorf("unknown register type %q", s)
}

func CreateModbusEnergyReader(ip string, port uint, unitId uint8, register uint16, regType modbus.RegType,
	timeout time.Duration, logger *zap.Logger, instrumentation *ModbusInstrument) (EnergyReader, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", ip, port),
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}
	if err := client.SetUnitId(unitId); err != nil {
		return nil, err
	}
	if err := client.SetEncoding(modbus.BIG_ENDIAN, modbus.HIGH_WORD_FIRST); err != nil {
		return nil, err
	}

	var inst []ModbusInstrument
	logInst := traceLoggerInstrumentation(logger.With(zap.String("target", "energyMeter"), zap.Uint8("unitId", unitId)))
	if logInst != nil {
		inst = append(inst, *logInst)
	}
	if instrumentation != nil {
		inst = append(inst, *instrumentation)
	}

	return &ModbusEnergyReader{
		client:     client,
		register:   register,
		regType:    regType,
		instrument: inst,
	}, nil
}

func (reader *ModbusEnergyReader) Open() error {
	return reader.client.Open()
}

func (reader *ModbusEnergyReader) Close() error {
	return reader.client.Close()
}

func (reader *ModbusEnergyReader) ReadEnergyKWh() (float64, error) {
	defer RecordTimer("ReadFloat32", reader.instrument)()
	value, err := reader.client.ReadFloat32(reader.register, reader.regType)
	if err != nil {
		return 0, err
	}
	return float64(value), nil
}

func RecordTimer(name string, instrument []ModbusInstrument) func() {
	if instrument == nil {
		return func() {}
	}

	start := time.Now()
	return func() {
		duration := time.Since(start)
		for i := range instrument {
			instrument[i].RecordTime(name, duration)
		}
	}
}

func traceLoggerInstrumentation(logger *zap.Logger) *ModbusInstrument {
	if !logger.Core().Enabled(zap.DebugLevel) {
		return nil
	}
	return &ModbusInstrument{
		RecordTime: func(fnName string, readTime time.Duration) {
			logger.Debug("modbus read", zap.String("fn", fnName), zap.Duration("time", readTime))
		},
	}
}
