package ina260

// Register addresses
const (
	RegConfig     byte = 0x00 // R/W
	RegCurrent    byte = 0x01 // R
	RegBusVoltage byte = 0x02 // R
	RegPower      byte = 0x03 // R
	RegMaskEnable byte = 0x06 // R/W
	RegAlertLimit byte = 0x07 // R/W
	RegMfgUID     byte = 0xFE // R
	RegDieUID     byte = 0xFF // R
)

// DefaultAddress is the address the board straps the monitor to (A0=A1=SCL).
const DefaultAddress uint16 = 0x45

// DefaultBus is the I2C bus name passed to i2creg.Open.
const DefaultBus = "0"

// TexasInstrumentsID is the value of RegMfgUID on a genuine part ("TI").
const TexasInstrumentsID uint16 = 0x5449

// LSB weights of the measurement registers
const (
	voltsPerLSB = 1.25 / 1000.0
	ampsPerLSB  = 1.25 / 1000.0
	wattsPerLSB = 10.0 / 1000.0
)

// RawToVolts converts a bus voltage register value to volts
func RawToVolts(raw uint16) float64 {
	return float64(raw) * voltsPerLSB
}

// RawToAmps converts a current register value to amps.
// The register is two's complement; negative values mean reverse current.
func RawToAmps(raw uint16) float64 {
	return float64(int16(raw)) * ampsPerLSB
}

// RawToWatts converts a power register value to watts
func RawToWatts(raw uint16) float64 {
	return float64(raw) * wattsPerLSB
}
