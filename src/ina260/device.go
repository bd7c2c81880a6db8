// Package ina260 reads the TI INA260 power monitor over I2C.
package ina260

import (
	"errors"
	"fmt"
	"io"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// ErrTransport wraps every failed bus transaction
var ErrTransport = errors.New("ina260 transport error")

// Conn is the half-duplex transaction the device needs; *i2c.Dev satisfies it.
type Conn interface {
	Tx(w, r []byte) error
}

// Reading holds one sample of all three measurement registers
type Reading struct {
	Volts float64
	Amps  float64
	Watts float64
}

// Device is an INA260 behind a Conn
type Device struct {
	conn Conn
}

// New wraps an existing connection
func New(conn Conn) *Device {
	return &Device{conn: conn}
}

// Open initialises the host drivers and opens the device on the named bus.
// The returned closer releases the bus.
func Open(busName string, addr uint16) (*Device, io.Closer, error) {
	if _, err := host.Init(); err != nil {
		return nil, nil, fmt.Errorf("%w: host init: %w", ErrTransport, err)
	}

	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: open bus %q: %w", ErrTransport, busName, err)
	}

	return New(&i2c.Dev{Addr: addr, Bus: bus}), bus, nil
}

// ReadRegister reads a 16-bit big-endian register
func (d *Device) ReadRegister(reg byte) (uint16, error) {
	data := make([]byte, 2)
	if err := d.conn.Tx([]byte{reg}, data); err != nil {
		return 0, fmt.Errorf("%w: read register 0x%02X: %w", ErrTransport, reg, err)
	}
	return uint16(data[0])<<8 | uint16(data[1]), nil
}

// Voltage returns the bus voltage in volts
func (d *Device) Voltage() (float64, error) {
	raw, err := d.ReadRegister(RegBusVoltage)
	if err != nil {
		return 0, err
	}
	return RawToVolts(raw), nil
}

// Current returns the shunt current in amps
func (d *Device) Current() (float64, error) {
	raw, err := d.ReadRegister(RegCurrent)
	if err != nil {
		return 0, err
	}
	return RawToAmps(raw), nil
}

// Power returns the load power in watts
func (d *Device) Power() (float64, error) {
	raw, err := d.ReadRegister(RegPower)
	if err != nil {
		return 0, err
	}
	return RawToWatts(raw), nil
}

// Sample reads current, voltage and power in that order
func (d *Device) Sample() (Reading, error) {
	var r Reading
	var err error

	if r.Amps, err = d.Current(); err != nil {
		return Reading{}, err
	}
	if r.Volts, err = d.Voltage(); err != nil {
		return Reading{}, err
	}
	if r.Watts, err = d.Power(); err != nil {
		return Reading{}, err
	}
	return r, nil
}

// ManufacturerID returns the contents of the manufacturer ID register
func (d *Device) ManufacturerID() (uint16, error) {
	return d.ReadRegister(RegMfgUID)
}

// Probe checks that something answering at the address is an INA260.
// A wrong address otherwise shows up as plausible-looking garbage voltages.
func (d *Device) Probe() error {
	id, err := d.ManufacturerID()
	if err != nil {
		return err
	}
	if id != TexasInstrumentsID {
		return fmt.Errorf("%w: unexpected manufacturer id 0x%04X", ErrTransport, id)
	}
	return nil
}
