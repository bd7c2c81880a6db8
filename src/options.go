package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

// SensorErrorPolicy decides what a failed sensor read does to the loop
type SensorErrorPolicy string

const (
	// AbortOnSensorError stops the monitor and exits non-zero
	AbortOnSensorError SensorErrorPolicy = "abort"
	// SkipOnSensorError logs the failure and tries again next tick
	SkipOnSensorError SensorErrorPolicy = "skip"
)

// ShutdownMethod selects how the machine is halted
type ShutdownMethod string

const (
	ShutdownViaCommand ShutdownMethod = "command"
	ShutdownViaLogind  ShutdownMethod = "logind"
)

// Options defines command line options.
// Zero values mean "not given" so the config file and env can supply them.
type Options struct {
	Repeat    bool    `short:"r" long:"repeat" description:"repeat monitoring in a loop"`
	Delay     float64 `short:"d" long:"delay" description:"repeat delay in seconds (default 5)"`
	Broadcast bool    `short:"b" long:"broadcast" description:"broadcast battery low messages"`
	Shutdown  bool    `short:"s" long:"shutdown" description:"shut down when battery gets critical (requires root)"`
	CSV       bool    `short:"c" long:"csv" description:"use CSV output format"`
	Quiet     bool    `short:"q" long:"quiet" description:"do not print output to terminal"`

	ConfigFile     string `long:"config" description:"YAML config file"`
	Cells          int    `long:"cells" description:"series cell count (default 3)"`
	Bus            string `long:"bus" description:"I2C bus name (default 0)"`
	Address        string `long:"address" description:"INA260 I2C address (default 0x45)"`
	Rearm          bool   `long:"rearm" description:"warn again after the voltage recovers"`
	OnSensorError  string `long:"on-sensor-error" choice:"abort" choice:"skip" default:"abort" description:"what to do when a sensor read fails"`
	ShutdownMethod string `long:"shutdown-method" choice:"command" choice:"logind" default:"command" description:"how to halt the machine"`
	MQTTBroker     string `long:"mqtt" description:"MQTT broker host to publish readings to"`
	DebugConsole   bool   `long:"debug-console" description:"interactive console with a simulated sensor"`
}

// parseOptions returns parsed command-line flags
func parseOptions(args []string) (*Options, error) {
	opt := &Options{}
	parser := flags.NewParser(opt, flags.Default)
	parser.Name = "battmon"
	parser.ShortDescription = "Monitor battery level"

	rest, err := parser.ParseArgs(args)
	if err != nil {
		return nil, err
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("%w: unexpected arguments %v", ErrInvalidConfig, rest)
	}
	// An explicit zero would read as "not given" in Apply
	if parser.FindOptionByLongName("delay").IsSet() && opt.Delay <= 0 {
		return nil, fmt.Errorf("%w: delay must be positive, got %v", ErrInvalidConfig, opt.Delay)
	}
	if parser.FindOptionByLongName("cells").IsSet() && opt.Cells <= 0 {
		return nil, fmt.Errorf("%w: cell count must be positive, got %d", ErrInvalidConfig, opt.Cells)
	}
	// The console is useless once the first tick returns
	if opt.DebugConsole {
		opt.Repeat = true
	}

	return opt, nil
}

func isHelp(err error) bool {
	return flags.WroteHelp(err)
}

func isFlagsError(err error) bool {
	var flagsErr *flags.Error
	return errors.As(err, &flagsErr)
}

// Apply overrides cfg with every option that was given
func (o *Options) Apply(cfg *Config) error {
	if o.Delay > 0 {
		cfg.Monitor.Delay = time.Duration(o.Delay * float64(time.Second))
	}
	if o.Cells > 0 {
		cfg.Battery.Cells = o.Cells
		// Asking for a cell count on the command line beats file thresholds
		cfg.Battery.Thresholds = nil
	}
	if o.Bus != "" {
		cfg.Sensor.Bus = o.Bus
	}
	if o.Address != "" {
		addr, err := parseAddress(o.Address)
		if err != nil {
			return err
		}
		cfg.Sensor.Address = addr
	}
	if o.Rearm {
		cfg.Battery.Rearm = true
	}
	if o.MQTTBroker != "" {
		cfg.MQTT.Broker = o.MQTTBroker
	}
	return nil
}

// SensorPolicy returns the parsed --on-sensor-error choice
func (o *Options) SensorPolicy() SensorErrorPolicy {
	if o.OnSensorError == string(SkipOnSensorError) {
		return SkipOnSensorError
	}
	return AbortOnSensorError
}
