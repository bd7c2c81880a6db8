package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/ryansname/battmon/src/battery"
	"github.com/ryansname/battmon/src/ina260"
)

// Sensor reads the pack on demand. Sample adds current and power at the
// cost of two more bus transactions.
type Sensor interface {
	Voltage() (float64, error)
	Sample() (ina260.Reading, error)
}

// MonitorConfig holds configuration for the battery monitor worker
type MonitorConfig struct {
	Name          string
	Thresholds    battery.Thresholds
	Rearm         bool
	Repeat        bool
	Delay         time.Duration
	OnSensorError SensorErrorPolicy
	// FullSample reads current and power too, for publishers that report them
	FullSample bool
}

// batteryMonitor owns the notification latches for one polling loop.
// Only the worker goroutine touches state.
type batteryMonitor struct {
	config     MonitorConfig
	evaluator  *battery.Evaluator
	state      battery.NotificationState
	sensor     Sensor
	executor   *ActionExecutor
	resultChan chan<- battery.Result
}

func (m *batteryMonitor) read() (ina260.Reading, error) {
	if m.config.FullSample {
		return m.sensor.Sample()
	}
	voltage, err := m.sensor.Voltage()
	return ina260.Reading{Volts: voltage}, err
}

// check reads one sample, evaluates it and performs the resulting actions
func (m *batteryMonitor) check(ctx context.Context) error {
	reading, err := m.read()
	if err != nil {
		if m.config.OnSensorError == SkipOnSensorError {
			log.Printf("%s: sensor read failed, skipping: %v\n", m.config.Name, err)
			return nil
		}
		return fmt.Errorf("%s: read voltage: %w", m.config.Name, err)
	}

	result := m.evaluator.Evaluate(reading.Volts, &m.state)
	m.executor.Execute(ctx, reading, result)

	if m.resultChan != nil {
		select {
		case m.resultChan <- result:
		default:
			// Nobody is listening right now; the next tick sends a fresh one
		}
	}

	// No-op unless running under systemd with WatchdogSec set
	_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
	return nil
}

// batteryMonitorWorker checks the battery once, then every Delay while Repeat
// is set. Cancelling ctx stops the loop without another evaluation.
// The returned error is non-nil only for an aborting sensor failure or bad thresholds.
func batteryMonitorWorker(
	ctx context.Context,
	config MonitorConfig,
	sensor Sensor,
	executor *ActionExecutor,
	resultChan chan<- battery.Result,
) error {
	evaluator, err := battery.NewEvaluator(config.Thresholds, config.Rearm)
	if err != nil {
		return err
	}

	m := &batteryMonitor{
		config:     config,
		evaluator:  evaluator,
		sensor:     sensor,
		executor:   executor,
		resultChan: resultChan,
	}

	log.Printf("%s monitor started (low: %.2fV, very low: %.2fV, critical: %.2fV)\n",
		config.Name, config.Thresholds.Low, config.Thresholds.VeryLow, config.Thresholds.Critical)

	if ctx.Err() != nil {
		return nil
	}
	if err := m.check(ctx); err != nil {
		return err
	}
	if !config.Repeat {
		return nil
	}

	timer := time.NewTimer(config.Delay)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			// Both cases can be ready at once; never evaluate after cancellation
			if ctx.Err() != nil {
				log.Printf("%s monitor stopped\n", config.Name)
				return nil
			}
			if err := m.check(ctx); err != nil {
				return err
			}
			timer.Reset(config.Delay)

		case <-ctx.Done():
			log.Printf("%s monitor stopped\n", config.Name)
			return nil
		}
	}
}
