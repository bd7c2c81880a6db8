package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/joho/godotenv"
	"github.com/ryansname/battmon/src/battery"
	"github.com/ryansname/battmon/src/ina260"
)

// SafeGo launches a goroutine with panic recovery and retry logic.
// On panic, retries with exponential backoff (max 10 retries).
// Retry count resets if worker ran for 2+ minutes before failing.
// After exhausting retries, cancels context to trigger shutdown.
func SafeGo(
	ctx context.Context,
	cancel context.CancelFunc,
	name string,
	fn func(ctx context.Context),
) {
	const maxRetries = 10
	const maxDelay = 10 * time.Minute
	const resetAfter = 2 * time.Minute

	go func() {
		retries := 0
		delay := time.Second

		for {
			startTime := time.Now()
			var panicValue any

			func() {
				defer func() {
					panicValue = recover()
				}()
				fn(ctx)
			}()

			// Returned normally, either cancelled or finished
			if panicValue == nil {
				return
			}

			if time.Since(startTime) >= resetAfter {
				retries = 0
				delay = time.Second
			}

			retries++
			log.Printf("Panic in %s (attempt %d/%d): %v\n", name, retries, maxRetries, panicValue)

			if retries >= maxRetries {
				log.Printf("%s failed after %d retries, shutting down\n", name, maxRetries)
				cancel()
				return
			}

			log.Printf("%s will retry in %v\n", name, delay)
			select {
			case <-time.After(delay):
				delay = min(delay*2, maxDelay)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// loadConfig resolves defaults < YAML file < environment < flags
func loadConfig(opts *Options) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Warning: Error loading .env file: %v\n", err)
	}

	cfg := DefaultConfig()
	if opts.ConfigFile != "" {
		var err error
		if cfg, err = LoadConfig(opts.ConfigFile); err != nil {
			return nil, err
		}
	}

	if err := ApplyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := opts.Apply(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(opts *Options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resultChan := make(chan battery.Result, 1)

	// Sensor: the real INA260, or a simulated one driven by the debug console
	var sensor Sensor
	if opts.DebugConsole {
		simulated := newSimulatedSensor(cfg.Thresholds().Max)
		sensor = simulated
		SafeGo(ctx, cancel, "debug-worker", func(ctx context.Context) {
			debugWorker(ctx, cancel, simulated, resultChan)
		})
	} else {
		device, bus, err := ina260.Open(cfg.Sensor.Bus, cfg.Sensor.Address)
		if err != nil {
			return err
		}
		defer bus.Close()

		if err := device.Probe(); err != nil {
			return err
		}
		log.Printf("INA260 found on bus %s at 0x%02X\n", cfg.Sensor.Bus, cfg.Sensor.Address)
		sensor = device
	}

	var broadcasters []Broadcaster
	var publishers []StatePublisher
	if opts.Broadcast {
		broadcasters = append(broadcasters, wallBroadcaster{})
	}

	if cfg.MQTT.Broker != "" {
		mqttOutgoingChan := make(chan MQTTMessage, 100)
		mqttClientChan := make(chan mqtt.Client, 1)

		SafeGo(ctx, cancel, "mqtt-sender-worker", func(ctx context.Context) {
			mqttSenderWorker(ctx, mqttOutgoingChan, mqttClientChan)
		})
		SafeGo(ctx, cancel, "mqtt-worker", func(ctx context.Context) {
			mqttWorker(ctx, cfg.MQTT, mqttClientChan)
		})

		mqttSender := NewMQTTSender(mqttOutgoingChan, cfg.Battery.Name)
		if err := mqttSender.CreateEntities(); err != nil {
			return err
		}
		broadcasters = append(broadcasters, mqttSender)
		publishers = append(publishers, mqttSender)
		log.Println("MQTT publishing enabled")
	}

	var shutdowner Shutdowner
	if opts.Shutdown {
		shutdowner = newShutdowner(ShutdownMethod(opts.ShutdownMethod))
	}

	reporter := NewReporter(os.Stdout, opts.CSV, opts.Quiet)
	if err := reporter.WriteHeader(); err != nil {
		return err
	}
	executor := NewActionExecutor(
		reporter,
		broadcasters,
		shutdowner,
		publishers,
	)

	// Wait for interrupt signal in the background; the monitor returns once ctx is done
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			log.Println("Shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	defer func() {
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	}()

	return batteryMonitorWorker(ctx, cfg.MonitorConfig(opts.Repeat, opts.SensorPolicy()), sensor, executor, resultChan)
}

func main() {
	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		if isHelp(err) {
			os.Exit(0)
		}
		// go-flags already printed its own parse errors
		if !isFlagsError(err) {
			log.Printf("battmon: %v\n", err)
		}
		os.Exit(2)
	}

	if err := run(opts); err != nil {
		log.Fatalf("battmon: %v", err)
	}
}
