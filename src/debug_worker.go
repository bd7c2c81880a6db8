package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/chzyer/readline"
	"github.com/ryansname/battmon/src/battery"
	"github.com/ryansname/battmon/src/ina260"
)

// errSimulatedFailure is what the simulated sensor returns after `fail`
var errSimulatedFailure = errors.New("simulated sensor failure")

// simulatedSensor stands in for the INA260 while the debug console runs.
// The console goroutine writes it and the monitor goroutine reads it.
type simulatedSensor struct {
	mu      sync.Mutex
	reading ina260.Reading
	failing bool
}

func newSimulatedSensor(voltage float64) *simulatedSensor {
	return &simulatedSensor{reading: ina260.Reading{Volts: voltage}}
}

// Voltage returns the last value set, or an error while failing
func (s *simulatedSensor) Voltage() (float64, error) {
	r, err := s.Sample()
	return r.Volts, err
}

// Sample returns the last reading set, or an error while failing
func (s *simulatedSensor) Sample() (ina260.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return ina260.Reading{}, errSimulatedFailure
	}
	return s.reading, nil
}

// Set changes the simulated reading and clears any failure.
// Power follows from voltage and current.
func (s *simulatedSensor) Set(volts, amps float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reading = ina260.Reading{Volts: volts, Amps: amps, Watts: volts * amps}
	s.failing = false
}

// Fail makes subsequent reads fail until the next Set
func (s *simulatedSensor) Fail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = true
}

// readlineWriter wraps log output to work with readline
type readlineWriter struct {
	rl *readline.Instance
}

func (w *readlineWriter) Write(p []byte) (n int, err error) {
	if w.rl != nil {
		w.rl.Clean()
	}
	n, err = os.Stderr.Write(p)
	if w.rl != nil {
		w.rl.Refresh()
	}
	return n, err
}

// Global readline writer for log output
var rlWriter = &readlineWriter{}

// DebugState holds what the console knows about the monitor
type DebugState struct {
	sensor *simulatedSensor
	latest *battery.Result
	rl     *readline.Instance
}

// NewDebugState creates a new debug state driving the given sensor
func NewDebugState(sensor *simulatedSensor) *DebugState {
	return &DebugState{sensor: sensor}
}

// UpdateResult stores the latest evaluation for the status command
func (s *DebugState) UpdateResult(result battery.Result) {
	s.latest = &result
}

// print outputs a line, handling readline prompt properly
func (s *DebugState) print(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if s.rl != nil {
		s.rl.Clean()
		fmt.Println(line)
		s.rl.Refresh()
	} else {
		fmt.Println(line)
	}
}

// PrintStatus prints the last evaluated reading
func (s *DebugState) PrintStatus() {
	if s.latest == nil {
		log.Println("No reading evaluated yet")
		return
	}

	actions := make([]string, 0, len(s.latest.Actions))
	for _, a := range s.latest.Actions {
		actions = append(actions, a.String())
	}
	s.print("%s band=%s actions=%s", s.latest.Summary(), s.latest.Band, strings.Join(actions, ","))
}

// handleDebugCommand processes a debug command
func handleDebugCommand(cmd string, state *DebugState, cancel context.CancelFunc) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return
	}

	switch parts[0] {
	case "set":
		if len(parts) < 2 || len(parts) > 3 {
			log.Println("Usage: set <volts> [amps]")
			return
		}
		v, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			log.Printf("Error: bad voltage %q", parts[1])
			return
		}
		var a float64
		if len(parts) == 3 {
			if a, err = strconv.ParseFloat(parts[2], 64); err != nil {
				log.Printf("Error: bad current %q", parts[2])
				return
			}
		}
		state.sensor.Set(v, a)
		log.Printf("Simulated reading: %.3fV %.3fA", v, a)

	case "fail":
		state.sensor.Fail()
		log.Println("Simulated sensor now failing (set a voltage to recover)")

	case "status":
		state.PrintStatus()

	case "quit", "exit":
		cancel()

	case "help":
		fmt.Println("Commands:")
		fmt.Println("  set <volts> [amps] - Set the simulated pack voltage and current")
		fmt.Println("  fail               - Make sensor reads fail until the next set")
		fmt.Println("  status             - Show the last evaluated reading")
		fmt.Println("  quit               - Stop monitoring")
		fmt.Println("  help               - Show this help")

	default:
		log.Printf("Unknown command: %s (try 'help')", parts[0])
	}
}

// readlineLoop runs the readline loop, sending commands to the channel
func readlineLoop(
	ctx context.Context,
	cancel context.CancelFunc,
	rl *readline.Instance,
	commandChan chan<- string,
) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			cancel() // Ctrl+C pressed, shutdown the app
			return
		}
		if err != nil {
			return // EOF or other error
		}
		line = strings.TrimSpace(line)
		if line != "" {
			commandChan <- line
		}
	}
}

// getHistoryFilePath returns the path for debug history file
func getHistoryFilePath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "" // No history if we can't find home
		}
		cacheDir = filepath.Join(home, ".cache")
	}
	battmonCache := filepath.Join(cacheDir, "battmon")
	_ = os.MkdirAll(battmonCache, 0750)
	return filepath.Join(battmonCache, "debug_history")
}

// debugWorker drives the simulated sensor from an interactive console
func debugWorker(
	ctx context.Context,
	cancel context.CancelFunc,
	sensor *simulatedSensor,
	resultChan <-chan battery.Result,
) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "battmon> ",
		HistoryFile: getHistoryFilePath(),
	})
	if err != nil {
		log.Printf("Debug worker: readline init failed: %v", err)
		return
	}
	defer func() {
		_ = rl.Close()
		rlWriter.rl = nil
	}()

	// Redirect log output through readline-aware writer
	rlWriter.rl = rl
	log.SetOutput(rlWriter)

	log.Println("Debug worker started (type 'help' for commands)")

	commandChan := make(chan string, 10)
	state := NewDebugState(sensor)
	state.rl = rl

	go readlineLoop(ctx, cancel, rl, commandChan)

	for {
		select {
		case cmd := <-commandChan:
			handleDebugCommand(cmd, state, cancel)
		case result := <-resultChan:
			state.UpdateResult(result)
		case <-ctx.Done():
			log.Println("Debug worker stopped")
			return
		}
	}
}
