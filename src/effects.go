package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/ryansname/battmon/src/battery"
	"github.com/ryansname/battmon/src/ina260"
)

// commandTimeout bounds wall and shutdown invocations
const commandTimeout = 30 * time.Second

// csvTimeFormat matches the timestamps of earlier CSV logs
const csvTimeFormat = "2006-01-02 15:04:05.000000"

// Broadcaster delivers a warning to users
type Broadcaster interface {
	Broadcast(ctx context.Context, message string) error
}

// Shutdowner halts the machine
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// StatePublisher receives every evaluated reading along with the raw sample
type StatePublisher interface {
	PublishState(reading ina260.Reading, result battery.Result) error
}

// runCommand runs an external program, folding its output into the error
func runCommand(ctx context.Context, name string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	output, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// wallBroadcaster writes the message to every logged-in terminal
type wallBroadcaster struct{}

func (wallBroadcaster) Broadcast(ctx context.Context, message string) error {
	return runCommand(ctx, "wall", message)
}

// commandShutdowner runs `shutdown now`
type commandShutdowner struct{}

func (commandShutdowner) Shutdown(ctx context.Context) error {
	return runCommand(ctx, "shutdown", "now")
}

const (
	logindDest     = "org.freedesktop.login1"
	logindPath     = "/org/freedesktop/login1"
	logindPowerOff = "org.freedesktop.login1.Manager.PowerOff"
)

// logindShutdowner asks systemd-logind to power off over D-Bus.
// login1.Conn.PowerOff drops the method reply, so the call is made here
// where a refusal (no polkit grant, inhibitor lock) comes back as an error.
type logindShutdowner struct{}

func (logindShutdowner) Shutdown(ctx context.Context) error {
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("connect to logind: %w", err)
	}
	defer conn.Close()

	return callPowerOff(ctx, conn.Object(logindDest, logindPath))
}

func callPowerOff(ctx context.Context, logind dbus.BusObject) error {
	if err := logind.CallWithContext(ctx, logindPowerOff, 0, false).Err; err != nil {
		return fmt.Errorf("logind power off: %w", err)
	}
	return nil
}

// newShutdowner returns the shutdowner for the chosen method
func newShutdowner(method ShutdownMethod) Shutdowner {
	if method == ShutdownViaLogind {
		return logindShutdowner{}
	}
	return commandShutdowner{}
}

// Reporter prints readings as plain text or CSV
type Reporter struct {
	w             io.Writer
	csv           *csv.Writer
	quiet         bool
	headerWritten bool
	now           func() time.Time
}

// NewReporter creates a reporter writing to w.
// A quiet reporter writes nothing at all.
func NewReporter(w io.Writer, csvOutput, quiet bool) *Reporter {
	r := &Reporter{w: w, quiet: quiet, now: time.Now}
	if csvOutput {
		r.csv = csv.NewWriter(w)
	}
	return r
}

// WriteHeader writes the CSV header once. It does nothing for plain or
// quiet output. Call it at startup so the header precedes any read failure.
func (r *Reporter) WriteHeader() error {
	if r.quiet || r.csv == nil || r.headerWritten {
		return nil
	}
	if err := r.csv.Write([]string{"datetime", "voltage", "percentage"}); err != nil {
		return err
	}
	r.headerWritten = true
	r.csv.Flush()
	return r.csv.Error()
}

// Report writes one reading
func (r *Reporter) Report(result battery.Result) error {
	if r.quiet {
		return nil
	}

	if r.csv == nil {
		_, err := fmt.Fprintln(r.w, result.Summary())
		return err
	}

	if err := r.WriteHeader(); err != nil {
		return err
	}

	record := []string{
		r.now().Format(csvTimeFormat),
		strconv.FormatFloat(result.Voltage, 'f', -1, 64),
		strconv.FormatFloat(result.Percentage, 'f', -1, 64),
	}
	if err := r.csv.Write(record); err != nil {
		return err
	}
	r.csv.Flush()
	return r.csv.Error()
}

// ActionExecutor performs the actions an evaluation asks for.
// A nil shutdowner means shutdown control is disabled; broadcasters are only
// the enabled delivery channels.
type ActionExecutor struct {
	reporter     *Reporter
	broadcasters []Broadcaster
	shutdowner   Shutdowner
	publishers   []StatePublisher
}

// NewActionExecutor creates an executor from the enabled collaborators
func NewActionExecutor(reporter *Reporter, broadcasters []Broadcaster, shutdowner Shutdowner, publishers []StatePublisher) *ActionExecutor {
	return &ActionExecutor{
		reporter:     reporter,
		broadcasters: broadcasters,
		shutdowner:   shutdowner,
		publishers:   publishers,
	}
}

// Execute carries out result.Actions in order. Failures are logged and do
// not stop later actions, so a failed broadcast never blocks a shutdown.
func (e *ActionExecutor) Execute(ctx context.Context, reading ina260.Reading, result battery.Result) {
	for _, action := range result.Actions {
		switch action {
		case battery.ActionReport:
			if err := e.reporter.Report(result); err != nil {
				log.Printf("Failed to write reading: %v\n", err)
			}
			for _, p := range e.publishers {
				if err := p.PublishState(reading, result); err != nil {
					log.Printf("Failed to publish state: %v\n", err)
				}
			}

		case battery.ActionWarn:
			log.Printf("Battery %s: %.3fV\n", result.Band, result.Voltage)
			e.broadcast(ctx, result.WarningMessage())

		case battery.ActionShutdown:
			if e.shutdowner == nil {
				continue
			}
			e.broadcast(ctx, battery.ShutdownMessage)
			log.Println("Battery critical, requesting shutdown")
			if err := e.shutdowner.Shutdown(ctx); err != nil {
				log.Printf("Failed to request shutdown: %v\n", err)
			}
		}
	}
}

func (e *ActionExecutor) broadcast(ctx context.Context, message string) {
	for _, b := range e.broadcasters {
		if err := b.Broadcast(ctx, message); err != nil {
			log.Printf("Failed to broadcast %q: %v\n", message, err)
		}
	}
}
