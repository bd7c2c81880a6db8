package battery

import "fmt"

// ShutdownMessage is broadcast right before the shutdown request
const ShutdownMessage = "Warning: battery level critical. Shutting down now..."

// Action is a side effect a Result asks the caller to perform
type Action int

const (
	// ActionReport prints the reading
	ActionReport Action = iota
	// ActionWarn broadcasts Result.WarningMessage
	ActionWarn
	// ActionShutdown halts the machine
	ActionShutdown
)

func (a Action) String() string {
	switch a {
	case ActionReport:
		return "report"
	case ActionWarn:
		return "warn"
	case ActionShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// NotificationState holds the one-shot latches for the low and very low warnings.
// Critical has no latch.
type NotificationState struct {
	SentLow     bool
	SentVeryLow bool
}

// Result describes one evaluated reading and what should happen because of it
type Result struct {
	Voltage    float64
	Percentage float64
	Band       Band
	Actions    []Action
}

// Has reports whether the result asks for the given action
func (r Result) Has(a Action) bool {
	for _, action := range r.Actions {
		if action == a {
			return true
		}
	}
	return false
}

// Summary formats the reading for the console, e.g. "12.300V (88.89%)"
func (r Result) Summary() string {
	return fmt.Sprintf("%.3fV (%s)", r.Voltage, formatPercent(r.Percentage))
}

// WarningMessage formats the broadcast text for the result's band
func (r Result) WarningMessage() string {
	return fmt.Sprintf("Warning: battery level %s (%.3fV / %s)",
		r.Band, r.Voltage, formatPercent(r.Percentage))
}

func formatPercent(fraction float64) string {
	return fmt.Sprintf("%.2f%%", fraction*100)
}

// Evaluator classifies readings against a set of thresholds
type Evaluator struct {
	Thresholds Thresholds

	// Rearm clears a latch once the voltage is back in a less severe band,
	// so a second dip warns again. Off by default: each warning is sent
	// once per process lifetime.
	Rearm bool
}

// NewEvaluator creates an evaluator after checking the thresholds
func NewEvaluator(thresholds Thresholds, rearm bool) (*Evaluator, error) {
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	return &Evaluator{Thresholds: thresholds, Rearm: rearm}, nil
}

// Evaluate classifies a reading and updates the latches in state.
// The returned actions always start with ActionReport.
func (e *Evaluator) Evaluate(voltage float64, state *NotificationState) Result {
	result := Result{
		Voltage:    voltage,
		Percentage: e.Thresholds.Percentage(voltage),
		Band:       e.Thresholds.Classify(voltage),
		Actions:    []Action{ActionReport},
	}

	if e.Rearm {
		if result.Band < VeryLow {
			state.SentVeryLow = false
		}
		if result.Band < Low {
			state.SentLow = false
		}
	}

	switch result.Band {
	case Critical:
		result.Actions = append(result.Actions, ActionWarn, ActionShutdown)
	case VeryLow:
		if !state.SentVeryLow {
			result.Actions = append(result.Actions, ActionWarn)
			state.SentVeryLow = true
		}
	case Low:
		if !state.SentLow {
			result.Actions = append(result.Actions, ActionWarn)
			state.SentLow = true
		}
	}

	return result
}
