package battery

// Band is a severity classification of the pack voltage
type Band int

const (
	Normal Band = iota
	Low
	VeryLow
	Critical
)

func (b Band) String() string {
	switch b {
	case Normal:
		return "normal"
	case Low:
		return "low"
	case VeryLow:
		return "very low"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}
