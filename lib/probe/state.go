package probe

// State is the probe state of one address within a run.
type State int

const (
	// StateIdle means the address is not being probed.
	StateIdle State = iota
	// StateProbing means the retry loop for the address is running.
	StateProbing
	// StateSucceeded means a probe operation succeeded during the run.
	StateSucceeded
	// StateSkipped means the address left the available set, or has no
	// reserved key, before a probe succeeded.
	StateSkipped
)

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProbing:
		return "probing"
	case StateSucceeded:
		return "succeeded"
	case StateSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}
