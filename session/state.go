package session

// State is the phase of one read.
type State int

const (
	// StateIdle is the state before the credential was checked.
	StateIdle State = iota
	// StateConnecting opens the logical session with the validation backend.
	StateConnecting
	// StateAuthenticating holds the reader and runs BAC or PACE.
	StateAuthenticating
	// StateReading holds the reader and reads the data groups.
	StateReading
	// StateVerifying checks the SOD and waits for the backend's verdict.
	StateVerifying
	// StateCompleted means the read resolved with passport JSON.
	StateCompleted
	// StateFailed means the read resolved with an error.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting"
	case StateAuthenticating:
		return "Authenticating"
	case StateReading:
		return "Reading"
	case StateVerifying:
		return "Verifying"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}
