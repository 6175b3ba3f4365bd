package session

// Phase is the coordinator's lifecycle position.
type Phase int32

const (
	Idle Phase = iota
	AwaitingPermission
	Establishing
	Active
	Stopping
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "IDLE"
	case AwaitingPermission:
		return "AWAITING_PERMISSION"
	case Establishing:
		return "ESTABLISHING"
	case Active:
		return "ACTIVE"
	case Stopping:
		return "STOPPING"
	}
	return "UNKNOWN"
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
