package session

// State is a step of the per-card state machine.
type State int

const (
	WaitingForCard State = iota
	Classifying
	ReadingID
	ReadingName
	Reporting
)

func (s State) String() string {
	switch s {
	case WaitingForCard:
		return "WaitingForCard"
	case Classifying:
		return "Classifying"
	case ReadingID:
		return "ReadingID"
	case ReadingName:
		return "ReadingName"
	case Reporting:
		return "Reporting"
	default:
		return "Unknown"
	}
}
