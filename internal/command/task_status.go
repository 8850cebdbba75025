package command

// Outcome is what the executor did with one delivery.
type Outcome int

const (
	Completed Outcome = iota
	Replayed
	Requeued
	Abandoned
	Dropped
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "Completed"
	case Replayed:
		return "Replayed"
	case Requeued:
		return "Requeued"
	case Abandoned:
		return "Abandoned"
	case Dropped:
		return "Dropped"
	default:
		return "Unknown"
	}
}
