package workflow

// State identifies a position in the operator capture cycle.
type State int

const (
	// StateMainInput: the operator is entering or correcting metadata.
	StateMainInput State = iota
	// StatePositioning: metadata confirmed, core is being positioned.
	StatePositioning
	// StateCapturing: a dual-channel capture is in flight.
	StateCapturing
	// StateReviewingChannel1: operator reviews the first image.
	StateReviewingChannel1
	// StateReviewingChannel2: operator reviews the second image.
	StateReviewingChannel2
	// StateSaving: accepted pair is being written and backed up.
	StateSaving
)

func (s State) String() string {
	switch s {
	case StateMainInput:
		return "main_input"
	case StatePositioning:
		return "positioning"
	case StateCapturing:
		return "capturing"
	case StateReviewingChannel1:
		return "reviewing_channel_1"
	case StateReviewingChannel2:
		return "reviewing_channel_2"
	case StateSaving:
		return "saving"
	default:
		return "unknown"
	}
}
