package domain

type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Open
	Reconnecting
	PermanentlyFailed
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Reconnecting:
		return "reconnecting"
	case PermanentlyFailed:
		return "permanently_failed"
	default:
		return "unknown"
	}
}

// ConnStatus is what a socket client surfaces to the UI.
type ConnStatus struct {
	State            ConnectionState `json:"-"`
	StateName        string          `json:"state"`
	Connected        bool            `json:"connected"`
	Reconnecting     bool            `json:"reconnecting"`
	FailoverDetected bool            `json:"failover_detected"`
}

type PeerRole int

const (
	Initiator PeerRole = iota
	Answerer
)

func (r PeerRole) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "answerer"
}

type PeerState int

const (
	NoPeer PeerState = iota
	Offering
	AwaitingAnswer
	AwaitingOffer
	AnsweringOffer
	Connected
	Closed
)

func (s PeerState) String() string {
	return [...]string{"no_peer", "offering", "awaiting_answer", "awaiting_offer", "answering_offer", "connected", "closed"}[s]
}

// InitiatorOf returns which side of the pair creates the offer.
// The numerically lower id always initiates.
func InitiatorOf(a, b UserID) UserID {
	if a < b {
		return a
	}
	return b
}
