package models

// Status is the derived "status LED" of a conversation.
type Status int

const (
	StatusIdle Status = iota
	StatusAwaitingText
	StatusAwaitingImage
	StatusError
	StatusNewMessage
	StatusRecovered
)

func (s Status) String() string {
	switch s {
	case StatusAwaitingText:
		return "awaiting-text"
	case StatusAwaitingImage:
		return "awaiting-image"
	case StatusError:
		return "error"
	case StatusNewMessage:
		return "new-message"
	case StatusRecovered:
		return "recovered"
	default:
		return "idle"
	}
}

// Waiting reports whether a request is in flight.
func (s Status) Waiting() bool {
	return s == StatusAwaitingText || s == StatusAwaitingImage
}
