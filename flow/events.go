package flow

// EventType is what the presentation layer is told about a finished attempt.
type EventType int

const (
	LoginCompleted EventType = iota + 1
	LoginFailed
	// LoginNotPersisted means the provider issued a token but it could not be saved,
	// so the session will not survive a restart.
	LoginNotPersisted
)

func (t EventType) String() string {
	switch t {
	case LoginCompleted:
		return "LoginCompleted"
	case LoginFailed:
		return "LoginFailed"
	case LoginNotPersisted:
		return "LoginNotPersisted"
	default:
		return "Unknown"
	}
}

type Event struct {
	Type      EventType
	AttemptID string
	Err       error
}

func eventFor(attemptID string, err error) Event {
	switch {
	case err == nil:
		return Event{Type: LoginCompleted, AttemptID: attemptID}
	case KindOf(err) == StoreFailed:
		return Event{Type: LoginNotPersisted, AttemptID: attemptID, Err: err}
	default:
		return Event{Type: LoginFailed, AttemptID: attemptID, Err: err}
	}
}
