package auth

// EventKind identifies a session change.
type EventKind int

const (
	EventLoggedIn EventKind = iota + 1
	EventRefreshed
	EventLoggedOut
	EventCredentialsCleared
)

func (k EventKind) String() string {
	switch k {
	case EventLoggedIn:
		return "logged_in"
	case EventRefreshed:
		return "refreshed"
	case EventLoggedOut:
		return "logged_out"
	case EventCredentialsCleared:
		return "credentials_cleared"
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers after a session change.
type Event struct {
	Kind EventKind
}

// Subscribe registers fn for session events and returns a function that
// removes it. fn runs synchronously on the goroutine that changed the
// session and must not call Subscribe or the unsubscribe function.
func (s *Session) Subscribe(fn func(Event)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Session) emit(kind EventKind) {
	s.mu.Lock()
	fns := make([]func(Event), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(Event{Kind: kind})
	}
}
