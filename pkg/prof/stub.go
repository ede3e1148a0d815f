//go:build !profile

package prof

// Available reports whether profiling support is compiled in.
const Available = false

// Session is inert when built without the "profile" tag.
type Session struct {
	stopped bool
}

// Start returns an inert session when built without the "profile" tag.
func Start(_ Config) (*Session, error) {
	return &Session{}, nil
}

// Stop marks the session stopped. A second call returns [ErrSessionStopped].
func (s *Session) Stop() error {
	if s.stopped {
		return ErrSessionStopped
	}
	s.stopped = true
	return nil
}
