package storage

// session tracks the release callbacks of one store acquisition (lock, open
// files, staged temp files). Close unwinds them in reverse order.
//
// NOTE: a session is **not** thread-safe and must not outlive the call that
// acquired it
type session struct {
	closeFns []func()
}

// AddClose pushes a cleanup callback (e.g., unlock) onto the end of the stack.
func (s *session) AddClose(fn func()) {
	s.closeFns = append(s.closeFns, fn)
}

// Close unwinds all cleanup callbacks in reverse order.
// Safe to call on a nil session or more than once.
func (s *session) Close() {
	if s == nil {
		return
	}
	for i := len(s.closeFns) - 1; i >= 0; i-- {
		s.closeFns[i]()
	}
	s.closeFns = nil
}
