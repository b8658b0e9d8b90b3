package scheduler

// Signal is the cooperative interrupt between the change monitor and the scheduler.
// Raise never blocks and coalesces; Consume never blocks.
// Delivery is at-least-once and only means "re-run selection".
type Signal struct {
	ch chan struct{}
}

// NewSignal creates a lowered signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Raise sets the signal. Raising an already raised signal is a no-op.
func (s *Signal) Raise() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Consume lowers the signal and reports whether it was raised.
func (s *Signal) Consume() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

// C exposes the signal for select statements, e.g. to cut an idle sleep short.
func (s *Signal) C() <-chan struct{} {
	return s.ch
}
