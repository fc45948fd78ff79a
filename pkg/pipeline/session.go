package pipeline

import "sync/atomic"

// Session carries the cooperative stop flag of one caller. The flag is
// cleared when a run starts and observed before each image, so a stop takes
// effect once the in-flight image is finished.
type Session struct {
	stopped atomic.Bool
}

// RequestStop asks the current run to stop before its next image.
func (s *Session) RequestStop() {
	s.stopped.Store(true)
}

// Stopped reports whether a stop was requested.
func (s *Session) Stopped() bool {
	return s.stopped.Load()
}

func (s *Session) reset() {
	s.stopped.Store(false)
}
