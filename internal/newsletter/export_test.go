package newsletter

import "time"

// SetClock replaces the service clock in tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}
