package binding

import "time"

// StartSweeper launches the periodic garbage collection of expired unused
// codes. Expired codes are already inert for redemption; the sweep only keeps
// the collection from growing without bound.
func (s *Service) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	s.stopSweep = make(chan struct{})
	s.sweepDone = make(chan struct{})
	go func() {
		defer close(s.sweepDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				removed, err := s.db.DeleteExpiredCodes(s.now())
				s.reportSweep(removed, err)
			case <-s.stopSweep:
				return
			}
		}
	}()
}

func (s *Service) StopSweeper() {
	if s.stopSweep == nil {
		return
	}
	close(s.stopSweep)
	<-s.sweepDone
}
