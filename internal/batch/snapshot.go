package batch

import "time"

// Snapshot is a point-in-time view of a job.
type Snapshot struct {
	Total     int       `json:"total"`
	Processed int       `json:"processed"`
	OK        int       `json:"ok"`
	KO        int       `json:"ko"`
	NoRight   int       `json:"noright"`
	Messages  []string  `json:"messages"`
	Errors    []string  `json:"errors"`
	Cancelled bool      `json:"cancelled"`
	Done      bool      `json:"done"`
	StartedAt time.Time `json:"started_at"`

	Elapsed        time.Duration `json:"-"`
	ETA            time.Duration `json:"-"`
	ETAKnown       bool          `json:"-"`
	ElapsedSeconds float64       `json:"elapsed_seconds"`
	ETASeconds     *float64      `json:"eta_seconds,omitempty"`
}

// Percent returns progress as a fraction between 0 and 1.
func (s Snapshot) Percent() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Processed) / float64(s.Total)
}

// Throughput returns processed items per second.
func (s Snapshot) Throughput() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Processed) / s.Elapsed.Seconds()
}

// setTiming derives elapsed time and the ETA. The ETA is unknown until the
// first item is processed and once the job is done.
func (s *Snapshot) setTiming(elapsed time.Duration) {
	s.Elapsed = elapsed
	s.ElapsedSeconds = elapsed.Seconds()
	s.ETA, s.ETAKnown, s.ETASeconds = 0, false, nil
	if s.Done || s.Processed == 0 {
		return
	}
	s.ETA = EstimateRemaining(elapsed, s.Processed, s.Total)
	s.ETAKnown = true
	secs := s.ETA.Seconds()
	s.ETASeconds = &secs
}

// EstimateRemaining extrapolates the time left from the average time per
// processed item. It returns 0 when nothing was processed yet.
func EstimateRemaining(elapsed time.Duration, processed, total int) time.Duration {
	if processed <= 0 || total <= processed {
		return 0
	}
	perItem := float64(elapsed) / float64(processed)
	return time.Duration(perItem * float64(total-processed))
}
