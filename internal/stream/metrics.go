package stream

import "time"

// Metrics is a snapshot of one request's timing. Pointer fields stay nil
// until the corresponding event has happened.
type Metrics struct {
	StartTime          time.Time  `json:"startTime"`
	FirstFragmentTime  *time.Time `json:"firstFragmentTime"`
	LatestFragmentTime *time.Time `json:"latestFragmentTime"`
	FragmentCount      *int       `json:"fragmentCount"`
	EndTime            *time.Time `json:"endTime"`
}

// TimeToFirstFragment is the delay between dispatch and the first fragment.
func (m Metrics) TimeToFirstFragment() (time.Duration, bool) {
	if m.FirstFragmentTime == nil {
		return 0, false
	}
	return m.FirstFragmentTime.Sub(m.StartTime), true
}

// FragmentsPerSecond is the fragment rate measured from the first
// fragment to the end of the stream, or to the latest fragment while the
// stream is still running.
func (m Metrics) FragmentsPerSecond() (float64, bool) {
	if m.FirstFragmentTime == nil || m.FragmentCount == nil {
		return 0, false
	}
	until := m.LatestFragmentTime
	if m.EndTime != nil {
		until = m.EndTime
	}
	if until == nil {
		return 0, false
	}
	elapsed := until.Sub(*m.FirstFragmentTime).Seconds()
	if elapsed <= 0 {
		return 0, false
	}
	return float64(*m.FragmentCount) / elapsed, true
}

// Duration is the total time from dispatch to the end of the stream.
func (m Metrics) Duration() (time.Duration, bool) {
	if m.EndTime == nil {
		return 0, false
	}
	return m.EndTime.Sub(m.StartTime), true
}

func (m Metrics) clone() Metrics {
	out := Metrics{StartTime: m.StartTime}
	if m.FirstFragmentTime != nil {
		t := *m.FirstFragmentTime
		out.FirstFragmentTime = &t
	}
	if m.LatestFragmentTime != nil {
		t := *m.LatestFragmentTime
		out.LatestFragmentTime = &t
	}
	if m.FragmentCount != nil {
		n := *m.FragmentCount
		out.FragmentCount = &n
	}
	if m.EndTime != nil {
		t := *m.EndTime
		out.EndTime = &t
	}
	return out
}

// Tracker records Metrics for the aggregator. It reads the clock only when
// the aggregator reports a transition. Not safe for concurrent use; the
// aggregator serializes access.
type Tracker struct {
	now     func() time.Time
	current *Metrics
}

// NewTracker creates a tracker using now as its clock, or time.Now if nil.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{now: now}
}

// Start creates a fresh metrics record at dispatch time.
func (t *Tracker) Start() {
	t.current = &Metrics{StartTime: t.now()}
}

// Observe records one fragment.
func (t *Tracker) Observe() {
	if t.current == nil {
		return
	}
	now := t.now()
	if t.current.FirstFragmentTime == nil {
		first := now
		t.current.FirstFragmentTime = &first
		n := 0
		t.current.FragmentCount = &n
	}
	*t.current.FragmentCount++
	t.current.LatestFragmentTime = &now
}

// Finish stamps the end of the stream.
func (t *Tracker) Finish() {
	if t.current == nil {
		return
	}
	now := t.now()
	t.current.EndTime = &now
}

// Clear discards the current record.
func (t *Tracker) Clear() {
	t.current = nil
}

// Snapshot returns a copy of the current record, if one exists.
func (t *Tracker) Snapshot() (Metrics, bool) {
	if t.current == nil {
		return Metrics{}, false
	}
	return t.current.clone(), true
}
