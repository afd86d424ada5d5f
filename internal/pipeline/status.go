package pipeline

import (
	"sync"
	"time"
)

// JobStatus is the process-local view of the single capture job.
type JobStatus struct {
	IsRunning     bool       `json:"isRunning"`
	Date          string     `json:"date,omitempty"`
	LastStartTime *time.Time `json:"lastStartTime"`
	LastEndTime   *time.Time `json:"lastEndTime"`
	LastSuccess   *bool      `json:"lastSuccess"`
	LastError     *string    `json:"lastError"`
	LastFilePath  *string    `json:"lastFilePath"`
}

// State names the job's position in idle -> running -> succeeded|failed.
func (s JobStatus) State() string {
	switch {
	case s.IsRunning:
		return "running"
	case s.LastSuccess == nil:
		return "idle"
	case *s.LastSuccess:
		return "succeeded"
	default:
		return "failed"
	}
}

// Tracker guards JobStatus. TryStart and Finish are the only mutations.
type Tracker struct {
	mu     sync.Mutex
	status JobStatus
	now    func() time.Time
}

// NewTracker returns an idle tracker.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{now: now}
}

// TryStart moves the job to running. It returns false when a job is
// already in flight.
func (t *Tracker) TryStart(date string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.IsRunning {
		return false
	}
	start := t.now().UTC()
	t.status.IsRunning = true
	t.status.Date = date
	t.status.LastStartTime = &start
	t.status.LastEndTime = nil
	return true
}

// Finish records the outcome of the running job.
func (t *Tracker) Finish(path string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	end := t.now().UTC()
	ok := err == nil
	t.status.IsRunning = false
	t.status.LastEndTime = &end
	t.status.LastSuccess = &ok
	if ok {
		t.status.LastError = nil
		t.status.LastFilePath = &path
		return
	}
	msg := err.Error()
	t.status.LastError = &msg
	t.status.LastFilePath = nil
}

// Snapshot returns a copy safe to serialize.
func (t *Tracker) Snapshot() JobStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.status
	s.LastStartTime = clonePtr(s.LastStartTime)
	s.LastEndTime = clonePtr(s.LastEndTime)
	s.LastSuccess = clonePtr(s.LastSuccess)
	s.LastError = clonePtr(s.LastError)
	s.LastFilePath = clonePtr(s.LastFilePath)
	return s
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
