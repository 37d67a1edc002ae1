package reconciler

import "sync"

// Subscription delivers a job's state transitions to one subscriber until
// cancelled. Cancelling stops delivery to this subscriber only; the job's
// tracking and other subscribers are unaffected.
type Subscription struct {
	r     *Reconciler
	jobID string
	id    uint64

	once sync.Once
}

// Subscribe attaches a handler to a job's transitions. The handler runs on
// the job's consumer goroutine; keep it fast and hand off long work.
func (r *Reconciler) Subscribe(jobID string, h Handler) *Subscription {
	id := r.nextID.Add(1)

	r.mu.Lock()
	if r.subs[jobID] == nil {
		r.subs[jobID] = make(map[uint64]Handler)
	}
	r.subs[jobID][id] = h
	r.mu.Unlock()

	return &Subscription{r: r, jobID: jobID, id: id}
}

// Cancel removes the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.r.mu.Lock()
		defer s.r.mu.Unlock()
		if m, ok := s.r.subs[s.jobID]; ok {
			delete(m, s.id)
			if len(m) == 0 {
				delete(s.r.subs, s.jobID)
			}
		}
	})
}
