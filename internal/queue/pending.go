package queue

// Pending is the FIFO of jobs that have not started. It is not safe for
// concurrent use; the dispatcher guards it with its own lock.
type Pending struct {
	items []*Job
}

// Push appends a job at the tail.
func (p *Pending) Push(job *Job) {
	p.items = append(p.items, job)
}

// PopOldest removes and returns the earliest-arrived job, or nil when empty.
func (p *Pending) PopOldest() *Job {
	if len(p.items) == 0 {
		return nil
	}
	head := p.items[0]
	p.items[0] = nil
	p.items = p.items[1:]
	if len(p.items) == 0 {
		p.items = nil
	}
	return head
}

// Remove deletes the job with the given id and reports whether it was present.
func (p *Pending) Remove(id string) bool {
	for idx, job := range p.items {
		if job.ID == id {
			p.items = append(p.items[:idx], p.items[idx+1:]...)
			return true
		}
	}
	return false
}

// Contains reports whether a job with the given id is pending.
func (p *Pending) Contains(id string) bool {
	for _, job := range p.items {
		if job.ID == id {
			return true
		}
	}
	return false
}

// Clear drops every pending job and returns how many were removed.
func (p *Pending) Clear() int {
	count := len(p.items)
	p.items = nil
	return count
}

// Len returns the number of pending jobs.
func (p *Pending) Len() int {
	return len(p.items)
}

// Snapshot returns deep copies in dispatch order.
func (p *Pending) Snapshot() []*Job {
	return cloneJobs(p.items)
}

// History holds finished jobs newest-first, evicting the oldest past its limit.
type History struct {
	limit int
	items []*Job
}

// NewHistory builds a history bounded to limit entries (minimum 1).
func NewHistory(limit int) *History {
	if limit < 1 {
		limit = 1
	}
	return &History{limit: limit}
}

// PushFront records a finished job as the newest entry.
func (h *History) PushFront(job *Job) {
	h.items = append([]*Job{job}, h.items...)
	if len(h.items) > h.limit {
		for idx := h.limit; idx < len(h.items); idx++ {
			h.items[idx] = nil
		}
		h.items = h.items[:h.limit]
	}
}

// Remove deletes a finished job by id.
func (h *History) Remove(id string) bool {
	for idx, job := range h.items {
		if job.ID == id {
			h.items = append(h.items[:idx], h.items[idx+1:]...)
			return true
		}
	}
	return false
}

// Contains reports whether a finished job with the given id is retained.
func (h *History) Contains(id string) bool {
	for _, job := range h.items {
		if job.ID == id {
			return true
		}
	}
	return false
}

// Len returns the number of retained jobs.
func (h *History) Len() int {
	return len(h.items)
}

// Limit returns the retention bound.
func (h *History) Limit() int {
	return h.limit
}

// Snapshot returns deep copies newest-first.
func (h *History) Snapshot() []*Job {
	return cloneJobs(h.items)
}

func cloneJobs(items []*Job) []*Job {
	out := make([]*Job, 0, len(items))
	for _, job := range items {
		out = append(out, job.Clone())
	}
	return out
}
