package beam

// pendingList is the ordered map sample_index -> completed? 
// Entries are always inserted in increasing sample order (DFB jobs are
// scheduled at a strictly advancing ring.Next()), so insertion order and
// numeric order coincide and a plain slice suffices for FIFO traversal;
// a map gives O(1) lookup for MarkComplete/Discard by key.
type pendingList struct {
	order     []int64
	completed map[int64]bool
}

func newPendingList() *pendingList {
	return &pendingList{completed: make(map[int64]bool)}
}

// Insert records a newly scheduled DFB start position as incomplete.
func (p *pendingList) Insert(sample int64) {
	p.order = append(p.order, sample)
	p.completed[sample] = false
}

// MarkComplete flags sample as finished without removing it; removal
// happens via FlushPrefix once it and everything before it are done.
func (p *pendingList) MarkComplete(sample int64) {
	if _, ok := p.completed[sample]; ok {
		p.completed[sample] = true
	}
}

// Discard removes sample immediately regardless of completion state, used
// when a worker abandons a job because the beam is no longer RUNNING.
func (p *pendingList) Discard(sample int64) {
	delete(p.completed, sample)
	for i, s := range p.order {
		if s == sample {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// FlushPrefix removes every contiguous completed entry from the front of
// the list, returning the sample index of the last one removed. advanced
// is false if no entry at the front was complete.
func (p *pendingList) FlushPrefix() (newDone int64, advanced bool) {
	for len(p.order) > 0 {
		s := p.order[0]
		if !p.completed[s] {
			break
		}
		delete(p.completed, s)
		p.order = p.order[1:]
		newDone = s
		advanced = true
	}
	return
}

// Len returns the number of outstanding entries.
func (p *pendingList) Len() int { return len(p.order) }
