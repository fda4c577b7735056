package verify

import "github.com/lkslts64/charo-verify/metainfo"

//jobQueue is an unbounded FIFO of verification jobs.
type jobQueue struct {
	jobs []*job
}

func (q *jobQueue) push(j *job) {
	q.jobs = append(q.jobs, j)
}

func (q *jobQueue) peek() (head *job) {
	if q.empty() {
		return
	}
	head = q.jobs[0]
	return
}

func (q *jobQueue) back() (tail *job) {
	if q.empty() {
		return
	}
	tail = q.jobs[len(q.jobs)-1]
	return
}

func (q *jobQueue) pop() (head *job) {
	if q.empty() {
		return
	}
	head = q.jobs[0]
	q.jobs[0] = nil
	q.jobs = q.jobs[1:]
	return
}

func (q *jobQueue) find(hash metainfo.Hash) *job {
	for _, j := range q.jobs {
		if j.hash == hash {
			return j
		}
	}
	return nil
}

//remove takes the job of `hash` out of the queue, keeping the order
//of the rest.
func (q *jobQueue) remove(hash metainfo.Hash) *job {
	for i, j := range q.jobs {
		if j.hash == hash {
			q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
			return j
		}
	}
	return nil
}

func (q *jobQueue) clear() (jobs []*job) {
	jobs, q.jobs = q.jobs, nil
	return
}

func (q *jobQueue) empty() bool {
	return len(q.jobs) == 0
}

func (q *jobQueue) len() int {
	return len(q.jobs)
}
