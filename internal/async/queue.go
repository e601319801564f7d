package async

// task is one queued unit of work. seq is a monotonically increasing
// submit counter used to break priority ties FIFO.
type task struct {
	op     *operation
	fn     Callable
	future *Future

	priority int
	seq      uint64
}

// taskHeap is a max-heap over priority; equal priorities pop in submit
// order. Used via container/heap.
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x interface{}) { *h = append(*h, x.(*task)) }

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
