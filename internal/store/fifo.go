package store

// fifo is a fixed-capacity queue of file paths in insertion order. push is
// O(1) and allocation-free after construction, so it can run under the
// store's mutex without stalling concurrent uploads.
type fifo struct {
	paths []string
	head  int
	count int
}

func newFIFO(capacity int) *fifo {
	return &fifo{paths: make([]string, capacity)}
}

// push appends path as the most recent entry. When the queue is already full
// the oldest entry is displaced and returned.
func (f *fifo) push(path string) (string, bool) {
	if f.count < len(f.paths) {
		f.paths[(f.head+f.count)%len(f.paths)] = path
		f.count++
		return "", false
	}
	oldest := f.paths[f.head]
	f.paths[f.head] = path
	f.head = (f.head + 1) % len(f.paths)
	return oldest, true
}

func (f *fifo) len() int {
	return f.count
}
