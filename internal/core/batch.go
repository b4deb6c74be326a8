package core

// BatchResult accumulates per-item outcomes of a sweep pass.
type BatchResult struct {
	Total   int
	Success int
	Failed  int
}

// Add merges another result into the receiver.
func (b *BatchResult) Add(other BatchResult) {
	b.Total += other.Total
	b.Success += other.Success
	b.Failed += other.Failed
}
