package button

import "sync"

// FakeSource is a Source driven by the caller.
type FakeSource struct {
	edges     chan Edge
	closeOnce sync.Once
}

func NewFakeSource() *FakeSource {
	return &FakeSource{edges: make(chan Edge, 16)}
}

// Send queues an edge.
func (f *FakeSource) Send(e Edge) {
	f.edges <- e
}

func (f *FakeSource) Edges() <-chan Edge {
	return f.edges
}

func (f *FakeSource) Close() error {
	f.closeOnce.Do(func() { close(f.edges) })
	return nil
}
