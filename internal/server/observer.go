package server

// Observer receives connection lifecycle events. Implementations must be safe
// for concurrent use: events arrive from every connection goroutine and every
// reactor worker.
type Observer interface {
	ConnOpened()
	ConnClosed()
	RequestServed()
	IOError(op string, err error)
	Timeout(op string)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) ConnOpened() {}
func (NopObserver) ConnClosed() {}
func (NopObserver) RequestServed() {}
func (NopObserver) IOError(string, error) {}
func (NopObserver) Timeout(string) {}

var _ Observer = NopObserver{}
