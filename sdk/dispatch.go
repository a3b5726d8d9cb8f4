package sdk

import "fmt"

// dispatcher serializes all SDK work onto a single goroutine.
//
// The SDK is driven from several threads at once (UI actions, socket
// callbacks, timers). Serializing state changes and transport interactions
// gives the event-loop interleaving the merge functions assume: each
// operation reads a complete snapshot and installs a complete replacement.
type dispatcher struct {
	mailbox chan func()
}

func newDispatcher(queueSize int) *dispatcher {
	if queueSize <= 0 {
		queueSize = defaultDispatcherQueueSize
	}
	d := &dispatcher{mailbox: make(chan func(), queueSize)}
	go d.loop()
	return d
}

func (d *dispatcher) loop() {
	for fn := range d.mailbox {
		fn()
	}
}

// do runs fn on the dispatch goroutine without waiting for it.
func (d *dispatcher) do(fn func()) error {
	if d == nil {
		return fmt.Errorf("dispatcher not initialized")
	}
	if fn == nil {
		return nil
	}
	d.mailbox <- fn
	return nil
}

// call runs fn on the dispatch goroutine and waits for its result. Must not
// be invoked from the dispatch goroutine itself.
func (d *dispatcher) call(fn func() (interface{}, error)) (interface{}, error) {
	if d == nil {
		return nil, fmt.Errorf("dispatcher not initialized")
	}
	if fn == nil {
		return nil, nil
	}
	type result struct {
		value interface{}
		err   error
	}
	done := make(chan result, 1)
	d.mailbox <- func() {
		value, err := fn()
		done <- result{value: value, err: err}
	}
	res := <-done
	return res.value, res.err
}
