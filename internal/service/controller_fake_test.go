package service

import (
	"context"
	"sync"

	"pellet_dispenser/internal/device"
	"pellet_dispenser/internal/models"
)

type dispatchCall struct {
	name string
	args []string
}

// fakeController records calls and lets tests publish changes.
type fakeController struct {
	mu          sync.Mutex
	connectErr  error
	dispatchErr error
	ports       []string
	dispatched  []dispatchCall
	disconnects int
	refills     int
	state       models.DeviceState
	observers   map[int]device.Observer
	nextID      int
}

func newFakeController() *fakeController {
	return &fakeController{observers: map[int]device.Observer{}}
}

func (f *fakeController) Connect(_ context.Context, port string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ports = append(f.ports, port)
	return f.connectErr
}

func (f *fakeController) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeController) Dispatch(_ context.Context, name string, args ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dispatched = append(f.dispatched, dispatchCall{name: name, args: args})
	return f.dispatchErr
}

func (f *fakeController) Refill() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refills++
	return nil
}

func (f *fakeController) Subscribe(fn device.Observer) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.observers[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.observers, id)
	}
}

func (f *fakeController) CurrentState() models.DeviceState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeController) publish(ch device.Change) {
	f.mu.Lock()
	fns := make([]device.Observer, 0, len(f.observers))
	for _, fn := range f.observers {
		fns = append(fns, fn)
	}
	f.mu.Unlock()
	for _, fn := range fns {
		fn(ch)
	}
}

func (f *fakeController) observerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.observers)
}
