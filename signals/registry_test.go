package signals

import (
	"errors"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu       sync.Mutex
	channels []chan<- os.Signal
	stopped  int
}

func (f *fakeSource) Notify(c chan<- os.Signal, _ ...os.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, c)
}

func (f *fakeSource) Stop(c chan<- os.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	for i, ch := range f.channels {
		if ch == c {
			f.channels = append(f.channels[:i], f.channels[i+1:]...)
			return
		}
	}
}

func (f *fakeSource) Send(sig os.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.channels {
		ch <- sig
	}
}

func (f *fakeSource) Active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.channels)
}

func TestRegistry_MultipleHandlersAllFire(t *testing.T) {
	registry := NewRegistry(WithSource(&fakeSource{}))

	var calls []string
	registry.Add(AsyncFailure, func(Event, any) { calls = append(calls, "first") })
	registry.Add(AsyncFailure, func(Event, any) { calls = append(calls, "second") })
	registry.Add(Fatal, func(Event, any) { calls = append(calls, "fatal") })

	n := registry.Emit(AsyncFailure, errors.New("lost"))
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"first", "second"}, calls)
}

func TestRegistry_OnceHandler(t *testing.T) {
	registry := NewRegistry(WithSource(&fakeSource{}))

	calls := 0
	registry.Add(Fatal, func(Event, any) { calls++ }, Once())
	registry.Add(Fatal, func(Event, any) {})

	registry.Emit(Fatal, "boom")
	registry.Emit(Fatal, "boom")

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, registry.Len())
}

func TestRegistry_Remove(t *testing.T) {
	registry := NewRegistry(WithSource(&fakeSource{}))

	calls := 0
	token := registry.Add(AsyncFailure, func(Event, any) { calls++ })
	registry.Remove(token)
	registry.Remove(token)

	assert.Equal(t, 0, registry.Emit(AsyncFailure, nil))
	assert.Equal(t, 0, calls)
}

func TestRegistry_HandlerPanicDoesNotStopOthers(t *testing.T) {
	registry := NewRegistry(WithSource(&fakeSource{}))

	called := false
	registry.Add(AsyncFailure, func(Event, any) { panic("bad handler") })
	registry.Add(AsyncFailure, func(Event, any) { called = true })

	assert.NotPanics(t, func() { registry.Emit(AsyncFailure, nil) })
	assert.True(t, called)
}

func TestRegistry_RelaysOSSignals(t *testing.T) {
	source := &fakeSource{}
	registry := NewRegistry(WithSource(source))
	defer registry.Cleanup()

	received := make(chan Event, 2)
	registry.Add(Terminate, func(e Event, payload any) {
		assert.Equal(t, syscall.SIGTERM, payload)
		received <- e
	})
	registry.Add(Interrupt, func(e Event, _ any) { received <- e })
	require.Equal(t, 1, source.Active(), "relay should be registered once")

	source.Send(syscall.SIGTERM)
	select {
	case e := <-received:
		assert.Equal(t, Terminate, e)
	case <-time.After(time.Second):
		t.Fatal("terminate handler not invoked")
	}

	source.Send(syscall.SIGINT)
	select {
	case e := <-received:
		assert.Equal(t, Interrupt, e)
	case <-time.After(time.Second):
		t.Fatal("interrupt handler not invoked")
	}
}

func TestRegistry_CleanupIsIdempotent(t *testing.T) {
	source := &fakeSource{}
	registry := NewRegistry(WithSource(source))

	registry.Add(Terminate, func(Event, any) {})
	registry.Add(Fatal, func(Event, any) {})
	require.Equal(t, 2, registry.Len())

	registry.Cleanup()
	registry.Cleanup()

	assert.Equal(t, 0, registry.Len())
	assert.Equal(t, 0, source.Active())
	assert.Equal(t, 1, source.stopped)
}

func TestRegistry_CleanupFromHandler(t *testing.T) {
	source := &fakeSource{}
	registry := NewRegistry(WithSource(source))

	done := make(chan struct{})
	registry.Add(Terminate, func(Event, any) {
		registry.Cleanup()
		close(done)
	})

	source.Send(syscall.SIGTERM)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup from handler deadlocked")
	}
	assert.Equal(t, 0, registry.Len())
}
