package service

import (
	"context"
	stderrors "errors"
	"net"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbas1/edulure/bootstrap"
	"github.com/orbas1/edulure/metric"
	"github.com/orbas1/edulure/pkg/clock"
	"github.com/orbas1/edulure/pkg/retry"
	"github.com/orbas1/edulure/readiness"
)

type fakeSource struct {
	mu sync.Mutex
	ch chan<- os.Signal
}

func (f *fakeSource) Notify(c chan<- os.Signal, _ ...os.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ch = c
}

func (f *fakeSource) Stop(chan<- os.Signal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ch = nil
}

func (f *fakeSource) Send(sig os.Signal) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ch == nil {
		return false
	}
	f.ch <- sig
	return true
}

type exitRecorder struct {
	mu    sync.Mutex
	codes []int
}

func (e *exitRecorder) Exit(code int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.codes = append(e.codes, code)
}

func (e *exitRecorder) Codes() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.codes...)
}

func newRuntime(t *testing.T, opts Options) (*Runtime, *exitRecorder) {
	t.Helper()
	exit := &exitRecorder{}
	if opts.ServiceName == "" {
		opts.ServiceName = "edulure-test"
	}
	opts.Exit = exit.Exit
	if opts.SignalSource == nil {
		opts.SignalSource = &fakeSource{}
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewFake(time.Unix(0, 0))
	}
	rt, err := New(context.Background(), opts)
	require.NoError(t, err)
	return rt, exit
}

func waitDone(t *testing.T, rt *Runtime) {
	t.Helper()
	select {
	case <-rt.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("runtime did not shut down")
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "constructing", StateConstructing.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "shutting-down", StateShuttingDown.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestNew_RequiresServiceName(t *testing.T) {
	_, err := New(context.Background(), Options{})
	assert.Error(t, err)
}

func TestNew_SeedsReadiness(t *testing.T) {
	rt, _ := newRuntime(t, Options{
		ReadinessKeys: []string{"jobs"},
		Database: func(context.Context, *readiness.Tracker) (CleanupFunc, error) {
			return nil, nil
		},
		Infrastructure: []bootstrap.Descriptor{
			{Name: "nats", Start: func(context.Context) (readiness.Outcome, error) {
				return readiness.Ready("NATS connected"), nil
			}},
			{Name: "redis"},
		},
		InfraNames: []string{"nats"},
	})
	assert.Equal(t, StateReady, rt.State())

	snapshot := rt.Readiness().Snapshot()
	names := make([]string, 0, len(snapshot.Components))
	for _, c := range snapshot.Components {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"jobs", DatabaseComponent, "nats", ProbeComponent}, names)

	state, _ := rt.Readiness().Component("nats")
	assert.Equal(t, readiness.StatusReady, state.Status)
	assert.NotNil(t, rt.Probe())
	assert.NotNil(t, rt.Registry())
	assert.NotNil(t, rt.Logger())
}

func TestShutdown_RunsCleanupsInReverseOrder(t *testing.T) {
	rt, exit := newRuntime(t, Options{})

	var mu sync.Mutex
	var order []string
	record := func(name string, err error) CleanupFunc {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return err
		}
	}
	rt.RegisterCleanup("task-1", record("task-1", nil))
	rt.RegisterCleanup("task-2", record("task-2", stderrors.New("close failed")))
	rt.RegisterCleanup("task-3", record("task-3", nil))

	rt.Shutdown(context.Background(), "test", ShutdownOptions{})
	waitDone(t, rt)

	assert.Equal(t, []string{"task-3", "task-2", "task-1"}, order)
	assert.Equal(t, StateStopped, rt.State())
	assert.Empty(t, exit.Codes())

	state, ok := rt.Readiness().Component("task-2")
	require.True(t, ok)
	assert.Equal(t, readiness.StatusDegraded, state.Status)
	assert.Equal(t, "Cleanup failed: close failed", state.Message)
	assert.Equal(t, false, state.Details["stopped"])
}

func TestShutdown_CleanupPanicDoesNotStopSiblings(t *testing.T) {
	rt, _ := newRuntime(t, Options{})

	ran := 0
	rt.RegisterCleanup("first", func(context.Context) error { ran++; return nil })
	rt.RegisterCleanup("panics", func(context.Context) error { panic("boom") })

	rt.Shutdown(context.Background(), "test", ShutdownOptions{})
	assert.Equal(t, 1, ran)

	state, _ := rt.Readiness().Component("panics")
	assert.Equal(t, readiness.StatusDegraded, state.Status)
	assert.Contains(t, state.Message, "boom")
}

func TestShutdown_RunsOnceUnderConcurrency(t *testing.T) {
	rt, exit := newRuntime(t, Options{})

	var mu sync.Mutex
	calls := 0
	rt.RegisterCleanup("counted", func(context.Context) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rt.Shutdown(context.Background(), "concurrent", ShutdownOptions{ExitProcess: true, ExitCode: 3})
		}()
	}
	wg.Wait()
	waitDone(t, rt)
	rt.Shutdown(context.Background(), "again", ShutdownOptions{ExitProcess: true})

	assert.Equal(t, 1, calls)
	assert.Equal(t, []int{3}, exit.Codes())
	assert.Equal(t, 0, rt.Registry().Len())
	assert.Error(t, rt.Context().Err())
}

func TestNew_InfrastructureFailureUnwindsCleanups(t *testing.T) {
	boom := retry.NonRetryable(stderrors.New("redis unreachable"))
	dbClosed := 0

	exit := &exitRecorder{}
	rt, err := New(context.Background(), Options{
		ServiceName:  "edulure-test",
		Exit:         exit.Exit,
		SignalSource: &fakeSource{},
		Clock:        clock.NewFake(time.Unix(0, 0)),
		Database: func(context.Context, *readiness.Tracker) (CleanupFunc, error) {
			return func(context.Context) error { dbClosed++; return nil }, nil
		},
		Infrastructure: []bootstrap.Descriptor{{
			Name:  "redis",
			Start: func(context.Context) (readiness.Outcome, error) { return readiness.Outcome{}, boom },
		}},
	})

	require.Error(t, err)
	assert.Same(t, boom, err)
	assert.Nil(t, rt)
	assert.Equal(t, 1, dbClosed)
	assert.Empty(t, exit.Codes())
}

func TestNew_DatabaseFailureReturnsError(t *testing.T) {
	boom := stderrors.New("database unreachable")
	_, err := New(context.Background(), Options{
		ServiceName:  "edulure-test",
		SignalSource: &fakeSource{},
		Database: func(context.Context, *readiness.Tracker) (CleanupFunc, error) {
			return nil, boom
		},
	})
	assert.Same(t, boom, err)
}

func TestSignalHandlers_TerminateShutsDownGracefully(t *testing.T) {
	source := &fakeSource{}
	rt, exit := newRuntime(t, Options{WithSignalHandlers: true, SignalSource: source})

	cleaned := make(chan struct{})
	rt.RegisterCleanup("task", func(context.Context) error { close(cleaned); return nil })

	require.True(t, source.Send(syscall.SIGTERM))
	waitDone(t, rt)

	<-cleaned
	assert.Equal(t, []int{0}, exit.Codes())
}

func TestSignalHandlers_AsyncFailureIsLoggedOnly(t *testing.T) {
	rt, exit := newRuntime(t, Options{WithSignalHandlers: true})

	done := make(chan struct{})
	rt.Go("worker", func(context.Context) error {
		defer close(done)
		return stderrors.New("background failure")
	})
	<-done

	assert.Equal(t, StateReady, rt.State())
	assert.Empty(t, exit.Codes())
	rt.ReportAsyncError(stderrors.New("another"))
	assert.Equal(t, StateReady, rt.State())
}

func TestSignalHandlers_FatalExitsWithOne(t *testing.T) {
	rt, exit := newRuntime(t, Options{WithSignalHandlers: true})

	rt.Go("worker", func(context.Context) error {
		panic("unrecoverable")
	})
	waitDone(t, rt)

	assert.Equal(t, []int{1}, exit.Codes())
	assert.Equal(t, StateStopped, rt.State())
}

func TestFatal_ExitRunsBeforeDoneCloses(t *testing.T) {
	var (
		rt         *Runtime
		doneAtExit []bool
		mu         sync.Mutex
	)
	exit := func(code int) {
		closed := false
		select {
		case <-rt.Done():
			closed = true
		default:
		}
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 1, code)
		doneAtExit = append(doneAtExit, closed)
	}

	var err error
	rt, err = New(context.Background(), Options{
		ServiceName:        "edulure-test",
		WithSignalHandlers: true,
		Exit:               exit,
		SignalSource:       &fakeSource{},
		Clock:              clock.NewFake(time.Unix(0, 0)),
	})
	require.NoError(t, err)

	rt.ReportFatal("boom")
	waitDone(t, rt)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{false}, doneAtExit)
}

func TestNew_SkipsUnknownInfraNamesInReadiness(t *testing.T) {
	rt, _ := newRuntime(t, Options{
		Infrastructure: []bootstrap.Descriptor{
			{Name: "nats", Start: func(context.Context) (readiness.Outcome, error) {
				return readiness.Ready("NATS connected"), nil
			}},
		},
		InfraNames: []string{"nats", "bogus"},
	})
	defer rt.Shutdown(context.Background(), "test", ShutdownOptions{})

	_, tracked := rt.Readiness().Component("bogus")
	assert.False(t, tracked)

	rt.Readiness().MarkReady(ProbeComponent, "Probe server listening", nil)
	assert.True(t, rt.Readiness().Snapshot().Ready)
}

func TestRecoverFatal(t *testing.T) {
	rt, exit := newRuntime(t, Options{WithSignalHandlers: true})

	func() {
		defer rt.RecoverFatal()
		panic(stderrors.New("synchronous fault"))
	}()
	waitDone(t, rt)
	assert.Equal(t, []int{1}, exit.Codes())
}

func TestFatalWithoutHandlersDoesNotExit(t *testing.T) {
	rt, exit := newRuntime(t, Options{})
	rt.ReportFatal("no handler")
	assert.Equal(t, StateReady, rt.State())
	assert.Empty(t, exit.Codes())
}

func TestStartProbeServer(t *testing.T) {
	rt, _ := newRuntime(t, Options{})
	defer rt.Shutdown(context.Background(), "test", ShutdownOptions{})

	require.NoError(t, rt.StartProbeServer(context.Background(), "127.0.0.1:0"))
	state, _ := rt.Readiness().Component(ProbeComponent)
	assert.Equal(t, readiness.StatusReady, state.Status)
	assert.Equal(t, rt.Probe().Addr(), state.Details["address"])
	assert.True(t, rt.Readiness().Snapshot().Ready)
}

func TestStartProbeServer_BindError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	rt, _ := newRuntime(t, Options{})
	err = rt.StartProbeServer(context.Background(), ln.Addr().String())
	require.Error(t, err)

	state, _ := rt.Readiness().Component(ProbeComponent)
	assert.Equal(t, readiness.StatusFailed, state.Status)
	assert.False(t, rt.Readiness().Snapshot().Ready)
}

func TestMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	rt, _ := newRuntime(t, Options{Metrics: registry})

	rt.RegisterCleanup("broken", func(context.Context) error { return stderrors.New("nope") })
	rt.Shutdown(context.Background(), "terminate", ShutdownOptions{})

	m := registry.CoreMetrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Shutdowns.WithLabelValues("edulure-test", "terminate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CleanupFailures.WithLabelValues("edulure-test", "broken")))
}
