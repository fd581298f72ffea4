// Package service turns a main function into an Edulure runtime process.
//
// New builds the readiness tracker and the signal registry, connects the
// database, starts the configured infrastructure set through the bootstrap
// orchestrator and prepares the probe server. Each acquired resource registers
// a cleanup task. Shutdown runs those tasks in reverse registration order, so
// the most recently acquired resource is released first. A failure during New
// runs the cleanups registered so far before the error is returned; no
// partially built Runtime escapes.
//
// Basic usage:
//
//	rt, err := service.New(ctx, service.Options{
//	    ServiceName:        "edulure-worker",
//	    ReadinessKeys:      []string{"jobs"},
//	    WithSignalHandlers: true,
//	    Database:           connectDatabase,
//	    Infrastructure:     set.Descriptors(),
//	    InfraNames:         []string{"nats", "redis", "scheduler"},
//	})
//	if err != nil {
//	    return err
//	}
//	if err := rt.StartProbeServer(ctx, ":9090"); err != nil {
//	    return err
//	}
//	<-rt.Done()
//
// With signal handlers enabled, SIGTERM and SIGINT shut the process down with
// exit code 0. Fatal faults reported through Go or RecoverFatal shut it down
// with exit code 1. Asynchronous errors are only logged.
//
// The web process serves its API through a Drainer, registered with
// RegisterHTTPServer. On shutdown the Drainer stops accepting, ends every
// tracked connection and force-closes whatever is still open after
// DrainDeadline.
package service
