// Package edulure is the service lifecycle and readiness core shared by the
// Edulure runtime processes: the web API, the background worker and the
// realtime gateway.
//
// Each process starts through app.Start, which loads configuration, builds a
// structured logger and hands a set of startup steps to service.New:
//
//	readiness.Tracker   per-component status and the aggregate snapshot
//	signals.Registry    termination, interrupt and fault handlers
//	database.Connect    Postgres pool with retries and optional migrations
//	bootstrap           ordered infrastructure start with LIFO rollback
//	probe.Server        /live, /ready and /metrics for supervisors
//
// Every infrastructure start attempt runs through retry.Execute, which waits
// delay*attempt between attempts and reports progress to the tracker. A
// failure at any step unwinds the steps that already started.
//
// Shutdown is triggered by SIGTERM, SIGINT or a fatal fault. service.Runtime
// runs its cleanup tasks in reverse registration order; HTTP servers are
// drained through service.Drainer, which force-closes connections still open
// after five seconds.
//
// Entry points live under cmd/:
//
//	edulure-web       HTTP API behind a readiness gate
//	edulure-worker    cron-scheduled jobs
//	edulure-realtime  websocket hub fed by NATS
//	edulure-migrate   schema migrations, then exit
package edulure
