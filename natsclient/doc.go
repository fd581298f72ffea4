// Package natsclient manages the single NATS connection used by Edulure runtime
// processes for domain events.
//
// A Client makes exactly one connection attempt per Connect call. Retrying is
// left to the bootstrap orchestrator, which wraps Connect with linear backoff
// and reports progress to the readiness tracker. Once connected, the nats.go
// library handles reconnects; the health-change callback lets the caller mirror
// connection health into readiness:
//
//	client, err := natsclient.NewClient(cfg.URL,
//	    natsclient.WithName("edulure-web"),
//	    natsclient.WithLogger(logger),
//	    natsclient.WithHealthChangeCallback(func(healthy bool) {
//	        if healthy {
//	            tracker.MarkReady("nats", "NATS connected", nil)
//	        } else {
//	            tracker.MarkDegraded("nats", "NATS reconnecting", nil)
//	        }
//	    }),
//	)
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
// Close is idempotent. It unsubscribes every subscription and drains the
// connection, bounded by the drain timeout or the context deadline.
//
// # Testing
//
// NewTestClient and StartContainer start a throwaway NATS server with
// testcontainers-go. Tests using them carry the integration build tag.
package natsclient
