package infra

import (
	"context"

	"github.com/orbas1/edulure/natsclient"
	"github.com/orbas1/edulure/readiness"
)

func (s *Set) startNATS(ctx context.Context) (readiness.Outcome, error) {
	cfg := s.cfg.NATS
	if cfg.URL == "" {
		return readiness.Disabled("NATS not configured"), nil
	}

	opts := []natsclient.ClientOption{
		natsclient.WithLogger(s.logger),
		natsclient.WithMetrics(s.metrics),
		natsclient.WithHealthChangeCallback(s.natsHealthChanged),
	}
	if cfg.Name != "" {
		opts = append(opts, natsclient.WithName(cfg.Name))
	}
	if cfg.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.Token))
	}
	if cfg.User != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.User, cfg.Password))
	}
	if cfg.MaxReconnects != 0 {
		opts = append(opts, natsclient.WithMaxReconnects(cfg.MaxReconnects))
	}
	if cfg.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.ReconnectWait))
	}
	if cfg.DrainTimeout > 0 {
		opts = append(opts, natsclient.WithDrainTimeout(cfg.DrainTimeout))
	}

	client, err := natsclient.NewClient(cfg.URL, opts...)
	if err != nil {
		return readiness.Outcome{}, err
	}
	if err := client.Connect(ctx); err != nil {
		return readiness.Outcome{}, err
	}

	s.mu.Lock()
	s.nats = client
	s.mu.Unlock()

	return readiness.Ready("NATS connected").
		WithDetails(readiness.Details{"url": client.URL()}).
		WithStop(func(ctx context.Context) error {
			s.mu.Lock()
			s.nats = nil
			s.mu.Unlock()
			return client.Close(ctx)
		}), nil
}

func (s *Set) natsHealthChanged(healthy bool) {
	s.mu.RLock()
	started, tracker := s.nats != nil, s.tracker
	s.mu.RUnlock()
	if tracker == nil || !started {
		return
	}
	if healthy {
		tracker.MarkReady(NATS, "NATS reconnected", nil)
	} else {
		tracker.MarkDegraded(NATS, "NATS connection lost, reconnecting", nil)
	}
}
