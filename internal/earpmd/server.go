// Package earpmd runs the MQTT event admin remote provider as a daemon.
package earpmd

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/autopeer-io/earpm/internal/discovery"
	"github.com/autopeer-io/earpm/internal/provider"
	"github.com/autopeer-io/earpm/internal/server/http"
	"github.com/autopeer-io/earpm/pkg/eventadmin"
	"github.com/autopeer-io/earpm/pkg/log"
	"github.com/autopeer-io/earpm/pkg/mqtt"
)

// logHandlerID is the handler registered for --earpm.log-topics.
const logHandlerID = "earpmd.log"

type Server struct {
	local     *eventadmin.LocalEventAdmin
	deliverer *eventadmin.Deliverer
	client    *mqtt.Client
	provider  *provider.Provider
	discovery *discovery.Discovery
	http      *http.Server
	logTopics []string
}

// Run starts every component and blocks until ctx ends. Components are
// stopped in reverse start order.
func (s *Server) Run(ctx context.Context) error {
	log.Info("Starting earpmd", "senderUUID", s.client.SenderUUID())

	s.deliverer.Start()
	defer s.deliverer.Stop()

	if err := s.client.Start(ctx); err != nil {
		return fmt.Errorf("failed to start mqtt client: %w", err)
	}
	defer s.client.Close()

	if err := s.provider.Start(ctx); err != nil {
		return err
	}
	defer s.provider.Stop()

	if _, err := s.discovery.AddListener(provider.BrokerFilter, s.provider); err != nil {
		return err
	}
	if err := s.discovery.Start(ctx); err != nil {
		return fmt.Errorf("failed to start discovery: %w", err)
	}
	defer func() {
		if err := s.discovery.Stop(); err != nil {
			log.Error(err, "Failed to stop discovery")
		}
	}()

	if len(s.logTopics) > 0 {
		if err := s.RegisterHandler(ctx, logHandlerID, s.logTopics, eventadmin.HandlerFunc(logEvent)); err != nil {
			return fmt.Errorf("failed to register log handler: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	if s.http != nil {
		g.Go(func() error {
			return s.http.Start(ctx)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})

	err := g.Wait()
	log.Info("earpmd shutting down...")
	return err
}

// RegisterHandler registers h with the local event admin and subscribes its
// topics remotely.
func (s *Server) RegisterHandler(ctx context.Context, id string, patterns []string, h eventadmin.Handler) error {
	if err := s.local.Register(id, patterns, h); err != nil {
		return err
	}
	if err := s.provider.AddHandler(ctx, id, patterns); err != nil {
		s.local.Unregister(id)
		return err
	}
	return nil
}

// UnregisterHandler reverses RegisterHandler.
func (s *Server) UnregisterHandler(ctx context.Context, id string) error {
	s.local.Unregister(id)
	return s.provider.RemoveHandler(ctx, id)
}

// PostEvent delivers e to local handlers and forwards it to remote peers.
func (s *Server) PostEvent(ctx context.Context, e *eventadmin.Event) error {
	localErr := s.local.PostEvent(e)
	if errors.Is(localErr, eventadmin.ErrNoHandler) {
		localErr = nil
	}
	return errors.Join(localErr, s.provider.PostEvent(ctx, e))
}

// SendEvent is the synchronous form of PostEvent.
func (s *Server) SendEvent(ctx context.Context, e *eventadmin.Event) error {
	localErr := s.local.SendEvent(ctx, e)
	if errors.Is(localErr, eventadmin.ErrNoHandler) {
		localErr = nil
	}
	return errors.Join(localErr, s.provider.SendEvent(ctx, e))
}

// Client exposes the MQTT client, mainly for readiness checks.
func (s *Server) Client() *mqtt.Client {
	return s.client
}

// Discovery exposes the endpoint registry.
func (s *Server) Discovery() *discovery.Discovery {
	return s.discovery
}

func logEvent(_ context.Context, e *eventadmin.Event) error {
	log.Info("Remote event received", "topic", e.Topic, "properties", map[string]string(e.Properties))
	return nil
}
