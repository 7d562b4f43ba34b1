package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autopeer-io/earpm/internal/discovery"
	"github.com/autopeer-io/earpm/internal/pkg/metrics"
	"github.com/autopeer-io/earpm/pkg/log"
	"github.com/autopeer-io/earpm/pkg/mqtt"
	"github.com/autopeer-io/earpm/pkg/options"
)

// Brokers exposes the client's connection state and broker registry.
type Brokers interface {
	IsConnected() bool
	Brokers() []mqtt.BrokerInfo
}

// Endpoints is the discovery surface behind /endpoints.
type Endpoints interface {
	Endpoints() []discovery.Endpoint
	AddEndpoint(ep discovery.Endpoint) error
	RemoveEndpoint(id string) error
}

type Server struct {
	server    *http.Server
	options   *options.HttpOptions
	brokers   Brokers
	endpoints Endpoints
}

func NewServer(opts *options.HttpOptions, brokers Brokers, endpoints Endpoints) *Server {
	s := &Server{
		options:   opts,
		brokers:   brokers,
		endpoints: endpoints,
	}
	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: opts.Timeout,
		WriteTimeout:      opts.Timeout,
	}
	return s
}

// Handler returns the router serving every route of the server.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	// Basic Liveness Probe
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	// Ready once a broker accepted the connection.
	r.HandleFunc("/readyz", s.readyz).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	r.HandleFunc("/brokers", s.listBrokers).Methods(http.MethodGet)
	r.HandleFunc("/endpoints", s.listEndpoints).Methods(http.MethodGet)
	r.HandleFunc("/endpoints/{id}", s.putEndpoint).Methods(http.MethodPut)
	r.HandleFunc("/endpoints/{id}", s.deleteEndpoint).Methods(http.MethodDelete)

	return r
}

func (s *Server) Start(ctx context.Context) error {
	log.Info("Starting HTTP Server", "addr", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		timeout := s.options.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if !s.brokers.IsConnected() {
		http.Error(w, "not connected to a broker", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) listBrokers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.brokers.Brokers())
}

func (s *Server) listEndpoints(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.endpoints.Endpoints())
}

// putEndpoint announces a dynamic broker endpoint. The body is the endpoint
// property map; pubsub.admin.type defaults to mqtt.
func (s *Server) putEndpoint(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	props := map[string]string{}
	if err := json.NewDecoder(r.Body).Decode(&props); err != nil {
		http.Error(w, "invalid endpoint properties: "+err.Error(), http.StatusBadRequest)
		return
	}
	// A JSON null body decodes to a nil map.
	if props == nil {
		props = map[string]string{}
	}
	if props[discovery.PropAdminType] == "" {
		props[discovery.PropAdminType] = discovery.AdminTypeMQTT
	}

	ep := discovery.Endpoint{ID: id, Properties: props}
	if err := s.endpoints.AddEndpoint(ep); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ep)
}

func (s *Server) deleteEndpoint(w http.ResponseWriter, r *http.Request) {
	if err := s.endpoints.RemoveEndpoint(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, discovery.ErrInvalidEndpoint):
		status = http.StatusBadRequest
	case errors.Is(err, discovery.ErrEndpointNotFound):
		status = http.StatusNotFound
	case errors.Is(err, discovery.ErrStopped):
		status = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error(err, "Failed to encode response")
	}
}
