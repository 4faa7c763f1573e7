// Package api exposes a small read-only status server for operators. The
// gateway is LAN-local, so the endpoints carry no auth.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/edgelink/ble-gateway/internal/broker"
	"github.com/edgelink/ble-gateway/internal/discovery"
	"github.com/edgelink/ble-gateway/internal/registry"
)

// deviceStatus is one session's entry in the status payload.
type deviceStatus struct {
	DeviceID    string  `json:"deviceId"`
	Temperature float64 `json:"temperature"`
	Humidity    float64 `json:"humidity"`
	Pressure    float64 `json:"pressure"`
}

// statusResponse is the GET /status payload.
type statusResponse struct {
	GatewayID      string         `json:"gatewayId"`
	BrokerState    string         `json:"brokerState"`
	DiscoveryPhase string         `json:"discoveryPhase"`
	Devices        []deviceStatus `json:"devices"`
	UptimeSeconds  int64          `json:"uptime_seconds"`
}

// StatusServer serves liveness and gateway state over HTTP.
type StatusServer struct {
	gatewayID string
	broker    *broker.ConnectionManager
	discovery *discovery.Controller
	sessions  *registry.SessionRegistry
	logger    zerolog.Logger

	server    *http.Server
	startedAt time.Time
}

// NewStatusServer builds the server and its routes.
func NewStatusServer(address, gatewayID string, brokerManager *broker.ConnectionManager,
	discoveryController *discovery.Controller, sessions *registry.SessionRegistry,
	logger zerolog.Logger) *StatusServer {

	s := &StatusServer{
		gatewayID: gatewayID,
		broker:    brokerManager,
		discovery: discoveryController,
		sessions:  sessions,
		logger:    logger,
	}

	router := chi.NewRouter()
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Get("/healthz", s.handleHealthz)
	router.Get("/status", s.handleStatus)

	s.server = &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start begins serving in a separate goroutine.
func (s *StatusServer) Start() error {
	s.startedAt = time.Now()

	go func() {
		s.logger.Info().Str("address", s.server.Addr).Msg("Status server started successfully")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Status server failed")
		}
	}()

	return nil
}

// Stop shuts the server down with a bounded grace period.
func (s *StatusServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	s.logger.Info().Msg("Status server stopped successfully")
	return nil
}

func (s *StatusServer) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	views := s.sessions.Snapshot()
	devices := make([]deviceStatus, 0, len(views))
	for _, view := range views {
		devices = append(devices, deviceStatus{
			DeviceID:    view.Identity,
			Temperature: view.Telemetry.Temperature,
			Humidity:    view.Telemetry.Humidity,
			Pressure:    view.Telemetry.Pressure,
		})
	}

	resp := statusResponse{
		GatewayID:      s.gatewayID,
		BrokerState:    s.broker.State().String(),
		DiscoveryPhase: s.discovery.Phase().String(),
		Devices:        devices,
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode status response")
	}
}
