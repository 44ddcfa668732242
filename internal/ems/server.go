package ems

import (
	"fmt"
	"sync"
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

// Server is the Modbus TCP server the external EMS connects to as
// master. Grounded on the teacher's internal/modbus.Server lifecycle
// wrapper (start/stop guarded by a running flag, component logger).
type Server struct {
	server *modbus.ModbusServer

	addr string
	log  *zap.Logger

	mu        sync.Mutex
	isRunning bool
}

// NewServer constructs a Server listening on host:port, backed by
// channel's register blocks.
func NewServer(host string, port int, channel *Channel, log *zap.Logger) (*Server, error) {
	serverLog := log.With(zap.String("component", "ems_server"), zap.String("host", host), zap.Int("port", port))

	cfg := &modbus.ServerConfiguration{
		URL:        fmt.Sprintf("tcp://%s:%d", host, port),
		Timeout:    10 * time.Second,
		MaxClients: 4,
	}

	srv, err := modbus.NewServer(cfg, channel)
	if err != nil {
		return nil, fmt.Errorf("ems: failed to create modbus server: %w", err)
	}

	return &Server{
		server: srv,
		addr:   cfg.URL,
		log:    serverLog,
	}, nil
}

// Start starts accepting EMS connections.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return fmt.Errorf("ems: server already running")
	}
	s.log.Info("starting ems modbus server", zap.String("addr", s.addr))
	if err := s.server.Start(); err != nil {
		return fmt.Errorf("ems: failed to start modbus server: %w", err)
	}
	s.isRunning = true
	return nil
}

// Stop stops accepting EMS connections.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return
	}
	s.log.Info("stopping ems modbus server")
	s.server.Stop()
	s.isRunning = false
}
