package sim

import (
	"errors"
	"fmt"
	"strings"
)

// ServerID uniquely identifies a server within a run.
// Uses distinct type (not alias) to prevent accidental string mixing.
type ServerID string

// ErrInvalidServerConfig is wrapped by every server validation failure.
var ErrInvalidServerConfig = errors.New("invalid server config")

// ErrUnknownServer is returned when an operation names a server that is not registered.
var ErrUnknownServer = errors.New("unknown server")

// ServerConfig is the operator-supplied part of a server.
type ServerConfig struct {
	Name             string `yaml:"name"`
	Weight           int    `yaml:"weight"`
	MaxConnections   int    `yaml:"max_connections"`
	ProcessingTimeMs int64  `yaml:"processing_time_ms"`
}

// Validate checks the config and returns a copy with the name trimmed.
// The name must be non-empty after trimming; weight must be >= 1,
// max connections and processing time must be > 0.
func (c ServerConfig) Validate() (ServerConfig, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return c, fmt.Errorf("%w: name is required", ErrInvalidServerConfig)
	}
	if c.Weight < 1 {
		return c, fmt.Errorf("%w: weight must be >= 1, got %d", ErrInvalidServerConfig, c.Weight)
	}
	if c.MaxConnections <= 0 {
		return c, fmt.Errorf("%w: max connections must be > 0, got %d", ErrInvalidServerConfig, c.MaxConnections)
	}
	if c.ProcessingTimeMs <= 0 {
		return c, fmt.Errorf("%w: processing time must be > 0, got %d", ErrInvalidServerConfig, c.ProcessingTimeMs)
	}
	return c, nil
}

// DefaultServerConfigs returns the servers a fresh simulator is seeded with.
func DefaultServerConfigs() []ServerConfig {
	return []ServerConfig{
		{Name: "Server 1", Weight: 3, MaxConnections: 5, ProcessingTimeMs: 800},
		{Name: "Server 2", Weight: 2, MaxConnections: 4, ProcessingTimeMs: 1200},
		{Name: "Server 3", Weight: 1, MaxConnections: 3, ProcessingTimeMs: 1500},
	}
}

// Server is a point-in-time snapshot of a backend server.
// Snapshots are values: mutating one has no effect on the Registry.
type Server struct {
	ID   ServerID
	Name string

	Weight           int   // current effective weight (>= 1); recomputed by DWRR
	OriginalWeight   int   // configured baseline
	MaxConnections   int   // capacity (> 0)
	ProcessingTimeMs int64 // fixed service time (> 0)

	Active              bool
	CurrentConnections  int
	TotalRequests       int64
	TotalResponseTimeMs int64
	InFlight            []RequestID // admission order
}

// CanAccept reports whether the server is active and below capacity.
func (s Server) CanAccept() bool {
	return s.Active && s.CurrentConnections < s.MaxConnections
}

// AvgResponseTimeMs returns TotalResponseTimeMs / TotalRequests, or 0 when no request was served.
func (s Server) AvgResponseTimeMs() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.TotalResponseTimeMs) / float64(s.TotalRequests)
}

// Load returns CurrentConnections / MaxConnections.
func (s Server) Load() float64 {
	return float64(s.CurrentConnections) / float64(s.MaxConnections)
}

// Status returns the human-readable activation status.
func (s Server) Status() string {
	if s.Active {
		return "Active"
	}
	return "Inactive"
}

func (s Server) String() string {
	return fmt.Sprintf("Server: (ID: %s, Name: %s, Weight: %d/%d, Conns: %d/%d, Active: %t)",
		s.ID, s.Name, s.Weight, s.OriginalWeight, s.CurrentConnections, s.MaxConnections, s.Active)
}
