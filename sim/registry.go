package sim

import (
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"
)

// Registry owns the set of server records in insertion order.
// Records are only reachable through Registry methods; readers get Server snapshots.
//
// Thread-safety: NOT thread-safe. All methods must be called from the same goroutine.
type Registry struct {
	servers []*Server        // insertion order; InFlight holds the live in-flight set
	index   map[ServerID]int // id -> position in servers
	nextID  int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		servers: make([]*Server, 0),
		index:   make(map[ServerID]int),
	}
}

// AddServer validates cfg and registers a new, active, idle server.
// Invalid configs return an error wrapping ErrInvalidServerConfig and leave the registry untouched.
func (r *Registry) AddServer(cfg ServerConfig) (Server, error) {
	cfg, err := cfg.Validate()
	if err != nil {
		return Server{}, err
	}
	r.nextID++
	srv := &Server{
		ID:               ServerID(fmt.Sprintf("server_%d", r.nextID)),
		Name:             cfg.Name,
		Weight:           cfg.Weight,
		OriginalWeight:   cfg.Weight,
		MaxConnections:   cfg.MaxConnections,
		ProcessingTimeMs: cfg.ProcessingTimeMs,
		Active:           true,
		InFlight:         make([]RequestID, 0),
	}
	r.index[srv.ID] = len(r.servers)
	r.servers = append(r.servers, srv)
	logrus.Debugf("registry: added %s", srv)
	return snapshot(srv), nil
}

// RemoveServer deletes the server. Returns false if id is absent.
// In-flight requests are not failed; their completions find no server and expire.
func (r *Registry) RemoveServer(id ServerID) bool {
	pos, ok := r.index[id]
	if !ok {
		return false
	}
	r.servers = slices.Delete(r.servers, pos, pos+1)
	delete(r.index, id)
	for i := pos; i < len(r.servers); i++ {
		r.index[r.servers[i].ID] = i
	}
	logrus.Debugf("registry: removed %s", id)
	return true
}

// ToggleActive flips the server's active flag and returns the new value.
// Already admitted requests are unaffected.
func (r *Registry) ToggleActive(id ServerID) (bool, error) {
	srv, ok := r.lookup(id)
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownServer, id)
	}
	srv.Active = !srv.Active
	return srv.Active, nil
}

// UpdateConfig replaces name, weight, capacity and processing time, and resets
// OriginalWeight to the new weight. Runtime counters are kept. Capacity cannot
// drop below the server's current connections.
func (r *Registry) UpdateConfig(id ServerID, cfg ServerConfig) (Server, error) {
	cfg, err := cfg.Validate()
	if err != nil {
		return Server{}, err
	}
	srv, ok := r.lookup(id)
	if !ok {
		return Server{}, fmt.Errorf("%w: %s", ErrUnknownServer, id)
	}
	if cfg.MaxConnections < srv.CurrentConnections {
		return Server{}, fmt.Errorf("%w: max_connections %d is below the %d in-flight requests on %s",
			ErrInvalidServerConfig, cfg.MaxConnections, srv.CurrentConnections, id)
	}
	srv.Name = cfg.Name
	srv.Weight = cfg.Weight
	srv.OriginalWeight = cfg.Weight
	srv.MaxConnections = cfg.MaxConnections
	srv.ProcessingTimeMs = cfg.ProcessingTimeMs
	return snapshot(srv), nil
}

// CanAccept reports whether the server exists, is active and is below capacity.
func (r *Registry) CanAccept(id ServerID) bool {
	srv, ok := r.lookup(id)
	return ok && srv.CanAccept()
}

// Admit places req on the server. Returns the stamped request and true on success;
// returns req unchanged and false when the server is missing, inactive or full.
// Scheduling the completion is the caller's job.
func (r *Registry) Admit(id ServerID, req Request, now int64) (Request, bool) {
	srv, ok := r.lookup(id)
	if !ok || !srv.CanAccept() {
		return req, false
	}
	srv.CurrentConnections++
	srv.TotalRequests++
	srv.InFlight = append(srv.InFlight, req.ID)

	req.State = StateAdmitted
	req.AssignedServer = srv.ID
	req.ProcessingTimeMs = srv.ProcessingTimeMs
	req.AdmittedAt = now
	return req, true
}

// Complete finishes an admitted request. Returns false, and changes nothing, when the
// server no longer exists or the request is not in its in-flight set (removed server,
// or stats cleared since admission).
func (r *Registry) Complete(req Request, now int64) (Request, bool) {
	srv, ok := r.lookup(req.AssignedServer)
	if !ok {
		return req, false
	}
	pos := slices.Index(srv.InFlight, req.ID)
	if pos < 0 {
		return req, false
	}
	srv.InFlight = slices.Delete(srv.InFlight, pos, pos+1)
	srv.CurrentConnections = max(0, srv.CurrentConnections-1)
	srv.TotalResponseTimeMs += req.ProcessingTimeMs

	req.State = StateCompleted
	req.Completed = true
	req.CompletedAt = now
	return req, true
}

// ClearStats zeroes connections and counters and empties every in-flight set.
// Only used on an explicit stop/reset.
func (r *Registry) ClearStats() {
	for _, srv := range r.servers {
		srv.CurrentConnections = 0
		srv.TotalRequests = 0
		srv.TotalResponseTimeMs = 0
		srv.InFlight = srv.InFlight[:0]
	}
}

// Server returns a snapshot of the server with the given id.
func (r *Registry) Server(id ServerID) (Server, bool) {
	srv, ok := r.lookup(id)
	if !ok {
		return Server{}, false
	}
	return snapshot(srv), true
}

// Servers returns snapshots of all servers in insertion order.
func (r *Registry) Servers() []Server {
	out := make([]Server, len(r.servers))
	for i, srv := range r.servers {
		out[i] = snapshot(srv)
	}
	return out
}

// Eligible returns snapshots of the servers that can accept a request, in insertion order.
func (r *Registry) Eligible() []Server {
	out := make([]Server, 0, len(r.servers))
	for _, srv := range r.servers {
		if srv.CanAccept() {
			out = append(out, snapshot(srv))
		}
	}
	return out
}

// Len returns the number of registered servers.
func (r *Registry) Len() int {
	return len(r.servers)
}

// setWeight overwrites the effective weight. Used by load-aware policies.
func (r *Registry) setWeight(id ServerID, weight int) {
	if srv, ok := r.lookup(id); ok {
		srv.Weight = weight
	}
}

func (r *Registry) lookup(id ServerID) (*Server, bool) {
	pos, ok := r.index[id]
	if !ok {
		return nil, false
	}
	return r.servers[pos], true
}

func snapshot(srv *Server) Server {
	s := *srv
	s.InFlight = slices.Clone(srv.InFlight)
	if s.InFlight == nil {
		s.InFlight = []RequestID{}
	}
	return s
}
