// Defines the Request value that models one simulated unit of work.
// Tracks creation time, the serving server and the admission/completion timestamps.

package sim

import "fmt"

// RequestID is assigned from a monotonically increasing counter at creation.
type RequestID int64

// RequestState represents the lifecycle state of a request.
//
//	created -> admitted -> completed
//	created -> rejected
type RequestState string

const (
	StateCreated   RequestState = "created"
	StateAdmitted  RequestState = "admitted"
	StateCompleted RequestState = "completed"
	StateRejected  RequestState = "rejected"
)

// Request models a single request's lifecycle in the simulation.
type Request struct {
	ID        RequestID
	CreatedAt int64 // Clock in ms when the dispatch driver manufactured the request

	State          RequestState
	AssignedServer ServerID // empty until admitted
	Completed      bool

	ProcessingTimeMs int64 // copied from the serving server at admission time
	AdmittedAt       int64
	CompletedAt      int64
}

// NewRequest creates a request in the created state.
func NewRequest(id RequestID, now int64) Request {
	return Request{
		ID:        id,
		CreatedAt: now,
		State:     StateCreated,
	}
}

// DueAt returns the clock at which an admitted request completes.
func (r Request) DueAt() int64 {
	return r.AdmittedAt + r.ProcessingTimeMs
}

// This method returns a human-readable string representation of a Request.
func (r Request) String() string {
	return fmt.Sprintf("Request: (ID: %d, State: %s, Server: %q, CreatedAt: %d)", r.ID, r.State, r.AssignedServer, r.CreatedAt)
}
