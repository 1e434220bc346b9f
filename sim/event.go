package sim

import "github.com/sirupsen/logrus"

// Event defines the interface for all simulation events.
// Each event has a Timestamp (ms on the virtual clock), a Priority used to order
// events sharing a timestamp, and an Execute method that advances simulation state.
type Event interface {
	Timestamp() int64
	Priority() int // 0=Completion, 1=DispatchTick
	Execute(*Simulator)
}

// CompletionEvent finishes an admitted request after its server's processing time.
// Priority 0: capacity freed at time t is visible to a dispatch at time t.
type CompletionEvent struct {
	time    int64
	request Request
}

func (e *CompletionEvent) Timestamp() int64 { return e.time }
func (e *CompletionEvent) Priority() int     { return 0 }

// Execute releases the request's connection on its server. A completion whose server was
// removed, or whose request was cleared from the in-flight set, expires without effect.
func (e *CompletionEvent) Execute(sim *Simulator) {
	sim.complete(e.request, e.time)
}

// DispatchTickEvent is one tick of the dispatch driver.
// Priority 1: processed after completions at the same timestamp.
// A tick armed before the last Start/Pause/rate change carries a stale epoch and is ignored.
type DispatchTickEvent struct {
	time  int64
	epoch uint64
}

func (e *DispatchTickEvent) Timestamp() int64 { return e.time }
func (e *DispatchTickEvent) Priority() int     { return 1 }

// Execute dispatches one request and arms the next tick.
func (e *DispatchTickEvent) Execute(sim *Simulator) {
	if e.epoch != sim.dispatchEpoch || sim.state != RunStateRunning {
		logrus.Debugf("<< stale dispatch tick at %d ms (epoch %d, current %d)", e.time, e.epoch, sim.dispatchEpoch)
		return
	}
	sim.Dispatch()
	sim.armDispatchTick()
}
