// Tracks run-wide dispatch counters: dispatch ticks, admissions, drops and completions.

package sim

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Metrics aggregates dispatch-driver statistics for final reporting.
// Per-server counters live in the Registry; these cover requests that never
// reached a server as well.
type Metrics struct {
	Dispatched          int64 `json:"dispatched"`            // requests manufactured by dispatch ticks
	Admitted            int64 `json:"admitted"`              // requests placed on a server
	DroppedNoServer     int64 `json:"dropped_no_server"`     // no eligible server at selection time
	DroppedFull         int64 `json:"dropped_full"`          // selected server refused admission
	Completed           int64 `json:"completed"`             // completions that released a connection
	OrphanedCompletions int64 `json:"orphaned_completions"` // completions that found nothing to release
	SimEndedTime        int64 `json:"sim_ended_time_ms"`
}

// NewMetrics returns zeroed metrics.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// Dropped returns the number of requests that were never admitted.
func (m *Metrics) Dropped() int64 {
	return m.DroppedNoServer + m.DroppedFull
}

// Print displays aggregated metrics and the summary on stdout.
func (m *Metrics) Print(summary Summary) {
	m.Fprint(os.Stdout, summary)
}

// Fprint writes aggregated metrics and the summary to w.
func (m *Metrics) Fprint(w io.Writer, summary Summary) {
	_, _ = fmt.Fprintln(w, "=== Simulation Metrics ===")
	_, _ = fmt.Fprintf(w, "Algorithm            : %s\n", summary.Algorithm)
	_, _ = fmt.Fprintf(w, "Simulated Time       : %d ms\n", m.SimEndedTime)
	_, _ = fmt.Fprintf(w, "Dispatched Requests  : %d\n", m.Dispatched)
	_, _ = fmt.Fprintf(w, "Served Requests      : %d\n", summary.TotalRequests)
	_, _ = fmt.Fprintf(w, "Dropped Requests     : %d (no server: %d, full: %d)\n", m.Dropped(), m.DroppedNoServer, m.DroppedFull)
	_, _ = fmt.Fprintf(w, "Completed Requests   : %d\n", m.Completed)
	if m.OrphanedCompletions > 0 {
		_, _ = fmt.Fprintf(w, "Orphaned Completions : %d\n", m.OrphanedCompletions)
	}
	_, _ = fmt.Fprintf(w, "Active Servers       : %d/%d\n", summary.ActiveServers, len(summary.Servers))
	_, _ = fmt.Fprintf(w, "Avg Response Time    : %s ms\n", summary.AvgResponse)
	_, _ = fmt.Fprintf(w, "Most Traffic         : %s (%d)\n", summary.MostTraffic.Name, summary.MostTraffic.Count)
	_, _ = fmt.Fprintf(w, "Least Traffic        : %s (%d)\n", summary.LeastTraffic.Name, summary.LeastTraffic.Count)
	_, _ = fmt.Fprintln(w, "=== Servers ===")
	for _, s := range summary.Servers {
		_, _ = fmt.Fprintf(w, "%-12s %-8s weight=%-3d conns=%-7s requests=%-6d avg=%s ms\n",
			s.Name, s.Status, s.Weight, s.Connections, s.TotalRequests, s.AvgResponse)
	}
}

// Results is the on-disk shape written by SaveResults.
type Results struct {
	RunID     string   `json:"run_id"`
	Algorithm string   `json:"algorithm"`
	Metrics   *Metrics `json:"metrics"`
	Report    Report   `json:"report"`
}

// SaveResults writes the run metrics and report as indented JSON to path.
func (m *Metrics) SaveResults(runID string, algorithm Algorithm, report Report, path string) error {
	data, err := json.MarshalIndent(Results{
		RunID:     runID,
		Algorithm: string(algorithm),
		Metrics:   m,
		Report:    report,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling results: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing results to %s: %w", path, err)
	}
	logrus.Infof("Saved results to %s", path)
	return nil
}
