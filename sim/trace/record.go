// Package trace provides decision-trace recording for dispatch policy analysis.
// This package has no dependencies on sim/; it stores pure data types.
package trace

// Outcome is the result of one dispatch tick.
type Outcome string

const (
	OutcomeAdmitted        Outcome = "admitted"
	OutcomeDroppedNoServer Outcome = "dropped-no-server"
	OutcomeDroppedFull     Outcome = "dropped-full"
)

// DispatchRecord captures a single selection + admission decision.
type DispatchRecord struct {
	RequestID    int64
	Clock        int64
	Algorithm    string
	Eligible     int    // size of the eligible set at selection time
	ChosenServer string // empty when no server was eligible
	Outcome      Outcome
}

// CompletionRecord captures a completion firing. Orphaned completions found their
// server removed or their request cleared and changed nothing.
type CompletionRecord struct {
	RequestID int64
	ServerID  string
	Clock     int64
	Orphaned  bool
}
