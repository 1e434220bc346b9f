package trace

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalDispatches    int
	AdmittedCount      int
	DroppedNoServer    int
	DroppedFull        int
	CompletedCount     int
	OrphanedCount      int
	UniqueTargets      int
	TargetDistribution map[string]int // server ID → count of admitted requests
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		TargetDistribution: make(map[string]int),
	}
	if st == nil {
		return summary
	}

	summary.TotalDispatches = len(st.Dispatches)
	for _, d := range st.Dispatches {
		switch d.Outcome {
		case OutcomeAdmitted:
			summary.AdmittedCount++
			summary.TargetDistribution[d.ChosenServer]++
		case OutcomeDroppedNoServer:
			summary.DroppedNoServer++
		case OutcomeDroppedFull:
			summary.DroppedFull++
		}
	}
	for _, c := range st.Completions {
		if c.Orphaned {
			summary.OrphanedCount++
		} else {
			summary.CompletedCount++
		}
	}

	summary.UniqueTargets = len(summary.TargetDistribution)

	return summary
}
