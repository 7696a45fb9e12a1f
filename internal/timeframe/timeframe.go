// Package timeframe generates the finite, monotonically increasing
// timestamp sequence the backtest orchestrator drives (spec §4.6 step 1).
// The real generator is an external collaborator per spec.md §1; this is a
// minimal stand-in used by the orchestrator's own tests and by cmd/strategy.
package timeframe

// Generate returns the inclusive [start, end] sequence at the given
// interval (ms), e.g. one entry per minute for a 1-minute timeframe.
func Generate(start, end, intervalMs int64) []int64 {
	if intervalMs <= 0 || end < start {
		return nil
	}
	n := (end-start)/intervalMs + 1
	out := make([]int64, 0, n)
	for ts := start; ts <= end; ts += intervalMs {
		out = append(out, ts)
	}
	return out
}
