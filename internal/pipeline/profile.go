package pipeline

import (
	"sync/atomic"
)

// Profiler accumulates stage timings over many runs. It is safe for
// concurrent use.
type Profiler struct {
	Runs           atomic.Int64
	DetectionNs    atomic.Int64
	FusionNs       atomic.Int64
	GroupingNs     atomic.Int64
	LayoutNs       atomic.Int64
	Fused          atomic.Int64
	DetectorErrors atomic.Int64
}

// Record adds one run.
func (p *Profiler) Record(r *Result) {
	if r == nil {
		return
	}
	p.Runs.Add(1)
	p.DetectionNs.Add(r.Stats.DetectionNs)
	p.FusionNs.Add(r.Stats.FusionNs)
	p.GroupingNs.Add(r.Stats.GroupingNs)
	p.LayoutNs.Add(r.Stats.LayoutNs)
	p.Fused.Add(int64(len(r.Fused)))
	p.DetectorErrors.Add(int64(r.Stats.DetectorErrors))
}

// Snapshot returns totals and per-run averages in milliseconds.
func (p *Profiler) Snapshot() map[string]any {
	runs := p.Runs.Load()
	out := map[string]any{
		"runs":            runs,
		"fused":           p.Fused.Load(),
		"detector_errors": p.DetectorErrors.Load(),
	}
	for name, v := range map[string]int64{
		"detection": p.DetectionNs.Load(),
		"fusion":    p.FusionNs.Load(),
		"grouping":  p.GroupingNs.Load(),
		"layout":    p.LayoutNs.Load(),
	} {
		out[name+"_ms_total"] = v / 1_000_000
		if runs > 0 {
			out[name+"_ms_per_run"] = float64(v) / 1e6 / float64(runs)
		}
	}
	return out
}
