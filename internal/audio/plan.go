package audio

// Plan is the parameter set the transcoder will produce. It is always fully
// populated; the identity plan simply repeats the source values. BitDepth is
// the depth the size estimate uses, not the written depth: WriteWAV always
// emits OutputBitDepth.
type Plan struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
	BitDepth   int `json:"bit_depth"`
}

// IdentityPlan returns a plan that changes nothing.
func IdentityPlan(p Parameters) Plan {
	return Plan{SampleRate: p.SampleRate, Channels: p.Channels, BitDepth: p.BitDepth}
}

// IsIdentity reports whether the plan keeps every parameter of p.
func (pl Plan) IsIdentity(p Parameters) bool {
	return pl == IdentityPlan(p)
}

// EstimatedBytes returns the expected output size of the plan for a source
// lasting the given number of seconds.
func (pl Plan) EstimatedBytes(seconds float64) int64 {
	return EstimateBytes(pl.SampleRate, pl.BitDepth, pl.Channels, seconds)
}

// PlanDegradation picks sample rate and channel count so the output lands
// within 110% of targetBytes where possible.
//
// This is a single-pass, best-effort heuristic, not a search: it drops the
// rate to ReferenceRate once, then downmixes stereo to mono once, stopping
// as soon as the estimate is within tolerance. When both steps are spent and
// the estimate is still too large the best achievable plan is returned.
// Bit depth is never changed. An 8-bit source is estimated at 8 bits but
// written at OutputBitDepth, so its output is about twice the estimate.
func PlanDegradation(current Parameters, targetBytes int64) Plan {
	plan := IdentityPlan(current)
	if current.EstimatedBytes() <= targetBytes {
		return plan
	}

	withinTolerance := func() bool {
		// est <= 1.1 * target, kept in integers
		return plan.EstimatedBytes(current.Duration)*10 <= targetBytes*11
	}

	if withinTolerance() {
		return plan
	}
	if plan.SampleRate > ReferenceRate {
		plan.SampleRate = ReferenceRate
		if withinTolerance() {
			return plan
		}
	}
	if plan.Channels == 2 {
		plan.Channels = 1
	}
	return plan
}
