package gpu

import (
	"github.com/PollyLabs/ppcg/poly"
	"github.com/PollyLabs/ppcg/schedule"
)

// computeSchedule derives the schedule tree the kernels are carved out
// of. Under live-range reordering only flow and forced dependences
// constrain validity; false dependences merely steer proximity, and
// coincidence follows validity with the declared independences removed
// and the array order dependences added, so live ranges may be
// reordered but not interleaved.
func computeSchedule(prog *Prog, opts *Options) (*poly.ScheduleNode, error) {
	s := prog.Scop
	var validity, coincidence, proximity *poly.UnionMap
	if opts.LiveRangeReordering {
		validity = s.DepFlow.Copy().Union(s.DepForced)
		proximity = s.DepFlow.Copy().Union(s.DepFalse)
		coincidence = validity.Copy()
		for _, ind := range s.Independences {
			coincidence = coincidence.Subtract(ind.Pairs)
		}
		coincidence = coincidence.Union(prog.ArrayOrder)
	} else {
		validity = s.DepFlow.Copy().Union(s.DepFalse)
		coincidence = validity.Copy()
		proximity = s.DepFlow.Copy()
	}
	return schedule.Compute(&schedule.Constraints{
		Domain:      s.Domain(),
		Context:     s.Context,
		Validity:    validity,
		Coincidence: coincidence,
		Proximity:   proximity,
	})
}
