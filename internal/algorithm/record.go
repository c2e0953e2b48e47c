package algorithm

import (
	"gonum.org/v1/gonum/mat"
)

// Series names
const (
	SeriesAnalysis       = "Analysis"
	SeriesCurrentState   = "CurrentState"
	SeriesCostJ          = "CostFunctionJ"
	SeriesCostJb         = "CostFunctionJb"
	SeriesCostJo         = "CostFunctionJo"
	SeriesBackground     = "Background"
	SeriesObservation    = "Observation"
	SeriesCurrentOptimum = "CurrentOptimum"
)

// supplementary lists the optional series an algorithm can be asked to store.
var supplementary = map[string]bool{
	"CurrentOptimum":                       true,
	"CostFunctionJAtCurrentOptimum":        true,
	"CostFunctionJbAtCurrentOptimum":       true,
	"CostFunctionJoAtCurrentOptimum":       true,
	"SimulatedObservationAtBackground":     true,
	"SimulatedObservationAtCurrentState":   true,
	"SimulatedObservationAtCurrentOptimum": true,
	"SimulatedObservationAtOptimum":        true,
	"Innovation":                           true,
	"OMA":                                  true,
	"OMB":                                  true,
	"BMA":                                  true,
}

// SupplementaryNames returns the accepted StoreSupplementaryCalculations values.
func SupplementaryNames() []string {
	names := make([]string, 0, len(supplementary))
	for name := range supplementary {
		names = append(names, name)
	}
	return names
}

// objective holds the inverted covariances of a problem.
type objective struct {
	xb   *mat.VecDense
	y    *mat.VecDense
	binv *mat.Dense // nil when the background term is ignored
	rinv *mat.Dense
}

func newObjective(p *Problem, background bool) (*objective, error) {
	n, m := len(p.Background), len(p.Observation)
	rinv, err := p.ObservationError.Inverse(m)
	if err != nil {
		return nil, err
	}
	o := &objective{
		xb:   mat.NewVecDense(n, clone(p.Background)),
		y:    mat.NewVecDense(m, clone(p.Observation)),
		rinv: rinv,
	}
	if background {
		if o.binv, err = p.BackgroundError.Inverse(n); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// cost returns the background and observation terms at x with H(x) = hx.
func (o *objective) cost(x, hx Vector) (jb, jo float64) {
	if o.binv != nil {
		var dxb mat.VecDense
		dxb.SubVec(mat.NewVecDense(len(x), clone(x)), o.xb)
		jb = 0.5 * mat.Inner(&dxb, o.binv, &dxb)
	}
	var innov mat.VecDense
	innov.SubVec(o.y, mat.NewVecDense(len(hx), clone(hx)))
	jo = 0.5 * mat.Inner(&innov, o.rinv, &innov)
	return jb, jo
}

// recorder stores the per-iteration and final series of a run.
type recorder struct {
	p     *Problem
	st    *State
	want  map[string]bool
	bestJ float64
	bestX Vector
	seen  bool
}

func newRecorder(p *Problem) *recorder {
	r := &recorder{
		p:    p,
		st:   NewState(p.Observers...),
		want: make(map[string]bool, len(p.StoreSupplementary)),
	}
	for _, name := range p.StoreSupplementary {
		r.want[name] = true
	}
	if p.StoreBackground {
		r.st.Store(SeriesBackground, p.Background)
	}
	if p.StoreObservation {
		r.st.Store(SeriesObservation, p.Observation)
	}
	return r
}

func (r *recorder) storeIf(name string, v Vector) {
	if r.want[name] {
		r.st.Store(name, v)
	}
}

// iterate records one accepted state.
func (r *recorder) iterate(x, hx Vector, jb, jo float64) {
	j := jb + jo
	r.st.Store(SeriesCurrentState, x)
	r.st.Store(SeriesCostJ, Vector{j})
	r.st.Store(SeriesCostJb, Vector{jb})
	r.st.Store(SeriesCostJo, Vector{jo})
	r.storeIf("SimulatedObservationAtCurrentState", hx)

	if !r.seen || j < r.bestJ {
		r.seen = true
		r.bestJ = j
		r.bestX = clone(x)
		r.storeIf("CurrentOptimum", x)
		r.storeIf("SimulatedObservationAtCurrentOptimum", hx)
		r.storeIf("CostFunctionJAtCurrentOptimum", Vector{j})
		r.storeIf("CostFunctionJbAtCurrentOptimum", Vector{jb})
		r.storeIf("CostFunctionJoAtCurrentOptimum", Vector{jo})
	}
}

// finish records the analysis and the diagnostics derived from it.
func (r *recorder) finish(xa, hxa, hxb Vector) *State {
	r.st.Store(SeriesAnalysis, xa)
	r.storeIf("SimulatedObservationAtOptimum", hxa)
	if hxb != nil {
		r.storeIf("SimulatedObservationAtBackground", hxb)
		r.storeIf("Innovation", sub(r.p.Observation, hxb))
		r.storeIf("OMB", sub(r.p.Observation, hxb))
	}
	r.storeIf("OMA", sub(r.p.Observation, hxa))
	r.storeIf("BMA", sub(r.p.Background, xa))
	return r.st
}

func sub(a, b Vector) Vector {
	out := make(Vector, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}
