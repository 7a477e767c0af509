// Package solver is an exact branch-and-bound solver for pure binary linear
// programs, implementing port.ConstraintModel. The cycle-selection model only
// needs binary variables with small-integer constraint coefficients, which
// keeps an exact search tractable: the bound (current value plus the positive
// objective mass still unfixed) prunes almost everything because profitable
// edges are rare.
package solver

import (
	"errors"
	"math"

	"arbscan/internal/application/port"
)

// DefaultNodeLimit caps the search-tree size per solve. Hitting it is treated
// by callers as "no opportunity this iteration".
const DefaultNodeLimit = 5_000_000

var errObjectiveMismatch = errors.New("solver: objective length does not match variable count")

type constraint struct {
	name  string
	terms []port.Term
	sense port.Sense
	rhs   float64
}

// Model accumulates variables and constraints, then solves by depth-first
// branch and bound. Zero value is not usable; use New.
type Model struct {
	numVars   int
	cons      []constraint
	byName    map[string]int
	obj       []float64
	nodeLimit int64
}

// New returns an empty model with the default search limit.
func New() *Model {
	return &Model{byName: make(map[string]int), nodeLimit: DefaultNodeLimit}
}

// Factory is the port.ModelFactory for this implementation.
func Factory() port.ConstraintModel {
	return New()
}

func (m *Model) AddBinaryVars(n int) []int {
	ids := make([]int, n)
	for i := range ids {
		ids[i] = m.numVars + i
	}
	m.numVars += n
	return ids
}

func (m *Model) AddConstraint(name string, terms []port.Term, sense port.Sense, rhs float64) {
	c := constraint{name: name, terms: terms, sense: sense, rhs: rhs}
	if idx, ok := m.byName[name]; ok {
		m.cons[idx] = c
		return
	}
	m.byName[name] = len(m.cons)
	m.cons = append(m.cons, c)
}

func (m *Model) RemoveConstraint(name string) bool {
	idx, ok := m.byName[name]
	if !ok {
		return false
	}
	m.cons = append(m.cons[:idx], m.cons[idx+1:]...)
	delete(m.byName, name)
	for n, i := range m.byName {
		if i > idx {
			m.byName[n] = i - 1
		}
	}
	return true
}

func (m *Model) SetMaximize(coeffs []float64) {
	m.obj = append(m.obj[:0], coeffs...)
}

type searchState struct {
	order     []int // variables, most attractive first
	objSuffix []float64
	value     []int8 // -1 unfixed, 0, 1

	// per-constraint running state
	cur    []float64
	posRem []float64
	negRem []float64
	// var -> list of (constraint index, coeff)
	varCons [][]varTerm

	best     float64
	haveBest bool
	incumb   []float64
	nodes    int64
}

type varTerm struct {
	con   int
	coeff float64
}

const feasEps = 1e-9

// Solve runs the branch-and-bound search. Expected non-fatal outcomes are
// ErrInfeasible (no assignment satisfies the constraints) and ErrSolveLimit
// (search budget exhausted before any incumbent was found).
func (m *Model) Solve() (*port.Solution, error) {
	if len(m.obj) != m.numVars {
		return nil, errObjectiveMismatch
	}

	st := &searchState{
		order:  make([]int, m.numVars),
		value:  make([]int8, m.numVars),
		cur:    make([]float64, len(m.cons)),
		posRem: make([]float64, len(m.cons)),
		negRem: make([]float64, len(m.cons)),
		best:   math.Inf(-1),
	}
	for i := range st.order {
		st.order[i] = i
		st.value[i] = -1
	}
	// most attractive variables first so the incumbent improves early
	sortByObjDesc(st.order, m.obj)

	st.objSuffix = make([]float64, m.numVars+1)
	for i := m.numVars - 1; i >= 0; i-- {
		st.objSuffix[i] = st.objSuffix[i+1] + math.Max(0, m.obj[st.order[i]])
	}

	st.varCons = make([][]varTerm, m.numVars)
	for ci, c := range m.cons {
		for _, t := range c.terms {
			st.varCons[t.Var] = append(st.varCons[t.Var], varTerm{con: ci, coeff: t.Coeff})
			if t.Coeff > 0 {
				st.posRem[ci] += t.Coeff
			} else {
				st.negRem[ci] += t.Coeff
			}
		}
	}

	limited := !m.branch(st, 0, 0)

	if !st.haveBest {
		if limited {
			return nil, port.ErrSolveLimit
		}
		return nil, port.ErrInfeasible
	}
	return &port.Solution{Objective: st.best, Values: st.incumb}, nil
}

// branch explores position pos with accumulated objective cur. Returns false
// once the node budget is exhausted.
func (m *Model) branch(st *searchState, pos int, cur float64) bool {
	st.nodes++
	if st.nodes > m.nodeLimit {
		return false
	}
	if cur+st.objSuffix[pos] <= st.best {
		return true
	}
	if pos == len(st.order) {
		for ci := range m.cons {
			if !senseHolds(st.cur[ci], m.cons[ci].sense, m.cons[ci].rhs) {
				return true
			}
		}
		st.best = cur
		st.haveBest = true
		st.incumb = make([]float64, m.numVars)
		for v, val := range st.value {
			st.incumb[v] = float64(val)
		}
		return true
	}

	v := st.order[pos]
	first, second := int8(0), int8(1)
	if m.obj[v] > 0 {
		first, second = 1, 0
	}
	for _, val := range []int8{first, second} {
		if !m.fix(st, v, val) {
			m.unfix(st, v, val)
			continue
		}
		ok := m.branch(st, pos+1, cur+float64(val)*m.obj[v])
		m.unfix(st, v, val)
		if !ok {
			return false
		}
	}
	return true
}

// fix assigns v and reports whether the touched constraints can still be
// satisfied.
func (m *Model) fix(st *searchState, v int, val int8) bool {
	st.value[v] = val
	feasible := true
	for _, vt := range st.varCons[v] {
		if vt.coeff > 0 {
			st.posRem[vt.con] -= vt.coeff
		} else {
			st.negRem[vt.con] -= vt.coeff
		}
		st.cur[vt.con] += float64(val) * vt.coeff
	}
	for _, vt := range st.varCons[v] {
		c := m.cons[vt.con]
		lo := st.cur[vt.con] + st.negRem[vt.con]
		hi := st.cur[vt.con] + st.posRem[vt.con]
		switch c.sense {
		case port.SenseLE:
			if lo > c.rhs+feasEps {
				feasible = false
			}
		case port.SenseGE:
			if hi < c.rhs-feasEps {
				feasible = false
			}
		case port.SenseEQ:
			if lo > c.rhs+feasEps || hi < c.rhs-feasEps {
				feasible = false
			}
		}
		if !feasible {
			break
		}
	}
	return feasible
}

func (m *Model) unfix(st *searchState, v int, val int8) {
	for _, vt := range st.varCons[v] {
		if vt.coeff > 0 {
			st.posRem[vt.con] += vt.coeff
		} else {
			st.negRem[vt.con] += vt.coeff
		}
		st.cur[vt.con] -= float64(val) * vt.coeff
	}
	st.value[v] = -1
}

func senseHolds(lhs float64, sense port.Sense, rhs float64) bool {
	switch sense {
	case port.SenseLE:
		return lhs <= rhs+feasEps
	case port.SenseGE:
		return lhs >= rhs-feasEps
	default:
		return math.Abs(lhs-rhs) <= feasEps
	}
}

func sortByObjDesc(order []int, obj []float64) {
	// insertion sort keeps ties in declaration order, which makes solutions
	// deterministic across runs
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && obj[order[j]] > obj[order[j-1]]; j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}
}

var _ port.ConstraintModel = (*Model)(nil)
