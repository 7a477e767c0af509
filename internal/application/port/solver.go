package port

import "errors"

// Solve outcomes that are expected and non-fatal: the caller treats them as
// "no opportunity this iteration".
var (
	ErrInfeasible = errors.New("solver: model infeasible")
	ErrUnbounded  = errors.New("solver: model unbounded")
	ErrSolveLimit = errors.New("solver: search limit reached")
)

// Sense is the relation of a linear constraint.
type Sense int

const (
	SenseLE Sense = iota // <=
	SenseGE              // >=
	SenseEQ              // ==
)

// Term is one variable's coefficient in a linear expression.
type Term struct {
	Var   int
	Coeff float64
}

// Solution is the result of one solve: objective value and one value per
// declared variable, in declaration order.
type Solution struct {
	Objective float64
	Values    []float64
}

// ConstraintModel is the capability the optimizer needs from a mixed-integer
// solver: binary variables, named linear constraints, a maximization
// objective, and a solve call. The optimizer composes over this interface so
// any solver implementation can be substituted without touching graph or
// matrix logic.
type ConstraintModel interface {
	// AddBinaryVars declares n binary decision variables and returns their
	// handles, consecutive from the current variable count.
	AddBinaryVars(n int) []int

	// AddConstraint adds or replaces the named linear constraint
	// sum(terms) (sense) rhs.
	AddConstraint(name string, terms []Term, sense Sense, rhs float64)

	// RemoveConstraint drops the named constraint, reporting whether it existed.
	RemoveConstraint(name string) bool

	// SetMaximize sets the objective coefficients, one per declared variable.
	SetMaximize(coeffs []float64)

	// Solve maximizes the objective subject to all constraints. It returns
	// ErrInfeasible, ErrUnbounded or ErrSolveLimit when no usable optimum
	// exists; these are expected outcomes, not failures.
	Solve() (*Solution, error)
}

// ModelFactory builds a fresh, empty constraint model.
type ModelFactory func() ConstraintModel
