// Package lp defines the narrow linear-programming contract used to solve a
// locus, a dry-run Counter for sizing problems, and a simplex backend.
//
// Variables are indexed from 0 and implicitly bounded below by 0.
package lp

import (
	"context"
	"fmt"
)

// Op is the relational operator of a constraint row.
type Op int

const (
	EQ Op = iota // ==
	LE           // <=
	GE           // >=
)

func (o Op) String() string {
	switch o {
	case EQ:
		return "="
	case LE:
		return "<="
	case GE:
		return ">="
	}
	return fmt.Sprintf("Op(%d)", int(o))
}

// Status is the outcome of a solve.
type Status int

const (
	Optimal Status = iota
	Infeasible
	Unbounded
	NumericFailure
	Timeout
)

func (s Status) String() string {
	switch s {
	case Optimal:
		return "optimal"
	case Infeasible:
		return "infeasible"
	case Unbounded:
		return "unbounded"
	case NumericFailure:
		return "numeric_failure"
	case Timeout:
		return "timeout"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Solver allocates problems.
type Solver interface {
	// NewProblem allocates a minimization problem over nVars variables with
	// room for nRows constraints.
	NewProblem(nVars, nRows int) Problem
}

// Problem accumulates a linear program and solves it.
type Problem interface {
	// AddConstraint adds the row sum(coef[i]*x[idx[i]]) op rhs.
	AddConstraint(idx []int, coef []float64, op Op, rhs float64) error
	// SetObjective sets the cost of variable idx.
	SetObjective(idx int, c float64)
	// SetUpperBound bounds variable idx from above.
	SetUpperBound(idx int, ub float64)
	// Solve minimizes the objective. The solution is only meaningful when
	// the status is Optimal.
	Solve(ctx context.Context) (Status, []float64)
	// Dispose releases the problem.
	Dispose()
}

// Counter is a Problem that only records the size of what is added to it.
type Counter struct {
	Vars     int // One past the largest variable index seen
	Rows     int
	Nonzeros int
}

func (c *Counter) see(idx int) {
	if idx+1 > c.Vars {
		c.Vars = idx + 1
	}
}

// AddConstraint implements Problem.
func (c *Counter) AddConstraint(idx []int, coef []float64, _ Op, _ float64) error {
	if len(idx) != len(coef) {
		return fmt.Errorf("constraint has %d indices and %d coefficients", len(idx), len(coef))
	}
	for _, i := range idx {
		c.see(i)
	}
	c.Rows++
	c.Nonzeros += len(idx)
	return nil
}

// SetObjective implements Problem.
func (c *Counter) SetObjective(idx int, _ float64) { c.see(idx) }

// SetUpperBound implements Problem.
func (c *Counter) SetUpperBound(idx int, _ float64) { c.see(idx) }

// Solve implements Problem; a Counter cannot be solved.
func (c *Counter) Solve(context.Context) (Status, []float64) { return NumericFailure, nil }

// Dispose implements Problem.
func (c *Counter) Dispose() {}
