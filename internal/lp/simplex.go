package lp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	glp "gonum.org/v1/gonum/optimize/convex/lp"
)

// DefaultTolerance is the reduced-cost tolerance of the simplex.
const DefaultTolerance = 1e-9

// Simplex solves problems with the gonum dense simplex. Each solve runs in
// its own goroutine; when Timeout elapses first the solve reports Timeout
// and the goroutine is abandoned to finish on its own. gonum's simplex
// cannot be interrupted, so abandoned solves keep their CPU and memory
// until they return; Abandoned reports how many are still running.
type Simplex struct {
	Tolerance float64
	Timeout   time.Duration

	logger    *zap.Logger
	abandoned atomic.Int64
	run       func(c []float64, a mat.Matrix, b []float64, tol float64) ([]float64, error)
}

// NewSimplex returns a simplex solver.
func NewSimplex(tolerance float64, timeout time.Duration) *Simplex {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &Simplex{Tolerance: tolerance, Timeout: timeout, logger: zap.NewNop(), run: simplex}
}

func simplex(c []float64, a mat.Matrix, b []float64, tol float64) ([]float64, error) {
	_, x, err := glp.Simplex(c, a, b, tol, nil)
	return x, err
}

// Abandoned returns the number of timed-out solves still running.
func (s *Simplex) Abandoned() int64 {
	return s.abandoned.Load()
}

// SetLogger sets the logger for solver diagnostics.
func (s *Simplex) SetLogger(l *zap.Logger) {
	s.logger = l
}

// NewProblem implements Solver.
func (s *Simplex) NewProblem(nVars, nRows int) Problem {
	p := &problem{
		solver: s,
		n:      nVars,
		cost:   make([]float64, nVars),
		upper:  make([]float64, nVars),
		rows:   make([]row, 0, nRows),
	}
	for i := range p.upper {
		p.upper[i] = math.Inf(1)
	}
	return p
}

type row struct {
	idx  []int
	coef []float64
	op   Op
	rhs  float64
}

type problem struct {
	solver *Simplex
	n      int
	cost   []float64
	upper  []float64
	rows   []row
}

func (p *problem) check(idx int) {
	if idx < 0 || idx >= p.n {
		panic(fmt.Sprintf("lp: variable %d out of range [0,%d)", idx, p.n))
	}
}

func (p *problem) AddConstraint(idx []int, coef []float64, op Op, rhs float64) error {
	if len(idx) != len(coef) {
		return fmt.Errorf("constraint has %d indices and %d coefficients", len(idx), len(coef))
	}
	for _, i := range idx {
		if i < 0 || i >= p.n {
			return fmt.Errorf("constraint variable %d out of range [0,%d)", i, p.n)
		}
	}
	if math.IsNaN(rhs) || math.IsInf(rhs, 0) {
		return fmt.Errorf("constraint rhs %v is not finite", rhs)
	}
	p.rows = append(p.rows, row{
		idx:  append([]int(nil), idx...),
		coef: append([]float64(nil), coef...),
		op:   op,
		rhs:  rhs,
	})
	return nil
}

func (p *problem) SetObjective(idx int, c float64) {
	p.check(idx)
	p.cost[idx] = c
}

func (p *problem) SetUpperBound(idx int, ub float64) {
	p.check(idx)
	p.upper[idx] = ub
}

func (p *problem) Dispose() {
	p.rows = nil
	p.cost = nil
	p.upper = nil
}

// standardForm converts the rows and bounds to A x = b, x >= 0. Inequalities
// and upper bounds each get their own slack column, and variables that occur
// in no row are dropped. cols maps standard-form columns back to problem
// variables; slack columns map to -1.
func (p *problem) standardForm() (c []float64, a *mat.Dense, b []float64, cols []int) {
	used := make([]bool, p.n)
	for _, r := range p.rows {
		for k, i := range r.idx {
			if r.coef[k] != 0 {
				used[i] = true
			}
		}
	}
	colOf := make([]int, p.n)
	for i := range colOf {
		colOf[i] = -1
		if used[i] {
			colOf[i] = len(cols)
			cols = append(cols, i)
		}
	}

	type entry struct {
		col  int
		coef float64
	}
	var (
		rowsA [][]entry
		rhs   []float64
	)
	nslack := 0
	for _, r := range p.rows {
		var es []entry
		for k, i := range r.idx {
			if r.coef[k] != 0 {
				es = append(es, entry{colOf[i], r.coef[k]})
			}
		}
		if len(es) == 0 {
			continue
		}
		switch r.op {
		case LE:
			es = append(es, entry{-1 - nslack, 1})
			nslack++
		case GE:
			es = append(es, entry{-1 - nslack, -1})
			nslack++
		}
		rowsA = append(rowsA, es)
		rhs = append(rhs, r.rhs)
	}
	for i, ub := range p.upper {
		if !used[i] || math.IsInf(ub, 1) {
			continue
		}
		rowsA = append(rowsA, []entry{{colOf[i], 1}, {-1 - nslack, 1}})
		rhs = append(rhs, ub)
		nslack++
	}

	if len(rowsA) == 0 {
		return nil, nil, nil, nil
	}
	nv := len(cols)
	a = mat.NewDense(len(rowsA), nv+nslack, nil)
	for ri, es := range rowsA {
		for _, e := range es {
			col := e.col
			if col < 0 {
				col = nv - 1 - col
			}
			a.Set(ri, col, a.At(ri, col)+e.coef)
		}
	}
	c = make([]float64, nv+nslack)
	for j, i := range cols {
		c[j] = p.cost[i]
	}
	for k := 0; k < nslack; k++ {
		cols = append(cols, -1)
	}
	return c, a, rhs, cols
}

type outcome struct {
	x   []float64
	err error
}

// Solve implements Problem.
func (p *problem) Solve(ctx context.Context) (Status, []float64) {
	c, a, b, cols := p.standardForm()
	if len(b) == 0 {
		return Optimal, make([]float64, p.n)
	}
	if rows, ncols := a.Dims(); rows > ncols {
		p.solver.logger.Debug("more rows than columns", zap.Int("rows", rows), zap.Int("cols", ncols))
		return NumericFailure, nil
	}

	if ctx.Err() != nil {
		return Timeout, nil
	}
	if p.solver.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.solver.Timeout)
		defer cancel()
	}

	const (
		running int32 = iota
		finished
		abandoned
	)
	var state atomic.Int32
	done := make(chan outcome, 1)
	go func() {
		var out outcome
		func() {
			defer func() {
				if r := recover(); r != nil {
					out = outcome{err: fmt.Errorf("simplex panic: %v", r)}
				}
			}()
			x, err := p.solver.run(c, a, b, p.solver.Tolerance)
			out = outcome{x: x, err: err}
		}()
		if !state.CompareAndSwap(running, finished) {
			n := p.solver.abandoned.Add(-1)
			p.solver.logger.Debug("abandoned simplex solve returned", zap.Int64("still_running", n))
			return
		}
		done <- out
	}()

	var out outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		n := p.solver.abandoned.Add(1)
		if !state.CompareAndSwap(running, abandoned) {
			// Finished while the timeout fired.
			p.solver.abandoned.Add(-1)
			out = <-done
			break
		}
		rows, ncols := a.Dims()
		p.solver.logger.Warn("simplex solve abandoned after timeout",
			zap.Duration("timeout", p.solver.Timeout),
			zap.Int("rows", rows),
			zap.Int("cols", ncols),
			zap.Int64("still_running", n))
		return Timeout, nil
	}

	if status := statusOf(out.err); status != Optimal {
		p.solver.logger.Debug("simplex failed", zap.Stringer("status", status), zap.Error(out.err))
		return status, nil
	}

	x := make([]float64, p.n)
	for j, i := range cols {
		if i < 0 {
			continue
		}
		v := out.x[j]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return NumericFailure, nil
		}
		x[i] = v
	}
	return Optimal, x
}

func statusOf(err error) Status {
	switch {
	case err == nil:
		return Optimal
	case errors.Is(err, glp.ErrInfeasible):
		return Infeasible
	case errors.Is(err, glp.ErrUnbounded):
		return Unbounded
	}
	return NumericFailure
}
