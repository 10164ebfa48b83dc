/*
Copyright © 2019 the Quadmesh authors.
This file is part of Quadmesh.

Quadmesh is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Quadmesh is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Quadmesh.  If not, see <http://www.gnu.org/licenses/>.
*/

package quadmesh

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
)

// MeshManipulator is a step applied to every rank's mesh during a run.
type MeshManipulator func(ctx context.Context, m *Mesh) error

// Driver runs a sequence of manipulators on a mesh: InitFuncs once, then
// RunFuncs once per cycle. Every rank of a group must run the same driver.
type Driver struct {
	InitFuncs []MeshManipulator
	RunFuncs  []MeshManipulator
}

// Init runs the initialization functions.
func (d *Driver) Init(ctx context.Context, m *Mesh) error {
	for i, f := range d.InitFuncs {
		if err := f(ctx, m); err != nil {
			return fmt.Errorf("quadmesh: initialization step %d: %w", i, err)
		}
	}
	return nil
}

// Run runs the cycle functions for the given number of cycles.
func (d *Driver) Run(ctx context.Context, m *Mesh, cycles int) error {
	for c := 0; c < cycles; c++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i, f := range d.RunFuncs {
			if err := f(ctx, m); err != nil {
				return fmt.Errorf("quadmesh: cycle %d, step %d: %w", c, i, err)
			}
		}
		m.diag.Cycles++
	}
	return nil
}

// Marker decides which cells to refine and coarsen. Mark returns one entry
// per owned cell: positive to refine, negative to coarsen and zero to keep.
type Marker interface {
	Mark(ctx context.Context, m *Mesh) ([]int, error)
}

// MarkerFunc adapts a function to the Marker interface.
type MarkerFunc func(ctx context.Context, m *Mesh) ([]int, error)

// Mark implements Marker.
func (f MarkerFunc) Mark(ctx context.Context, m *Mesh) ([]int, error) { return f(ctx, m) }

// UpdateNeighbors recomputes neighbors, and ghost cells for a distributed
// mesh, if the mesh changed since they were last computed.
func UpdateNeighbors() MeshManipulator {
	return func(ctx context.Context, m *Mesh) error {
		if m.NeighborsValid() {
			return nil
		}
		return m.CalcNeighbors(ctx)
	}
}

// RefineCoarsen rezones the mesh according to the marks of marker.
func RefineCoarsen(marker Marker) MeshManipulator {
	return func(ctx context.Context, m *Mesh) error {
		if !m.NeighborsValid() {
			if err := m.CalcNeighbors(ctx); err != nil {
				return err
			}
		}
		mpot, err := marker.Mark(ctx, m)
		if err != nil {
			return fmt.Errorf("quadmesh: marking cells: %w", err)
		}
		return m.Rezone(ctx, mpot)
	}
}

// LoadBalance rebalances the cells among the ranks.
func LoadBalance() MeshManipulator {
	return func(ctx context.Context, m *Mesh) error {
		return m.Rebalance(ctx)
	}
}

// RunPeriodically runs f every n cycles, starting with the first.
func RunPeriodically(n int, f MeshManipulator) MeshManipulator {
	cycle := 0
	return func(ctx context.Context, m *Mesh) error {
		defer func() { cycle++ }()
		if n <= 1 || cycle%n == 0 {
			return f(ctx, m)
		}
		return nil
	}
}

// CheckAgainstGlobal compares the distributed mesh with a single-process
// replica of it: the cells must match and, when neighbors are current,
// so must the neighbors of every owned cell.
func CheckAgainstGlobal() MeshManipulator {
	return func(ctx context.Context, m *Mesh) error {
		g, err := m.GatherGlobal(ctx)
		if err != nil {
			return err
		}
		if !m.NeighborsValid() {
			return m.CompareIndices(g)
		}
		if err := m.Verify(); err != nil {
			return err
		}
		if err := g.CalcNeighbors(ctx); err != nil {
			return err
		}
		return m.CompareNeighbors(g)
	}
}

// CheckConservation fails if the area weighted sum of the float64 field
// named name moves away from its value at the first check by more than the
// relative tolerance.
func CheckConservation(name string, tolerance float64) MeshManipulator {
	first := math.NaN()
	return func(ctx context.Context, m *Mesh) error {
		h, ok := m.Lookup(name)
		if !ok {
			return fmt.Errorf("quadmesh: conservation check: no field named %q", name)
		}
		sum, err := m.SumField(ctx, h, true)
		if err != nil {
			return err
		}
		if math.IsNaN(first) {
			first = sum
			return nil
		}
		if bias := math.Abs(sum-first) / math.Max(math.Abs(first), math.SmallestNonzeroFloat64); bias > tolerance {
			return fmt.Errorf("quadmesh: sum of %s changed from %g to %g", name, first, sum)
		}
		return nil
	}
}

// LogCycle logs the size of the mesh and the time taken by each cycle.
func LogCycle() MeshManipulator {
	startTime := time.Now()
	cycleTime := time.Now()
	cycle := 0
	return func(ctx context.Context, m *Mesh) error {
		cycle++
		d := m.Diagnostics()
		m.Log.WithFields(logrus.Fields{
			"cycle":         cycle,
			"ncells":        m.Ncells(),
			"ncells_global": m.NcellsGlobal(),
			"ghosts":        m.NcellsGhost() - m.Ncells(),
			"refined":       d.Refined,
			"coarsened":     d.Coarsened,
			"walltime":      time.Since(startTime).Round(time.Millisecond).String(),
			"cycle_time":    time.Since(cycleTime).Round(time.Millisecond).String(),
		}).Info("quadmesh: cycle")
		cycleTime = time.Now()
		return nil
	}
}

// FrontMarker refines cells near a circular front that expands from
// (X, Y) by Speed per cycle, starting at Radius, and coarsens cells away
// from it.
type FrontMarker struct {
	X, Y          float64
	Radius, Speed float64

	// Width is the half width of the refined band, in coarse cells.
	Width float64

	cycle int
}

// Mark implements Marker.
func (f *FrontMarker) Mark(ctx context.Context, m *Mesh) ([]int, error) {
	r := f.Radius + f.Speed*float64(f.cycle)
	f.cycle++
	cfg := m.Config()
	band := f.Width * math.Max(cfg.Dx, cfg.Dy)
	mpot := make([]int, m.Ncells())
	for c := range mpot {
		x, y, dx, dy := m.SpatialBounds(c)
		dist := math.Hypot(x+dx/2-f.X, y+dy/2-f.Y)
		if math.Abs(dist-r) <= band {
			mpot[c] = 1
		} else {
			mpot[c] = -1
		}
	}
	return mpot, nil
}
