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

	"github.com/spatialmodel/quadmesh/comm"
	"gonum.org/v1/gonum/floats"
)

// kahan is a compensated running sum.
type kahan struct {
	sum, c float64
}

func (k *kahan) add(v float64) {
	y := v - k.c
	t := k.sum + y
	k.c = (t - k.sum) - y
	k.sum = t
}

// Areas returns the area of every owned cell.
func (m *Mesh) Areas() []float64 {
	a := make([]float64, m.ncells)
	for c := range a {
		a[c] = m.Area(c)
	}
	return a
}

// SumField returns the sum over the real cells of all ranks of the float64
// field h multiplied by cell area, which is the total amount in the domain
// of a quantity whose density the field holds. Boundary cells are left out. With enhanced set, the local sums are
// compensated and the per-rank partial sums are combined with their
// compensation terms, which keeps the result stable as the number of cells
// grows.
func (m *Mesh) SumField(ctx context.Context, h FieldHandle, enhanced bool) (float64, error) {
	v, err := Values[float64](m, h)
	if err != nil {
		return 0, err
	}
	v = v[:m.ncells]
	area := m.Areas()
	for c, t := range m.celltype[:m.ncells] {
		if t != RealCell {
			area[c] = 0
		}
	}
	if !enhanced {
		total, err := comm.AllreduceFloat(ctx, m.comm, floats.Dot(v, area), comm.Sum)
		if err != nil {
			return 0, fmt.Errorf("quadmesh: summing field: %w", err)
		}
		return total, nil
	}
	var k kahan
	for c, x := range v {
		k.add(x * area[c])
	}
	parts, err := comm.AllgatherSlices(ctx, m.comm, []float64{k.sum, k.c})
	if err != nil {
		return 0, fmt.Errorf("quadmesh: summing field: %w", err)
	}
	var total kahan
	for r, p := range parts {
		if len(p) != 2 {
			return 0, fmt.Errorf("quadmesh: summing field: malformed partial sum from rank %d", r)
		}
		total.add(p[0])
		total.add(-p[1])
	}
	return total.sum, nil
}
