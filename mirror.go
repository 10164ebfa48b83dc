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
	"github.com/spatialmodel/quadmesh/internal/hash"
)

// GatherGlobal assembles the cells of all ranks, in global order, into a
// single-process mesh on every rank. The copy shares no state with m and
// has no registered fields. It serves as the reference when checking a
// distributed mesh.
func (m *Mesh) GatherGlobal(ctx context.Context) (*Mesh, error) {
	n := m.ncells
	local := make([]int, 0, 4*n)
	for c := 0; c < n; c++ {
		local = append(local, m.i[c], m.j[c], m.level[c], int(m.celltype[c]))
	}
	all, err := comm.AllgatherSlices(ctx, m.comm, local)
	if err != nil {
		return nil, fmt.Errorf("quadmesh: gathering global mesh: %w", err)
	}
	cfg := m.cfg
	cfg.Parallel = false
	g := &Mesh{
		cfg:     cfg,
		lat:     m.lat,
		comm:    comm.NewLocalGroup(1)[0],
		Log:     m.Log.WithField("replica", true),
		tracer:  m.tracer,
		weights: EqualShares,
	}
	g.diag.init()
	for _, recs := range all {
		for k := 0; k+3 < len(recs); k += 4 {
			g.i = append(g.i, recs[k])
			g.j = append(g.j, recs[k+1])
			g.level = append(g.level, recs[k+2])
			g.celltype = append(g.celltype, CellType(recs[k+3]))
		}
	}
	g.setSizes([]int{len(g.i)})
	g.ncellsGhost = g.ncells
	if g.ncells != m.ncellsGlobal {
		return nil, m.invariant("gather_global", "gathered %d cells but the mesh has %d", g.ncells, m.ncellsGlobal)
	}
	return g, nil
}

// GatherValues collects the owned entries of field h from every rank in
// global order.
func GatherValues[T Number](ctx context.Context, m *Mesh, h FieldHandle) ([]T, error) {
	v, err := Values[T](m, h)
	if err != nil {
		return nil, err
	}
	all, err := comm.AllgatherSlices(ctx, m.comm, append([]T(nil), v[:m.ncells]...))
	if err != nil {
		return nil, fmt.Errorf("quadmesh: gathering field: %w", err)
	}
	var out []T
	for _, part := range all {
		out = append(out, part...)
	}
	return out, nil
}

// CompareIndices checks that the owned cells of m are the cells at the
// same global positions of the replica g.
func (m *Mesh) CompareIndices(g *Mesh) error {
	if g.ncells != m.ncellsGlobal {
		return fmt.Errorf("quadmesh: replica has %d cells, mesh has %d", g.ncells, m.ncellsGlobal)
	}
	for c := 0; c < m.ncells; c++ {
		gc := m.noffset + c
		if m.i[c] != g.i[gc] || m.j[c] != g.j[gc] || m.level[c] != g.level[gc] || m.celltype[c] != g.celltype[gc] {
			return &InvariantError{Op: "compare_indices", Rank: m.rank(), Msg: fmt.Sprintf(
				"cell %d is (%d,%d,%d,%v) locally and (%d,%d,%d,%v) in the replica", gc,
				m.i[c], m.j[c], m.level[c], m.celltype[c], g.i[gc], g.j[gc], g.level[gc], g.celltype[gc])}
		}
	}
	return nil
}

// CompareNeighbors checks that the neighbors of the owned cells of m,
// translated to global indices, match those of the replica g. Both meshes
// must have current neighbors.
func (m *Mesh) CompareNeighbors(g *Mesh) error {
	if !m.neighborsValid || !g.neighborsValid {
		return fmt.Errorf("quadmesh: comparing neighbors: neighbors have not been computed")
	}
	if err := m.CompareIndices(g); err != nil {
		return err
	}
	for c := 0; c < m.ncells; c++ {
		gc := m.noffset + c
		for _, d := range directions {
			n := m.neighbor(c, d)
			if n < 0 {
				return &InvariantError{Op: "compare_neighbors", Rank: m.rank(),
					Msg: fmt.Sprintf("cell %d has no %v neighbor", gc, d)}
			}
			if have, want := m.GlobalIndex(n), g.neighbor(gc, d); have != want {
				return &InvariantError{Op: "compare_neighbors", Rank: m.rank(), Msg: fmt.Sprintf(
					"%v neighbor of cell %d is %d locally and %d in the replica", d, gc, have, want)}
			}
		}
	}
	return nil
}

// Fingerprint returns a key identifying the global cell arrays. Meshes
// with the same cells in the same global order have the same fingerprint
// regardless of how they are partitioned.
func (m *Mesh) Fingerprint(ctx context.Context) (string, error) {
	g, err := m.GatherGlobal(ctx)
	if err != nil {
		return "", err
	}
	return hash.Fingerprint(g.i, g.j, g.level, g.celltype), nil
}
