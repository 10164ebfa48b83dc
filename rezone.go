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

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/quadmesh/comm"
)

// Rezone refines and coarsens the mesh according to mpot, which holds one
// mark per owned cell: positive to refine, negative to coarsen, zero to
// keep. Marks are first smoothed so that adjacent cells stay within one
// level of each other and only complete groups of siblings merge. Cells are
// then rebuilt in traversal order and every registered field is carried
// along: children copy their parent's value and a merged cell takes the
// mean of its children.
//
// Neighbors must be current when Rezone is called and are invalid after it
// returns. Rezone must be called by every rank of the group.
func (m *Mesh) Rezone(ctx context.Context, mpot []int) error {
	ctx, span := m.span(ctx, "Mesh.Rezone")
	defer m.diag.timer(phaseRezone)()
	return finish(span, m.rezone(ctx, mpot))
}

func (m *Mesh) rezone(ctx context.Context, mpot []int) error {
	if !m.neighborsValid {
		return fmt.Errorf("quadmesh: rezone: neighbors have not been computed")
	}
	mp, err := m.initialMarks(mpot)
	if err != nil {
		return err
	}
	if err := m.smooth(ctx, mp); err != nil {
		return err
	}

	// Merged cells average values that may live on ghost cells.
	coarsen := 0
	for c := 0; c < m.ncells; c++ {
		if mp[c] < 0 {
			coarsen = 1
			break
		}
	}
	if coarsen, err = comm.AllreduceInt(ctx, m.comm, coarsen, comm.Max); err != nil {
		return fmt.Errorf("quadmesh: rezone: %w", err)
	}
	if coarsen > 0 {
		if err := m.fields.each(func(c Column) error { return m.sched.Refresh(ctx, c) }); err != nil {
			return err
		}
	}

	prev, next, err := m.traversalEnds(ctx)
	if err != nil {
		return err
	}

	capacity := int(float64(m.ncells) * m.cfg.MemFactor)
	ni := make([]int, 0, capacity)
	nj := make([]int, 0, capacity)
	nlev := make([]int, 0, capacity)
	ntype := make([]CellType, 0, capacity)
	plan := make([]source, 0, capacity)
	emit := func(i, j, lev int, s source) {
		ni = append(ni, i)
		nj = append(nj, j)
		nlev = append(nlev, lev)
		ntype = append(ntype, m.lat.Classify(i, j, lev))
		plan = append(plan, s)
	}

	refined, merged, delta := 0, 0, 0
	for c := 0; c < m.ncells; c++ {
		i, j, lev := m.i[c], m.j[c], m.level[c]
		switch {
		case mp[c] > 0:
			refined++
			cur := m.footprint(c)
			var pb, nb *box
			if c > 0 {
				b := m.footprint(c - 1)
				pb = &b
			} else if prev != nil {
				b := m.lat.fineBox(prev.i, prev.j, prev.level)
				pb = &b
			}
			if c < m.ncells-1 {
				b := m.footprint(c + 1)
				nb = &b
			} else if next != nil {
				b := m.lat.fineBox(next.i, next.j, next.level)
				nb = &b
			}
			src := source{idx: [4]int{c}, n: 1}
			if t := m.celltype[c]; t != RealCell {
				ci, cj := [2]int{2 * i, 2 * i}, [2]int{2 * j, 2*j + 1}
				switch t {
				case LeftBoundary:
					ci = [2]int{2*i + 1, 2*i + 1}
				case BottomBoundary:
					ci, cj = [2]int{2 * i, 2*i + 1}, [2]int{2*j + 1, 2*j + 1}
				case TopBoundary:
					ci, cj = [2]int{2 * i, 2*i + 1}, [2]int{2 * j, 2 * j}
				}
				if pairReversed(t, cur, pb, nb, m.cfg.LocalStencil) {
					ci[0], ci[1] = ci[1], ci[0]
					cj[0], cj[1] = cj[1], cj[0]
				}
				emit(ci[0], cj[0], lev+1, src)
				emit(ci[1], cj[1], lev+1, src)
				delta++
				continue
			}
			order := zOrder
			if m.cfg.LocalStencil {
				order = stencil(cur, pb, nb)
			}
			for _, q := range order {
				emit(2*i+int(q)%2, 2*j+int(q)/2, lev+1, src)
			}
			delta += 3
		case mp[c] < 0:
			if !m.isRepresentative(c) {
				continue
			}
			sib, n, ok := m.siblings(c)
			if !ok {
				return m.invariant("rezone", "siblings of cell %d (i=%d, j=%d, level=%d) disagree",
					m.GlobalIndex(c), i, j, lev)
			}
			for q := 0; q < n; q++ {
				if mp[sib[q]] >= 0 {
					return m.invariant("rezone", "sibling %d of cell %d is not marked to coarsen",
						m.GlobalIndex(sib[q]), m.GlobalIndex(c))
				}
			}
			merged++
			delta -= n - 1
			emit(i/2, j/2, lev-1, source{idx: sib, n: n})
		default:
			emit(i, j, lev, source{idx: [4]int{c}, n: 1})
		}
	}

	m.i, m.j, m.level, m.celltype = ni, nj, nlev, ntype
	m.fields.each(func(col Column) error {
		col.rezone(plan, m.cfg.MemFactor)
		return nil
	})
	oldGlobal := m.ncellsGlobal
	m.ncells = len(ni)
	m.ncellsGhost = m.ncells
	m.invalidate()
	if err := m.updateSizes(ctx, oldGlobal, delta); err != nil {
		return err
	}

	m.diag.Rezones++
	m.diag.Refined += refined
	m.diag.Coarsened += merged
	m.Log.WithFields(logrus.Fields{
		"refined":       refined,
		"coarsened":     merged,
		"ncells":        m.ncells,
		"ncells_global": m.ncellsGlobal,
		"iterations":    m.diag.LastSmoothIterations,
	}).Debug("quadmesh: rezone")
	return nil
}

// traversalEnds returns the last cell of the closest lower rank and the
// first cell of the closest higher rank that own any cells, so that the
// ends of the local range see the same context as in a single process run.
func (m *Mesh) traversalEnds(ctx context.Context) (prev, next *cellRef, err error) {
	ends := []int{0}
	if m.ncells > 0 {
		f, l := 0, m.ncells-1
		ends = []int{1, m.i[f], m.j[f], m.level[f], m.i[l], m.j[l], m.level[l]}
	}
	all, err := comm.AllgatherSlices(ctx, m.comm, ends)
	if err != nil {
		return nil, nil, fmt.Errorf("quadmesh: rezone: exchanging traversal ends: %w", err)
	}
	for r := m.rank() - 1; r >= 0; r-- {
		if e := all[r]; len(e) == 7 && e[0] == 1 {
			prev = &cellRef{i: e[4], j: e[5], level: e[6]}
			break
		}
	}
	for r := m.rank() + 1; r < len(all); r++ {
		if e := all[r]; len(e) == 7 && e[0] == 1 {
			next = &cellRef{i: e[1], j: e[2], level: e[3]}
			break
		}
	}
	m.prevCell, m.nextCell = prev, next
	return prev, next, nil
}

// updateSizes recomputes the partition tables after the number of owned
// cells changed and checks the new global count against the expected
// change.
func (m *Mesh) updateSizes(ctx context.Context, oldGlobal, delta int) error {
	sizes, err := comm.AllgatherSlices(ctx, m.comm, []int{m.ncells})
	if err != nil {
		return fmt.Errorf("quadmesh: gathering cell counts: %w", err)
	}
	total, err := comm.AllreduceInt(ctx, m.comm, m.ncells, comm.Sum)
	if err != nil {
		return fmt.Errorf("quadmesh: reducing cell counts: %w", err)
	}
	dsum, err := comm.AllreduceInt(ctx, m.comm, delta, comm.Sum)
	if err != nil {
		return fmt.Errorf("quadmesh: reducing cell counts: %w", err)
	}
	nsizes := make([]int, len(sizes))
	sum := 0
	for r, s := range sizes {
		if len(s) != 1 {
			return m.invariant("rezone", "malformed cell count from rank %d", r)
		}
		nsizes[r] = s[0]
		sum += s[0]
	}
	if sum != total || total != oldGlobal+dsum {
		return m.invariant("rezone", "cell counts disagree: sizes sum to %d, reduction gives %d, expected %d",
			sum, total, oldGlobal+dsum)
	}
	m.setSizes(nsizes)
	return nil
}
