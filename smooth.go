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
)

// quadrant positions of the children of a cell.
type quadrant int

const (
	sw quadrant = iota
	se
	nw
	ne
)

// interior returns the direction from a boundary cell toward the domain.
func interior(t CellType) Direction {
	switch t {
	case LeftBoundary:
		return Right
	case RightBoundary:
		return Left
	case BottomBoundary:
		return Top
	default:
		return Bottom
	}
}

// isRepresentative reports whether cell c stands for its group of siblings
// when they are merged: the lower left child of a real quad, and for the
// pairs of boundary children the one whose i and j have the same parity.
func (m *Mesh) isRepresentative(c int) bool {
	if m.celltype[c] == RealCell {
		return m.i[c]%2 == 0 && m.j[c]%2 == 0
	}
	return m.i[c]%2 == m.j[c]%2
}

// siblings finds the cells that would merge with c into one parent. Real
// quads are returned in sw, se, nw, ne order; boundary pairs lower or left
// first. ok is false if any sibling is missing or at another level.
func (m *Mesh) siblings(c int) (sib [4]int, n int, ok bool) {
	i, j, lev, t := m.i[c], m.j[c], m.level[c], m.celltype[c]
	if lev == 0 {
		return sib, 0, false
	}
	is := func(s, si, sj int) bool {
		return s >= 0 && m.i[s] == si && m.j[s] == sj && m.level[s] == lev && m.celltype[s] == t
	}
	hdir, vdir := Right, Top
	if i%2 == 1 {
		hdir = Left
	}
	if j%2 == 1 {
		vdir = Bottom
	}
	if t != RealCell {
		d, si, sj := vdir, i, j^1
		if t == BottomBoundary || t == TopBoundary {
			d, si, sj = hdir, i^1, j
		}
		s := m.neighbor(c, d)
		if !is(s, si, sj) {
			return sib, 0, false
		}
		if d == Left || d == Bottom {
			return [4]int{s, c}, 2, true
		}
		return [4]int{c, s}, 2, true
	}
	h := m.neighbor(c, hdir)
	v := m.neighbor(c, vdir)
	if !is(h, i^1, j) || !is(v, i, j^1) {
		return sib, 0, false
	}
	d := m.neighbor(h, vdir)
	if !is(d, i^1, j^1) {
		return sib, 0, false
	}
	q := quadrant(i%2 + 2*(j%2))
	sib[q] = c
	sib[q^1] = h
	sib[q^2] = v
	sib[q^3] = d
	return sib, 4, true
}

// target is the level cell c will have after the rezone.
func target(level, mpot []int, c int) int {
	return level[c] + mpot[c]
}

// smoothCell raises the mark of owned cell c until it is consistent with
// its siblings and neighbors. It returns whether the mark changed.
func (m *Mesh) smoothCell(c int, mp []int) (bool, error) {
	old := mp[c]

	// Siblings must all agree to merge.
	if mp[c] < 0 {
		sib, n, ok := m.siblings(c)
		for q := 0; ok && q < n; q++ {
			ok = mp[sib[q]] < 0
		}
		if !ok {
			mp[c] = 0
		}
	}

	// Adjacent cells may differ by at most one level.
	need := mp[c]
	for _, d := range directions {
		a, b := m.faceNeighbors(c, d)
		for _, n := range [2]int{a, b} {
			if n < 0 {
				continue
			}
			if r := target(m.level, mp, n) - 1 - m.level[c]; r > need {
				need = r
			}
		}
	}
	// Boundary cells keep the resolution of the domain next to them.
	if m.celltype[c] != RealCell {
		a, b := m.faceNeighbors(c, interior(m.celltype[c]))
		for _, n := range [2]int{a, b} {
			if n < 0 {
				continue
			}
			if r := target(m.level, mp, n) - m.level[c]; r > need {
				need = r
			}
		}
	}
	if need > 1 || (need > 0 && m.level[c] == m.lat.levmx) {
		return false, m.invariant("refine_smooth", "cell %d (i=%d, j=%d, level=%d) would need to refine %d levels",
			m.GlobalIndex(c), m.i[c], m.j[c], m.level[c], need)
	}
	mp[c] = need
	return mp[c] != old, nil
}

// initialMarks normalizes the requested marks for the owned cells into a
// working array covering owned and ghost cells. Boundary cells ignore the
// request and start out proposing to coarsen; smoothing raises them to the
// level of the domain next to them.
func (m *Mesh) initialMarks(mpot []int) ([]int, error) {
	if len(mpot) != m.ncells && len(mpot) != m.ncellsGhost {
		return nil, fmt.Errorf("quadmesh: rezone: %d marks for %d cells", len(mpot), m.ncells)
	}
	mp := make([]int, m.ncellsGhost)
	for c := 0; c < m.ncells; c++ {
		v := mpot[c]
		if m.celltype[c] != RealCell {
			v = -1
		}
		switch {
		case v > 0 && m.level[c] < m.lat.levmx:
			mp[c] = 1
		case v < 0 && m.level[c] > 0:
			mp[c] = -1
		}
	}
	return mp, nil
}

// smooth runs the balance fixed point over the marks. Each round refreshes
// the ghost marks, updates the owned marks, and stops once no rank changed
// anything.
func (m *Mesh) smooth(ctx context.Context, mp []int) error {
	defer m.diag.timer(phaseSmooth)()
	marks := NewField("mpot", mp)
	limit := 2*m.ncellsGlobal + 2
	for iter := 1; ; iter++ {
		if err := m.sched.Refresh(ctx, marks); err != nil {
			return err
		}
		changed := 0
		for c := 0; c < m.ncells; c++ {
			ch, err := m.smoothCell(c, mp)
			if err != nil {
				return err
			}
			if ch {
				changed++
			}
		}
		total, err := comm.AllreduceInt(ctx, m.comm, changed, comm.Sum)
		if err != nil {
			return fmt.Errorf("quadmesh: refine smoothing: %w", err)
		}
		m.diag.SmoothIterations++
		m.diag.LastSmoothIterations = iter
		if total == 0 {
			break
		}
		if iter >= limit {
			return m.invariant("refine_smooth", "marks still changing after %d rounds", iter)
		}
	}
	// Ghost marks must match the owners' final decisions.
	return m.sched.Refresh(ctx, marks)
}
