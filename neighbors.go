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
)

// Direction is one of the four faces of a cell.
type Direction int

// Directions, in the order used by neighbor arrays.
const (
	Left Direction = iota
	Right
	Bottom
	Top
)

var directions = [4]Direction{Left, Right, Bottom, Top}

func (d Direction) String() string {
	return [...]string{"left", "right", "bottom", "top"}[d]
}

// opposite returns the direction pointing back across the same face.
func (d Direction) opposite() Direction {
	return [...]Direction{Right, Left, Top, Bottom}[d]
}

// touches reports whether footprint b lies across face d of footprint a.
func touches(a, b box, d Direction) bool {
	switch d {
	case Left:
		return b.imax == a.imin && b.jmin < a.jmax && b.jmax > a.jmin
	case Right:
		return b.imin == a.imax && b.jmin < a.jmax && b.jmax > a.jmin
	case Bottom:
		return b.jmax == a.jmin && b.imin < a.imax && b.imax > a.imin
	default:
		return b.jmin == a.jmax && b.imin < a.imax && b.imax > a.imin
	}
}

// resolver answers neighbor queries against a spatial hash.
type resolver struct {
	lat         *lattice
	h           *spatialHash
	i, j, level []int

	// validate rejects hash hits whose level is not the one the probe
	// expects. It is required whenever the hash holds only part of the mesh.
	validate bool
}

// newResolver hashes the first n cells described by the index arrays.
// A second cell with the same lattice corner as an earlier one is reported
// as an error.
func newResolver(l *lattice, i, j, level []int, n int, clip box, validate bool) (*resolver, error) {
	r := &resolver{
		lat:      l,
		h:        newSpatialHash(n, l.width, clip),
		i:        i,
		j:        j,
		level:    level,
		validate: validate,
	}
	for ic := 0; ic < n; ic++ {
		m := l.mult(level[ic])
		if prev, ok := r.h.insert(i[ic]*m, j[ic]*m, ic); !ok {
			return nil, fmt.Errorf("cells %d (%d,%d,level %d) and %d (%d,%d,level %d) share a lattice position",
				prev, i[prev], j[prev], level[prev], ic, i[ic], j[ic], level[ic])
		}
	}
	return r, nil
}

// probe returns the cell with its corner at (ii, jj) if its level is
// between lo and hi.
func (r *resolver) probe(ii, jj, lo, hi int) int {
	n := r.h.lookup(ii, jj)
	if n < 0 {
		return -1
	}
	if r.validate && (r.level[n] < lo || r.level[n] > hi) {
		return -1
	}
	return n
}

// resolve returns the left, right, bottom and top neighbors of cell ic.
// When a face has two finer neighbors, the lower or left one is returned.
// Unresolved directions are -1.
func (r *resolver) resolve(ic int) [4]int {
	l := r.lat
	ii, jj, lev := r.i[ic], r.j[ic], r.level[ic]
	m := l.mult(lev)
	icur, jcur := ii*m, jj*m
	ilft, irht := icur-m, icur+m
	jbot, jtop := jcur-m, jcur+m
	nb := [4]int{-1, -1, -1, -1}

	// Cells on the edge of the lattice point to themselves.
	if icur < max(l.ilo, 1) {
		nb[Left] = ic
	}
	if jcur < max(l.jlo, 1) {
		nb[Bottom] = ic
	}
	if icur >= l.ihi || irht >= l.width {
		nb[Right] = ic
	}
	if jcur >= l.jhi || jtop >= l.height {
		nb[Top] = ic
	}
	// Boundary cells next to a missing corner.
	if l.b == 1 {
		sideCol := icur < l.ilo || icur >= l.ihi
		sideRow := jcur < l.jlo || jcur >= l.jhi
		if sideCol && jcur == l.jlo {
			nb[Bottom] = ic
		}
		if sideCol && jtop == l.jhi {
			nb[Top] = ic
		}
		if sideRow && icur == l.ilo {
			nb[Left] = ic
		}
		if sideRow && irht == l.ihi {
			nb[Right] = ic
		}
	}

	// Finer neighbors first. A same-level probe on the left or bottom would
	// land on the far child of a refined neighbor.
	half := m / 2
	if lev < l.levmx {
		if nb[Left] < 0 {
			nb[Left] = r.probe(icur-half, jcur, lev+1, lev+1)
		}
		if nb[Bottom] < 0 {
			nb[Bottom] = r.probe(icur, jcur-half, lev+1, lev+1)
		}
	}

	// Same level. On the right and top the corner of a finer or coarser
	// neighbor may coincide with the same-level position.
	if nb[Left] < 0 {
		nb[Left] = r.probe(ilft, jcur, lev, lev)
	}
	if nb[Bottom] < 0 {
		nb[Bottom] = r.probe(icur, jbot, lev, lev)
	}
	if nb[Right] < 0 {
		nb[Right] = r.probe(irht, jcur, lev-1, lev+1)
	}
	if nb[Top] < 0 {
		nb[Top] = r.probe(icur, jtop, lev-1, lev+1)
	}

	// Boundary cells only have the children adjacent to the domain, so the
	// finer neighbors of the bottom row and left column sit half a cell up
	// or right of the usual position.
	if l.b == 1 && lev < l.levmx {
		if jcur < l.jlo {
			if nb[Right] < 0 {
				nb[Right] = r.probe(irht, jcur+half, lev+1, lev+1)
			}
			if nb[Left] < 0 {
				nb[Left] = r.probe(icur-half, jcur+half, lev+1, lev+1)
			}
		}
		if icur < l.ilo {
			if nb[Top] < 0 {
				nb[Top] = r.probe(icur+half, jtop, lev+1, lev+1)
			}
			if nb[Bottom] < 0 {
				nb[Bottom] = r.probe(icur+half, jcur-half, lev+1, lev+1)
			}
		}
	}

	// Coarser neighbors.
	if lev > 0 {
		if nb[Left] < 0 {
			nb[Left] = r.probe(icur-2*m, (jj/2)*2*m, lev-1, lev-1)
		}
		if nb[Right] < 0 {
			nb[Right] = r.probe(irht, (jj/2)*2*m, lev-1, lev-1)
		}
		if nb[Bottom] < 0 {
			nb[Bottom] = r.probe((ii/2)*2*m, jcur-2*m, lev-1, lev-1)
		}
		if nb[Top] < 0 {
			nb[Top] = r.probe((ii/2)*2*m, jtop, lev-1, lev-1)
		}
	}
	return nb
}

// footprint returns the fine-lattice footprint of cell ic.
func (r *resolver) footprint(ic int) box {
	return r.lat.fineBox(r.i[ic], r.j[ic], r.level[ic])
}

// adjacent appends to dst every cell across the faces of ic, given its
// resolved neighbors nb. Faces with two finer neighbors contribute both.
func (r *resolver) adjacent(dst []int, ic int, nb [4]int) []int {
	fc := r.footprint(ic)
	for _, d := range directions {
		n := nb[d]
		if n < 0 || n == ic {
			continue
		}
		dst = append(dst, n)
		if r.level[n] <= r.level[ic] {
			continue
		}
		nn := r.resolve(n)
		s := nn[Top]
		if d == Bottom || d == Top {
			s = nn[Right]
		}
		if s >= 0 && s != n && touches(fc, r.footprint(s), d) {
			dst = append(dst, s)
		}
	}
	return dst
}

// CalcNeighbors resolves the four neighbors of every cell. For a parallel
// mesh this also discovers the ghost cells, appends them after the owned
// cells and builds the halo schedule.
func (m *Mesh) CalcNeighbors(ctx context.Context) error {
	ctx, span := m.span(ctx, "Mesh.CalcNeighbors")
	defer m.diag.timer(phaseNeighbors)()
	var err error
	if m.cfg.Parallel {
		err = m.calcNeighborsLocal(ctx)
	} else {
		err = m.calcNeighborsGlobal()
	}
	if err == nil {
		m.neighborsValid = true
		m.diag.NeighborCalcs++
	}
	return finish(span, err)
}

// calcNeighborsGlobal resolves neighbors for a mesh held entirely by this
// process. Every cell is in the hash, so hits need no level check.
func (m *Mesh) calcNeighborsGlobal() error {
	m.invalidate()
	l := m.lat
	all := box{imin: 0, jmin: 0, imax: l.width, jmax: l.height}
	r, err := newResolver(l, m.i, m.j, m.level, m.ncells, all, false)
	if err != nil {
		return m.invariant("calc_neighbors", "%v", err)
	}
	m.allocNeighbors(m.ncells)
	for ic := 0; ic < m.ncells; ic++ {
		nb := r.resolve(ic)
		for _, d := range directions {
			if nb[d] < 0 {
				return m.invariant("calc_neighbors", "no %v neighbor for cell %d (i=%d, j=%d, level=%d)",
					d, ic, m.i[ic], m.j[ic], m.level[ic])
			}
		}
		m.setNeighbors(ic, nb)
	}
	m.sched = &Schedule{m: m}
	return nil
}

func (m *Mesh) allocNeighbors(n int) {
	m.nlft, m.nrht = make([]int, n), make([]int, n)
	m.nbot, m.ntop = make([]int, n), make([]int, n)
}

func (m *Mesh) setNeighbors(ic int, nb [4]int) {
	m.nlft[ic], m.nrht[ic], m.nbot[ic], m.ntop[ic] = nb[Left], nb[Right], nb[Bottom], nb[Top]
}

// neighbor returns the neighbor of cell c in direction d.
func (m *Mesh) neighbor(c int, d Direction) int {
	switch d {
	case Left:
		return m.nlft[c]
	case Right:
		return m.nrht[c]
	case Bottom:
		return m.nbot[c]
	default:
		return m.ntop[c]
	}
}

func (m *Mesh) footprint(c int) box {
	return m.lat.fineBox(m.i[c], m.j[c], m.level[c])
}

// faceNeighbors returns the cells across face d of cell c. b is -1 unless
// the face has two finer neighbors. Self references are returned as -1.
func (m *Mesh) faceNeighbors(c int, d Direction) (a, b int) {
	a, b = m.neighbor(c, d), -1
	if a < 0 || a == c {
		return -1, -1
	}
	if m.level[a] <= m.level[c] {
		return a, -1
	}
	s := m.ntop[a]
	if d == Bottom || d == Top {
		s = m.nrht[a]
	}
	if s >= 0 && s != a && touches(m.footprint(c), m.footprint(s), d) {
		b = s
	}
	return a, b
}
