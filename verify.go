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

import "fmt"

// Verify checks the neighbor arrays of the owned cells: every neighbor
// exists, shares a face with the cell, is within one level of it, and
// points back at the cell or, when it is coarser, at a cell adjacent to it
// at the cell's level.
func (m *Mesh) Verify() error {
	if !m.neighborsValid {
		return fmt.Errorf("quadmesh: verify: neighbors have not been computed")
	}
	fail := func(format string, args ...interface{}) error {
		return &InvariantError{Op: "verify", Rank: m.rank(), Msg: fmt.Sprintf(format, args...)}
	}
	for c := 0; c < m.ncells; c++ {
		fc := m.footprint(c)
		for _, d := range directions {
			n := m.neighbor(c, d)
			switch {
			case n < 0:
				return fail("cell %d has no %v neighbor", m.GlobalIndex(c), d)
			case n == c:
				continue
			}
			fn := m.footprint(n)
			if !touches(fc, fn, d) {
				return fail("%v neighbor %d of cell %d does not share its face", d, m.GlobalIndex(n), m.GlobalIndex(c))
			}
			if diff := m.level[n] - m.level[c]; diff > 1 || diff < -1 {
				return fail("cells %d (level %d) and %d (level %d) differ by more than one level",
					m.GlobalIndex(c), m.level[c], m.GlobalIndex(n), m.level[n])
			}
			back := m.neighbor(n, d.opposite())
			if m.level[n] >= m.level[c] {
				if back != c {
					return fail("%v neighbor %d of cell %d points back at %d", d, m.GlobalIndex(n), m.GlobalIndex(c), back)
				}
				continue
			}
			if back < 0 || m.level[back] != m.level[c] || !touches(fn, m.footprint(back), d.opposite()) {
				return fail("coarser %v neighbor %d of cell %d points back at %d", d, m.GlobalIndex(n), m.GlobalIndex(c), back)
			}
		}
	}
	return nil
}
