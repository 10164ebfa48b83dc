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

import "sort"

// hilbertIndex returns the distance of (x, y) along a Hilbert curve that
// fills an n by n square, where n is a power of two.
func hilbertIndex(n, x, y int) int {
	d := 0
	for s := n / 2; s > 0; s /= 2 {
		rx, ry := 0, 0
		if x&s > 0 {
			rx = 1
		}
		if y&s > 0 {
			ry = 1
		}
		d += s * s * ((3 * rx) ^ ry)
		// Rotate the quadrant.
		if ry == 0 {
			if rx == 1 {
				x = n - 1 - x
				y = n - 1 - y
			}
			x, y = y, x
		}
	}
	return d
}

// zIndex interleaves the bits of x and y.
func zIndex(x, y int) int {
	d := 0
	for bit := uint(0); bit < 31; bit++ {
		d |= (x >> bit & 1) << (2 * bit)
		d |= (y >> bit & 1) << (2*bit + 1)
	}
	return d
}

// coarseCells lists the level-0 cells of the mesh, including the boundary
// ring when there is one, in the requested global order. Corner cells are
// never created.
func (l *lattice) coarseCells(order InitialOrder) (ii, jj []int) {
	for j := 0; j < l.coarseY; j++ {
		for i := 0; i < l.coarseX; i++ {
			if l.b == 1 {
				edgeI := i == 0 || i == l.coarseX-1
				edgeJ := j == 0 || j == l.coarseY-1
				if edgeI && edgeJ {
					continue
				}
			}
			ii = append(ii, i)
			jj = append(jj, j)
		}
	}
	if order == OrderOriginal {
		return ii, jj
	}
	n := 1
	for n < l.coarseX || n < l.coarseY {
		n *= 2
	}
	keys := make([]int, len(ii))
	for k := range ii {
		if order == OrderZ {
			keys[k] = zIndex(ii[k], jj[k])
		} else {
			keys[k] = hilbertIndex(n, ii[k], jj[k])
		}
	}
	sort.Sort(&keySorter{keys: keys, i: ii, j: jj})
	return ii, jj
}

type keySorter struct {
	keys, i, j []int
}

func (s *keySorter) Len() int           { return len(s.keys) }
func (s *keySorter) Less(a, b int) bool { return s.keys[a] < s.keys[b] }
func (s *keySorter) Swap(a, b int) {
	s.keys[a], s.keys[b] = s.keys[b], s.keys[a]
	s.i[a], s.i[b] = s.i[b], s.i[a]
	s.j[a], s.j[b] = s.j[b], s.j[a]
}
