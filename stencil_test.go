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

import "testing"

// quadrantBox is the footprint of child q of a cell spanning [0, 2)x[0, 2).
func quadrantBox(q quadrant) box {
	i, j := int(q)%2, int(q)/2
	return box{imin: i, jmin: j, imax: i + 1, jmax: j + 1}
}

func TestChildOrder(t *testing.T) {
	for _, entry := range directions {
		for _, exit := range directions {
			o := childOrder[entry][exit]
			if entry == exit {
				if o != nil {
					t.Errorf("%v->%v should have no order", entry, exit)
				}
				continue
			}
			if o == nil {
				t.Errorf("%v->%v is missing", entry, exit)
				continue
			}
			seen := make(map[quadrant]bool)
			for _, q := range o {
				seen[q] = true
			}
			if len(seen) != 4 {
				t.Errorf("%v->%v: %v is not a permutation", entry, exit, *o)
			}
			// The first child sits on the entry face and the last on the exit face.
			outside := func(d Direction) box {
				switch d {
				case Left:
					return box{imin: -1, imax: 0, jmin: 0, jmax: 2}
				case Right:
					return box{imin: 2, imax: 3, jmin: 0, jmax: 2}
				case Bottom:
					return box{imin: 0, imax: 2, jmin: -1, jmax: 0}
				default:
					return box{imin: 0, imax: 2, jmin: 2, jmax: 3}
				}
			}
			if !touches(quadrantBox(o[0]), outside(entry), entry) {
				t.Errorf("%v->%v: first child %d is not on the entry face", entry, exit, o[0])
			}
			if !touches(quadrantBox(o[3]), outside(exit), exit) {
				t.Errorf("%v->%v: last child %d is not on the exit face", entry, exit, o[3])
			}
			for k := 1; k < 4; k++ {
				d, _ := toward(quadrantBox(o[k-1]), quadrantBox(o[k]))
				if !touches(quadrantBox(o[k-1]), quadrantBox(o[k]), d) {
					t.Errorf("%v->%v: children %d and %d do not share a face", entry, exit, o[k-1], o[k])
				}
			}
		}
	}
}

func TestStencil(t *testing.T) {
	cur := box{imin: 4, jmin: 4, imax: 8, jmax: 8}
	left := box{imin: 0, jmin: 4, imax: 4, jmax: 8}
	right := box{imin: 8, jmin: 4, imax: 12, jmax: 8}
	top := box{imin: 4, jmin: 8, imax: 8, jmax: 12}
	for _, test := range []struct {
		name       string
		prev, next *box
		want       [4]quadrant
	}{
		{"no context", nil, nil, zOrder},
		{"left to right", &left, &right, [4]quadrant{sw, nw, ne, se}},
		{"left to top", &left, &top, [4]quadrant{sw, se, ne, nw}},
		{"only entry", &left, nil, [4]quadrant{sw, nw, ne, se}},
		{"only exit", nil, &top, [4]quadrant{sw, se, ne, nw}},
		{"same face", &left, &left, zOrder},
	} {
		if have := stencil(cur, test.prev, test.next); have != test.want {
			t.Errorf("%s: want %v but have %v", test.name, test.want, have)
		}
	}
}

func TestPairReversed(t *testing.T) {
	cur := box{imin: 0, jmin: 4, imax: 4, jmax: 8}
	above := box{imin: 0, jmin: 8, imax: 4, jmax: 12}
	below := box{imin: 0, jmin: 0, imax: 4, jmax: 4}
	if !pairReversed(LeftBoundary, cur, &above, &below, true) {
		t.Error("a left boundary cell entered from above should start with its upper child")
	}
	if pairReversed(LeftBoundary, cur, &below, &above, true) {
		t.Error("a left boundary cell entered from below should start with its lower child")
	}
	if pairReversed(LeftBoundary, cur, &above, &below, false) {
		t.Error("without the local stencil pairs keep their natural order")
	}
}
