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

// childOrder gives the order in which the four children of a refined cell
// are inserted, keyed by the face through which the traversal enters the
// cell and the face through which it leaves. Consecutive children always
// share a face, the first touches the entry face and the last touches the
// exit face. Entries with the same entry and exit face are nil.
var childOrder = [4][4]*[4]quadrant{
	Left: {
		Right:  {sw, nw, ne, se},
		Bottom: {nw, ne, se, sw},
		Top:    {sw, se, ne, nw},
	},
	Right: {
		Left:   {se, ne, nw, sw},
		Bottom: {ne, nw, sw, se},
		Top:    {se, sw, nw, ne},
	},
	Bottom: {
		Left:  {se, ne, nw, sw},
		Right: {sw, nw, ne, se},
		Top:   {sw, se, ne, nw},
	},
	Top: {
		Left:   {ne, se, sw, nw},
		Right:  {nw, sw, se, ne},
		Bottom: {nw, ne, se, sw},
	},
}

var zOrder = [4]quadrant{sw, se, nw, ne}

// cellRef identifies a cell by its lattice position.
type cellRef struct {
	i, j, level int
}

// toward returns the face of footprint from that faces the center of to.
func toward(from, to box) (Direction, bool) {
	dx := (to.imin + to.imax) - (from.imin + from.imax)
	dy := (to.jmin + to.jmax) - (from.jmin + from.jmax)
	if dx == 0 && dy == 0 {
		return 0, false
	}
	if abs(dx) >= abs(dy) {
		if dx < 0 {
			return Left, true
		}
		return Right, true
	}
	if dy < 0 {
		return Bottom, true
	}
	return Top, true
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// stencil chooses the child order for a cell with footprint cur, given the
// footprints of the cells before and after it in traversal order. A nil
// prev or next means the cell is at an end of the traversal.
func stencil(cur box, prev, next *box) [4]quadrant {
	entry, okEntry := Direction(0), false
	exit, okExit := Direction(0), false
	if prev != nil {
		entry, okEntry = toward(cur, *prev)
	}
	if next != nil {
		exit, okExit = toward(cur, *next)
	}
	switch {
	case okEntry && !okExit:
		exit, okExit = entry.opposite(), true
	case !okEntry && okExit:
		entry, okEntry = exit.opposite(), true
	}
	if !okEntry || !okExit {
		return zOrder
	}
	if o := childOrder[entry][exit]; o != nil {
		return *o
	}
	return zOrder
}

// pairReversed reports whether the two children of a refined boundary cell
// are inserted upper or right child first.
func pairReversed(t CellType, cur box, prev, next *box, local bool) bool {
	if !local {
		return false
	}
	var entry, exit Direction
	var okEntry, okExit bool
	if prev != nil {
		entry, okEntry = toward(cur, *prev)
	}
	if next != nil {
		exit, okExit = toward(cur, *next)
	}
	if t == LeftBoundary || t == RightBoundary {
		return (okEntry && entry == Top) || (okExit && exit == Bottom)
	}
	return (okEntry && entry == Right) || (okExit && exit == Left)
}
