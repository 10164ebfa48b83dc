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
	"fmt"

	"github.com/ctessum/geom"
)

// CellType distinguishes real cells from the boundary cells that surround
// the domain.
type CellType int

// Cell types. Boundary cells point to themselves in the direction of the
// boundary they sit on.
const (
	RealCell       CellType = 1
	LeftBoundary   CellType = -1
	RightBoundary  CellType = -2
	BottomBoundary CellType = -3
	TopBoundary    CellType = -4
)

func (t CellType) String() string {
	switch t {
	case RealCell:
		return "real"
	case LeftBoundary:
		return "left"
	case RightBoundary:
		return "right"
	case BottomBoundary:
		return "bottom"
	case TopBoundary:
		return "top"
	default:
		return fmt.Sprintf("CellType(%d)", int(t))
	}
}

// lattice holds the per-level lookup tables that translate (i, j, level)
// into fine-lattice positions and spatial coordinates.
type lattice struct {
	nx, ny, levmx int
	b             int // width of the boundary layer in coarse cells: 0 or 1

	levtable     []int // levtable[l] = 2^l
	ibegin, iend []int // real cell index range per level, inclusive
	jbegin, jend []int
	dx, dy       []float64
	xmin, ymin   float64

	width, height    int // extent of the fine lattice including boundary cells
	ilo, ihi         int // fine-lattice start of the real domain and of the right boundary column
	jlo, jhi         int
	coarse           int // fine cells per coarse cell
	coarseX, coarseY int // coarse grid extent including boundary cells
}

func newLattice(c *Config) *lattice {
	l := &lattice{nx: c.Nx, ny: c.Ny, levmx: c.LevMax, xmin: c.Xmin, ymin: c.Ymin}
	if c.Boundary {
		l.b = 1
	}
	n := c.LevMax + 1
	l.levtable = make([]int, n)
	l.ibegin, l.iend = make([]int, n), make([]int, n)
	l.jbegin, l.jend = make([]int, n), make([]int, n)
	l.dx, l.dy = make([]float64, n), make([]float64, n)
	for lev := 0; lev < n; lev++ {
		l.levtable[lev] = 1 << uint(lev)
		if lev == 0 {
			l.ibegin[0], l.iend[0] = l.b, c.Nx+l.b-1
			l.jbegin[0], l.jend[0] = l.b, c.Ny+l.b-1
			l.dx[0], l.dy[0] = c.Dx, c.Dy
			continue
		}
		l.ibegin[lev], l.iend[lev] = 2*l.ibegin[lev-1], 2*l.iend[lev-1]+1
		l.jbegin[lev], l.jend[lev] = 2*l.jbegin[lev-1], 2*l.jend[lev-1]+1
		l.dx[lev], l.dy[lev] = l.dx[lev-1]/2, l.dy[lev-1]/2
	}
	l.coarse = l.levtable[c.LevMax]
	l.coarseX, l.coarseY = c.Nx+2*l.b, c.Ny+2*l.b
	l.width, l.height = l.coarseX*l.coarse, l.coarseY*l.coarse
	l.ilo, l.jlo = l.b*l.coarse, l.b*l.coarse
	l.ihi, l.jhi = (c.Nx+l.b)*l.coarse, (c.Ny+l.b)*l.coarse
	return l
}

// mult is the number of fine-lattice cells spanned by one side of a cell at
// level lev.
func (l *lattice) mult(lev int) int { return l.levtable[l.levmx-lev] }

// SpatialBounds returns the lower left corner and size of cell (i, j) at the
// given level.
func (l *lattice) SpatialBounds(i, j, level int) (x, y, dx, dy float64) {
	dx, dy = l.dx[level], l.dy[level]
	x = l.xmin + dx*float64(i-l.ibegin[level])
	y = l.ymin + dy*float64(j-l.jbegin[level])
	return
}

// bounds returns the spatial extent of a cell.
func (l *lattice) bounds(i, j, level int) *geom.Bounds {
	x, y, dx, dy := l.SpatialBounds(i, j, level)
	return &geom.Bounds{
		Min: geom.Point{X: x, Y: y},
		Max: geom.Point{X: x + dx, Y: y + dy},
	}
}

// Classify returns the type of cell (i, j) at the given level. Positions
// outside the real index range of the level are boundary cells.
func (l *lattice) Classify(i, j, level int) CellType {
	switch {
	case i < l.ibegin[level]:
		return LeftBoundary
	case i > l.iend[level]:
		return RightBoundary
	case j < l.jbegin[level]:
		return BottomBoundary
	case j > l.jend[level]:
		return TopBoundary
	}
	return RealCell
}

// fineBox returns the fine-lattice footprint of a cell as a half-open range.
func (l *lattice) fineBox(i, j, level int) box {
	m := l.mult(level)
	return box{imin: i * m, jmin: j * m, imax: (i + 1) * m, jmax: (j + 1) * m}
}

// box is a half-open rectangle on the fine lattice.
type box struct {
	imin, jmin, imax, jmax int
}

func emptyBox() box {
	return box{imin: int(^uint(0) >> 1), jmin: int(^uint(0) >> 1), imax: -1, jmax: -1}
}

func (b box) empty() bool { return b.imax <= b.imin || b.jmax <= b.jmin }

func (b *box) extend(o box) {
	if o.imin < b.imin {
		b.imin = o.imin
	}
	if o.jmin < b.jmin {
		b.jmin = o.jmin
	}
	if o.imax > b.imax {
		b.imax = o.imax
	}
	if o.jmax > b.jmax {
		b.jmax = o.jmax
	}
}

func (b box) overlaps(o box) bool {
	if b.empty() || o.empty() {
		return false
	}
	return b.imin < o.imax && o.imin < b.imax && b.jmin < o.jmax && o.jmin < b.jmax
}

// grow expands b by n fine cells on every side, clipped to the lattice.
func (l *lattice) grow(b box, n int) box {
	if b.empty() {
		return b
	}
	b.imin, b.jmin = max(b.imin-n, 0), max(b.jmin-n, 0)
	b.imax, b.jmax = min(b.imax+n, l.width), min(b.jmax+n, l.height)
	return b
}

// geomBounds converts b to geometry bounds on the fine lattice. The
// extent is shrunk by a small amount so that boxes that merely touch do not
// intersect.
func (b box) geomBounds() *geom.Bounds {
	const eps = 1e-3
	return &geom.Bounds{
		Min: geom.Point{X: float64(b.imin) + eps, Y: float64(b.jmin) + eps},
		Max: geom.Point{X: float64(b.imax) - eps, Y: float64(b.jmax) - eps},
	}
}
