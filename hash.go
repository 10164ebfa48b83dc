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

import "math/bits"

// spatialHash maps fine-lattice positions to cell indices. Only the lower
// left corner of each cell's footprint is stored, so the table size depends
// on the number of cells rather than on the extent of the lattice.
type spatialHash struct {
	keys  []int64
	vals  []int32
	shift uint
	n     int
	width int64 // row length used to build keys
	clip  box   // positions outside clip are never present
}

const emptyKey int64 = -1

// newSpatialHash returns a table able to hold n cells whose corners lie in
// clip. width is the row length of the fine lattice.
func newSpatialHash(n, width int, clip box) *spatialHash {
	size := 16
	for size < 2*n {
		size *= 2
	}
	h := &spatialHash{
		keys:  make([]int64, size),
		vals:  make([]int32, size),
		shift: uint(64 - bits.TrailingZeros(uint(size))),
		width: int64(width),
		clip:  clip,
	}
	for k := range h.keys {
		h.keys[k] = emptyKey
	}
	return h
}

func (h *spatialHash) slot(key int64) int {
	return int((uint64(key) * 0x9E3779B97F4A7C15) >> h.shift)
}

func (h *spatialHash) inClip(ii, jj int) bool {
	return ii >= h.clip.imin && ii < h.clip.imax && jj >= h.clip.jmin && jj < h.clip.jmax
}

// insert records that cell v has its corner at (ii, jj). If another cell is
// already recorded there, that cell is returned with ok == false and the
// table is left unchanged.
func (h *spatialHash) insert(ii, jj, v int) (prev int, ok bool) {
	if !h.inClip(ii, jj) {
		return -1, true
	}
	key := int64(jj)*h.width + int64(ii)
	mask := len(h.keys) - 1
	for s := h.slot(key); ; s = (s + 1) & mask {
		switch h.keys[s] {
		case emptyKey:
			h.keys[s] = key
			h.vals[s] = int32(v)
			h.n++
			return -1, true
		case key:
			return int(h.vals[s]), false
		}
	}
}

// lookup returns the cell with its corner at (ii, jj), or -1.
func (h *spatialHash) lookup(ii, jj int) int {
	if !h.inClip(ii, jj) {
		return -1
	}
	key := int64(jj)*h.width + int64(ii)
	mask := len(h.keys) - 1
	for s := h.slot(key); ; s = (s + 1) & mask {
		switch h.keys[s] {
		case emptyKey:
			return -1
		case key:
			return int(h.vals[s])
		}
	}
}
