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
	"sort"

	"github.com/RoaringBitmap/roaring"
	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/quadmesh/comm"
)

// Message tags used by the mesh. Every exchange in one cycle uses its own
// tag so that messages of consecutive steps can never be confused.
const (
	tagGhostPush = comm.UserTag + iota
	tagGhostRequest
	tagHalo
	tagRebalance
)

// cellRecordLen is the number of ints used to send one cell: i, j, level,
// celltype and global index.
const cellRecordLen = 5

// rankBox is the expanded lattice box of one rank, stored in the partner
// search tree.
type rankBox struct {
	*geom.Bounds
	rank int
}

// candidates holds remote cells received during ghost discovery. Their
// entries are appended after the owned cells in the index arrays so the
// same resolver can be used for both.
type candidates struct {
	global, owner []int
}

// calcNeighborsLocal resolves neighbors of the owned cells of a
// distributed mesh, mirroring the remote cells they need as ghosts.
func (m *Mesh) calcNeighborsLocal(ctx context.Context) error {
	m.invalidate()
	l := m.lat
	defer m.diag.timer(phaseGhost)()

	// Local footprint, expanded so that neighbors and their neighbors fit.
	own := emptyBox()
	for ic := 0; ic < m.ncells; ic++ {
		own.extend(m.footprint(ic))
	}
	ext := l.grow(own, 2*l.coarse)

	r, err := newResolver(l, m.i, m.j, m.level, m.ncells, ext, true)
	if err != nil {
		return m.invariant("calc_neighbors_local", "%v", err)
	}
	border := m.borderCells(r)

	// Partners are the ranks whose expanded box overlaps ours.
	boxes, err := comm.AllgatherSlices(ctx, m.comm, []int{ext.imin, ext.jmin, ext.imax, ext.jmax})
	if err != nil {
		return fmt.Errorf("quadmesh: exchanging bounding boxes: %w", err)
	}
	rankBoxes := make([]box, len(boxes))
	tree := rtree.NewTree(25, 50)
	for q, bb := range boxes {
		if len(bb) != 4 {
			return m.invariant("calc_neighbors_local", "malformed bounding box from rank %d", q)
		}
		rankBoxes[q] = box{imin: bb[0], jmin: bb[1], imax: bb[2], jmax: bb[3]}
		if q != m.rank() && !rankBoxes[q].empty() {
			tree.Insert(&rankBox{Bounds: rankBoxes[q].geomBounds(), rank: q})
		}
	}
	var partners []int
	if !ext.empty() {
		for _, x := range tree.SearchIntersect(ext.geomBounds()) {
			partners = append(partners, x.(*rankBox).rank)
		}
	}
	sort.Ints(partners)

	// Push the border cells that fall inside each partner's box.
	for _, q := range partners {
		var push []int
		it := border.Iterator()
		for it.HasNext() {
			ic := int(it.Next())
			if m.footprint(ic).overlaps(rankBoxes[q]) {
				push = append(push, m.i[ic], m.j[ic], m.level[ic], int(m.celltype[ic]), m.noffset+ic)
			}
		}
		if err := m.comm.Send(ctx, q, tagGhostPush, push); err != nil {
			return fmt.Errorf("quadmesh: sending border cells to rank %d: %w", q, err)
		}
	}
	var cand candidates
	seen := roaring.New()
	for _, q := range partners {
		x, err := m.comm.Recv(ctx, q, tagGhostPush)
		if err != nil {
			return fmt.Errorf("quadmesh: receiving border cells from rank %d: %w", q, err)
		}
		recs, err := comm.As[[]int](x)
		if err != nil || len(recs)%cellRecordLen != 0 {
			return m.invariant("calc_neighbors_local", "malformed border cells from rank %d", q)
		}
		for k := 0; k < len(recs); k += cellRecordLen {
			g := recs[k+4]
			if g >= m.noffset && g < m.noffset+m.ncells {
				return m.invariant("calc_neighbors_local", "rank %d sent owned cell %d", q, g)
			}
			if !seen.CheckedAdd(uint32(g)) {
				continue
			}
			m.i = append(m.i, recs[k])
			m.j = append(m.j, recs[k+1])
			m.level = append(m.level, recs[k+2])
			m.celltype = append(m.celltype, CellType(recs[k+3]))
			cand.global = append(cand.global, g)
			cand.owner = append(cand.owner, q)
		}
	}

	ghosts, err := m.closeGhostLayers(ext, &cand)
	if err != nil {
		return err
	}
	if err := m.appendGhosts(ghosts, &cand); err != nil {
		return err
	}

	// Resolve again with the ghosts in place.
	r, err = newResolver(l, m.i, m.j, m.level, m.ncellsGhost, ext, true)
	if err != nil {
		return m.invariant("calc_neighbors_local", "%v", err)
	}
	m.allocNeighbors(m.ncellsGhost)
	for ic := 0; ic < m.ncellsGhost; ic++ {
		nb := r.resolve(ic)
		for _, d := range directions {
			if nb[d] >= 0 {
				continue
			}
			if ic < m.ncells {
				return m.invariant("calc_neighbors_local", "no %v neighbor for cell %d (i=%d, j=%d, level=%d)",
					d, m.noffset+ic, m.i[ic], m.j[ic], m.level[ic])
			}
			nb[d] = NoNeighbor
		}
		m.setNeighbors(ic, nb)
	}

	m.sched, err = m.buildSchedule(ctx, partners)
	if err != nil {
		return err
	}
	m.fields.each(func(c Column) error {
		c.resize(m.ncellsGhost, m.cfg.MemFactor)
		return nil
	})
	m.diag.GhostSetups++
	m.diag.Ghosts = m.ncellsGhost - m.ncells
	m.diag.Partners = len(partners)
	m.Log.WithFields(logrus.Fields{
		"ghosts":   m.ncellsGhost - m.ncells,
		"partners": len(partners),
		"border":   border.GetCardinality(),
	}).Debug("quadmesh: ghost cells set up")
	return nil
}

// borderCells returns the owned cells that another rank may need: cells
// with a face that cannot be resolved locally, plus their local neighbors.
func (m *Mesh) borderCells(r *resolver) *roaring.Bitmap {
	border := roaring.New()
	var first []int
	nbs := make([][4]int, m.ncells)
	for ic := 0; ic < m.ncells; ic++ {
		nbs[ic] = r.resolve(ic)
		for _, d := range directions {
			if nbs[ic][d] < 0 {
				first = append(first, ic)
				break
			}
		}
	}
	var adj []int
	for _, ic := range first {
		border.Add(uint32(ic))
		adj = r.adjacent(adj[:0], ic, nbs[ic])
		for _, n := range adj {
			border.Add(uint32(n))
		}
	}
	return border
}

// closeGhostLayers selects, among the received candidates, the cells
// adjacent to owned cells (first layer) and the cells adjacent to those
// (second layer). The result holds candidate positions sorted by global
// index.
func (m *Mesh) closeGhostLayers(ext box, cand *candidates) ([]int, error) {
	n := m.ncells + len(cand.global)
	r, err := newResolver(m.lat, m.i, m.j, m.level, n, ext, true)
	if err != nil {
		return nil, m.invariant("calc_neighbors_local", "%v", err)
	}
	inGhosts := make([]bool, len(cand.global))
	var layer1, adj []int
	for ic := 0; ic < m.ncells; ic++ {
		nb := r.resolve(ic)
		adj = r.adjacent(adj[:0], ic, nb)
		for _, a := range adj {
			if a >= m.ncells && !inGhosts[a-m.ncells] {
				inGhosts[a-m.ncells] = true
				layer1 = append(layer1, a)
			}
		}
	}
	for _, g := range layer1 {
		nb := r.resolve(g)
		adj = r.adjacent(adj[:0], g, nb)
		for _, a := range adj {
			if a >= m.ncells && !inGhosts[a-m.ncells] {
				inGhosts[a-m.ncells] = true
			}
		}
	}
	var ghosts []int
	for k, in := range inGhosts {
		if in {
			ghosts = append(ghosts, k)
		}
	}
	sort.Slice(ghosts, func(a, b int) bool {
		return cand.global[ghosts[a]] < cand.global[ghosts[b]]
	})
	return ghosts, nil
}

// appendGhosts replaces the candidate entries after the owned cells with the
// selected ghost cells.
func (m *Mesh) appendGhosts(ghosts []int, cand *candidates) error {
	nc := m.ncells
	gi, gj := make([]int, len(ghosts)), make([]int, len(ghosts))
	gl, gt := make([]int, len(ghosts)), make([]CellType, len(ghosts))
	m.ghostGlobal = make([]int, len(ghosts))
	m.ghostOwner = make([]int, len(ghosts))
	for k, g := range ghosts {
		gi[k], gj[k] = m.i[nc+g], m.j[nc+g]
		gl[k], gt[k] = m.level[nc+g], m.celltype[nc+g]
		m.ghostGlobal[k] = cand.global[g]
		m.ghostOwner[k] = cand.owner[g]
	}
	m.i = append(m.i[:nc], gi...)
	m.j = append(m.j[:nc], gj...)
	m.level = append(m.level[:nc], gl...)
	m.celltype = append(m.celltype[:nc], gt...)
	m.ncellsGhost = nc + len(ghosts)
	return nil
}
