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
	"encoding/gob"
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/quadmesh/comm"
)

func init() {
	// Cell types travel between processes during rebalancing.
	gob.Register([]CellType{})
}

// WeightFunc computes how many of n cells each of p ranks should own.
// The result must have p non-negative entries summing to n.
type WeightFunc func(n, p int) ([]int, error)

// EqualShares gives every rank n/p cells and one more to each of the
// lowest n%p ranks.
func EqualShares(n, p int) ([]int, error) {
	if p < 1 {
		return nil, fmt.Errorf("quadmesh: partitioning %d cells among %d ranks", n, p)
	}
	sizes := make([]int, p)
	for r := range sizes {
		sizes[r] = n / p
		if r < n%p {
			sizes[r]++
		}
	}
	return sizes, nil
}

// Weighted returns a policy giving each rank a share of the cells
// proportional to its weight, for example the inverse of its measured cost
// per cell. Cells left over after rounding down go to the ranks with the
// largest remainders, lowest rank first on ties.
func Weighted(weights []float64) WeightFunc {
	return func(n, p int) ([]int, error) {
		if len(weights) != p {
			return nil, fmt.Errorf("quadmesh: %d partition weights for %d ranks", len(weights), p)
		}
		total := 0.
		for r, w := range weights {
			if !(w >= 0) || math.IsInf(w, 0) {
				return nil, fmt.Errorf("quadmesh: invalid partition weight %g for rank %d", w, r)
			}
			total += w
		}
		if total == 0 {
			return EqualShares(n, p)
		}
		sizes := make([]int, p)
		rem := make([]float64, p)
		assigned := 0
		for r, w := range weights {
			exact := float64(n) * w / total
			sizes[r] = int(math.Floor(exact))
			rem[r] = exact - float64(sizes[r])
			assigned += sizes[r]
		}
		order := make([]int, p)
		for r := range order {
			order[r] = r
		}
		sort.SliceStable(order, func(a, b int) bool { return rem[order[a]] > rem[order[b]] })
		for k := 0; assigned < n; k++ {
			sizes[order[k%p]]++
			assigned++
		}
		return sizes, nil
	}
}

// SetWeights changes the partition policy used by later rebalances.
func (m *Mesh) SetWeights(w WeightFunc) { m.weights = w }

// Rebalance moves cells between ranks so that each owns the share given by
// the partition policy. Only cells whose owner changes are sent; the rest
// stay in place. The index arrays and every registered field are migrated.
// Rebalance must be called by every rank; it does nothing on any rank
// unless some rank's share changes. Neighbors are invalid afterwards if
// cells moved.
func (m *Mesh) Rebalance(ctx context.Context) error {
	ctx, span := m.span(ctx, "Mesh.Rebalance")
	defer m.diag.timer(phaseRebalance)()
	return finish(span, m.rebalance(ctx))
}

func (m *Mesh) rebalance(ctx context.Context) error {
	p := m.comm.Size()
	sizes, err := m.weights(m.ncellsGlobal, p)
	if err != nil {
		return err
	}
	sum := 0
	for _, s := range sizes {
		if s < 0 {
			return fmt.Errorf("quadmesh: rebalance: negative partition size")
		}
		sum += s
	}
	if len(sizes) != p || sum != m.ncellsGlobal {
		return fmt.Errorf("quadmesh: rebalance: partition sizes %v do not cover %d cells", sizes, m.ncellsGlobal)
	}
	changed := 0
	if sizes[m.rank()] != m.nsizes[m.rank()] {
		changed = 1
	}
	if changed, err = comm.AllreduceInt(ctx, m.comm, changed, comm.Max); err != nil {
		return fmt.Errorf("quadmesh: rebalance: %w", err)
	}
	if changed == 0 {
		return nil
	}

	me := m.rank()
	oldDispl, oldSizes := m.ndispl, m.nsizes
	newDispl := make([]int, p)
	for r := 1; r < p; r++ {
		newDispl[r] = newDispl[r-1] + sizes[r-1]
	}
	oLo, oHi := oldDispl[me], oldDispl[me]+oldSizes[me]
	nLo, nHi := newDispl[me], newDispl[me]+sizes[me]

	// The index arrays migrate like any other field.
	fi, fj := NewField("i", m.i[:m.ncells]), NewField("j", m.j[:m.ncells])
	fl, ft := NewField("level", m.level[:m.ncells]), NewField("celltype", m.celltype[:m.ncells])
	cols := []Column{fi, fj, fl, ft}
	m.fields.each(func(c Column) error {
		cols = append(cols, c)
		return nil
	})

	// Send the part of the old range that each other rank now owns.
	for q := 0; q < p; q++ {
		lo, hi := max(newDispl[q], oLo), min(newDispl[q]+sizes[q], oHi)
		if q == me || lo >= hi {
			continue
		}
		for _, c := range cols {
			if err := m.comm.Send(ctx, q, tagRebalance, c.slice(lo-oLo, hi-oLo)); err != nil {
				return fmt.Errorf("quadmesh: rebalance: sending to rank %d: %w", q, err)
			}
		}
	}

	// Receive the lower blocks, then the upper blocks, in global order.
	lower := make([][]interface{}, len(cols))
	upper := make([][]interface{}, len(cols))
	migrated := 0
	for q := 0; q < p; q++ {
		lo, hi := max(oldDispl[q], nLo), min(oldDispl[q]+oldSizes[q], nHi)
		if q == me || lo >= hi {
			continue
		}
		for k := range cols {
			x, err := m.comm.Recv(ctx, q, tagRebalance)
			if err != nil {
				return fmt.Errorf("quadmesh: rebalance: receiving from rank %d: %w", q, err)
			}
			if q < me {
				lower[k] = append(lower[k], x)
			} else {
				upper[k] = append(upper[k], x)
			}
		}
		migrated += hi - lo
	}

	// Cells owned before and after stay where they are.
	mid0, mid1 := 0, 0
	if mLo, mHi := max(oLo, nLo), min(oHi, nHi); mLo < mHi {
		mid0, mid1 = mLo-oLo, mHi-oLo
	}
	for k, c := range cols {
		if err := c.rebuild(lower[k], upper[k], mid0, mid1, m.cfg.MemFactor); err != nil {
			return m.invariant("rebalance", "%v", err)
		}
	}
	m.i, m.j, m.level, m.celltype = fi.data, fj.data, fl.data, ft.data
	m.setSizes(sizes)
	if len(m.i) != m.ncells {
		return m.invariant("rebalance", "received %d cells but own %d", len(m.i), m.ncells)
	}
	m.ncellsGhost = m.ncells
	m.invalidate()

	m.diag.Rebalances++
	m.diag.Migrated += migrated
	m.Log.WithFields(logrus.Fields{
		"ncells":   m.ncells,
		"noffset":  m.noffset,
		"migrated": migrated,
	}).Debug("quadmesh: rebalanced")
	return nil
}
