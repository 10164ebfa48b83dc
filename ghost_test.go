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
	"testing"
)

func mediumConfig() Config {
	cfg := DefaultConfig()
	cfg.Nx, cfg.Ny = 8, 8
	return cfg
}

// checkGhosts compares the ghost cells of m with the cells a replica of
// the whole mesh says it needs.
func checkGhosts(ctx context.Context, m *Mesh) error {
	g, err := m.GatherGlobal(ctx)
	if err != nil {
		return err
	}
	if err := g.CalcNeighbors(ctx); err != nil {
		return err
	}
	if err := m.CompareNeighbors(g); err != nil {
		return err
	}
	if err := m.Verify(); err != nil {
		return err
	}
	owned := func(gc int) bool { return gc >= m.Noffset() && gc < m.Noffset()+m.Ncells() }
	layer1 := make(map[int]bool)
	for c := 0; c < m.Ncells(); c++ {
		for _, d := range directions {
			a, b := g.faceNeighbors(m.Noffset()+c, d)
			for _, n := range [2]int{a, b} {
				if n >= 0 && !owned(n) {
					layer1[n] = true
				}
			}
		}
	}
	reach := make(map[int]bool)
	for n := range layer1 {
		reach[n] = true
		for _, d := range directions {
			a, b := g.faceNeighbors(n, d)
			for _, x := range [2]int{a, b} {
				if x >= 0 && !owned(x) {
					reach[x] = true
				}
			}
		}
	}
	ghosts := make(map[int]bool)
	for k := m.Ncells(); k < m.NcellsGhost(); k++ {
		gc := m.GlobalIndex(k)
		if k > m.Ncells() && gc <= m.GlobalIndex(k-1) {
			return fmt.Errorf("rank %d: ghost cells are not sorted by global index", m.Rank())
		}
		if !reach[gc] {
			return fmt.Errorf("rank %d: ghost %d is more than two cells away", m.Rank(), gc)
		}
		if g.I()[gc] != m.I()[k] || g.J()[gc] != m.J()[k] || g.Level()[gc] != m.Level()[k] {
			return fmt.Errorf("rank %d: ghost %d has the wrong position", m.Rank(), gc)
		}
		ghosts[gc] = true
	}
	for n := range layer1 {
		if !ghosts[n] {
			return fmt.Errorf("rank %d: adjacent cell %d is not a ghost", m.Rank(), n)
		}
	}
	return nil
}

func TestGhostCells(t *testing.T) {
	for _, n := range []int{1, 2, 3, 4} {
		for _, boundary := range []bool{false, true} {
			cfg := mediumConfig()
			cfg.Boundary = boundary
			runRanks(t, cfg, n, func(ctx context.Context, m *Mesh) error {
				if err := m.CalcNeighbors(ctx); err != nil {
					return err
				}
				if err := checkGhosts(ctx, m); err != nil {
					return err
				}
				if n > 1 && (m.NcellsGhost() == m.Ncells() || len(m.Schedule().Partners()) == 0) {
					return fmt.Errorf("rank %d of %d has no ghosts", m.Rank(), n)
				}
				// Refine a disk that spans several ranks and check again.
				mpot := refineWhere(m, func(x, y float64, _ int) bool {
					return (x-4)*(x-4)+(y-4)*(y-4) < 6
				})
				if err := m.Rezone(ctx, mpot); err != nil {
					return err
				}
				if err := m.CalcNeighbors(ctx); err != nil {
					return err
				}
				return checkGhosts(ctx, m)
			})
		}
	}
}

// TestGhostSetSymmetric checks that ranks agree on which cells they mirror
// from each other.
func TestGhostSetSymmetric(t *testing.T) {
	const n = 2
	sent := make([][]int, n)
	mirrored := make([][]int, n)
	runRanks(t, mediumConfig(), n, func(ctx context.Context, m *Mesh) error {
		if err := m.CalcNeighbors(ctx); err != nil {
			return err
		}
		s := m.Schedule()
		for k := range s.sendTo {
			for _, c := range s.sendTo[k] {
				sent[m.Rank()] = append(sent[m.Rank()], m.GlobalIndex(c))
			}
		}
		for k := m.Ncells(); k < m.NcellsGhost(); k++ {
			mirrored[m.Rank()] = append(mirrored[m.Rank()], m.GlobalIndex(k))
		}
		return nil
	})
	for r := 0; r < n; r++ {
		other := append([]int(nil), sent[1-r]...)
		sort.Ints(other)
		if fmt.Sprint(other) != fmt.Sprint(mirrored[r]) {
			t.Errorf("rank %d mirrors %v but rank %d sends %v", r, mirrored[r], 1-r, other)
		}
	}
}

func TestHaloRefresh(t *testing.T) {
	runRanks(t, mediumConfig(), 3, func(ctx context.Context, m *Mesh) error {
		if err := m.CalcNeighbors(ctx); err != nil {
			return err
		}
		ids := make([]float64, m.NcellsGhost())
		for c := 0; c < m.Ncells(); c++ {
			ids[c] = float64(m.GlobalIndex(c))
		}
		h, err := Register(m, "id", ids)
		if err != nil {
			return err
		}
		if err := m.Refresh(ctx, h); err != nil {
			return err
		}
		v, err := Values[float64](m, h)
		if err != nil {
			return err
		}
		for k := m.Ncells(); k < m.NcellsGhost(); k++ {
			if v[k] != float64(m.GlobalIndex(k)) {
				return fmt.Errorf("rank %d: ghost %d holds %g", m.Rank(), m.GlobalIndex(k), v[k])
			}
		}

		// Unregistered arrays can be refreshed too.
		lev := make([]int, m.NcellsGhost())
		copy(lev, m.Level()[:m.Ncells()])
		for k := m.Ncells(); k < m.NcellsGhost(); k++ {
			lev[k] = -1
		}
		if err := HaloRefresh(ctx, m, lev); err != nil {
			return err
		}
		for k := range lev {
			if lev[k] != m.Level()[k] {
				return fmt.Errorf("rank %d: cell %d has level %d after refresh", m.Rank(), k, lev[k])
			}
		}
		if err := HaloRefresh(ctx, m, make([]int, m.Ncells()+m.NcellsGhost()+1)); err == nil {
			return fmt.Errorf("a halo refresh of an array of the wrong length should fail")
		}
		return nil
	})
}

// distributedCycles refines a moving disk three times and coarsens
// everything away from it, starting from the coarse mesh.
func distributedCycles(ctx context.Context, m *Mesh) error {
	for cycle := 0; cycle < 4; cycle++ {
		if err := m.CalcNeighbors(ctx); err != nil {
			return err
		}
		cx := 2 + float64(cycle)
		mpot := make([]int, m.Ncells())
		for c := range mpot {
			x, y, dx, dy := m.SpatialBounds(c)
			x, y = x+dx/2, y+dy/2
			if (x-cx)*(x-cx)+(y-4)*(y-4) < 4 {
				mpot[c] = 1
			} else {
				mpot[c] = -1
			}
		}
		if err := m.Rezone(ctx, mpot); err != nil {
			return err
		}
	}
	return m.CalcNeighbors(ctx)
}

func TestDistributedMatchesSerial(t *testing.T) {
	cfg := mediumConfig()
	serial := newTestMesh(t, cfg)
	if err := distributedCycles(context.Background(), serial); err != nil {
		t.Fatal(err)
	}
	want, err := serial.Fingerprint(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, n := range []int{2, 3, 5} {
		fingerprints := make([]string, n)
		runRanks(t, cfg, n, func(ctx context.Context, m *Mesh) error {
			if err := distributedCycles(ctx, m); err != nil {
				return err
			}
			if err := checkGhosts(ctx, m); err != nil {
				return err
			}
			fp, err := m.Fingerprint(ctx)
			fingerprints[m.Rank()] = fp
			return err
		})
		for r, fp := range fingerprints {
			if fp != want {
				t.Errorf("%d ranks: rank %d has fingerprint %s but the serial mesh has %s", n, r, fp, want)
			}
		}
	}
}
