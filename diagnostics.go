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
	"time"

	"github.com/caio/go-tdigest/v4"
)

type phase int

const (
	phaseNeighbors phase = iota
	phaseGhost
	phaseSmooth
	phaseRezone
	phaseRebalance
	phaseHalo
	numPhases
)

var phaseNames = [numPhases]string{"neighbors", "ghost", "smooth", "rezone", "rebalance", "halo"}

// Diagnostics holds running counters of the work done by a mesh.
type Diagnostics struct {
	Cycles  int `yaml:"cycles"`
	Rezones int `yaml:"rezones"`

	Refined   int `yaml:"refined"`   // cells split into children
	Coarsened int `yaml:"coarsened"` // groups of siblings merged into a parent

	SmoothIterations     int `yaml:"smooth_iterations"`      // summed over all rezones
	LastSmoothIterations int `yaml:"last_smooth_iterations"` // in the most recent rezone

	NeighborCalcs int `yaml:"neighbor_calcs"`
	GhostSetups   int `yaml:"ghost_setups"`
	HaloRefreshes int `yaml:"halo_refreshes"`

	Rebalances int `yaml:"rebalances"`
	Migrated   int `yaml:"migrated"` // cells received from other ranks

	Ghosts   int `yaml:"ghosts"`   // current number of ghost cells
	Partners int `yaml:"partners"` // current number of halo partners
}

// Timing summarizes the wall time spent in one phase, in seconds.
type Timing struct {
	Phase string  `yaml:"phase"`
	Count uint64  `yaml:"count"`
	P50   float64 `yaml:"p50"`
	P90   float64 `yaml:"p90"`
	Max   float64 `yaml:"max"`
}

type diagnostics struct {
	Diagnostics
	digests [numPhases]*tdigest.TDigest
	max     [numPhases]float64
}

func (d *diagnostics) init() {
	for p := range d.digests {
		td, err := tdigest.New()
		if err != nil {
			panic(err) // only fails for invalid options
		}
		d.digests[p] = td
	}
}

// timer starts timing phase p; calling the result stops it.
func (d *diagnostics) timer(p phase) func() {
	start := time.Now()
	return func() {
		s := time.Since(start).Seconds()
		if d.digests[p] != nil {
			d.digests[p].Add(s)
		}
		if s > d.max[p] {
			d.max[p] = s
		}
	}
}

// Diagnostics returns a snapshot of the mesh counters.
func (m *Mesh) Diagnostics() Diagnostics { return m.diag.Diagnostics }

// Timings summarizes the time spent in each phase that has run at least
// once.
func (m *Mesh) Timings() []Timing {
	var out []Timing
	for p, td := range m.diag.digests {
		if td == nil || td.Count() == 0 {
			continue
		}
		out = append(out, Timing{
			Phase: phaseNames[p],
			Count: td.Count(),
			P50:   td.Quantile(0.5),
			P90:   td.Quantile(0.9),
			Max:   m.diag.max[p],
		})
	}
	return out
}
