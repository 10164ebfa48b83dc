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

package quadmeshutil

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/quadmesh"
	"github.com/spatialmodel/quadmesh/comm"
	"golang.org/x/sync/errgroup"
)

// DensityField is the name of the conserved field carried by a workload.
const DensityField = "density"

// InitDensity registers a smooth, positive density field on m.
func InitDensity(ctx context.Context, m *quadmesh.Mesh) error {
	density := make([]float64, m.Ncells())
	for c := range density {
		x, y, dx, dy := m.SpatialBounds(c)
		density[c] = 1 + (x+dx/2)*(y+dy/2)
	}
	_, err := quadmesh.Register(m, DensityField, density)
	return err
}

// NewDriver returns the driver for one rank of a workload described by o.
// Every rank needs its own driver.
func NewDriver(o *RunOptions) (*quadmesh.Driver, error) {
	var marker quadmesh.Marker
	if o.Refine != "" || o.Coarsen != "" {
		e, err := NewExprMarker(o.Refine, o.Coarsen)
		if err != nil {
			return nil, err
		}
		marker = e
	} else {
		front := o.Front
		marker = &front
	}
	conserved := quadmesh.CheckConservation(DensityField, o.Tolerance)
	run := []quadmesh.MeshManipulator{quadmesh.RefineCoarsen(marker)}
	if o.RebalanceEvery > 0 {
		run = append(run, quadmesh.RunPeriodically(o.RebalanceEvery, quadmesh.LoadBalance()))
	}
	run = append(run, quadmesh.UpdateNeighbors())
	if o.CheckGlobal {
		run = append(run, quadmesh.CheckAgainstGlobal())
	}
	run = append(run, conserved, quadmesh.LogCycle())
	return &quadmesh.Driver{
		InitFuncs: []quadmesh.MeshManipulator{
			quadmesh.UpdateNeighbors(),
			InitDensity,
			conserved,
		},
		RunFuncs: run,
	}, nil
}

// RunRank runs the rank of the workload that belongs to c and returns a
// report in which Ranks holds only that rank. Every rank of c must call
// RunRank with the same arguments.
func RunRank(ctx context.Context, cfg quadmesh.Config, o *RunOptions, c comm.Comm) (*Report, error) {
	if c.Size() > 1 {
		cfg.Parallel = true
	}
	opts := []quadmesh.Option{
		quadmesh.WithComm(c),
		quadmesh.WithLogger(logrus.StandardLogger()),
	}
	if len(o.Weights) > 0 {
		opts = append(opts, quadmesh.WithWeights(quadmesh.Weighted(o.Weights)))
	}
	m, err := quadmesh.New(cfg, opts...)
	if err != nil {
		c.Abort(err)
		return nil, err
	}
	r, err := runMesh(ctx, m, o)
	if err != nil {
		c.Abort(err)
		return nil, err
	}
	return r, nil
}

func runMesh(ctx context.Context, m *quadmesh.Mesh, o *RunOptions) (*Report, error) {
	d, err := NewDriver(o)
	if err != nil {
		return nil, err
	}
	if err := d.Init(ctx, m); err != nil {
		return nil, err
	}
	if err := d.Run(ctx, m, o.Cycles); err != nil {
		return nil, err
	}
	h, ok := m.Lookup(DensityField)
	if !ok {
		return nil, fmt.Errorf("quadmeshutil: the %s field is missing", DensityField)
	}
	sum, err := m.SumField(ctx, h, true)
	if err != nil {
		return nil, err
	}
	fp, err := m.Fingerprint(ctx)
	if err != nil {
		return nil, err
	}
	return &Report{
		Version:      quadmesh.Version,
		Cycles:       o.Cycles,
		Ranks:        m.Comm().Size(),
		NcellsGlobal: m.NcellsGlobal(),
		DensitySum:   sum,
		Fingerprint:  fp,
		PerRank:      []RankReport{newRankReport(m)},
	}, nil
}

// Run runs a workload with o.Ranks ranks in this process, one goroutine
// per rank, and returns the combined report.
func Run(ctx context.Context, cfg quadmesh.Config, o *RunOptions) (*Report, error) {
	group := comm.NewLocalGroup(o.Ranks)
	reports := make([]*Report, len(group))
	g, ctx := errgroup.WithContext(ctx)
	for r, c := range group {
		r, c := r, c
		g.Go(func() error {
			rep, err := RunRank(ctx, cfg, o, c)
			if err != nil {
				return fmt.Errorf("rank %d: %w", r, err)
			}
			reports[r] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return mergeReports(reports)
}
