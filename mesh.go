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

// Package quadmesh is an adaptive mesh refinement engine for quadtree
// structured, logically Cartesian grids that are distributed across a group
// of cooperating processes.
//
// Each process owns a contiguous slice of a global, space-filling ordering
// of the cells. Neighbor relations are resolved through a spatial hash on
// the finest lattice, remote neighbors are mirrored as read-only ghost
// cells, cells are refined and coarsened while keeping adjacent cells within
// one level of each other, and ownership is rebalanced after the mesh
// changes shape.
package quadmesh

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/quadmesh/comm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoNeighbor marks a ghost cell direction whose neighbor lies beyond the
// ghost layer. Owned cells never hold it.
const NoNeighbor = -1

// Mesh is one process's view of a distributed quadtree mesh. Cells
// [0, Ncells()) are owned; cells [Ncells(), NcellsGhost()) are ghost copies
// of cells owned by other processes.
type Mesh struct {
	cfg  Config
	lat  *lattice
	comm comm.Comm

	// Log receives progress and error messages.
	Log logrus.FieldLogger

	tracer  trace.Tracer
	weights WeightFunc

	i, j, level []int
	celltype    []CellType

	nlft, nrht, nbot, ntop []int

	ncells, ncellsGhost int
	ncellsGlobal        int
	noffset             int
	nsizes, ndispl      []int

	ghostGlobal    []int // global index of each ghost cell
	ghostOwner     []int // owning rank of each ghost cell
	neighborsValid bool
	sched          *Schedule

	// traversal neighbors of the owned range on adjacent ranks, used by the
	// rezone stencil.
	prevCell, nextCell *cellRef

	fields fieldSet
	diag   diagnostics
}

// Option configures optional parts of a mesh.
type Option func(*Mesh)

// WithComm makes the mesh one rank of the process group c.
func WithComm(c comm.Comm) Option {
	return func(m *Mesh) { m.comm = c }
}

// WithLogger sets the logger. The default is the logrus standard logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(m *Mesh) { m.Log = l }
}

// WithTracer records spans for the mesh operations with t.
func WithTracer(t trace.Tracer) Option {
	return func(m *Mesh) { m.tracer = t }
}

// WithWeights sets the policy used to compute partition sizes.
func WithWeights(w WeightFunc) Option {
	return func(m *Mesh) { m.weights = w }
}

// New creates the coarse uniform mesh described by cfg. In a process group
// every rank must call New with the same configuration; each rank keeps its
// share of the global ordering.
func New(cfg Config, opts ...Option) (*Mesh, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Mesh{
		cfg:    cfg,
		lat:    newLattice(&cfg),
		Log:    logrus.StandardLogger(),
		tracer: noop.NewTracerProvider().Tracer("quadmesh"),
	}
	for _, o := range opts {
		o(m)
	}
	if m.comm == nil {
		m.comm = comm.NewLocalGroup(1)[0]
	}
	if !cfg.Parallel && m.comm.Size() > 1 {
		return nil, fmt.Errorf("quadmesh: a non-parallel mesh cannot use a group of %d processes", m.comm.Size())
	}
	if m.weights == nil {
		m.weights = EqualShares
	}
	m.Log = m.Log.WithField("rank", m.comm.Rank())
	m.diag.init()

	ii, jj := m.lat.coarseCells(cfg.Order)
	m.ncellsGlobal = len(ii)
	sizes, err := m.weights(m.ncellsGlobal, m.comm.Size())
	if err != nil {
		return nil, err
	}
	m.setSizes(sizes)
	lo, hi := m.noffset, m.noffset+m.ncells
	m.i = append([]int(nil), ii[lo:hi]...)
	m.j = append([]int(nil), jj[lo:hi]...)
	m.level = make([]int, m.ncells)
	m.celltype = make([]CellType, m.ncells)
	for k := range m.i {
		m.celltype[k] = m.lat.Classify(m.i[k], m.j[k], 0)
	}
	m.ncellsGhost = m.ncells
	m.Log.WithFields(logrus.Fields{
		"ncells":        m.ncells,
		"ncells_global": m.ncellsGlobal,
		"noffset":       m.noffset,
	}).Debug("quadmesh: created coarse mesh")
	return m, nil
}

// setSizes installs a partition size table and derives the displacement
// table and this rank's range.
func (m *Mesh) setSizes(sizes []int) {
	m.nsizes = sizes
	m.ndispl = make([]int, len(sizes))
	total := 0
	for r, s := range sizes {
		m.ndispl[r] = total
		total += s
	}
	m.ncellsGlobal = total
	m.noffset = m.ndispl[m.rank()]
	m.ncells = sizes[m.rank()]
}

func (m *Mesh) rank() int {
	if m.comm == nil {
		return 0
	}
	return m.comm.Rank()
}

// span starts a trace span for a mesh operation.
func (m *Mesh) span(ctx context.Context, name string) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.Int("rank", m.rank()),
		attribute.Int("ncells", m.ncells),
	))
}

// finish ends span, recording err if it is not nil.
func finish(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	return err
}

// Config returns the configuration the mesh was built with.
func (m *Mesh) Config() Config { return m.cfg }

// Comm returns the process group the mesh belongs to.
func (m *Mesh) Comm() comm.Comm { return m.comm }

// Rank is this process's index in the group.
func (m *Mesh) Rank() int { return m.rank() }

// Ncells is the number of owned cells.
func (m *Mesh) Ncells() int { return m.ncells }

// NcellsGhost is the number of owned plus ghost cells.
func (m *Mesh) NcellsGhost() int { return m.ncellsGhost }

// NcellsGlobal is the number of cells in the whole mesh.
func (m *Mesh) NcellsGlobal() int { return m.ncellsGlobal }

// Noffset is the global index of the first owned cell.
func (m *Mesh) Noffset() int { return m.noffset }

// Sizes returns the number of cells owned by each rank.
func (m *Mesh) Sizes() []int { return append([]int(nil), m.nsizes...) }

// Displacements returns the global index of the first cell of each rank.
func (m *Mesh) Displacements() []int { return append([]int(nil), m.ndispl...) }

// The index arrays below cover owned and ghost cells and must not be
// modified by callers.

// I returns the column index of each cell at its own level.
func (m *Mesh) I() []int { return m.i }

// J returns the row index of each cell at its own level.
func (m *Mesh) J() []int { return m.j }

// Level returns the refinement level of each cell.
func (m *Mesh) Level() []int { return m.level }

// CellTypes returns the type of each cell.
func (m *Mesh) CellTypes() []CellType { return m.celltype }

// Neighbors returns the left, right, bottom and top neighbor arrays. They
// are nil until CalcNeighbors has run since the last change to the mesh.
func (m *Mesh) Neighbors() (nlft, nrht, nbot, ntop []int) {
	return m.nlft, m.nrht, m.nbot, m.ntop
}

// NeighborsValid reports whether the neighbor arrays match the cells.
func (m *Mesh) NeighborsValid() bool { return m.neighborsValid }

// GlobalIndex returns the global index of local cell k, owned or ghost.
func (m *Mesh) GlobalIndex(k int) int {
	if k < m.ncells {
		return m.noffset + k
	}
	return m.ghostGlobal[k-m.ncells]
}

// SpatialBounds returns the lower left corner and size of local cell k.
func (m *Mesh) SpatialBounds(k int) (x, y, dx, dy float64) {
	return m.lat.SpatialBounds(m.i[k], m.j[k], m.level[k])
}

// Classify returns the type a cell at (i, j, level) has in this mesh.
func (m *Mesh) Classify(i, j, level int) CellType {
	return m.lat.Classify(i, j, level)
}

// Area returns the area of local cell k.
func (m *Mesh) Area(k int) float64 {
	return m.lat.dx[m.level[k]] * m.lat.dy[m.level[k]]
}

// invalidate drops everything derived from the current cell arrays:
// neighbors, ghost cells and the halo schedule.
func (m *Mesh) invalidate() {
	m.nlft, m.nrht, m.nbot, m.ntop = nil, nil, nil, nil
	m.neighborsValid = false
	m.ghostGlobal, m.ghostOwner = nil, nil
	m.sched = nil
	m.i, m.j = m.i[:m.ncells], m.j[:m.ncells]
	m.level, m.celltype = m.level[:m.ncells], m.celltype[:m.ncells]
	m.ncellsGhost = m.ncells
	m.fields.each(func(c Column) error {
		c.resize(m.ncells, m.cfg.MemFactor)
		return nil
	})
}
