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
	"errors"
	"io"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/kr/pretty"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/quadmesh/comm"
	"golang.org/x/sync/errgroup"
)

const testTolerance = 1.e-10

func different(a, b, tolerance float64) bool {
	if 2*math.Abs(a-b)/math.Abs(a+b) > tolerance || math.IsNaN(a) || math.IsNaN(b) {
		return true
	}
	return false
}

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// smallConfig is a 4x4 coarse grid with two levels of refinement.
func smallConfig(boundary bool) Config {
	cfg := DefaultConfig()
	cfg.Nx, cfg.Ny = 4, 4
	cfg.Boundary = boundary
	return cfg
}

// newTestMesh creates a single-process mesh with current neighbors.
func newTestMesh(t *testing.T, cfg Config) *Mesh {
	t.Helper()
	m, err := New(cfg, WithLogger(testLogger()))
	if err != nil {
		t.Fatal(err)
	}
	if err := m.CalcNeighbors(context.Background()); err != nil {
		t.Fatal(err)
	}
	return m
}

// runRanks creates one mesh per rank of an in-process group of n ranks and
// runs f on each of them concurrently.
func runRanks(t *testing.T, cfg Config, n int, f func(ctx context.Context, m *Mesh) error, opts ...Option) {
	t.Helper()
	cfg.Parallel = true
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range comm.NewLocalGroup(n) {
		c := c
		g.Go(func() error {
			o := append([]Option{WithComm(c), WithLogger(testLogger())}, opts...)
			m, err := New(cfg, o...)
			if err != nil {
				c.Abort(err)
				return err
			}
			if err := f(ctx, m); err != nil {
				c.Abort(err)
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

// refineWhere returns marks refining the owned cells for which f is true.
func refineWhere(m *Mesh, f func(x, y float64, level int) bool) []int {
	mpot := make([]int, m.Ncells())
	for c := range mpot {
		x, y, dx, dy := m.SpatialBounds(c)
		if f(x+dx/2, y+dy/2, m.Level()[c]) {
			mpot[c] = 1
		}
	}
	return mpot
}

func TestNew(t *testing.T) {
	for _, test := range []struct {
		boundary bool
		order    InitialOrder
		ncells   int
	}{
		{boundary: false, order: OrderHilbert, ncells: 16},
		{boundary: true, order: OrderHilbert, ncells: 32},
		{boundary: true, order: OrderZ, ncells: 32},
		{boundary: true, order: OrderOriginal, ncells: 32},
	} {
		cfg := smallConfig(test.boundary)
		cfg.Order = test.order
		m, err := New(cfg, WithLogger(testLogger()))
		if err != nil {
			t.Fatal(err)
		}
		if m.Ncells() != test.ncells || m.NcellsGlobal() != test.ncells || m.NcellsGhost() != test.ncells {
			t.Errorf("%v, boundary=%v: want %d cells but have %d (global %d)", test.order, test.boundary,
				test.ncells, m.Ncells(), m.NcellsGlobal())
		}
		nreal := 0
		seen := make(map[[2]int]bool)
		for c := 0; c < m.Ncells(); c++ {
			if m.Level()[c] != 0 {
				t.Errorf("cell %d: level %d", c, m.Level()[c])
			}
			if m.CellTypes()[c] == RealCell {
				nreal++
			}
			k := [2]int{m.I()[c], m.J()[c]}
			if seen[k] {
				t.Errorf("cell %v appears twice", k)
			}
			seen[k] = true
			if have := m.Classify(m.I()[c], m.J()[c], 0); have != m.CellTypes()[c] {
				t.Errorf("cell %v: type %v but classified as %v", k, m.CellTypes()[c], have)
			}
		}
		if nreal != 16 {
			t.Errorf("want 16 real cells but have %d", nreal)
		}
		if m.NeighborsValid() {
			t.Error("neighbors should not be valid before CalcNeighbors")
		}
	}
}

func TestPartition(t *testing.T) {
	const n = 3
	cfg := smallConfig(true)
	sizes := make([][]int, n)
	offsets := make([]int, n)
	cells := make([][][3]int, n)
	runRanks(t, cfg, n, func(ctx context.Context, m *Mesh) error {
		r := m.Rank()
		sizes[r] = m.Sizes()
		offsets[r] = m.Noffset()
		for c := 0; c < m.Ncells(); c++ {
			cells[r] = append(cells[r], [3]int{m.I()[c], m.J()[c], m.Level()[c]})
		}
		return nil
	})
	want := []int{11, 11, 10}
	for r := 0; r < n; r++ {
		if !reflect.DeepEqual(sizes[r], want) {
			t.Errorf("rank %d: want sizes %v but have %v", r, want, sizes[r])
		}
		if len(cells[r]) != want[r] {
			t.Errorf("rank %d: want %d cells but have %d", r, want[r], len(cells[r]))
		}
	}
	if offsets[0] != 0 || offsets[1] != 11 || offsets[2] != 22 {
		t.Errorf("offsets: %v", offsets)
	}

	// The ranks hold consecutive pieces of the single-process ordering.
	single, err := New(cfg, WithLogger(testLogger()))
	if err != nil {
		t.Fatal(err)
	}
	var all [][3]int
	for _, part := range cells {
		all = append(all, part...)
	}
	var ref [][3]int
	for c := 0; c < single.Ncells(); c++ {
		ref = append(ref, [3]int{single.I()[c], single.J()[c], single.Level()[c]})
	}
	if !reflect.DeepEqual(all, ref) {
		t.Errorf("partitioned cells differ from the global order:\n%v", pretty.Diff(ref, all))
	}
}

func TestNewErrors(t *testing.T) {
	bad := []func(*Config){
		func(c *Config) { c.Nx = 0 },
		func(c *Config) { c.Ny = -1 },
		func(c *Config) { c.LevMax = -1 },
		func(c *Config) { c.Ndim = 3 },
		func(c *Config) { c.Ndim = 1 },
		func(c *Config) { c.Dx = 0 },
		func(c *Config) { c.MemFactor = 0.5 },
		func(c *Config) { c.Order = InitialOrder(7) },
		func(c *Config) { c.LevMax = 40 },
	}
	for i, f := range bad {
		cfg := DefaultConfig()
		f(&cfg)
		if _, err := New(cfg); err == nil {
			t.Errorf("case %d: expected an error for %+v", i, cfg)
		}
	}

	// A serial mesh cannot be shared by several ranks.
	group := comm.NewLocalGroup(2)
	if _, err := New(DefaultConfig(), WithComm(group[0])); err == nil {
		t.Error("expected an error for a serial mesh in a group of two")
	}
}

func TestParseInitialOrder(t *testing.T) {
	for _, o := range []InitialOrder{OrderHilbert, OrderZ, OrderOriginal} {
		have, err := ParseInitialOrder(o.String())
		if err != nil {
			t.Fatal(err)
		}
		if have != o {
			t.Errorf("want %v but have %v", o, have)
		}
	}
	if _, err := ParseInitialOrder("spiral"); err == nil {
		t.Error("expected an error for an unknown order")
	}
}

func TestInvariantError(t *testing.T) {
	m, err := New(smallConfig(false), WithLogger(testLogger()))
	if err != nil {
		t.Fatal(err)
	}
	err = m.invariant("test", "cell %d is broken", 3)
	if !errors.Is(err, ErrInvariant) {
		t.Errorf("%v should match ErrInvariant", err)
	}
	var ie *InvariantError
	if !errors.As(err, &ie) || ie.Op != "test" || ie.Msg != "cell 3 is broken" {
		t.Errorf("unexpected error %#v", err)
	}
	// The group is aborted.
	if _, err := m.Comm().Recv(context.Background(), 0, comm.UserTag); !errors.Is(err, comm.ErrAborted) {
		t.Errorf("want an aborted receive but have %v", err)
	}
}

func ctx() context.Context { return context.Background() }

func isInvariant(err error) bool { return errors.Is(err, ErrInvariant) }
