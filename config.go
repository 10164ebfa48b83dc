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
	"math"
)

// InitialOrder selects the traversal used to order the coarse grid at
// construction time.
type InitialOrder int

const (
	// OrderHilbert orders coarse cells along a Hilbert curve.
	OrderHilbert InitialOrder = iota
	// OrderZ orders coarse cells by interleaving the bits of i and j.
	OrderZ
	// OrderOriginal orders coarse cells row by row.
	OrderOriginal
)

var orderNames = map[InitialOrder]string{
	OrderHilbert:  "hilbert",
	OrderZ:        "zorder",
	OrderOriginal: "original",
}

func (o InitialOrder) String() string {
	if s, ok := orderNames[o]; ok {
		return s
	}
	return fmt.Sprintf("InitialOrder(%d)", int(o))
}

// ParseInitialOrder returns the ordering with the given name.
func ParseInitialOrder(s string) (InitialOrder, error) {
	for o, name := range orderNames {
		if name == s {
			return o, nil
		}
	}
	return 0, fmt.Errorf("quadmesh: unknown initial order %q", s)
}

// Config holds the construction parameters of a mesh.
type Config struct {
	Nx, Ny int // number of coarse real cells in each direction
	LevMax int // maximum refinement level; level 0 is the coarse grid
	Ndim   int // number of spatial dimensions; only 2 is supported

	// Boundary adds a one-cell-thick ring of boundary cells around the
	// domain at every level.
	Boundary bool

	// Parallel selects the distributed code path: neighbors are resolved
	// against a local hash and remote neighbors are mirrored as ghost cells.
	Parallel bool

	Xmin, Ymin float64 // lower left corner of the real domain
	Dx, Dy     float64 // coarse cell size

	Order InitialOrder

	// LocalStencil orders refined children along the path through the
	// parent's neighbors in traversal order. Otherwise children are
	// inserted in Z order.
	LocalStencil bool

	// MemFactor is the growth margin applied when arrays are reallocated.
	MemFactor float64
}

// DefaultConfig returns a configuration for a 16x16 coarse grid with two
// levels of refinement.
func DefaultConfig() Config {
	return Config{
		Nx:           16,
		Ny:           16,
		LevMax:       2,
		Ndim:         2,
		Boundary:     true,
		Dx:           1,
		Dy:           1,
		Order:        OrderHilbert,
		LocalStencil: true,
		MemFactor:    1.2,
	}
}

// Validate checks that c describes a mesh that can be built.
func (c *Config) Validate() error {
	if c.Nx <= 0 || c.Ny <= 0 {
		return fmt.Errorf("quadmesh: parsing mesh configuration: Nx=%d, Ny=%d but both should be >0", c.Nx, c.Ny)
	}
	if c.LevMax < 0 {
		return fmt.Errorf("quadmesh: parsing mesh configuration: LevMax=%d but should be >=0", c.LevMax)
	}
	switch c.Ndim {
	case 2:
	case 3:
		return fmt.Errorf("quadmesh: parsing mesh configuration: three-dimensional meshes are not implemented")
	default:
		return fmt.Errorf("quadmesh: parsing mesh configuration: Ndim=%d but should be 2", c.Ndim)
	}
	if !(c.Dx > 0) || !(c.Dy > 0) {
		return fmt.Errorf("quadmesh: parsing mesh configuration: Dx=%g, Dy=%g but both should be >0", c.Dx, c.Dy)
	}
	if c.MemFactor < 1 {
		return fmt.Errorf("quadmesh: parsing mesh configuration: MemFactor=%g but should be >=1", c.MemFactor)
	}
	if _, ok := orderNames[c.Order]; !ok {
		return fmt.Errorf("quadmesh: parsing mesh configuration: invalid initial order %d", c.Order)
	}
	b := 0
	if c.Boundary {
		b = 2
	}
	// Hash keys are fine-lattice positions stored in an int64.
	extent := float64(c.Nx+b) * float64(c.Ny+b) * math.Pow(4, float64(c.LevMax))
	if c.LevMax > 30 || extent >= math.MaxInt64/4 {
		return fmt.Errorf("quadmesh: parsing mesh configuration: LevMax=%d is too deep for a %dx%d grid", c.LevMax, c.Nx, c.Ny)
	}
	return nil
}
