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
	"fmt"

	"github.com/spatialmodel/quadmesh"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// MeshConfig unmarshals a viper configuration for a mesh.
func MeshConfig(cfg *viper.Viper) (quadmesh.Config, error) {
	order, err := quadmesh.ParseInitialOrder(cfg.GetString("Mesh.Order"))
	if err != nil {
		return quadmesh.Config{}, fmt.Errorf("Mesh.Order: %v", err)
	}
	ints := []string{"Mesh.Nx", "Mesh.Ny", "Mesh.LevMax"}
	intVals := make([]int, len(ints))
	for i, name := range ints {
		v, err := cast.ToIntE(cfg.Get(name))
		if err != nil {
			return quadmesh.Config{}, fmt.Errorf("quadmeshutil: parsing config variable %s: %v", name, err)
		}
		intVals[i] = v
	}
	floats := []string{"Mesh.Xmin", "Mesh.Ymin", "Mesh.Dx", "Mesh.Dy", "Mesh.MemFactor"}
	floatVals := make([]float64, len(floats))
	for i, name := range floats {
		v, err := cast.ToFloat64E(cfg.Get(name))
		if err != nil {
			return quadmesh.Config{}, fmt.Errorf("quadmeshutil: parsing config variable %s: %v", name, err)
		}
		floatVals[i] = v
	}
	c := quadmesh.Config{
		Nx:           intVals[0],
		Ny:           intVals[1],
		LevMax:       intVals[2],
		Ndim:         2,
		Boundary:     cfg.GetBool("Mesh.Boundary"),
		Parallel:     cfg.GetBool("Mesh.Parallel"),
		Xmin:         floatVals[0],
		Ymin:         floatVals[1],
		Dx:           floatVals[2],
		Dy:           floatVals[3],
		MemFactor:    floatVals[4],
		Order:        order,
		LocalStencil: cfg.GetBool("Mesh.LocalStencil"),
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// RunOptions holds the parameters of a workload that are not part of the
// mesh configuration.
type RunOptions struct {
	Ranks  int
	Cycles int

	// RebalanceEvery is the number of cycles between rebalances; zero
	// disables rebalancing.
	RebalanceEvery int

	// Weights are the relative shares of the ranks. Empty means equal
	// shares.
	Weights []float64

	CheckGlobal bool
	Tolerance   float64

	// Refine and Coarsen are marker expressions. If both are empty the
	// cells are marked by Front.
	Refine, Coarsen string

	Front quadmesh.FrontMarker
}

// RunConfig unmarshals a viper configuration for a workload.
func RunConfig(cfg *viper.Viper) (*RunOptions, error) {
	var weights []float64
	for _, w := range cfg.GetStringSlice("Weights") {
		v, err := cast.ToFloat64E(w)
		if err != nil {
			return nil, fmt.Errorf("quadmeshutil: parsing config variable Weights: %v", err)
		}
		weights = append(weights, v)
	}
	o := &RunOptions{
		Ranks:          cfg.GetInt("ranks"),
		Cycles:         cfg.GetInt("cycles"),
		RebalanceEvery: cfg.GetInt("RebalanceEvery"),
		Weights:        weights,
		CheckGlobal:    cfg.GetBool("CheckGlobal"),
		Tolerance:      cfg.GetFloat64("Tolerance"),
		Refine:         cfg.GetString("Marker.Refine"),
		Coarsen:        cfg.GetString("Marker.Coarsen"),
		Front: quadmesh.FrontMarker{
			X:      cfg.GetFloat64("Front.X"),
			Y:      cfg.GetFloat64("Front.Y"),
			Radius: cfg.GetFloat64("Front.Radius"),
			Speed:  cfg.GetFloat64("Front.Speed"),
			Width:  cfg.GetFloat64("Front.Width"),
		},
	}
	if o.Ranks < 1 {
		return nil, fmt.Errorf("parsing run configuration: ranks=%d but should be >0", o.Ranks)
	}
	vars := []int{o.Cycles, o.RebalanceEvery}
	varNames := []string{"cycles", "RebalanceEvery"}
	for i, v := range vars {
		if v < 0 {
			return nil, fmt.Errorf("parsing run configuration: %s=%d but should be >=0", varNames[i], v)
		}
	}
	if !(o.Tolerance >= 0) {
		return nil, fmt.Errorf("parsing run configuration: Tolerance=%g but should be >=0", o.Tolerance)
	}
	if !(o.Front.Width > 0) {
		return nil, fmt.Errorf("parsing run configuration: Front.Width=%g but should be >0", o.Front.Width)
	}
	if _, err := NewExprMarker(o.Refine, o.Coarsen); err != nil {
		return nil, err
	}
	for i, w := range o.Weights {
		if !(w >= 0) {
			return nil, fmt.Errorf("parsing run configuration: Weights[%d]=%g but should be >=0", i, w)
		}
	}
	return o, nil
}
