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
	"testing"

	"github.com/spatialmodel/quadmesh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExprMarker(t *testing.T) {
	ctx := context.Background()
	m, err := quadmesh.New(testMeshConfig())
	require.NoError(t, err)
	require.NoError(t, InitDensity(ctx, m))

	e, err := NewExprMarker("x < 2 && level < 1", "density > 20 || cycle > 0")
	require.NoError(t, err)
	mpot, err := e.Mark(ctx, m)
	require.NoError(t, err)
	require.Len(t, mpot, m.Ncells())
	h, _ := m.Lookup(DensityField)
	density, err := quadmesh.Values[float64](m, h)
	require.NoError(t, err)
	for c, mp := range mpot {
		x, _, dx, _ := m.SpatialBounds(c)
		switch {
		case x+dx/2 < 2:
			assert.Equal(t, 1, mp, "cell %d", c)
		case density[c] > 20:
			assert.Equal(t, -1, mp, "cell %d", c)
		default:
			assert.Equal(t, 0, mp, "cell %d", c)
		}
	}

	// In the second cycle every cell that is not refined is coarsened.
	mpot, err = e.Mark(ctx, m)
	require.NoError(t, err)
	for c, mp := range mpot {
		assert.NotZero(t, mp, "cell %d", c)
	}
}

func TestExprMarkerErrors(t *testing.T) {
	ctx := context.Background()
	m, err := quadmesh.New(testMeshConfig())
	require.NoError(t, err)

	_, err = NewExprMarker("x <", "")
	assert.Error(t, err, "syntax")

	e, err := NewExprMarker("temperature > 1", "")
	require.NoError(t, err)
	_, err = e.Mark(ctx, m)
	assert.Error(t, err, "undefined field")

	e, err = NewExprMarker("x + 1", "")
	require.NoError(t, err)
	_, err = e.Mark(ctx, m)
	assert.Error(t, err, "not a boolean")

	e, err = NewExprMarker("abs(x, y) > 1", "")
	require.NoError(t, err)
	_, err = e.Mark(ctx, m)
	assert.Error(t, err, "wrong number of arguments")
}

func TestRunExprMarker(t *testing.T) {
	ctx := testContext(t)
	o := testOptions(1)
	o.Refine = "hypot(x-4, y-4) < 1 + cycle && level < 2"
	o.Coarsen = "hypot(x-4, y-4) > 2 + cycle"
	serial, err := Run(ctx, testMeshConfig(), o)
	require.NoError(t, err)
	assert.Positive(t, serial.PerRank[0].Diagnostics.Refined)

	o.Ranks = 2
	distributed, err := Run(ctx, testMeshConfig(), o)
	require.NoError(t, err)
	assert.Equal(t, serial.Fingerprint, distributed.Fingerprint)
}
