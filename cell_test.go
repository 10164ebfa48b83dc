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
	"reflect"
	"testing"

	"github.com/ctessum/geom"
)

func TestLattice(t *testing.T) {
	cfg := smallConfig(true)
	l := newLattice(&cfg)
	for _, test := range []struct {
		name       string
		have, want interface{}
	}{
		{"levtable", l.levtable, []int{1, 2, 4}},
		{"ibegin", l.ibegin, []int{1, 2, 4}},
		{"iend", l.iend, []int{4, 9, 19}},
		{"jbegin", l.jbegin, []int{1, 2, 4}},
		{"jend", l.jend, []int{4, 9, 19}},
		{"dx", l.dx, []float64{1, 0.5, 0.25}},
		{"width", l.width, 24},
		{"ilo", l.ilo, 4},
		{"ihi", l.ihi, 20},
		{"mult", []int{l.mult(0), l.mult(1), l.mult(2)}, []int{4, 2, 1}},
	} {
		if !reflect.DeepEqual(test.have, test.want) {
			t.Errorf("%s: want %v but have %v", test.name, test.want, test.have)
		}
	}

	cfg = smallConfig(false)
	l = newLattice(&cfg)
	if l.ibegin[2] != 0 || l.iend[2] != 15 || l.width != 16 || l.ilo != 0 || l.ihi != 16 {
		t.Errorf("no boundary: ibegin=%v iend=%v width=%d ilo=%d ihi=%d", l.ibegin, l.iend, l.width, l.ilo, l.ihi)
	}
}

func TestClassify(t *testing.T) {
	cfg := smallConfig(true)
	l := newLattice(&cfg)
	for _, test := range []struct {
		i, j, level int
		want        CellType
	}{
		{0, 1, 0, LeftBoundary},
		{5, 1, 0, RightBoundary},
		{1, 0, 0, BottomBoundary},
		{1, 5, 0, TopBoundary},
		{1, 1, 0, RealCell},
		{4, 4, 0, RealCell},
		{3, 3, 1, RealCell},
		{1, 4, 1, LeftBoundary},
		{10, 4, 1, RightBoundary},
		{4, 1, 1, BottomBoundary},
		{4, 10, 1, TopBoundary},
		{19, 19, 2, RealCell},
		{20, 19, 2, RightBoundary},
	} {
		if have := l.Classify(test.i, test.j, test.level); have != test.want {
			t.Errorf("(%d, %d, %d): want %v but have %v", test.i, test.j, test.level, test.want, have)
		}
	}
}

func TestSpatialBounds(t *testing.T) {
	cfg := smallConfig(true)
	cfg.Xmin, cfg.Ymin = -2, 10
	l := newLattice(&cfg)
	for _, test := range []struct {
		i, j, level int
		want        *geom.Bounds
	}{
		{1, 1, 0, &geom.Bounds{Min: geom.Point{X: -2, Y: 10}, Max: geom.Point{X: -1, Y: 11}}},
		{0, 1, 0, &geom.Bounds{Min: geom.Point{X: -3, Y: 10}, Max: geom.Point{X: -2, Y: 11}}},
		{4, 4, 2, &geom.Bounds{Min: geom.Point{X: -2, Y: 10}, Max: geom.Point{X: -1.75, Y: 10.25}}},
		{19, 19, 2, &geom.Bounds{Min: geom.Point{X: 1.75, Y: 13.75}, Max: geom.Point{X: 2, Y: 14}}},
		{3, 2, 1, &geom.Bounds{Min: geom.Point{X: -1.5, Y: 10}, Max: geom.Point{X: -1, Y: 10.5}}},
	} {
		if have := l.bounds(test.i, test.j, test.level); !reflect.DeepEqual(have, test.want) {
			t.Errorf("(%d, %d, %d): want %v but have %v", test.i, test.j, test.level, test.want, have)
		}
	}
}

func TestBox(t *testing.T) {
	cfg := smallConfig(true)
	l := newLattice(&cfg)
	a := l.fineBox(1, 1, 0)
	if want := (box{imin: 4, jmin: 4, imax: 8, jmax: 8}); a != want {
		t.Errorf("want %v but have %v", want, a)
	}
	b := l.fineBox(3, 2, 1)
	if want := (box{imin: 6, jmin: 4, imax: 8, jmax: 6}); b != want {
		t.Errorf("want %v but have %v", want, b)
	}
	right := l.fineBox(2, 1, 0)
	if a.overlaps(right) {
		t.Error("touching boxes should not overlap")
	}
	if !a.overlaps(b) {
		t.Error("nested boxes should overlap")
	}
	if a.geomBounds().Overlaps(right.geomBounds()) {
		t.Error("touching bounds should not overlap")
	}
	if !touches(a, right, Right) || !touches(right, a, Left) || touches(a, right, Top) {
		t.Error("wrong face for adjacent boxes")
	}

	e := emptyBox()
	if !e.empty() || e.overlaps(a) {
		t.Error("the empty box should be empty")
	}
	e.extend(a)
	e.extend(b)
	if e != a {
		t.Errorf("want %v but have %v", a, e)
	}
	g := l.grow(l.fineBox(0, 1, 0), 8)
	if want := (box{imin: 0, jmin: 0, imax: 12, jmax: 16}); g != want {
		t.Errorf("grow: want %v but have %v", want, g)
	}
}
