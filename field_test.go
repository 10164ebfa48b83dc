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
	"errors"
	"reflect"
	"testing"
)

func TestFieldRegistry(t *testing.T) {
	m := newTestMesh(t, smallConfig(false))
	n := m.Ncells()

	h, err := Register(m, "temperature", make([]float32, n))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Register(m, "temperature", make([]float32, n)); err == nil {
		t.Error("registering a name twice should fail")
	}
	if _, err := Register(m, "short", make([]float64, n-1)); err == nil {
		t.Error("registering a field of the wrong length should fail")
	}
	if have, ok := m.Lookup("temperature"); !ok || have != h {
		t.Errorf("lookup: want %d but have %d (%v)", h, have, ok)
	}
	if _, err := Values[float64](m, h); err == nil {
		t.Error("reading a float32 field as float64 should fail")
	}

	data := make([]float32, n)
	for c := range data {
		data[c] = float32(c)
	}
	if err := Replace(m, h, data); err != nil {
		t.Fatal(err)
	}
	v, err := Values[float32](m, h)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(v, data) {
		t.Errorf("want %v but have %v", data, v)
	}
	if err := Replace(m, h, make([]float32, 2)); err == nil {
		t.Error("replacing with the wrong length should fail")
	}

	col, err := m.Column(h)
	if err != nil {
		t.Fatal(err)
	}
	if col.Name() != "temperature" || col.Len() != n {
		t.Errorf("column %s has %d entries", col.Name(), col.Len())
	}

	if err := m.Unregister(h); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Lookup("temperature"); ok {
		t.Error("an unregistered field should not be found")
	}
	if _, err := m.Column(h); err == nil {
		t.Error("an unregistered handle should be invalid")
	}
	h2, err := Register(m, "temperature", make([]float32, n))
	if err != nil {
		t.Fatal(err)
	}
	if h2 == h {
		t.Error("handles should not be reused")
	}
}

func TestFieldResize(t *testing.T) {
	f := NewField("x", []int64{1, 2, 3})
	f.resize(5, 2)
	if want := []int64{1, 2, 3, 0, 0}; !reflect.DeepEqual(f.Data(), want) {
		t.Errorf("want %v but have %v", want, f.Data())
	}
	if cap(f.Data()) != 10 {
		t.Errorf("want capacity 10 but have %d", cap(f.Data()))
	}
	f.resize(2, 2)
	f.resize(4, 2)
	if want := []int64{1, 2, 0, 0}; !reflect.DeepEqual(f.Data(), want) {
		t.Errorf("stale values after shrinking and growing: %v", f.Data())
	}
}

func TestFieldRezone(t *testing.T) {
	f := NewField("x", []int{1, 2, 3, 4, 10})
	f.rezone([]source{
		{idx: [4]int{4}, n: 1},
		{idx: [4]int{4}, n: 1},
		{idx: [4]int{0, 1, 2, 3}, n: 4},
	}, 1)
	// Integer means are truncated.
	if want := []int{10, 10, 2}; !reflect.DeepEqual(f.Data(), want) {
		t.Errorf("want %v but have %v", want, f.Data())
	}
}

func TestFieldRebuild(t *testing.T) {
	f := NewField("x", []float64{1, 2, 3, 4})
	err := f.rebuild([]interface{}{[]float64{-2}, []float64{-1}}, []interface{}{[]float64{9}}, 1, 3, 1)
	if err != nil {
		t.Fatal(err)
	}
	if want := []float64{-2, -1, 2, 3, 9}; !reflect.DeepEqual(f.Data(), want) {
		t.Errorf("want %v but have %v", want, f.Data())
	}
	if err := f.rebuild([]interface{}{[]int{1}}, nil, 0, 0, 1); err == nil {
		t.Error("a block of the wrong type should fail")
	}

	g := NewField("y", []int{5, 6, 7})
	if have := g.gather([]int{2, 0}); !reflect.DeepEqual(have, []int{7, 5}) {
		t.Errorf("gather: %v", have)
	}
	if err := g.scatter([]int{1}, []int{42}); err != nil || g.Data()[1] != 42 {
		t.Errorf("scatter: %v %v", g.Data(), err)
	}
	if err := g.scatter([]int{1, 2}, []int{42}); err == nil {
		t.Error("scattering too few values should fail")
	}
}

func TestVerifyDetectsBrokenNeighbors(t *testing.T) {
	m := newTestMesh(t, smallConfig(false))
	m.nrht[0] = m.nlft[0]
	if m.nrht[0] == 0 {
		m.nrht[0] = m.ntop[0]
	}
	if err := m.Verify(); !errors.Is(err, ErrInvariant) {
		t.Errorf("want an invariant error but have %v", err)
	}
}
