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

	"github.com/spatialmodel/quadmesh/comm"
)

// Number is the set of element types a per-cell field may hold.
type Number interface {
	~int | ~int32 | ~int64 | ~float32 | ~float64
}

// FieldHandle identifies a registered per-cell field. Handles stay valid
// for the lifetime of the mesh, across rezones and rebalances.
type FieldHandle int

// Column is a per-cell array that the mesh resizes and reorders in lock step
// with its cells. Field is the only implementation.
type Column interface {
	Name() string
	Len() int

	resize(n int, memFactor float64)
	rezone(plan []source, memFactor float64)
	slice(lo, hi int) interface{}
	rebuild(lower, upper []interface{}, lo, hi int, memFactor float64) error
	gather(idx []int) interface{}
	scatter(slots []int, payload interface{}) error
}

// source describes where a cell produced by a rezone takes its field
// values from: the mean of the first n old cells in idx. A copied or refined
// cell has n == 1.
type source struct {
	idx [4]int
	n   int
}

// Field is a typed per-cell array.
type Field[T Number] struct {
	name string
	data []T
}

// NewField returns a field holding data.
func NewField[T Number](name string, data []T) *Field[T] {
	return &Field[T]{name: name, data: data}
}

// Name implements Column.
func (f *Field[T]) Name() string { return f.name }

// Len implements Column.
func (f *Field[T]) Len() int { return len(f.data) }

// Data returns the current values. Entries [0, ncells) belong to owned
// cells and entries [ncells, ncells_ghost), when present, to ghost cells.
// The slice is replaced, not modified, by rezone and rebalance.
func (f *Field[T]) Data() []T { return f.data }

// alloc returns a slice of length n with some spare capacity.
func alloc[T Number](n int, memFactor float64) []T {
	c := int(float64(n) * memFactor)
	if c < n {
		c = n
	}
	return make([]T, n, c)
}

func (f *Field[T]) resize(n int, memFactor float64) {
	if n <= cap(f.data) {
		old := len(f.data)
		f.data = f.data[:n]
		for k := old; k < n; k++ {
			f.data[k] = 0
		}
		return
	}
	d := alloc[T](n, memFactor)
	copy(d, f.data)
	f.data = d
}

func (f *Field[T]) rezone(plan []source, memFactor float64) {
	d := alloc[T](len(plan), memFactor)
	for k, s := range plan {
		if s.n == 1 {
			d[k] = f.data[s.idx[0]]
			continue
		}
		sum := 0.
		for q := 0; q < s.n; q++ {
			sum += float64(f.data[s.idx[q]])
		}
		d[k] = T(sum / float64(s.n))
	}
	f.data = d
}

func (f *Field[T]) slice(lo, hi int) interface{} {
	out := make([]T, hi-lo)
	copy(out, f.data[lo:hi])
	return out
}

// rebuild replaces the array with the concatenation of the received lower
// blocks, the retained entries [lo, hi) and the received upper blocks.
func (f *Field[T]) rebuild(lower, upper []interface{}, lo, hi int, memFactor float64) error {
	var lw, up [][]T
	n := hi - lo
	for _, x := range lower {
		b, err := comm.As[[]T](x)
		if err != nil {
			return fmt.Errorf("field %s: lower block: %w", f.name, err)
		}
		lw = append(lw, b)
		n += len(b)
	}
	for _, x := range upper {
		b, err := comm.As[[]T](x)
		if err != nil {
			return fmt.Errorf("field %s: upper block: %w", f.name, err)
		}
		up = append(up, b)
		n += len(b)
	}
	d := alloc[T](n, memFactor)
	k := 0
	for _, b := range lw {
		k += copy(d[k:], b)
	}
	k += copy(d[k:], f.data[lo:hi])
	for _, b := range up {
		k += copy(d[k:], b)
	}
	f.data = d
	return nil
}

func (f *Field[T]) gather(idx []int) interface{} {
	out := make([]T, len(idx))
	for k, i := range idx {
		out[k] = f.data[i]
	}
	return out
}

func (f *Field[T]) scatter(slots []int, payload interface{}) error {
	v, err := comm.As[[]T](payload)
	if err != nil {
		return fmt.Errorf("field %s: %w", f.name, err)
	}
	if len(v) != len(slots) {
		return fmt.Errorf("field %s: received %d values for %d ghost cells", f.name, len(v), len(slots))
	}
	for k, s := range slots {
		f.data[s] = v[k]
	}
	return nil
}

// fieldSet is the registry of per-cell fields attached to a mesh.
type fieldSet struct {
	cols   []Column
	byName map[string]FieldHandle
}

func (fs *fieldSet) each(f func(Column) error) error {
	for _, c := range fs.cols {
		if c == nil {
			continue
		}
		if err := f(c); err != nil {
			return err
		}
	}
	return nil
}

// RegisterField attaches a per-cell field to m. The field must have one
// entry per owned cell, or one per owned and ghost cell. From then on the
// mesh keeps the field sized and ordered like its cells.
func (m *Mesh) RegisterField(c Column) (FieldHandle, error) {
	if m.fields.byName == nil {
		m.fields.byName = make(map[string]FieldHandle)
	}
	if _, ok := m.fields.byName[c.Name()]; ok {
		return -1, fmt.Errorf("quadmesh: field %q is already registered", c.Name())
	}
	if c.Len() != m.ncells && c.Len() != m.ncellsGhost {
		return -1, fmt.Errorf("quadmesh: field %q has %d entries but the mesh has %d cells", c.Name(), c.Len(), m.ncells)
	}
	c.resize(m.ncellsGhost, m.cfg.MemFactor)
	h := FieldHandle(len(m.fields.cols))
	m.fields.cols = append(m.fields.cols, c)
	m.fields.byName[c.Name()] = h
	return h, nil
}

// Register creates and registers a field holding data.
func Register[T Number](m *Mesh, name string, data []T) (FieldHandle, error) {
	return m.RegisterField(NewField(name, data))
}

// Unregister detaches a field from m. Its handle is not reused.
func (m *Mesh) Unregister(h FieldHandle) error {
	c, err := m.Column(h)
	if err != nil {
		return err
	}
	delete(m.fields.byName, c.Name())
	m.fields.cols[h] = nil
	return nil
}

// Column returns the field registered under h.
func (m *Mesh) Column(h FieldHandle) (Column, error) {
	if h < 0 || int(h) >= len(m.fields.cols) || m.fields.cols[h] == nil {
		return nil, fmt.Errorf("quadmesh: invalid field handle %d", h)
	}
	return m.fields.cols[h], nil
}

// Lookup returns the handle of the field with the given name.
func (m *Mesh) Lookup(name string) (FieldHandle, bool) {
	h, ok := m.fields.byName[name]
	return h, ok
}

// Values returns the current array of the field registered under h.
func Values[T Number](m *Mesh, h FieldHandle) ([]T, error) {
	f, err := typedField[T](m, h)
	if err != nil {
		return nil, err
	}
	return f.data, nil
}

// Replace swaps in a new array for the field registered under h. The array
// must cover the owned cells, and optionally the ghost cells.
func Replace[T Number](m *Mesh, h FieldHandle, data []T) error {
	f, err := typedField[T](m, h)
	if err != nil {
		return err
	}
	if len(data) != m.ncells && len(data) != m.ncellsGhost {
		return fmt.Errorf("quadmesh: replacing field %q: %d entries for %d cells", f.name, len(data), m.ncells)
	}
	f.data = data
	f.resize(m.ncellsGhost, m.cfg.MemFactor)
	return nil
}

func typedField[T Number](m *Mesh, h FieldHandle) (*Field[T], error) {
	c, err := m.Column(h)
	if err != nil {
		return nil, err
	}
	f, ok := c.(*Field[T])
	if !ok {
		var zero T
		return nil, fmt.Errorf("quadmesh: field %q does not hold %T values", c.Name(), zero)
	}
	return f, nil
}
