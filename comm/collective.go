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

package comm

import (
	"context"
	"fmt"
	"math"
)

// Op is a reduction operator.
type Op int

// Reduction operators supported by the all-reduce collectives.
const (
	Sum Op = iota
	Min
	Max
)

func (o Op) String() string {
	switch o {
	case Sum:
		return "sum"
	case Min:
		return "min"
	case Max:
		return "max"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// Allgather sends v to every rank and returns the values contributed by all
// ranks, indexed by rank.
func Allgather(ctx context.Context, c Comm, v interface{}) ([]interface{}, error) {
	return allgatherTag(ctx, c, tagAllgather, v)
}

func allgatherTag(ctx context.Context, c Comm, tag int, v interface{}) ([]interface{}, error) {
	n := c.Size()
	out := make([]interface{}, n)
	out[c.Rank()] = v
	for r := 0; r < n; r++ {
		if r == c.Rank() {
			continue
		}
		if err := c.Send(ctx, r, tag, v); err != nil {
			return nil, fmt.Errorf("comm: allgather send to %d: %w", r, err)
		}
	}
	for r := 0; r < n; r++ {
		if r == c.Rank() {
			continue
		}
		x, err := c.Recv(ctx, r, tag)
		if err != nil {
			return nil, fmt.Errorf("comm: allgather receive from %d: %w", r, err)
		}
		out[r] = x
	}
	return out, nil
}

// AllgatherSlices is a typed Allgather for slice payloads.
func AllgatherSlices[T any](ctx context.Context, c Comm, v []T) ([][]T, error) {
	all, err := Allgather(ctx, c, v)
	if err != nil {
		return nil, err
	}
	out := make([][]T, len(all))
	for r, x := range all {
		s, err := As[[]T](x)
		if err != nil {
			return nil, fmt.Errorf("comm: allgather from rank %d: %w", r, err)
		}
		out[r] = s
	}
	return out, nil
}

// As converts a received payload to type T.
func As[T any](x interface{}) (T, error) {
	var zero T
	if x == nil {
		return zero, nil
	}
	v, ok := x.(T)
	if !ok {
		return zero, fmt.Errorf("comm: payload has type %T, want %T", x, zero)
	}
	return v, nil
}

// AllreduceInt combines v across all ranks with op. Every rank receives the
// same result.
func AllreduceInt(ctx context.Context, c Comm, v int, op Op) (int, error) {
	all, err := allgatherTag(ctx, c, tagAllreduce, []int{v})
	if err != nil {
		return 0, err
	}
	var result int
	for r, x := range all {
		s, err := As[[]int](x)
		if err != nil || len(s) != 1 {
			return 0, fmt.Errorf("comm: allreduce: bad contribution from rank %d", r)
		}
		if r == 0 {
			result = s[0]
			continue
		}
		switch op {
		case Sum:
			result += s[0]
		case Min:
			if s[0] < result {
				result = s[0]
			}
		case Max:
			if s[0] > result {
				result = s[0]
			}
		default:
			return 0, fmt.Errorf("comm: unsupported reduction %v", op)
		}
	}
	return result, nil
}

// AllreduceFloat combines v across all ranks with op. Contributions are
// combined in rank order so every rank computes a bitwise identical result.
func AllreduceFloat(ctx context.Context, c Comm, v float64, op Op) (float64, error) {
	all, err := allgatherTag(ctx, c, tagAllreduce, []float64{v})
	if err != nil {
		return 0, err
	}
	result := 0.
	switch op {
	case Min:
		result = math.Inf(1)
	case Max:
		result = math.Inf(-1)
	case Sum:
	default:
		return 0, fmt.Errorf("comm: unsupported reduction %v", op)
	}
	for r, x := range all {
		s, err := As[[]float64](x)
		if err != nil || len(s) != 1 {
			return 0, fmt.Errorf("comm: allreduce: bad contribution from rank %d", r)
		}
		switch op {
		case Sum:
			result += s[0]
		case Min:
			result = math.Min(result, s[0])
		case Max:
			result = math.Max(result, s[0])
		}
	}
	return result, nil
}

// Barrier returns once every rank has entered it.
func Barrier(ctx context.Context, c Comm) error {
	_, err := allgatherTag(ctx, c, tagBarrier, []int{c.Rank()})
	return err
}

// Bcast returns root's v on every rank.
func Bcast(ctx context.Context, c Comm, root int, v interface{}) (interface{}, error) {
	if err := checkRank(c, root); err != nil {
		return nil, err
	}
	if c.Rank() == root {
		for r := 0; r < c.Size(); r++ {
			if r == root {
				continue
			}
			if err := c.Send(ctx, r, tagBcast, v); err != nil {
				return nil, fmt.Errorf("comm: bcast send to %d: %w", r, err)
			}
		}
		return v, nil
	}
	x, err := c.Recv(ctx, root, tagBcast)
	if err != nil {
		return nil, fmt.Errorf("comm: bcast receive from %d: %w", root, err)
	}
	return x, nil
}
