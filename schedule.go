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
	"fmt"
	"sort"

	"github.com/spatialmodel/quadmesh/comm"
)

// Schedule records, for the current ghost layout, which owned cells each
// partner needs from this rank and which ghost slots each partner fills.
// It is rebuilt whenever the ghost cells change and can be reused for any
// number of halo refreshes in between.
type Schedule struct {
	m *Mesh

	sendRanks []int
	sendTo    [][]int // owned cells to send to sendRanks[k]

	recvRanks []int
	recvFrom  [][]int // ghost slots filled by recvRanks[k]
}

// buildSchedule tells each ghost owner which of its cells this rank mirrors
// and learns the same from every partner.
func (m *Mesh) buildSchedule(ctx context.Context, partners []int) (*Schedule, error) {
	s := &Schedule{m: m}
	requests := make(map[int][]int)
	slots := make(map[int][]int)
	for k, owner := range m.ghostOwner {
		requests[owner] = append(requests[owner], m.ghostGlobal[k]-m.ndispl[owner])
		slots[owner] = append(slots[owner], m.ncells+k)
	}
	for _, q := range partners {
		if err := m.comm.Send(ctx, q, tagGhostRequest, requests[q]); err != nil {
			return nil, fmt.Errorf("quadmesh: sending ghost requests to rank %d: %w", q, err)
		}
		if len(slots[q]) > 0 {
			s.recvRanks = append(s.recvRanks, q)
			s.recvFrom = append(s.recvFrom, slots[q])
		}
		delete(slots, q)
	}
	if len(slots) > 0 {
		return nil, m.invariant("calc_neighbors_local", "ghost cells owned by ranks that are not partners")
	}
	for _, q := range partners {
		x, err := m.comm.Recv(ctx, q, tagGhostRequest)
		if err != nil {
			return nil, fmt.Errorf("quadmesh: receiving ghost requests from rank %d: %w", q, err)
		}
		idx, err := comm.As[[]int](x)
		if err != nil {
			return nil, m.invariant("calc_neighbors_local", "malformed ghost request from rank %d: %v", q, err)
		}
		for _, ic := range idx {
			if ic < 0 || ic >= m.ncells {
				return nil, m.invariant("calc_neighbors_local", "rank %d requested cell %d of %d", q, ic, m.ncells)
			}
		}
		if len(idx) > 0 {
			s.sendRanks = append(s.sendRanks, q)
			s.sendTo = append(s.sendTo, idx)
		}
	}
	return s, nil
}

// Partners returns the ranks this rank exchanges halo data with.
func (s *Schedule) Partners() []int {
	set := make(map[int]bool)
	for _, r := range s.sendRanks {
		set[r] = true
	}
	for _, r := range s.recvRanks {
		set[r] = true
	}
	out := make([]int, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Ints(out)
	return out
}

// Refresh overwrites the ghost entries of c with the values held by the
// owning ranks. c must have one entry per owned and ghost cell.
func (s *Schedule) Refresh(ctx context.Context, c Column) error {
	m := s.m
	if c.Len() != m.ncellsGhost {
		return fmt.Errorf("quadmesh: halo refresh of %s: %d entries for %d cells", c.Name(), c.Len(), m.ncellsGhost)
	}
	for k, q := range s.sendRanks {
		if err := m.comm.Send(ctx, q, tagHalo, c.gather(s.sendTo[k])); err != nil {
			return fmt.Errorf("quadmesh: halo refresh of %s: sending to rank %d: %w", c.Name(), q, err)
		}
	}
	for k, q := range s.recvRanks {
		x, err := m.comm.Recv(ctx, q, tagHalo)
		if err != nil {
			return fmt.Errorf("quadmesh: halo refresh of %s: receiving from rank %d: %w", c.Name(), q, err)
		}
		if err := c.scatter(s.recvFrom[k], x); err != nil {
			return m.invariant("halo_refresh", "from rank %d: %v", q, err)
		}
	}
	m.diag.HaloRefreshes++
	return nil
}

// Schedule returns the halo schedule of the current ghost layout, or nil
// if neighbors have not been computed since the mesh last changed.
func (m *Mesh) Schedule() *Schedule { return m.sched }

// Refresh updates the ghost entries of the registered field h.
func (m *Mesh) Refresh(ctx context.Context, h FieldHandle) error {
	c, err := m.Column(h)
	if err != nil {
		return err
	}
	return m.refresh(ctx, c)
}

func (m *Mesh) refresh(ctx context.Context, c Column) error {
	if m.sched == nil {
		return fmt.Errorf("quadmesh: halo refresh of %s: neighbors have not been computed", c.Name())
	}
	ctx, span := m.span(ctx, "Mesh.Refresh")
	defer m.diag.timer(phaseHalo)()
	return finish(span, m.sched.Refresh(ctx, c))
}

// HaloRefresh updates the ghost entries of an array that is not registered
// with the mesh. data must have one entry per owned and ghost cell.
func HaloRefresh[T Number](ctx context.Context, m *Mesh, data []T) error {
	return m.refresh(ctx, NewField("halo", data))
}
