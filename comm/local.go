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
	"sync"
)

// localComm is a rank of an in-process group.
type localComm struct {
	rank  int
	group *localGroup
}

type localGroup struct {
	boxes []*mailbox
	once  sync.Once
}

// NewLocalGroup returns n ranks that communicate through shared memory.
// Each returned Comm is meant to be driven by its own goroutine.
func NewLocalGroup(n int) []Comm {
	if n < 1 {
		panic(fmt.Sprintf("comm: invalid group size %d", n))
	}
	g := &localGroup{boxes: make([]*mailbox, n)}
	for i := range g.boxes {
		g.boxes[i] = newMailbox()
	}
	out := make([]Comm, n)
	for i := range out {
		out[i] = &localComm{rank: i, group: g}
	}
	return out
}

func (c *localComm) Rank() int { return c.rank }
func (c *localComm) Size() int { return len(c.group.boxes) }

func (c *localComm) Send(ctx context.Context, dest, tag int, payload interface{}) error {
	if err := checkRank(c, dest); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.group.boxes[dest].deliver(c.rank, tag, payload)
	return nil
}

func (c *localComm) Recv(ctx context.Context, src, tag int) (interface{}, error) {
	if err := checkRank(c, src); err != nil {
		return nil, err
	}
	return c.group.boxes[c.rank].receive(ctx, src, tag)
}

func (c *localComm) Abort(reason error) {
	c.group.once.Do(func() {
		err := &abortError{rank: c.rank, reason: reason}
		for _, b := range c.group.boxes {
			b.abort(err)
		}
	})
}
