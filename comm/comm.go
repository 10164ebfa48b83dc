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

// Package comm provides the message-passing substrate used by the mesh
// engine: point-to-point messages between a fixed group of ranks plus the
// collectives built on top of them.
//
// Two transports are provided. NewLocalGroup creates ranks that live in the
// same process and exchange messages through shared mailboxes, which is what
// tests and the single-binary driver use. NewTCPNode creates one rank of a
// group whose members are separate processes connected over net/rpc.
package comm

import (
	"context"
	"errors"
	"fmt"
)

// Comm is one rank's endpoint in a fixed process group.
//
// Send never blocks on the receiver: messages are buffered by the
// destination until a matching Recv. Messages between a given pair of ranks
// with the same tag are received in the order they were sent.
type Comm interface {
	// Rank is the index of this endpoint in the group.
	Rank() int
	// Size is the number of ranks in the group.
	Size() int
	// Send delivers payload to rank dest under tag. The payload must not be
	// modified by the caller after Send returns.
	Send(ctx context.Context, dest, tag int, payload interface{}) error
	// Recv blocks until a message from src with tag arrives, the context is
	// done, or the group is aborted.
	Recv(ctx context.Context, src, tag int) (interface{}, error)
	// Abort marks the whole group as failed. Pending and future receives on
	// every rank return an error wrapping ErrAborted.
	Abort(reason error)
}

// ErrAborted is returned by receives after any rank aborts the group.
var ErrAborted = errors.New("comm: group aborted")

// Reserved tags used by the collectives in this package. Callers should use
// tags >= UserTag.
const (
	tagAllgather = iota + 1
	tagAllreduce
	tagBarrier
	tagBcast

	// UserTag is the smallest tag available to callers.
	UserTag = 64
)

type abortError struct {
	rank   int
	reason error
}

func (e *abortError) Error() string {
	return fmt.Sprintf("comm: group aborted by rank %d: %v", e.rank, e.reason)
}

func (e *abortError) Unwrap() []error { return []error{ErrAborted, e.reason} }

func checkRank(c Comm, r int) error {
	if r < 0 || r >= c.Size() {
		return fmt.Errorf("comm: rank %d out of range [0, %d)", r, c.Size())
	}
	return nil
}
