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
	"fmt"
)

// ErrInvariant is matched by every error reporting an inconsistent mesh.
// Once one is returned the mesh must not be used again.
var ErrInvariant = errors.New("quadmesh: invariant violation")

// InvariantError reports a broken mesh invariant, such as a neighbor that
// cannot be resolved or cell counts that do not add up across ranks.
type InvariantError struct {
	Op   string // operation that detected the problem
	Rank int
	Msg  string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("quadmesh: %s: rank %d: %s", e.Op, e.Rank, e.Msg)
}

// Is reports whether target is ErrInvariant.
func (e *InvariantError) Is(target error) bool { return target == ErrInvariant }

// invariant logs and returns an InvariantError and aborts the process group
// so that partners blocked in communication return as well.
func (m *Mesh) invariant(op, format string, args ...interface{}) error {
	err := &InvariantError{Op: op, Rank: m.rank(), Msg: fmt.Sprintf(format, args...)}
	m.Log.WithField("op", op).Error(err.Msg)
	if m.comm != nil {
		m.comm.Abort(err)
	}
	return err
}
