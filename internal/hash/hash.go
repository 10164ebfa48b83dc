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

// Package hash computes fingerprints of mesh snapshots so that runs with
// different process counts can be compared without keeping both meshes.
package hash

import (
	"encoding/gob"
	"fmt"
	"hash/fnv"

	"github.com/davecgh/go-spew/spew"
)

// Fingerprint returns a key identifying the contents of values, taken in
// order. Equal inputs always give equal keys.
func Fingerprint(values ...interface{}) string {
	h := fnv.New128a()
	for k, v := range values {
		fmt.Fprintf(h, "#%d:", k)
		if err := gob.NewEncoder(h).Encode(v); err == nil {
			continue
		}
		// Values gob cannot encode, such as nil pointers, are printed instead.
		printer := spew.ConfigState{
			Indent:                  " ",
			SortKeys:                true,
			DisableMethods:          true,
			SpewKeys:                true,
			DisablePointerAddresses: true,
			DisableCapacities:       true,
		}
		printer.Fprintf(h, "%#v", v)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
