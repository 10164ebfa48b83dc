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

// Command quadmesh is a command-line interface for the Quadmesh adaptive mesh.
package main

import (
	"fmt"
	"os"

	"github.com/spatialmodel/quadmesh/quadmeshutil"
)

func main() {
	if err := quadmeshutil.Root.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}
}
