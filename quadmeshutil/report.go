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

package quadmeshutil

import (
	"fmt"
	"io"
	"os"

	"github.com/spatialmodel/quadmesh"
	"gopkg.in/yaml.v3"
)

// Report summarizes a workload.
type Report struct {
	Version      string  `yaml:"version"`
	Cycles       int     `yaml:"cycles"`
	Ranks        int     `yaml:"ranks"`
	NcellsGlobal int     `yaml:"ncells_global"`
	DensitySum   float64 `yaml:"density_sum"`

	// Fingerprint identifies the final global cell arrays. It does not
	// depend on the number of ranks.
	Fingerprint string `yaml:"fingerprint"`

	PerRank []RankReport `yaml:"per_rank"`
}

// RankReport holds the counters and phase timings of one rank.
type RankReport struct {
	Rank        int                  `yaml:"rank"`
	Ncells      int                  `yaml:"ncells"`
	Diagnostics quadmesh.Diagnostics `yaml:"diagnostics"`
	Timings     []quadmesh.Timing    `yaml:"timings"`
}

func newRankReport(m *quadmesh.Mesh) RankReport {
	return RankReport{
		Rank:        m.Rank(),
		Ncells:      m.Ncells(),
		Diagnostics: m.Diagnostics(),
		Timings:     m.Timings(),
	}
}

// mergeReports combines the reports of every rank of a group into one.
func mergeReports(reports []*Report) (*Report, error) {
	if len(reports) == 0 {
		return nil, fmt.Errorf("quadmeshutil: no reports to merge")
	}
	r := *reports[0]
	r.PerRank = nil
	for i, rr := range reports {
		if rr.Fingerprint != r.Fingerprint || rr.NcellsGlobal != r.NcellsGlobal {
			return nil, fmt.Errorf("quadmeshutil: rank %d finished with a different mesh than rank 0", i)
		}
		r.PerRank = append(r.PerRank, rr.PerRank...)
	}
	return &r, nil
}

// WriteReport writes r in YAML format to the file at path, or to w if
// path is "-". Nothing is written if path is empty.
func WriteReport(path string, r *Report, w io.Writer) error {
	switch path {
	case "":
		return nil
	case "-":
		return encodeReport(w, r)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("quadmeshutil: creating report: %v", err)
	}
	if err := encodeReport(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func encodeReport(w io.Writer, r *Report) error {
	e := yaml.NewEncoder(w)
	e.SetIndent(2)
	if err := e.Encode(r); err != nil {
		return fmt.Errorf("quadmeshutil: writing report: %v", err)
	}
	return e.Close()
}
