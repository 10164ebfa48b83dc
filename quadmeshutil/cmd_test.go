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
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/spatialmodel/quadmesh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestVersion(t *testing.T) {
	var out bytes.Buffer
	Root.SetOut(&out)
	Root.SetArgs([]string{"version"})
	require.NoError(t, Root.Execute())
	assert.Contains(t, out.String(), quadmesh.Version)
}

func TestRunAndConfigCommands(t *testing.T) {
	var out bytes.Buffer
	Root.SetOut(&out)
	Root.SetArgs([]string{"run", "--Mesh.Nx=8", "--Mesh.Ny=8", "--Front.X=4", "--Front.Y=4",
		"-n", "2", "-c", "3", "--CheckGlobal", "--report=-"})
	require.NoError(t, Root.Execute())

	var r Report
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &r))
	assert.Equal(t, 2, r.Ranks)
	assert.Equal(t, 3, r.Cycles)
	require.Len(t, r.PerRank, 2)
	assert.Equal(t, 3, r.PerRank[1].Diagnostics.Cycles)
	assert.NotEmpty(t, r.Fingerprint)

	// The flags set above stay in effect for the config command.
	out.Reset()
	Root.SetArgs([]string{"config"})
	require.NoError(t, Root.Execute())
	var settings map[string]interface{}
	_, err := toml.Decode(out.String(), &settings)
	require.NoError(t, err)
	assert.Equal(t, int64(2), settings["ranks"])
	mesh, ok := settings["mesh"].(map[string]interface{})
	require.True(t, ok, "missing mesh table in %s", out.String())
	assert.Equal(t, int64(8), mesh["nx"])
	assert.Equal(t, "hilbert", mesh["order"])
	assert.NotContains(t, settings, "config")
}

func TestWriteReport(t *testing.T) {
	r := &Report{Version: quadmesh.Version, Ranks: 1, Fingerprint: "abc"}
	path := filepath.Join(t.TempDir(), "report.yml")
	require.NoError(t, WriteReport(path, r, nil))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "fingerprint: abc")

	var out bytes.Buffer
	require.NoError(t, WriteReport("", r, &out))
	assert.Zero(t, out.Len())

	assert.Error(t, WriteReport(filepath.Join(t.TempDir(), "missing", "report.yml"), r, nil))
}

func TestSetConfigErrors(t *testing.T) {
	defer Cfg.Set("config", "")
	defer Cfg.Set("loglevel", "info")

	Cfg.Set("config", filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, setConfig())
	Cfg.Set("config", "")

	Cfg.Set("loglevel", "loud")
	assert.Error(t, setConfig())
	Cfg.Set("loglevel", "warning")
	assert.NoError(t, setConfig())
}
