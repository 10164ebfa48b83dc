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
	"net"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/quadmesh"
	"github.com/spatialmodel/quadmesh/comm"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Cfg holds configuration information.
var Cfg *viper.Viper

var options []struct {
	name, usage, shorthand string
	defaultVal             interface{}
	flagsets               []*pflag.FlagSet
}

func init() {
	meshSets := func() []*pflag.FlagSet {
		return []*pflag.FlagSet{runCmd.Flags(), workerCmd.Flags(), configCmd.Flags()}
	}

	// Options are the configuration options available to Quadmesh.
	options = []struct {
		name, usage, shorthand string
		defaultVal             interface{}
		flagsets               []*pflag.FlagSet
	}{
		{
			name: "config",
			usage: `
              config specifies the configuration file location.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "loglevel",
			usage: `
              loglevel sets the minimum level of the log messages that are
              printed: one of trace, debug, info, warning or error.`,
			defaultVal: "info",
			flagsets:   []*pflag.FlagSet{Root.PersistentFlags()},
		},
		{
			name: "Mesh.Nx",
			usage: `
              Mesh.Nx is the number of coarse cells in the x direction.`,
			defaultVal: 16,
			flagsets:   meshSets(),
		},
		{
			name: "Mesh.Ny",
			usage: `
              Mesh.Ny is the number of coarse cells in the y direction.`,
			defaultVal: 16,
			flagsets:   meshSets(),
		},
		{
			name: "Mesh.LevMax",
			usage: `
              Mesh.LevMax is the maximum number of times a coarse cell
              can be refined.`,
			defaultVal: 2,
			flagsets:   meshSets(),
		},
		{
			name: "Mesh.Boundary",
			usage: `
              Mesh.Boundary specifies whether the domain is surrounded by a
              ring of boundary cells.`,
			defaultVal: true,
			flagsets:   meshSets(),
		},
		{
			name: "Mesh.Parallel",
			usage: `
              Mesh.Parallel selects the distributed code path even when the
              run uses a single rank. Runs with more than one rank are always
              distributed.`,
			defaultVal: false,
			flagsets:   meshSets(),
		},
		{
			name: "Mesh.Xmin",
			usage: `
              Mesh.Xmin is the x coordinate of the lower left corner of the domain.`,
			defaultVal: 0.0,
			flagsets:   meshSets(),
		},
		{
			name: "Mesh.Ymin",
			usage: `
              Mesh.Ymin is the y coordinate of the lower left corner of the domain.`,
			defaultVal: 0.0,
			flagsets:   meshSets(),
		},
		{
			name: "Mesh.Dx",
			usage: `
              Mesh.Dx is the width of a coarse cell.`,
			defaultVal: 1.0,
			flagsets:   meshSets(),
		},
		{
			name: "Mesh.Dy",
			usage: `
              Mesh.Dy is the height of a coarse cell.`,
			defaultVal: 1.0,
			flagsets:   meshSets(),
		},
		{
			name: "Mesh.Order",
			usage: `
              Mesh.Order is the traversal used to order the coarse cells:
              hilbert, zorder or original (row by row).`,
			defaultVal: "hilbert",
			flagsets:   meshSets(),
		},
		{
			name: "Mesh.LocalStencil",
			usage: `
              Mesh.LocalStencil specifies whether refined children are ordered
              along the path through their parent's neighbors. If false,
              children are inserted in Z order.`,
			defaultVal: true,
			flagsets:   meshSets(),
		},
		{
			name: "Mesh.MemFactor",
			usage: `
              Mesh.MemFactor is the growth margin applied when per-cell arrays
              are reallocated.`,
			defaultVal: 1.2,
			flagsets:   meshSets(),
		},
		{
			name: "ranks",
			usage: `
              ranks is the number of in-process ranks the mesh is
              distributed over.`,
			shorthand:  "n",
			defaultVal: 1,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "cycles",
			usage: `
              cycles is the number of refine, rebalance and neighbor
              update cycles to run.`,
			shorthand:  "c",
			defaultVal: 10,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), workerCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "RebalanceEvery",
			usage: `
              RebalanceEvery is the number of cycles between load
              rebalances. Zero disables rebalancing.`,
			defaultVal: 1,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), workerCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Weights",
			usage: `
              Weights are the relative shares of the cells assigned to each
              rank. If empty, every rank gets an equal share.`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), workerCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "CheckGlobal",
			usage: `
              CheckGlobal specifies whether every cycle compares the mesh
              and its neighbors against a single-process replica.`,
			defaultVal: false,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), workerCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Tolerance",
			usage: `
              Tolerance is the largest relative change in the domain sum of
              the density field allowed before the run fails.`,
			defaultVal: 1.0e-10,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), workerCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Front.X",
			usage: `
              Front.X is the x coordinate of the center of the refinement front.`,
			defaultVal: 8.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), workerCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Front.Y",
			usage: `
              Front.Y is the y coordinate of the center of the refinement front.`,
			defaultVal: 8.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), workerCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Front.Radius",
			usage: `
              Front.Radius is the radius of the refinement front in the first cycle.`,
			defaultVal: 2.0,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), workerCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Front.Speed",
			usage: `
              Front.Speed is the distance the front moves outward every cycle.`,
			defaultVal: 0.5,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), workerCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Front.Width",
			usage: `
              Front.Width is the half width of the refined band around the
              front, in coarse cells.`,
			defaultVal: 0.75,
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), workerCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Marker.Refine",
			usage: `
              Marker.Refine is an expression selecting the cells to refine,
              for example 'hypot(x-8, y-8) < 2 && level < 2'. It can use the
              cell center x and y, the cell size dx and dy, level, cycle and
              the density field. If Marker.Refine and Marker.Coarsen are both
              empty the cells are marked by the Front options.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), workerCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "Marker.Coarsen",
			usage: `
              Marker.Coarsen is an expression selecting the cells to coarsen
              among those that are not refined.`,
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), workerCmd.Flags(), configCmd.Flags()},
		},
		{
			name: "report",
			usage: `
              report is the path where a YAML summary of the run is written.
              '-' writes the summary to standard output; if empty no summary
              is written.`,
			shorthand:  "r",
			defaultVal: "",
			flagsets:   []*pflag.FlagSet{runCmd.Flags(), workerCmd.Flags()},
		},
		{
			name: "rank",
			usage: `
              rank is the rank of this worker within the group.`,
			defaultVal: 0,
			flagsets:   []*pflag.FlagSet{workerCmd.Flags()},
		},
		{
			name: "addrs",
			usage: `
              addrs are the TCP addresses of every worker in the group,
              indexed by rank. This worker listens on addrs[rank].`,
			defaultVal: []string{},
			flagsets:   []*pflag.FlagSet{workerCmd.Flags()},
		},
	}

	Cfg = viper.New()

	// Set the prefix for configuration environment variables.
	Cfg.SetEnvPrefix("QUADMESH")
	Cfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	Cfg.AutomaticEnv()

	for _, option := range options {
		for i, set := range option.flagsets {
			if i != 0 { // We don't want to create the same flag twice.
				set.AddFlag(option.flagsets[0].Lookup(option.name))
				continue
			}
			switch option.defaultVal.(type) {
			case string:
				if option.shorthand == "" {
					set.String(option.name, option.defaultVal.(string), option.usage)
				} else {
					set.StringP(option.name, option.shorthand, option.defaultVal.(string), option.usage)
				}
			case []string:
				if option.shorthand == "" {
					set.StringSlice(option.name, option.defaultVal.([]string), option.usage)
				} else {
					set.StringSliceP(option.name, option.shorthand, option.defaultVal.([]string), option.usage)
				}
			case bool:
				if option.shorthand == "" {
					set.Bool(option.name, option.defaultVal.(bool), option.usage)
				} else {
					set.BoolP(option.name, option.shorthand, option.defaultVal.(bool), option.usage)
				}
			case int:
				if option.shorthand == "" {
					set.Int(option.name, option.defaultVal.(int), option.usage)
				} else {
					set.IntP(option.name, option.shorthand, option.defaultVal.(int), option.usage)
				}
			case float64:
				if option.shorthand == "" {
					set.Float64(option.name, option.defaultVal.(float64), option.usage)
				} else {
					set.Float64P(option.name, option.shorthand, option.defaultVal.(float64), option.usage)
				}
			default:
				panic("invalid argument type")
			}
			Cfg.BindPFlag(option.name, set.Lookup(option.name))
		}
	}
}

func init() {
	// Link the commands together.
	Root.AddCommand(versionCmd)
	Root.AddCommand(runCmd)
	Root.AddCommand(workerCmd)
	Root.AddCommand(configCmd)
}

// setConfig finds and reads in the configuration file, if there is one,
// and sets the log level.
func setConfig() error {
	if cfgpath := Cfg.GetString("config"); cfgpath != "" {
		Cfg.SetConfigFile(cfgpath)
		if err := Cfg.ReadInConfig(); err != nil {
			return fmt.Errorf("quadmesh: problem reading configuration file: %v", err)
		}
	}
	lvl, err := logrus.ParseLevel(Cfg.GetString("loglevel"))
	if err != nil {
		return fmt.Errorf("quadmesh: %v", err)
	}
	logrus.SetLevel(lvl)
	return nil
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "quadmesh",
	Short: "A distributed adaptive quadtree mesh.",
	Long: `Quadmesh maintains a cell-based adaptive mesh on a two-dimensional grid,
distributed over a group of processes. Use the subcommands specified below to
run a synthetic refinement workload on the mesh.

Refer to the subcommand documentation for configuration options and default settings.
Configuration can be changed by using a configuration file (and providing the
path to the file using the --config flag), by using command-line arguments,
or by setting environment variables in the format 'QUADMESH_var' where 'var' is the
name of the variable to be set, with periods replaced by underscores
(for example QUADMESH_MESH_NX).
Refer to https://github.com/spf13/viper for additional configuration information.`,
	DisableAutoGenTag: true,
	PersistentPreRunE: func(*cobra.Command, []string) error { return setConfig() },
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "version prints the version number of this version of Quadmesh.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("Quadmesh v%s\n", quadmesh.Version)
	},
	DisableAutoGenTag: true,
}

// runCmd is a command that runs a simulation with every rank in this process.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a refinement workload.",
	Long: `run builds a mesh, distributes it over the requested number of ranks
within this process and moves a circular refinement front across it for the
requested number of cycles, rebalancing the ranks and checking that the domain
sum of a density field is conserved.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := MeshConfig(Cfg)
		if err != nil {
			return err
		}
		o, err := RunConfig(Cfg)
		if err != nil {
			return err
		}
		r, err := Run(cmd.Context(), cfg, o)
		if err != nil {
			return err
		}
		return WriteReport(Cfg.GetString("report"), r, cmd.OutOrStdout())
	},
	DisableAutoGenTag: true,
}

// workerCmd is a command that runs one rank of a group spread over several
// processes.
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run one rank of a multi-process workload.",
	Long: `worker runs one rank of the workload that run performs in a single process.
Every worker in the group must be started with the same configuration and
the same list of addresses. Workers connect to each other over TCP. Only
the worker with rank 0 writes the report.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := MeshConfig(Cfg)
		if err != nil {
			return err
		}
		o, err := RunConfig(Cfg)
		if err != nil {
			return err
		}
		rank := Cfg.GetInt("rank")
		addrs := Cfg.GetStringSlice("addrs")
		if rank < 0 || rank >= len(addrs) {
			return fmt.Errorf("quadmesh: rank %d needs an address in addrs, which has %d entries", rank, len(addrs))
		}
		ln, err := net.Listen("tcp", addrs[rank])
		if err != nil {
			return fmt.Errorf("quadmesh: starting worker: %v", err)
		}
		node, err := comm.NewTCPNode(rank, ln)
		if err != nil {
			return err
		}
		defer node.Close()
		if err := node.Connect(cmd.Context(), addrs); err != nil {
			return err
		}
		r, err := RunRank(cmd.Context(), cfg, o, node)
		if err != nil {
			return err
		}
		if rank != 0 {
			return nil
		}
		return WriteReport(Cfg.GetString("report"), r, cmd.OutOrStdout())
	},
	DisableAutoGenTag: true,
}

// configCmd is a command that prints the effective configuration.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the configuration.",
	Long: `config prints the configuration that run would use, after combining the
configuration file, environment variables and command-line arguments, in
TOML format. The output can be used as a configuration file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := MeshConfig(Cfg); err != nil {
			return err
		}
		settings := Cfg.AllSettings()
		delete(settings, "config")
		return toml.NewEncoder(cmd.OutOrStdout()).Encode(settings)
	},
	DisableAutoGenTag: true,
}
