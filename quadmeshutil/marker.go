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
	"context"
	"fmt"
	"math"

	"github.com/Knetic/govaluate"
	"github.com/spatialmodel/quadmesh"
)

// exprFunctions are the functions available in marker expressions.
var exprFunctions = map[string]govaluate.ExpressionFunction{
	"abs": func(arg ...interface{}) (interface{}, error) {
		if len(arg) != 1 {
			return nil, fmt.Errorf("quadmeshutil: got %d arguments for function 'abs', but needs 1", len(arg))
		}
		return math.Abs(arg[0].(float64)), nil
	},
	"hypot": func(arg ...interface{}) (interface{}, error) {
		if len(arg) != 2 {
			return nil, fmt.Errorf("quadmeshutil: got %d arguments for function 'hypot', but needs 2", len(arg))
		}
		return math.Hypot(arg[0].(float64), arg[1].(float64)), nil
	},
}

// geometryVars are the expression variables describing the cell itself.
var geometryVars = map[string]bool{
	"x": true, "y": true, "dx": true, "dy": true, "level": true, "cycle": true,
}

// ExprMarker marks cells by evaluating boolean expressions for every owned
// cell. Cells where Refine is true are refined; of the rest, cells where
// Coarsen is true are coarsened. Expressions can use the cell center x and
// y, the cell size dx and dy, the cell level, the cycle number (starting at
// 0), the functions abs and hypot, and the value of any registered float64
// field by name.
type ExprMarker struct {
	Refine, Coarsen *govaluate.EvaluableExpression

	cycle int
}

// NewExprMarker parses the refine and coarsen expressions. An empty
// expression matches no cells.
func NewExprMarker(refine, coarsen string) (*ExprMarker, error) {
	e := new(ExprMarker)
	var err error
	if e.Refine, err = parseExpr(refine); err != nil {
		return nil, fmt.Errorf("quadmeshutil: refine expression: %v", err)
	}
	if e.Coarsen, err = parseExpr(coarsen); err != nil {
		return nil, fmt.Errorf("quadmeshutil: coarsen expression: %v", err)
	}
	return e, nil
}

func parseExpr(s string) (*govaluate.EvaluableExpression, error) {
	if s == "" {
		return nil, nil
	}
	return govaluate.NewEvaluableExpressionWithFunctions(s, exprFunctions)
}

// Mark implements quadmesh.Marker.
func (e *ExprMarker) Mark(ctx context.Context, m *quadmesh.Mesh) ([]int, error) {
	fields, err := e.fields(m)
	if err != nil {
		return nil, err
	}
	params := map[string]interface{}{"cycle": float64(e.cycle)}
	e.cycle++
	mpot := make([]int, m.Ncells())
	level := m.Level()
	for c := range mpot {
		x, y, dx, dy := m.SpatialBounds(c)
		params["x"] = x + dx/2
		params["y"] = y + dy/2
		params["dx"] = dx
		params["dy"] = dy
		params["level"] = float64(level[c])
		for name, v := range fields {
			params[name] = v[c]
		}
		refine, err := evalBool(e.Refine, params)
		if err != nil {
			return nil, err
		}
		if refine {
			mpot[c] = 1
			continue
		}
		coarsen, err := evalBool(e.Coarsen, params)
		if err != nil {
			return nil, err
		}
		if coarsen {
			mpot[c] = -1
		}
	}
	return mpot, nil
}

// fields returns the values of the fields named in the expressions.
func (e *ExprMarker) fields(m *quadmesh.Mesh) (map[string][]float64, error) {
	fields := make(map[string][]float64)
	for _, expr := range []*govaluate.EvaluableExpression{e.Refine, e.Coarsen} {
		if expr == nil {
			continue
		}
		for _, name := range expr.Vars() {
			if _, ok := fields[name]; ok || geometryVars[name] {
				continue
			}
			h, ok := m.Lookup(name)
			if !ok {
				return nil, fmt.Errorf("quadmeshutil: undefined variable name '%s' in marker expression", name)
			}
			v, err := quadmesh.Values[float64](m, h)
			if err != nil {
				return nil, fmt.Errorf("quadmeshutil: marker variable %s: %v", name, err)
			}
			fields[name] = v
		}
	}
	return fields, nil
}

func evalBool(expr *govaluate.EvaluableExpression, params map[string]interface{}) (bool, error) {
	if expr == nil {
		return false, nil
	}
	v, err := expr.Evaluate(params)
	if err != nil {
		return false, fmt.Errorf("quadmeshutil: evaluating %s: %v", expr, err)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("quadmeshutil: expression %s evaluates to %v, not true or false", expr, v)
	}
	return b, nil
}
