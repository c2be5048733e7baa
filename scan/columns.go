package scan

import (
	"fmt"
	"math"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Column is a derived value computed for every scan point.
//
// Expressions see the variables losses ([]float64, beam order), total,
// residual, energy (beam energy before the reaction), rhoa, pressure and
// stopped.
type Column struct {
	Name string
	Expr string
}

type compiledColumn struct {
	name    string
	program *vm.Program
}

func columnEnv(losses []float64, total, residual, energy, rhoa, pressure float64, stopped bool) map[string]interface{} {
	return map[string]interface{}{
		"losses":   losses,
		"total":    total,
		"residual": residual,
		"energy":   energy,
		"rhoa":     rhoa,
		"pressure": pressure,
		"stopped":  stopped,
	}
}

func compileColumns(columns []Column) ([]compiledColumn, error) {
	if len(columns) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(columns))
	out := make([]compiledColumn, 0, len(columns))
	sample := columnEnv([]float64{0}, 0, 0, 0, 0, 0, false)
	for _, col := range columns {
		name := strings.TrimSpace(col.Name)
		if name == "" {
			return nil, fmt.Errorf("scan: column name must not be empty")
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("scan: duplicate column %q", name)
		}
		seen[name] = struct{}{}
		program, err := expr.Compile(col.Expr, expr.Env(sample), expr.AsFloat64())
		if err != nil {
			return nil, fmt.Errorf("scan: compile column %q: %w", name, err)
		}
		out = append(out, compiledColumn{name: name, program: program})
	}
	return out, nil
}

func evalColumns(columns []compiledColumn, env map[string]interface{}) (map[string]float64, error) {
	if len(columns) == 0 {
		return nil, nil
	}
	values := make(map[string]float64, len(columns))
	for _, col := range columns {
		res, err := expr.Run(col.program, env)
		if err != nil {
			return nil, fmt.Errorf("scan: evaluate column %q: %w", col.name, err)
		}
		v, ok := res.(float64)
		if !ok {
			return nil, fmt.Errorf("scan: column %q produced %T, want number", col.name, res)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("scan: column %q is not finite", col.name)
		}
		values[col.name] = v
	}
	return values, nil
}
