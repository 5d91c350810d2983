package settings

import (
	"fmt"
	"math"
)

// A Param is one keyword hyperparameter, e.g. {"n_components", 2}.
type Param struct {
	Name  string      `json:"name"`
	Value interface{} `json:"value"`
}

// Params keeps keyword hyperparameters in the order they were given.
type Params []Param

func NewParam(name string, value interface{}) Param {
	return Param{Name: name, Value: value}
}

// ParamsFromMap is for decoded json bodies, which have no order.
// The caller passes the key order it wants.
func ParamsFromMap(m map[string]interface{}, order []string) Params {
	ret := make(Params, 0, len(m))
	seen := make(map[string]bool)
	for _, name := range order {
		if v, ok := m[name]; ok && !seen[name] {
			ret = append(ret, Param{Name: name, Value: v})
			seen[name] = true
		}
	}
	for _, name := range []string{PARAM_N_COMPONENTS, PARAM_SVD_SOLVER, PARAM_VERBOSE, PARAM_OUTPUT_TYPE} {
		if v, ok := m[name]; ok && !seen[name] {
			ret = append(ret, Param{Name: name, Value: v})
			seen[name] = true
		}
	}
	for name, v := range m {
		if !seen[name] {
			ret = append(ret, Param{Name: name, Value: v})
		}
	}
	return ret
}

// Names returns the parameter names. A name that was given twice keeps its
// first position.
func (p Params) Names() []string {
	ret := make([]string, 0, len(p))
	seen := make(map[string]bool, len(p))
	for _, param := range p {
		if seen[param.Name] {
			continue
		}
		seen[param.Name] = true
		ret = append(ret, param.Name)
	}
	return ret
}

// Map returns the parameters as a map, later values winning.
func (p Params) Map() map[string]interface{} {
	ret := make(map[string]interface{}, len(p))
	for _, param := range p {
		ret[param.Name] = param.Value
	}
	return ret
}

// ApplyParams returns a copy of s with the keyword hyperparameters applied.
func (s TsvdSettings) ApplyParams(params Params) (TsvdSettings, error) {
	for _, p := range params {
		switch p.Name {
		case PARAM_N_COMPONENTS:
			n, err := toInt(p.Value)
			if err != nil {
				return s, fmt.Errorf("bad value for %s: %w", p.Name, err)
			}
			s.NComponents = n
		case PARAM_SVD_SOLVER:
			v, ok := p.Value.(string)
			if !ok {
				return s, fmt.Errorf("bad value for %s: expected a string but got %T", p.Name, p.Value)
			}
			s.SvdSolver = v
		case PARAM_VERBOSE:
			level, err := verbosityLevel(p.Value)
			if err != nil {
				return s, fmt.Errorf("bad value for %s: %w", p.Name, err)
			}
			s.Verbose = level
		case PARAM_OUTPUT_TYPE:
			v, ok := p.Value.(string)
			if !ok {
				return s, fmt.Errorf("bad value for %s: expected a string but got %T", p.Name, p.Value)
			}
			s.OutputType = v
		default:
			return s, fmt.Errorf("unknown hyperparameter %q", p.Name)
		}
	}
	return s, nil
}

func toInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case float64:
		// json numbers
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("%f is not an integer", n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected an integer but got %T", v)
	}
}

// Verbosity levels, from quietest to noisiest.
const (
	LEVEL_OFF = iota
	LEVEL_CRITICAL
	LEVEL_ERROR
	LEVEL_WARN
	LEVEL_INFO
	LEVEL_DEBUG
	LEVEL_TRACE
)

// verbose=true means debug, verbose=false means info.
func verbosityLevel(v interface{}) (int, error) {
	if b, ok := v.(bool); ok {
		if b {
			return LEVEL_DEBUG, nil
		}
		return LEVEL_INFO, nil
	}
	level, err := toInt(v)
	if err != nil {
		return 0, err
	}
	if level < LEVEL_OFF || level > LEVEL_TRACE {
		return 0, fmt.Errorf("verbosity %d out of range", level)
	}
	return level, nil
}
