// Package shape implements a small combinator for reshaping decoded
// JSON-like values: a path lookup, key pick/omit, an optional per-element
// map, and a configurable behaviour when a precondition is not satisfied.
package shape

import (
	"strconv"
	"strings"

	"github.com/sentryfrogg/sentryfrogg-mcp/internal/errs"
)

// Missing selects behaviour when a path/map precondition fails.
type Missing string

const (
	MissingError     Missing = "error"
	MissingNull      Missing = "null"
	MissingUndefined Missing = "undefined"
	MissingEmpty     Missing = "empty"
)

// Spec is the small combinator AST the `output` argument compiles into.
type Spec struct {
	Path    string                 `json:"path,omitempty"`
	Pick    []string               `json:"pick,omitempty"`
	Omit    []string               `json:"omit,omitempty"`
	Map     *Spec                  `json:"map,omitempty"`
	Missing Missing                `json:"missing,omitempty"`
	Default interface{}            `json:"default,omitempty"`
	raw     map[string]interface{} // only set when parsed from a raw mapping
}

// undefinedSentinel signals "omit this field entirely" to the envelope
// builder when Missing == MissingUndefined.
type undefinedSentinel struct{}

// Undefined is the sentinel value Apply returns for MissingUndefined.
var Undefined interface{} = undefinedSentinel{}

// ParseSpec builds a Spec from a decoded `output` argument mapping.
func ParseSpec(raw map[string]interface{}) *Spec {
	if raw == nil {
		return nil
	}
	s := &Spec{raw: raw}
	if p, ok := raw["path"].(string); ok {
		s.Path = p
	}
	s.Pick = toStringSlice(raw["pick"])
	s.Omit = toStringSlice(raw["omit"])
	if m, ok := raw["map"].(map[string]interface{}); ok {
		s.Map = ParseSpec(m)
	} else if b, ok := raw["map"].(bool); ok && b {
		s.Map = &Spec{}
	}
	if missing, ok := raw["missing"].(string); ok {
		s.Missing = Missing(missing)
	} else {
		s.Missing = MissingError
	}
	s.Default = raw["default"]
	return s
}

func toStringSlice(v interface{}) []string {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Apply runs the pipeline `path → pick → omit → map` over value.
func Apply(spec *Spec, value interface{}) (interface{}, error) {
	if spec == nil {
		return value, nil
	}
	result := value
	var err error

	if spec.Path != "" {
		result, err = applyPath(result, spec.Path)
		if err != nil {
			return handleMissing(spec, false)
		}
	}

	if len(spec.Pick) > 0 {
		m, ok := asMap(result)
		if !ok {
			return handleMissing(spec, false)
		}
		result = pick(m, spec.Pick)
	}

	if len(spec.Omit) > 0 {
		m, ok := asMap(result)
		if !ok {
			return handleMissing(spec, false)
		}
		result = omit(m, spec.Omit)
	}

	if spec.Map != nil {
		arr, ok := result.([]interface{})
		if !ok {
			return handleMissing(spec, true)
		}
		out := make([]interface{}, len(arr))
		for i, elem := range arr {
			shaped, err := Apply(spec.Map, elem)
			if err != nil {
				return nil, err
			}
			out[i] = shaped
		}
		result = out
	}

	return result, nil
}

func handleMissing(spec *Spec, inMap bool) (interface{}, error) {
	if spec.Missing != "" && spec.Missing != MissingError && spec.Default != nil {
		return spec.Default, nil
	}
	switch spec.Missing {
	case MissingNull:
		return nil, nil
	case MissingUndefined:
		return Undefined, nil
	case MissingEmpty:
		if inMap {
			return []interface{}{}, nil
		}
		return map[string]interface{}{}, nil
	default:
		return nil, errs.InvalidParams("OUTPUT_PATH_MISSING", "output path or map precondition not satisfied")
	}
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	m, ok := v.(map[string]interface{})
	return m, ok
}

func pick(m map[string]interface{}, keys []string) map[string]interface{} {
	out := map[string]interface{}{}
	for _, k := range keys {
		if v, ok := m[k]; ok {
			out[k] = v
		}
	}
	return out
}

func omit(m map[string]interface{}, keys []string) map[string]interface{} {
	skip := map[string]struct{}{}
	for _, k := range keys {
		skip[k] = struct{}{}
	}
	out := map[string]interface{}{}
	for k, v := range m {
		if _, ok := skip[k]; ok {
			continue
		}
		out[k] = v
	}
	return out
}

// applyPath resolves a dotted/bracket path such as "rows[0].id".
func applyPath(value interface{}, path string) (interface{}, error) {
	tokens, err := tokenizePath(path)
	if err != nil {
		return nil, err
	}
	cur := value
	for _, tok := range tokens {
		switch t := tok.(type) {
		case string:
			m, ok := cur.(map[string]interface{})
			if !ok {
				return nil, errs.InvalidParams("OUTPUT_PATH_INVALID", "path segment on non-object: "+t)
			}
			v, ok := m[t]
			if !ok {
				return nil, errs.InvalidParams("OUTPUT_PATH_INVALID", "unknown path segment: "+t)
			}
			cur = v
		case int:
			arr, ok := cur.([]interface{})
			if !ok || t < 0 || t >= len(arr) {
				return nil, errs.InvalidParams("OUTPUT_PATH_INVALID", "index out of range")
			}
			cur = arr[t]
		}
	}
	return cur, nil
}

// tokenizePath splits "rows[0].id" into []interface{}{"rows", 0, "id"}.
func tokenizePath(path string) ([]interface{}, error) {
	var tokens []interface{}
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	i := 0
	for i < len(path) {
		c := path[i]
		switch c {
		case '.':
			flush()
			i++
		case '[':
			flush()
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				return nil, errs.InvalidParams("OUTPUT_PATH_INVALID", "unterminated bracket in path")
			}
			idxStr := path[i+1 : i+end]
			idx, convErr := strconv.Atoi(idxStr)
			if convErr != nil {
				return nil, errs.InvalidParams("OUTPUT_PATH_INVALID", "non-numeric index: "+idxStr)
			}
			tokens = append(tokens, idx)
			i += end + 1
		default:
			cur.WriteByte(c)
			i++
		}
	}
	flush()
	return tokens, nil
}
