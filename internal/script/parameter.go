package script

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"
)

// ErrValidation is matched by every coercion and header error.
var ErrValidation = errors.New("validation error")

// ParameterType is the declared type tag of a script parameter.
type ParameterType string

const (
	TypeBoolean       ParameterType = "boolean"
	TypeString        ParameterType = "string"
	TypeNumber        ParameterType = "number"
	TypeEntityRef     ParameterType = "EntityRef"
	TypeEntityRefList ParameterType = "EntityRefList"
)

// ParameterTypes lists every valid type tag in declaration order.
var ParameterTypes = []ParameterType{TypeBoolean, TypeString, TypeNumber, TypeEntityRef, TypeEntityRefList}

// Valid reports whether t is a known type tag.
func (t ParameterType) Valid() bool {
	for _, known := range ParameterTypes {
		if t == known {
			return true
		}
	}
	return false
}

// EntityRef is an opaque handle to a host entity. The only structure the
// engine relies on is the "id" field.
type EntityRef map[string]any

// ID returns the identity field, or "" when absent.
func (e EntityRef) ID() string {
	switch v := e["id"].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// ValueError is returned when a raw value cannot be coerced into a
// parameter's type.
type ValueError struct {
	Param string
	Type  ParameterType
	Msg   string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("parameter %q (%s): %s", e.Param, e.Type, e.Msg)
}

// Is makes ValueError match ErrValidation.
func (e *ValueError) Is(target error) bool { return target == ErrValidation }

// Parameter is a declared parameter together with its current value.
// A nil Value means "unset". The Type never changes after creation.
type Parameter struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Type        ParameterType `json:"type"`
	Value       any           `json:"value,omitempty"`
}

// Coerce returns a copy of p holding raw converted into p's native
// representation. A nil raw clears the value.
func Coerce(p Parameter, raw any) (Parameter, error) {
	out := p
	if raw == nil {
		out.Value = nil
		return out, nil
	}

	switch p.Type {
	case TypeBoolean:
		out.Value = truthy(raw)
	case TypeNumber:
		out.Value = toNumber(raw)
	case TypeString:
		s, ok := raw.(string)
		if !ok {
			return p, &ValueError{Param: p.Name, Type: p.Type, Msg: fmt.Sprintf("value must be a string, got %T", raw)}
		}
		out.Value = s
	case TypeEntityRef:
		if isPrimitive(raw) {
			return p, &ValueError{Param: p.Name, Type: p.Type, Msg: fmt.Sprintf("value must be an entity, got %T", raw)}
		}
		out.Value = normalizeEntity(raw)
	case TypeEntityRefList:
		list, err := toEntityList(raw)
		if err != nil {
			return p, &ValueError{Param: p.Name, Type: p.Type, Msg: err.Error()}
		}
		out.Value = list
	default:
		return p, &ValueError{Param: p.Name, Type: p.Type, Msg: "unknown parameter type"}
	}
	return out, nil
}

// MarshalJSON writes non-finite numbers as an unset value, the way a JSON
// document cannot carry NaN.
func (p Parameter) MarshalJSON() ([]byte, error) {
	type plain Parameter
	if f, ok := p.Value.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
		p.Value = nil
	}
	return json.Marshal(plain(p))
}

// UnmarshalJSON re-coerces the decoded value so loaded documents carry the
// same Go types as values set at runtime.
func (p *Parameter) UnmarshalJSON(data []byte) error {
	type plain Parameter
	var raw plain
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if !raw.Type.Valid() {
		return &ValueError{Param: raw.Name, Type: raw.Type, Msg: "unknown parameter type"}
	}
	coerced, err := Coerce(Parameter(raw), raw.Value)
	if err != nil {
		return err
	}
	*p = coerced
	return nil
}

func isPrimitive(v any) bool {
	switch v.(type) {
	case string, bool, float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}

func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0 && !math.IsNaN(val)
	case float32:
		return val != 0 && !math.IsNaN(float64(val))
	case int:
		return val != 0
	case int8:
		return val != 0
	case int16:
		return val != 0
	case int32:
		return val != 0
	case int64:
		return val != 0
	case uint:
		return val != 0
	case uint8:
		return val != 0
	case uint16:
		return val != 0
	case uint32:
		return val != 0
	case uint64:
		return val != 0
	default:
		return true
	}
}

// decimalLiteral is the decimal form numeric strings may take. ParseFloat
// alone also accepts "inf", "nan", hex floats and underscores.
var decimalLiteral = regexp.MustCompile(`^[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?$`)

// parseNumber converts a string the way script numeric conversion does:
// blank is 0, unsigned 0x/0o/0b literals are integers, only the spelled-out
// Infinity is infinite and anything else malformed is NaN.
func parseNumber(raw string) float64 {
	s := strings.TrimSpace(raw)
	switch s {
	case "":
		return 0
	case "Infinity", "+Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	}

	if len(s) > 2 && s[0] == '0' {
		base := 0
		switch s[1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
		if base != 0 {
			digits := s[2:]
			if digits[0] == '+' || digits[0] == '-' {
				return math.NaN()
			}
			n, ok := new(big.Int).SetString(digits, base)
			if !ok {
				return math.NaN()
			}
			f, _ := new(big.Float).SetInt(n).Float64()
			return f
		}
	}

	if !decimalLiteral.MatchString(s) {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return math.NaN()
	}
	return f
}

func toNumber(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case float32:
		return float64(val)
	case int:
		return float64(val)
	case int8:
		return float64(val)
	case int16:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case uint:
		return float64(val)
	case uint8:
		return float64(val)
	case uint16:
		return float64(val)
	case uint32:
		return float64(val)
	case uint64:
		return float64(val)
	case bool:
		if val {
			return 1
		}
		return 0
	case string:
		return parseNumber(val)
	case []any:
		// Mirrors numeric conversion of arrays: [] is 0, [x] is x.
		switch len(val) {
		case 0:
			return 0
		case 1:
			return toNumber(val[0])
		}
		return math.NaN()
	default:
		return math.NaN()
	}
}

func normalizeEntity(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return EntityRef(val)
	default:
		return v
	}
}

func toEntityList(v any) ([]EntityRef, error) {
	var items []any
	switch val := v.(type) {
	case []EntityRef:
		items = make([]any, len(val))
		for i, e := range val {
			items[i] = e
		}
	case []map[string]any:
		items = make([]any, len(val))
		for i, e := range val {
			items[i] = e
		}
	case []any:
		items = val
	default:
		return nil, fmt.Errorf("value must be a list of entities, got %T", v)
	}

	list := make([]EntityRef, 0, len(items))
	for i, item := range items {
		var ref EntityRef
		switch e := item.(type) {
		case EntityRef:
			ref = e
		case map[string]any:
			ref = EntityRef(e)
		default:
			return nil, fmt.Errorf("element %d must be an entity, got %T", i, item)
		}
		if _, ok := ref["id"]; !ok || ref["id"] == nil {
			return nil, fmt.Errorf("element %d has no id", i)
		}
		list = append(list, ref)
	}
	return list, nil
}
