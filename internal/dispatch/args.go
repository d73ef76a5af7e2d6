package dispatch

import (
	"bytes"
	"encoding/json"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/haricheung/agentic-todo/internal/capability"
)

type addTaskArgs struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type getTasksArgs struct{}

type taskIDArgs struct {
	TaskID int `json:"task_id"`
}

type toggleCompleteArgs struct {
	TaskID    int  `json:"task_id"`
	Completed bool `json:"completed"`
}

// parseArguments decodes the model's raw argument blob into a generic object
// and coerces scalar strings to the declared integer/boolean types. It does
// not validate; the registry schema does that next.
//
// Expectations:
//   - Empty, whitespace-only and null payloads decode to an empty object
//   - Returns *capability.ArgumentError when the payload is not a JSON object
//   - Numbers stay json.Number so integral checks are exact
//   - "7" for an integer param becomes json.Number("7"); "true"/"false" for a boolean param become bools
//   - Integral numbers written as 1.0 or 1e0 become their canonical integer text
//   - Integral numbers outside the int range are left as-is so decoding reports them out of range
//   - Values that cannot be coerced are left as-is for the schema to reject
func parseArguments(d capability.Descriptor, raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]any{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &capability.ArgumentError{Reason: "arguments are not valid JSON"}
	}
	if dec.More() {
		return nil, &capability.ArgumentError{Reason: "arguments contain trailing data"}
	}
	args, ok := v.(map[string]any)
	if !ok {
		return nil, &capability.ArgumentError{Reason: "arguments must be a JSON object"}
	}

	for name, val := range args {
		p, known := d.Param(name)
		if !known {
			continue
		}
		args[name] = coerce(p.Type, val)
	}
	return args, nil
}

func coerce(t capability.ParamType, v any) any {
	switch t {
	case capability.Integer:
		switch x := v.(type) {
		case json.Number:
			if n, ok := canonicalInt(string(x)); ok {
				return n
			}
		case string:
			if n, ok := canonicalInt(strings.TrimSpace(x)); ok {
				return n
			}
		}
	case capability.Boolean:
		s, ok := v.(string)
		if !ok {
			return v
		}
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true":
			return true
		case "false":
			return false
		}
	}
	return v
}

// canonicalInt rewrites an integral decimal or exponent literal as plain
// integer text. Fractions and values that do not fit an int report false.
func canonicalInt(s string) (json.Number, bool) {
	if n, err := strconv.Atoi(s); err == nil {
		return json.Number(strconv.Itoa(n)), true
	}
	// ParseFloat bounds the magnitude before the exact check, so a huge
	// exponent never reaches big.Rat.
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) || math.Abs(f) > math.MaxInt64 {
		return "", false
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok || !r.IsInt() || !r.Num().IsInt64() {
		return "", false
	}
	n := r.Num().Int64()
	if n < math.MinInt || n > math.MaxInt {
		return "", false
	}
	return json.Number(strconv.FormatInt(n, 10)), true
}
