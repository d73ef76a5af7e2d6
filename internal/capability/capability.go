// Package capability is the fixed catalog of operations the LLM may call.
// Descriptors are pure metadata: the JSON Schema each one renders is sent to
// the model verbatim and is also what the dispatch bridge validates against.
package capability

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// Capability names exposed to the model.
const (
	AddTask        = "addTask"
	GetTasks       = "getTasks"
	CompleteTask   = "completeTask"
	DeleteTask     = "deleteTask"
	ToggleComplete = "toggleComplete"
)

// ParamType is the JSON type of a parameter.
type ParamType string

const (
	String  ParamType = "string"
	Integer ParamType = "integer"
	Boolean ParamType = "boolean"
)

// Param describes one named argument.
type Param struct {
	Name        string
	Type        ParamType
	Required    bool
	NonEmpty    bool // strings only: rendered as minLength 1
	Description string
}

// Descriptor is one callable operation.
type Descriptor struct {
	Name        string
	Description string
	Params      []Param
}

// Param returns the named parameter.
func (d Descriptor) Param(name string) (Param, bool) {
	for _, p := range d.Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Schema renders the descriptor's parameters as a JSON Schema object.
// Unknown properties are rejected.
func (d Descriptor) Schema() map[string]any {
	props := make(map[string]any, len(d.Params))
	required := []string{}
	for _, p := range d.Params {
		prop := map[string]any{"type": string(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if p.NonEmpty && p.Type == String {
			prop["minLength"] = 1
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

// SchemaJSON is Schema encoded as JSON.
func (d Descriptor) SchemaJSON() json.RawMessage {
	b, _ := json.Marshal(d.Schema()) // only maps, strings, ints and bools
	return b
}

// ArgumentError is a schema violation for one field. Field is empty when the
// payload as a whole is wrong (e.g. not an object).
type ArgumentError struct {
	Field  string
	Reason string
}

func (e *ArgumentError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return e.Field + ": " + e.Reason
}

type entry struct {
	desc   Descriptor
	schema *jsonschema.Schema
}

// Registry holds descriptors in declaration order together with their
// compiled schemas. It is read-only after construction.
type Registry struct {
	order  []string
	byName map[string]entry
}

// New compiles a registry from descriptors.
//
// Expectations:
//   - Returns an error when two descriptors share a name
//   - Returns an error when a descriptor has an unsupported parameter type
//   - Preserves declaration order in All
func New(descs ...Descriptor) (*Registry, error) {
	r := &Registry{byName: make(map[string]entry, len(descs))}
	for _, d := range descs {
		if _, exists := r.byName[d.Name]; exists {
			return nil, fmt.Errorf("capability: already registered: %s", d.Name)
		}
		for _, p := range d.Params {
			switch p.Type {
			case String, Integer, Boolean:
			default:
				return nil, fmt.Errorf("capability: %s.%s: unsupported type %q", d.Name, p.Name, p.Type)
			}
		}
		schema, err := compile(d)
		if err != nil {
			return nil, fmt.Errorf("capability: compile %s: %w", d.Name, err)
		}
		r.byName[d.Name] = entry{desc: d, schema: schema}
		r.order = append(r.order, d.Name)
	}
	return r, nil
}

func compile(d Descriptor) (*jsonschema.Schema, error) {
	url := "https://agtodo.local/capability/" + d.Name + ".json"
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(url, bytes.NewReader(d.SchemaJSON())); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	e, ok := r.byName[name]
	return e.desc, ok
}

// All returns every descriptor in declaration order.
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name].desc)
	}
	return out
}

// Validate checks decoded arguments against the named capability's schema.
// args must come from encoding/json (maps, json.Number or float64, strings,
// bools). Violations are reported as *ArgumentError naming the first
// offending field in a deterministic order.
func (r *Registry) Validate(name string, args map[string]any) error {
	e, ok := r.byName[name]
	if !ok {
		return fmt.Errorf("capability: unknown capability %q", name)
	}
	err := e.schema.Validate(args)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &ArgumentError{Reason: err.Error()}
	}
	return toArgumentError(e.desc, args, ve)
}

// toArgumentError maps a schema failure onto one field. Missing required
// fields and unknown fields are checked directly against the descriptor so the
// report does not depend on the validator's message wording.
func toArgumentError(d Descriptor, args map[string]any, ve *jsonschema.ValidationError) *ArgumentError {
	for _, p := range d.Params {
		if _, ok := args[p.Name]; p.Required && !ok {
			return &ArgumentError{Field: p.Name, Reason: "is required"}
		}
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, known := d.Param(k); !known {
			return &ArgumentError{Field: k, Reason: "is not a recognised argument"}
		}
	}

	leaf := firstLeaf(ve)
	field := strings.TrimPrefix(leaf.InstanceLocation, "/")
	if p, ok := d.Param(field); ok {
		switch {
		case strings.HasSuffix(leaf.KeywordLocation, "/type"):
			return &ArgumentError{Field: field, Reason: "must be " + article(p.Type) + " " + string(p.Type)}
		case strings.HasSuffix(leaf.KeywordLocation, "/minLength"):
			return &ArgumentError{Field: field, Reason: "must not be empty"}
		}
	}
	return &ArgumentError{Field: field, Reason: leaf.Message}
}

func firstLeaf(ve *jsonschema.ValidationError) *jsonschema.ValidationError {
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return ve
}

func article(t ParamType) string {
	if t == Integer {
		return "an"
	}
	return "a"
}
