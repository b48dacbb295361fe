// Package action holds the fixed catalog of actions the model may request,
// validates requests against each action's declared inputs and dispatches
// them to the action's executor.
//
// Nothing in this package returns an error to the agent loop: unknown
// actions, malformed arguments and executor failures all come back as an
// ActionResult whose text tells the model what went wrong, so it can correct
// itself on the next turn.
package action

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/chriskillpack/iris/backend"
)

// Field is one declared input of an action.
type Field struct {
	Name        string
	Type        string // JSON Schema type, "string" for every built-in
	Description string
	Required    bool
	Enum        []string

	// RequiredIf makes the field required when another field of the same
	// request holds a particular value.
	RequiredIf *Condition
}

type Condition struct {
	Field string
	Value string
}

// Args are the arguments of a validated request.
type Args map[string]any

// String returns the named argument, or "" when it is absent.
func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

type Executor func(ctx context.Context, args Args) (string, error)

type Definition struct {
	Name        string
	Description string
	Fields      []Field
	Execute     Executor
}

// Tool returns the JSON Schema advertisement of d for the model backend.
func (d Definition) Tool() backend.Tool {
	props := make(map[string]any, len(d.Fields))
	required := []string{}
	for _, f := range d.Fields {
		p := map[string]any{"type": f.Type}
		if f.Description != "" {
			p["description"] = f.Description
		}
		if len(f.Enum) > 0 {
			p["enum"] = slices.Clone(f.Enum)
		}
		props[f.Name] = p
		if f.Required {
			required = append(required, f.Name)
		}
	}

	return backend.Tool{
		Name:        d.Name,
		Description: d.Description,
		InputSchema: map[string]any{
			"type":       "object",
			"properties": props,
			"required":   required,
		},
	}
}

// SchemaError describes why a request was rejected before execution.
type SchemaError struct {
	Action string
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("Invalid input for %s: field %q %s", e.Action, e.Field, e.Reason)
}

type failure struct {
	msg string
	err error
}

func (f *failure) Error() string { return f.msg }
func (f *failure) Unwrap() error { return f.err }

// Failed returns an error whose text is reported to the model as is, without
// the "Error: " prefix Execute otherwise adds. err may be nil.
func Failed(err error, format string, args ...any) error {
	return &failure{msg: fmt.Sprintf(format, args...), err: err}
}

// Validated is a request that passed Validate and may be executed.
type Validated struct {
	Request backend.ActionRequest
	def     *Definition
}

// Registry is an immutable, ordered set of action definitions.
type Registry struct {
	defs   []Definition
	byName map[string]int
}

// NewRegistry builds a registry from defs. The catalog is fixed at process
// start, so a duplicate or unnamed definition is a programming error and
// panics.
func NewRegistry(defs ...Definition) *Registry {
	r := &Registry{
		defs:   slices.Clone(defs),
		byName: make(map[string]int, len(defs)),
	}
	for i, d := range r.defs {
		if d.Name == "" {
			panic("action: definition without a name")
		}
		if _, dup := r.byName[d.Name]; dup {
			panic("action: duplicate definition " + d.Name)
		}
		if d.Execute == nil {
			panic("action: no executor for " + d.Name)
		}
		r.byName[d.Name] = i
	}
	return r
}

// List returns the definitions in registration order.
func (r *Registry) List() []Definition {
	return slices.Clone(r.defs)
}

// Tools returns the advertisement of every action, in registration order.
func (r *Registry) Tools() []backend.Tool {
	tools := make([]backend.Tool, len(r.defs))
	for i, d := range r.defs {
		tools[i] = d.Tool()
	}
	return tools
}

// Validate checks that req names a known action, that every required field
// is present, that fields have the declared type and that enumerated fields
// hold one of the allowed values.
func (r *Registry) Validate(req backend.ActionRequest) (Validated, error) {
	i, ok := r.byName[req.Name]
	if !ok {
		return Validated{}, &SchemaError{Action: req.Name, Reason: "Unknown action: " + req.Name}
	}
	d := &r.defs[i]

	for _, f := range d.Fields {
		v, present := req.Arguments[f.Name]
		if s, ok := v.(string); ok && f.Type == "string" && strings.TrimSpace(s) == "" {
			present = false
		}
		if !present || v == nil {
			if f.Required {
				return Validated{}, &SchemaError{Action: d.Name, Field: f.Name, Reason: "is required"}
			}
			if c := f.RequiredIf; c != nil && fmt.Sprint(req.Arguments[c.Field]) == c.Value {
				return Validated{}, &SchemaError{
					Action: d.Name,
					Field:  f.Name,
					Reason: fmt.Sprintf("is required when %s is %q", c.Field, c.Value),
				}
			}
			continue
		}

		if !matchesType(f.Type, v) {
			return Validated{}, &SchemaError{Action: d.Name, Field: f.Name, Reason: "must be of type " + f.Type}
		}
		if len(f.Enum) > 0 {
			if s, _ := v.(string); !slices.Contains(f.Enum, s) {
				return Validated{}, &SchemaError{
					Action: d.Name,
					Field:  f.Name,
					Reason: "must be one of " + strings.Join(f.Enum, ", "),
				}
			}
		}
	}

	return Validated{Request: req, def: d}, nil
}

// Execute runs the executor of a validated request. Executor errors and
// panics are converted into an error result.
func (r *Registry) Execute(ctx context.Context, v Validated) (res backend.ActionResult) {
	res.RequestID = v.Request.ID
	if v.def == nil {
		res.Output, res.IsError = "Error: request was not validated", true
		return res
	}

	defer func() {
		if p := recover(); p != nil {
			res.Output = fmt.Sprintf("Error: %s failed: %v", v.def.Name, p)
			res.IsError = true
		}
	}()

	out, err := v.def.Execute(ctx, Args(v.Request.Arguments))
	if err != nil {
		var f *failure
		if errors.As(err, &f) {
			res.Output = f.msg
		} else {
			res.Output = "Error: " + err.Error()
		}
		res.IsError = true
		return res
	}
	res.Output = out
	return res
}

// Dispatch validates and executes req. It always returns exactly one result
// carrying req.ID.
func (r *Registry) Dispatch(ctx context.Context, req backend.ActionRequest) backend.ActionResult {
	v, err := r.Validate(req)
	if err != nil {
		return backend.ActionResult{RequestID: req.ID, Output: err.Error(), IsError: true}
	}
	return r.Execute(ctx, v)
}

func matchesType(typ string, v any) bool {
	switch typ {
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		_, ok := v.(float64)
		return ok
	case "integer":
		f, ok := v.(float64)
		return ok && f == float64(int64(f))
	case "boolean":
		_, ok := v.(bool)
		return ok
	default:
		return true
	}
}
