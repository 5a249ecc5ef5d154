// Package schema implements per-tool JSON-Schema compilation and enriched
// validation error rendering, with per-pointer explanations, did-you-mean
// suggestions for unknown properties, and example payloads.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/sentryfrogg/sentryfrogg-mcp/internal/errs"
	"github.com/sentryfrogg/sentryfrogg-mcp/internal/suggest"
)

// ToolSchema bundles the compiled JSON-Schema for one (tool, action) pair
// with metadata used to render rich errors.
type ToolSchema struct {
	Tool       string
	Action     string
	RawSchema  map[string]interface{}
	Example    map[string]interface{}
	compiled   *jsonschema.Schema
	properties []string
}

// Registry compiles and caches one schema per (tool, action).
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*ToolSchema
}

func NewRegistry() *Registry {
	return &Registry{schemas: map[string]*ToolSchema{}}
}

func key(tool, action string) string { return tool + "#" + action }

// Register compiles and stores the schema for (tool, action). rawSchema must
// be a valid JSON-Schema document (as a decoded map). example is an optional
// example payload surfaced in validation errors.
func (r *Registry) Register(tool, action string, rawSchema map[string]interface{}, example map[string]interface{}) error {
	compiler := jsonschema.NewCompiler()
	buf, err := json.Marshal(rawSchema)
	if err != nil {
		return errs.Internal(fmt.Errorf("marshal schema for %s/%s: %w", tool, action, err))
	}
	res, err := jsonschema.UnmarshalJSON(bytes.NewReader(buf))
	if err != nil {
		return errs.Internal(fmt.Errorf("decode schema for %s/%s: %w", tool, action, err))
	}
	url := key(tool, action)
	if err := compiler.AddResource(url, res); err != nil {
		return errs.Internal(fmt.Errorf("add schema resource for %s/%s: %w", tool, action, err))
	}
	compiled, err := compiler.Compile(url)
	if err != nil {
		return errs.Internal(fmt.Errorf("compile schema for %s/%s: %w", tool, action, err))
	}

	ts := &ToolSchema{
		Tool:      tool,
		Action:    action,
		RawSchema: rawSchema,
		Example:   example,
		compiled:  compiled,
	}
	if props, ok := rawSchema["properties"].(map[string]interface{}); ok {
		for name := range props {
			ts.properties = append(ts.properties, name)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[url] = ts
	return nil
}

// Get returns the compiled schema for (tool, action), if registered.
func (r *Registry) Get(tool, action string) (*ToolSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ts, ok := r.schemas[key(tool, action)]
	return ts, ok
}

// Validate checks payload against the registered schema for (tool, action)
// and renders an invalid_params error with per-pointer explanations,
// did-you-mean suggestions, and an example payload.
func (r *Registry) Validate(tool, action string, payload map[string]interface{}) *errs.Error {
	ts, ok := r.Get(tool, action)
	if !ok {
		// No schema registered for this action: nothing to validate against.
		return nil
	}

	buf, err := json.Marshal(payload)
	if err != nil {
		return errs.Internal(fmt.Errorf("marshal payload: %w", err))
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(buf))
	if err != nil {
		return errs.Internal(fmt.Errorf("decode payload: %w", err))
	}

	if err := ts.compiled.Validate(inst); err != nil {
		ve, ok := err.(*jsonschema.ValidationError)
		if !ok {
			return errs.InvalidParams("SCHEMA_VALIDATION_FAILED", err.Error())
		}
		return r.renderValidationError(ts, payload, ve)
	}
	return nil
}

func (r *Registry) renderValidationError(ts *ToolSchema, payload map[string]interface{}, ve *jsonschema.ValidationError) *errs.Error {
	pointers := map[string]string{}
	collectLeaves(ve, pointers)

	details := map[string]interface{}{
		"pointers": pointers,
	}
	if ts.Example != nil {
		details["example"] = ts.Example
	}

	// did_you_mean: for any unknown top-level key in payload, suggest the
	// closest known property name.
	var didYouMean map[string][]string
	for k := range payload {
		if !contains(ts.properties, k) {
			hints := suggest.Suggest(k, ts.properties)
			if len(hints) > 0 {
				if didYouMean == nil {
					didYouMean = map[string][]string{}
				}
				didYouMean[k] = hints
			}
		}
	}
	if didYouMean != nil {
		details["did_you_mean"] = didYouMean
	}

	msg := ve.Error()
	if len(pointers) > 0 {
		for ptr, m := range pointers {
			msg = fmt.Sprintf("%s: %s", ptr, m)
			break
		}
	}

	return errs.InvalidParams("SCHEMA_VALIDATION_FAILED", msg).
		WithHint(fmt.Sprintf("see arguments for %s/%s", ts.Tool, ts.Action)).
		WithDetails(details)
}

func collectLeaves(ve *jsonschema.ValidationError, out map[string]string) {
	if len(ve.Causes) == 0 {
		ptr := "/" + joinPointer(ve.InstanceLocation)
		out[ptr] = ve.ErrorKind.LocalizedString(nil)
		return
	}
	for _, cause := range ve.Causes {
		collectLeaves(cause, out)
	}
}

func joinPointer(segs []string) string {
	out := ""
	for i, s := range segs {
		if i > 0 {
			out += "/"
		}
		out += s
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
