package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"
	qrischema "github.com/qri-io/jsonschema"
)

// ErrToolNotFound is returned by ToolRegistry.Lookup for names that were never registered.
var ErrToolNotFound = errors.New("tool not found")

// ToolDefinition pairs a tool descriptor with the validator and executor for its arguments.
// Instances are built with NewTool.
type ToolDefinition struct {
	Tool Tool

	validate func(context.Context, json.RawMessage) (any, error)
	execute  func(context.Context, any) (CallToolResult, error)
}

// ValidationError describes arguments that do not satisfy a tool's input schema.
type ValidationError struct {
	Tool   string
	Reason string
}

// ToolRegistry is the static table of tools a server exposes. Tools are listed in the order
// they were registered.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools []ToolDefinition
	index map[string]int
}

// NewTool builds a ToolDefinition whose input schema is reflected from the argument type A.
// Fields without `omitempty` are required, and unknown properties are rejected. Arguments are
// validated against that same schema before they are decoded. The executor receives arguments
// that already passed validation; an error it returns is a domain error and is reported to the
// client as text content.
func NewTool[A any](name, description string, fn func(ctx context.Context, args A) (CallToolResult, error)) ToolDefinition {
	inputSchema := reflectInputSchema[A]()
	schema := &qrischema.Schema{}
	if err := json.Unmarshal(inputSchema, schema); err != nil {
		// Schemas reflected from Go types always compile.
		panic(fmt.Sprintf("compile input schema of %s: %v", name, err))
	}

	return ToolDefinition{
		Tool: Tool{
			Name:        name,
			Description: description,
			InputSchema: inputSchema,
		},
		validate: func(ctx context.Context, raw json.RawMessage) (any, error) {
			if len(bytes.TrimSpace(raw)) == 0 || isNull(raw) {
				raw = json.RawMessage("{}")
			}

			var doc any
			if err := json.Unmarshal(raw, &doc); err != nil {
				return nil, &ValidationError{Tool: name, Reason: "arguments must be a JSON object"}
			}
			if _, ok := doc.(map[string]any); !ok {
				return nil, &ValidationError{Tool: name, Reason: "arguments must be a JSON object"}
			}

			vs := schema.Validate(ctx, doc)
			if errs := *vs.Errs; len(errs) > 0 {
				return nil, &ValidationError{Tool: name, Reason: describeKeyErrors(errs)}
			}

			var a A
			dec := json.NewDecoder(bytes.NewReader(raw))
			dec.DisallowUnknownFields()
			if err := dec.Decode(&a); err != nil {
				return nil, &ValidationError{Tool: name, Reason: err.Error()}
			}
			return a, nil
		},
		execute: func(ctx context.Context, args any) (CallToolResult, error) {
			a, ok := args.(A)
			if !ok {
				return CallToolResult{}, fmt.Errorf("tool %s received unvalidated arguments of type %T", name, args)
			}
			return fn(ctx, a)
		},
	}
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{index: make(map[string]int)}
}

// Register adds a tool. Names must be unique.
func (r *ToolRegistry) Register(def ToolDefinition) error {
	if def.Tool.Name == "" {
		return errors.New("tool name is empty")
	}
	if def.validate == nil || def.execute == nil {
		return fmt.Errorf("tool %s was not built with NewTool", def.Tool.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.index[def.Tool.Name]; ok {
		return fmt.Errorf("tool %s already registered", def.Tool.Name)
	}
	r.index[def.Tool.Name] = len(r.tools)
	r.tools = append(r.tools, def)
	return nil
}

// Lookup returns the definition registered under name, or ErrToolNotFound.
func (r *ToolRegistry) Lookup(name string) (ToolDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[name]
	if !ok {
		return ToolDefinition{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return r.tools[i], nil
}

// List returns the descriptors of all tools in registration order.
func (r *ToolRegistry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, def := range r.tools {
		tools = append(tools, def.Tool)
	}
	return tools
}

// Validate checks raw arguments against the tool's input schema and decodes them. Missing
// arguments are treated as an empty object.
func (d ToolDefinition) Validate(ctx context.Context, raw json.RawMessage) (any, error) {
	return d.validate(ctx, raw)
}

// Execute runs the tool with arguments returned by Validate.
func (d ToolDefinition) Execute(ctx context.Context, args any) (CallToolResult, error) {
	return d.execute(ctx, args)
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("Invalid arguments for tool %s: %s", e.Tool, e.Reason)
}

func reflectInputSchema[A any]() json.RawMessage {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
	}
	s := r.Reflect(new(A))
	s.Version = ""
	s.ID = ""

	if s.Type != "object" {
		return json.RawMessage(`{"type":"object","properties":{},"additionalProperties":false}`)
	}

	bs, err := json.Marshal(s)
	if err != nil {
		// Schemas reflected from Go types always marshal.
		panic(fmt.Sprintf("marshal input schema: %v", err))
	}
	return bs
}

// describeKeyErrors joins schema violations into one line, in a stable order.
func describeKeyErrors(errs []qrischema.KeyError) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		path := strings.TrimPrefix(e.PropertyPath, "/")
		if path == "" {
			msgs = append(msgs, e.Message)
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s: %s", path, e.Message))
	}
	sort.Strings(msgs)
	return strings.Join(msgs, ", ")
}
