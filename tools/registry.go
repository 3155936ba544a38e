// Package tools implements the tool registry (component E): validated
// registration, precompiled JSON-Schema validators, lexicographic
// listing, and duplicate rejection.
//
// Grounded on coreengine/tools/executor.go's ToolExecutor (the
// RWMutex-guarded map-of-definitions shape, Register/Execute/Has/List)
// generalized with the validation contract from 4.E, and on the
// precompiled-validator pattern in
// goadesign-goa-ai/registry/service.go's validatePayloadJSONAgainstSchema
// (jsonschema.NewCompiler / AddResource / Compile once, Validate many).
package tools

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/jeeves-cluster-organization/mcp-runtime/errs"
	"github.com/jeeves-cluster-organization/mcp-runtime/logging"
)

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_/\-.]*$`)

// Handler is a registered tool's implementation. When called through the
// invocation pipeline, ctx is cancelled on timeout or connection close
// and carries the invocation's tracing span; the run id, correlation id,
// logger and transport tag are not attached to it.
type Handler func(ctx context.Context, arguments map[string]any) (map[string]any, error)

// Definition is the data-model's Tool definition.
type Definition struct {
	Name        string
	Description string
	InputSchema map[string]any
	Version     string
	IsDynamic   bool
}

// entry is the registry's internal storage unit: definition, handler,
// and the validator precompiled at registration time.
type entry struct {
	def       Definition
	handler   Handler
	validator *jsonschema.Schema
}

// Registry is the concrete, thread-safe tool registry.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	logger  logging.Logger
}

func NewRegistry(logger logging.Logger) *Registry {
	if logger == nil {
		logger = logging.New()
	}
	return &Registry{entries: make(map[string]*entry), logger: logger}
}

// ValidateDefinition is the pure check named in 4.E: non-empty name
// matching the name pattern, non-empty description, inputSchema.type ==
// "object". It does not touch the registry.
func ValidateDefinition(def Definition) *errs.Error {
	if def.Name == "" || !namePattern.MatchString(def.Name) {
		return errs.InvalidArgumentf("tool name %q does not match required pattern", def.Name)
	}
	if def.Description == "" {
		return errs.InvalidArgumentf("tool %q requires a non-empty description", def.Name)
	}
	rootType, _ := def.InputSchema["type"].(string)
	if rootType != "object" {
		return errs.InvalidArgumentf("tool %q inputSchema.type must be \"object\", got %q", def.Name, rootType)
	}
	return nil
}

// Register validates, rejects duplicates, precompiles the schema
// (failing fast on compile error so no schema is ever compiled on the
// call path), and stores the entry. Dynamic registrations emit a warn
// log naming the tool; static registrations do not.
func (r *Registry) Register(def Definition, handler Handler) *errs.Error {
	if err := ValidateDefinition(def); err != nil {
		return err
	}
	if handler == nil {
		return errs.InvalidArgumentf("tool %q requires a non-nil handler", def.Name)
	}

	compiler := jsonschema.NewCompiler()
	resourceURL := "mem://tool/" + def.Name
	if err := compiler.AddResource(resourceURL, def.InputSchema); err != nil {
		return errs.InvalidArgumentf("tool %q inputSchema is not a valid JSON Schema: %v", def.Name, err)
	}
	validator, err := compiler.Compile(resourceURL)
	if err != nil {
		return errs.InvalidArgumentf("tool %q inputSchema failed to compile: %v", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[def.Name]; exists {
		return errs.InvalidArgumentf("tool %q is already registered", def.Name)
	}
	r.entries[def.Name] = &entry{def: def, handler: handler, validator: validator}

	if def.IsDynamic {
		r.logger.Warn("dynamic tool registered", "tool", def.Name)
	}
	return nil
}

// Unregister removes a tool, returning whether it was found.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; !exists {
		return false
	}
	delete(r.entries, name)
	return true
}

// Get returns the handler and definition for name, or ok=false.
func (r *Registry) Get(name string) (Definition, Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return Definition{}, nil, false
	}
	return e.def, e.handler, true
}

// Validate runs the precompiled validator against arguments. This is
// O(validator cost) -- no schema is ever compiled on this path.
func (r *Registry) Validate(name string, arguments map[string]any) *errs.Error {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return errs.NotFoundf("tool %q is not registered", name)
	}
	if err := e.validator.Validate(arguments); err != nil {
		return errs.InvalidArgumentf("arguments for tool %q failed schema validation: %v", name, err)
	}
	return nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// List returns definitions sorted lexicographically by name (stable,
// deterministic), per testable property 2.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Definition, 0, len(names))
	for _, name := range names {
		out = append(out, r.entries[name].def)
	}
	return out
}

func (r *Registry) String() string {
	return fmt.Sprintf("Registry(%d tools)", len(r.entries))
}
