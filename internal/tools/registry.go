// Package tools provides the tool registry, the per-request domain filter,
// and the parallel executor.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/revlane/assistant/internal/domain"
)

// CallContext carries the conversation surroundings into a tool handler.
type CallContext struct {
	UserID         string
	ConversationID string
	VehicleSlug    string
	Cache          *TurnCache
}

// Handler executes one tool invocation.
type Handler func(ctx context.Context, input json.RawMessage, cc *CallContext) (json.RawMessage, error)

// Entry pairs a descriptor with its handler.
type Entry struct {
	Descriptor domain.ToolDescriptor
	Handler    Handler
}

// Registry is a closed registry of callable tools. Descriptors are validated
// at registration time, not at call time.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Entry)}
}

// Register validates and adds a tool. Duplicate names, missing handlers, and
// malformed input schemas are rejected here so calls never hit them.
func (r *Registry) Register(desc domain.ToolDescriptor, handler Handler) error {
	if desc.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if handler == nil {
		return fmt.Errorf("handler is required for %s", desc.Name)
	}
	if desc.MinPlan.Rank() < 0 {
		return fmt.Errorf("tool %s has unknown plan tier %q", desc.Name, desc.MinPlan)
	}
	if len(desc.InputSchema) > 0 {
		var schema struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(desc.InputSchema, &schema); err != nil {
			return fmt.Errorf("tool %s has invalid input schema: %w", desc.Name, err)
		}
		if schema.Type != "object" {
			return fmt.Errorf("tool %s input schema must be an object schema", desc.Name)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[desc.Name]; exists {
		return fmt.Errorf("tool already registered: %s", desc.Name)
	}
	r.entries[desc.Name] = &Entry{Descriptor: desc, Handler: handler}
	return nil
}

// MustRegister registers or panics; used for the static builtin set.
func (r *Registry) MustRegister(desc domain.ToolDescriptor, handler Handler) {
	if err := r.Register(desc, handler); err != nil {
		panic(err)
	}
}

// Get returns the entry for a tool name.
func (r *Registry) Get(name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Descriptors returns all descriptors in stable name order.
func (r *Registry) Descriptors() []domain.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ToolDescriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Descriptor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
