package xtal

import (
	"encoding/json"
	"fmt"
	"sort"

	"polo/internal/model"
)

// Type tags written in body envelopes.
const (
	TagRun      = "polo.run"
	TagHWIRun   = "polo.hwi_run"
	TagImage    = "polo.image"
	TagCocktail = "polo.cocktail"
)

// envelope wraps every object in the body with the tag of its constructor.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// DecodeFunc builds a value from an envelope payload. Nested envelopes are
// decoded through the same registry.
type DecodeFunc func(reg *Registry, data json.RawMessage) (any, error)

// Registry maps type tags to constructors.
type Registry struct {
	decoders map[string]DecodeFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]DecodeFunc)}
}

// DefaultRegistry knows every type this package writes.
func DefaultRegistry() *Registry {
	reg := NewRegistry()
	reg.Register(TagRun, runDecoder(model.RunKindGeneric))
	reg.Register(TagHWIRun, runDecoder(model.RunKindHWI))
	reg.Register(TagImage, decodeImage)
	reg.Register(TagCocktail, decodeCocktail)
	return reg
}

// Register binds tag to fn, replacing any previous binding.
func (r *Registry) Register(tag string, fn DecodeFunc) {
	r.decoders[tag] = fn
}

// Tags lists the registered tags in sorted order.
func (r *Registry) Tags() []string {
	tags := make([]string, 0, len(r.decoders))
	for tag := range r.decoders {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

func (r *Registry) decode(env *envelope) (any, error) {
	fn, ok := r.decoders[env.Type]
	if !ok {
		return nil, corrupt(fmt.Sprintf("unknown type tag %q", env.Type), nil)
	}
	v, err := fn(r, env.Data)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func wrap(tag string, v any) (*envelope, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", tag, err)
	}
	return &envelope{Type: tag, Data: data}, nil
}
