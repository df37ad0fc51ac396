package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DefaultKind is the context kind assumed whenever a flag, clause or rollout
// does not name one explicitly.
const DefaultKind = "user"

type contextPart struct {
	key   string
	attrs map[string]any
}

// Context is the evaluation subject: one or more kinds, each with a key and
// optional attributes. Contexts are immutable once built; the evaluator and
// the event pipeline only ever read them.
type Context struct {
	parts map[string]contextPart
	err   error
}

// NewContext creates a single-kind context of kind "user".
func NewContext(key string) Context {
	return NewContextOfKind(DefaultKind, key)
}

// NewContextOfKind creates a single-kind context with no extra attributes.
func NewContextOfKind(kind, key string) Context {
	return NewContextBuilder(key).Kind(kind).Build()
}

// NewMultiContext combines several single-kind contexts into one. Duplicate
// kinds or invalid parts make the result invalid.
func NewMultiContext(contexts ...Context) Context {
	parts := make(map[string]contextPart, len(contexts))
	for _, c := range contexts {
		if c.err != nil {
			return Context{err: c.err}
		}
		for kind, part := range c.parts {
			if _, dup := parts[kind]; dup {
				return Context{err: fmt.Errorf("duplicate context kind %q", kind)}
			}
			parts[kind] = part
		}
	}
	if len(parts) == 0 {
		return Context{err: errors.New("multi context requires at least one part")}
	}
	return Context{parts: parts}
}

// ContextBuilder assembles a single-kind context.
type ContextBuilder struct {
	kind  string
	key   string
	attrs map[string]any
}

// NewContextBuilder starts a builder for the given key, defaulting to kind
// "user".
func NewContextBuilder(key string) *ContextBuilder {
	return &ContextBuilder{kind: DefaultKind, key: key}
}

// Kind sets the context kind.
func (b *ContextBuilder) Kind(kind string) *ContextBuilder {
	b.kind = kind
	return b
}

// Set adds an attribute. Values should be JSON-shaped: bool, float64/int,
// string, []any or map[string]any.
func (b *ContextBuilder) Set(name string, value any) *ContextBuilder {
	if b.attrs == nil {
		b.attrs = make(map[string]any)
	}
	b.attrs[name] = normalizeValue(value)
	return b
}

// SetString is shorthand for Set with a string value.
func (b *ContextBuilder) SetString(name, value string) *ContextBuilder {
	return b.Set(name, value)
}

// Build finalizes the context. An empty key or kind, or the reserved kinds
// "multi" and "kind", produce an invalid context.
func (b *ContextBuilder) Build() Context {
	if b.key == "" {
		return Context{err: errors.New("context key cannot be empty")}
	}
	if b.kind == "" || b.kind == "multi" || b.kind == "kind" {
		return Context{err: fmt.Errorf("invalid context kind %q", b.kind)}
	}
	return Context{parts: map[string]contextPart{
		b.kind: {key: b.key, attrs: b.attrs},
	}}
}

// Valid reports whether the context can be evaluated.
func (c Context) Valid() bool { return c.err == nil && len(c.parts) > 0 }

// Err returns the reason the context is invalid, if any.
func (c Context) Err() error {
	if c.err == nil && len(c.parts) == 0 {
		return errors.New("uninitialized context")
	}
	return c.err
}

// Kinds returns the context's kinds in sorted order.
func (c Context) Kinds() []string {
	kinds := make([]string, 0, len(c.parts))
	for kind := range c.parts {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// HasKind reports whether the context contains the given kind.
func (c Context) HasKind(kind string) bool {
	_, ok := c.parts[kind]
	return ok
}

// Key returns the key for the given kind, and whether that kind is present.
func (c Context) Key(kind string) (string, bool) {
	part, ok := c.parts[kind]
	return part.key, ok
}

// IsOnlyUser reports whether the context consists of exactly the "user"
// kind. Legacy user-key lists in segments apply only to such contexts.
func (c Context) IsOnlyUser() bool {
	return len(c.parts) == 1 && c.HasKind(DefaultKind)
}

// Attribute resolves an attribute reference against the part of the given
// kind. It returns nil if the kind is absent, the reference is invalid, or
// no value exists at the referenced location. The references "key" and
// "kind" resolve to the part's key and kind.
func (c Context) Attribute(kind string, ref AttrRef) any {
	if kind == "" {
		kind = DefaultKind
	}
	part, ok := c.parts[kind]
	if !ok || !ref.Valid() {
		return nil
	}
	comps := ref.Components()
	if len(comps) == 1 {
		switch comps[0] {
		case "key":
			return part.key
		case "kind":
			return kind
		}
	}
	var current any = part.attrs
	for _, comp := range comps {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current, ok = obj[comp]
		if !ok {
			return nil
		}
	}
	return current
}

// AttrRef is a parsed attribute reference: either a plain attribute name or
// a slash-delimited path ("/address/city") with "~1" and "~0" escapes for
// literal "/" and "~".
type AttrRef struct {
	raw        string
	components []string
	err        error
}

// NewAttrRef parses an attribute reference.
func NewAttrRef(s string) AttrRef {
	switch {
	case s == "" || s == "/":
		return AttrRef{raw: s, err: errors.New("attribute reference cannot be empty")}
	case !strings.HasPrefix(s, "/"):
		return AttrRef{raw: s, components: []string{s}}
	}
	components := strings.Split(s[1:], "/")
	for i, comp := range components {
		if comp == "" {
			return AttrRef{raw: s, err: fmt.Errorf("attribute reference %q has an empty component", s)}
		}
		comp = strings.ReplaceAll(comp, "~1", "/")
		comp = strings.ReplaceAll(comp, "~0", "~")
		components[i] = comp
	}
	return AttrRef{raw: s, components: components}
}

// Valid reports whether the reference parsed successfully.
func (r AttrRef) Valid() bool { return r.err == nil }

// Components returns the parsed path components.
func (r AttrRef) Components() []string { return r.components }

// IsKind reports whether the reference is the special "kind" attribute,
// which matches against every kind in the context.
func (r AttrRef) IsKind() bool {
	return len(r.components) == 1 && r.components[0] == "kind"
}

func (r AttrRef) String() string { return r.raw }

// ParseContext decodes a context from its JSON wire representation.
//
// Three shapes are accepted: a single-kind object carrying "kind" and "key"
// alongside its attributes, a multi-kind object ("kind": "multi") whose
// remaining properties are per-kind parts, and the legacy user shape with a
// "key" but no "kind". A shape that decodes but violates the context rules
// (empty key, reserved kind, duplicate parts) yields an invalid Context and
// a non-nil error.
func ParseContext(data []byte) (Context, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Context{err: err}, err
	}

	kind := ""
	if k, ok := raw["kind"]; ok {
		if err := json.Unmarshal(k, &kind); err != nil {
			err = fmt.Errorf("context kind must be a string: %w", err)
			return Context{err: err}, err
		}
	}

	if kind != "multi" {
		ctx, err := parseContextPart(kind, raw)
		if err != nil {
			return Context{err: err}, err
		}
		return ctx, ctx.Err()
	}

	parts := make([]Context, 0, len(raw)-1)
	for k, v := range raw {
		if k == "kind" {
			continue
		}
		var partRaw map[string]json.RawMessage
		if err := json.Unmarshal(v, &partRaw); err != nil {
			err = fmt.Errorf("context part %q must be an object: %w", k, err)
			return Context{err: err}, err
		}
		part, err := parseContextPart(k, partRaw)
		if err != nil {
			return Context{err: err}, err
		}
		parts = append(parts, part)
	}
	ctx := NewMultiContext(parts...)
	return ctx, ctx.Err()
}

func parseContextPart(kind string, raw map[string]json.RawMessage) (Context, error) {
	var key string
	if k, ok := raw["key"]; ok {
		if err := json.Unmarshal(k, &key); err != nil {
			return Context{}, fmt.Errorf("context key must be a string: %w", err)
		}
	}
	b := NewContextBuilder(key)
	if kind != "" {
		b.Kind(kind)
	}
	for name, v := range raw {
		switch name {
		case "key", "kind", "_meta":
			continue
		}
		var value any
		if err := json.Unmarshal(v, &value); err != nil {
			return Context{}, fmt.Errorf("context attribute %q: %w", name, err)
		}
		b.Set(name, value)
	}
	return b.Build(), nil
}

// normalizeValue converts Go integer types to float64 so attribute values
// compare consistently with JSON-decoded clause values.
func normalizeValue(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	default:
		return v
	}
}
