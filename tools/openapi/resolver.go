package openapi

import (
	"strings"

	"github.com/eg9y/chat-api-plugins/types"
)

// DefaultMaxDepth bounds how many $ref hops a single resolution may follow.
const DefaultMaxDepth = 16

const (
	schemaRefPrefix      = "#/components/schemas/"
	parameterRefPrefix   = "#/components/parameters/"
	requestBodyRefPrefix = "#/components/requestBodies/"
	responseRefPrefix    = "#/components/responses/"
)

// Resolver resolves $ref pointers against one document's components.
// It is a pure function of (ref, document) and safe for concurrent use.
type Resolver struct {
	doc      *Document
	maxDepth int
}

// NewResolver creates a resolver. maxDepth <= 0 selects DefaultMaxDepth.
func NewResolver(doc *Document, maxDepth int) *Resolver {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Resolver{doc: doc, maxDepth: maxDepth}
}

// Resolve resolves a "#/components/schemas/<name>" reference using the default depth.
func Resolve(ref string, doc *Document) (*Schema, error) {
	return NewResolver(doc, DefaultMaxDepth).Resolve(ref)
}

// Resolve follows ref, and any reference it lands on, to a concrete schema.
func (r *Resolver) Resolve(ref string) (*Schema, error) {
	var schemas map[string]*Schema
	if r.doc != nil {
		schemas = r.doc.Components.Schemas
	}
	return follow(schemas, ref, schemaRefPrefix, r.maxDepth, func(s *Schema) string { return s.Ref })
}

// ResolveSchema returns s itself when inline, or its resolved target.
// A nil schema resolves to nil without error.
func (r *Resolver) ResolveSchema(s *Schema) (*Schema, error) {
	if s == nil || s.Ref == "" {
		return s, nil
	}
	return r.Resolve(s.Ref)
}

// ResolveParameter returns p itself when inline, or the component it references.
func (r *Resolver) ResolveParameter(p *Parameter) (*Parameter, error) {
	if p == nil || p.Ref == "" {
		return p, nil
	}
	var params map[string]*Parameter
	if r.doc != nil {
		params = r.doc.Components.Parameters
	}
	return follow(params, p.Ref, parameterRefPrefix, r.maxDepth, func(p *Parameter) string { return p.Ref })
}

// ResolveRequestBody returns b itself when inline, or the component it references.
func (r *Resolver) ResolveRequestBody(b *RequestBody) (*RequestBody, error) {
	if b == nil || b.Ref == "" {
		return b, nil
	}
	var bodies map[string]*RequestBody
	if r.doc != nil {
		bodies = r.doc.Components.RequestBodies
	}
	return follow(bodies, b.Ref, requestBodyRefPrefix, r.maxDepth, func(b *RequestBody) string { return b.Ref })
}

// ResolveResponse returns resp itself when inline, or the component it references.
func (r *Resolver) ResolveResponse(resp *Response) (*Response, error) {
	if resp == nil || resp.Ref == "" {
		return resp, nil
	}
	var responses map[string]*Response
	if r.doc != nil {
		responses = r.doc.Components.Responses
	}
	return follow(responses, resp.Ref, responseRefPrefix, r.maxDepth, func(x *Response) string { return x.Ref })
}

// Parameters returns the effective, resolved parameters of an operation:
// path-level parameters overridden by operation-level ones with the same
// name and location. Unresolvable entries are reported through onErr and skipped.
func (r *Resolver) Parameters(ref OperationRef, onErr func(error)) []*Parameter {
	type key struct{ name, in string }
	var (
		out   []*Parameter
		index = map[key]int{}
	)
	add := func(list []*Parameter) {
		for _, raw := range list {
			p, err := r.ResolveParameter(raw)
			if err != nil {
				if onErr != nil {
					onErr(err)
				}
				continue
			}
			if p == nil || p.Name == "" {
				continue
			}
			k := key{p.Name, strings.ToLower(p.In)}
			if i, ok := index[k]; ok {
				out[i] = p
				continue
			}
			index[k] = len(out)
			out = append(out, p)
		}
	}
	if ref.PathItem != nil {
		add(ref.PathItem.Parameters)
	}
	if ref.Operation != nil {
		add(ref.Operation.Parameters)
	}
	return out
}

// follow walks a chain of references through a flat component mapping with
// an explicit depth counter. Revisiting a name or exceeding maxDepth is a cycle.
func follow[T any](components map[string]*T, ref, prefix string, maxDepth int, refOf func(*T) string) (*T, error) {
	seen := make(map[string]struct{}, 4)
	for depth := 0; ; depth++ {
		if depth >= maxDepth {
			return nil, types.Errorf(types.ErrReferenceCycle, "reference chain from %q exceeds depth %d", ref, maxDepth)
		}
		name, ok := componentName(ref, prefix)
		if !ok {
			return nil, types.Errorf(types.ErrUnsupportedReferenceShape, "unsupported reference %q, want %s<name>", ref, prefix)
		}
		if _, dup := seen[name]; dup {
			return nil, types.Errorf(types.ErrReferenceCycle, "reference cycle through %q", name)
		}
		seen[name] = struct{}{}

		target, exists := components[name]
		if !exists || target == nil {
			return nil, types.Errorf(types.ErrUnknownSchema, "component %q not found", name)
		}
		next := refOf(target)
		if next == "" {
			return target, nil
		}
		ref = next
	}
}

func componentName(ref, prefix string) (string, bool) {
	if !strings.HasPrefix(ref, prefix) {
		return "", false
	}
	name := strings.TrimPrefix(ref, prefix)
	if name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}
