// Package openapi models the subset of an OpenAPI v3 document needed to
// describe operations to an LLM and to build requests against them.
package openapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Methods lists the path-item keys treated as operations, in canonical order.
var Methods = []string{"GET", "PUT", "POST", "DELETE", "OPTIONS", "HEAD", "PATCH", "TRACE"}

// Document represents a decoded OpenAPI v3 document.
// It is never mutated after decoding.
type Document struct {
	OpenAPI    string     `json:"openapi" yaml:"openapi"`
	Info       Info       `json:"info" yaml:"info"`
	Servers    []Server   `json:"servers,omitempty" yaml:"servers,omitempty"`
	Paths      Paths      `json:"paths" yaml:"paths"`
	Components Components `json:"components,omitempty" yaml:"components,omitempty"`
}

// Info contains API metadata.
type Info struct {
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string `json:"version" yaml:"version"`
}

// Server represents an API server.
type Server struct {
	URL         string `json:"url" yaml:"url"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Components holds the reusable objects a document may reference.
type Components struct {
	Schemas       map[string]*Schema      `json:"schemas,omitempty" yaml:"schemas,omitempty"`
	Parameters    map[string]*Parameter   `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	RequestBodies map[string]*RequestBody `json:"requestBodies,omitempty" yaml:"requestBodies,omitempty"`
	Responses     map[string]*Response    `json:"responses,omitempty" yaml:"responses,omitempty"`
}

// Operation represents one HTTP method bound to one path.
type Operation struct {
	OperationID string               `json:"operationId,omitempty" yaml:"operationId,omitempty"`
	Summary     string               `json:"summary,omitempty" yaml:"summary,omitempty"`
	Description string               `json:"description,omitempty" yaml:"description,omitempty"`
	Tags        []string             `json:"tags,omitempty" yaml:"tags,omitempty"`
	Parameters  []*Parameter         `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	RequestBody *RequestBody         `json:"requestBody,omitempty" yaml:"requestBody,omitempty"`
	Responses   map[string]*Response `json:"responses,omitempty" yaml:"responses,omitempty"`
}

// Parameter represents an operation parameter or a reference to one.
type Parameter struct {
	Ref         string  `json:"$ref,omitempty" yaml:"$ref,omitempty"`
	Name        string  `json:"name,omitempty" yaml:"name,omitempty"`
	In          string  `json:"in,omitempty" yaml:"in,omitempty"` // query, path, header, cookie
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool    `json:"required,omitempty" yaml:"required,omitempty"`
	Schema      *Schema `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// RequestBody represents a request body or a reference to one.
type RequestBody struct {
	Ref         string               `json:"$ref,omitempty" yaml:"$ref,omitempty"`
	Description string               `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool                 `json:"required,omitempty" yaml:"required,omitempty"`
	Content     map[string]MediaType `json:"content,omitempty" yaml:"content,omitempty"`
}

// Response represents a response or a reference to one.
type Response struct {
	Ref         string               `json:"$ref,omitempty" yaml:"$ref,omitempty"`
	Description string               `json:"description,omitempty" yaml:"description,omitempty"`
	Content     map[string]MediaType `json:"content,omitempty" yaml:"content,omitempty"`
}

// MediaType represents one content entry.
type MediaType struct {
	Schema *Schema `json:"schema,omitempty" yaml:"schema,omitempty"`
}

// Schema is either an inline object description or a Reference when Ref is set.
type Schema struct {
	Ref         string     `json:"$ref,omitempty" yaml:"$ref,omitempty"`
	Type        SchemaType `json:"type,omitempty" yaml:"type,omitempty"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Properties  Properties `json:"properties,omitempty" yaml:"properties,omitempty"`
	Required    FieldNames `json:"required,omitempty" yaml:"required,omitempty"`
	Items       *Schema    `json:"items,omitempty" yaml:"items,omitempty"`
	Enum        []any      `json:"enum,omitempty" yaml:"enum,omitempty"`
	Default     any        `json:"default,omitempty" yaml:"default,omitempty"`
}

// SchemaType holds a schema's type. OpenAPI 3.0 uses a single string,
// 3.1 allows a list such as [string, "null"]; both decode here.
type SchemaType []string

// Has reports whether t includes name.
func (t SchemaType) Has(name string) bool {
	for _, v := range t {
		if v == name {
			return true
		}
	}
	return false
}

func (t *SchemaType) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Tag == "!!null" {
			*t = nil
			return nil
		}
		*t = SchemaType{value.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*t = list
		return nil
	}
	return fmt.Errorf("line %d: schema type must be a string or a list", value.Line)
}

func (t *SchemaType) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = nil
		return nil
	}
	if len(data) > 0 && data[0] == '[' {
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*t = list
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*t = SchemaType{one}
	return nil
}

func (t SchemaType) MarshalJSON() ([]byte, error) {
	if len(t) == 1 {
		return json.Marshal(t[0])
	}
	return json.Marshal([]string(t))
}

// FieldNames is a schema's required list. A boolean in its place, the
// Swagger 2 habit of marking a property `required: true`, decodes as empty.
type FieldNames []string

func (f *FieldNames) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode && value.Tag == "!!bool" {
		*f = nil
		return nil
	}
	var list []string
	if err := value.Decode(&list); err != nil {
		return err
	}
	*f = list
	return nil
}

func (f *FieldNames) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("true")) || bytes.Equal(data, []byte("false")) {
		*f = nil
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*f = list
	return nil
}

// IsReference reports whether s is a $ref placeholder.
func (s *Schema) IsReference() bool {
	return s != nil && s.Ref != ""
}

// JSONSchema returns the schema declared for a JSON media type, preferring
// an exact "application/json" entry over parameterised or +json variants.
func JSONSchema(content map[string]MediaType) *Schema {
	if mt, ok := content["application/json"]; ok {
		return mt.Schema
	}
	keys := make([]string, 0, len(content))
	for k := range content {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		base := strings.TrimSpace(strings.SplitN(k, ";", 2)[0])
		if base == "application/json" || strings.HasSuffix(base, "+json") {
			return content[k].Schema
		}
	}
	return nil
}

// =============================================================================
// Ordered mappings
// =============================================================================

// Property is one named entry of a schema's properties mapping.
type Property struct {
	Name   string
	Schema *Schema
}

// Properties preserves the declaration order of a schema's properties.
type Properties []Property

// Get returns the property schema with the given name.
func (p Properties) Get(name string) (*Schema, bool) {
	for _, prop := range p {
		if prop.Name == name {
			return prop.Schema, true
		}
	}
	return nil, false
}

func (p *Properties) UnmarshalYAML(value *yaml.Node) error {
	return decodeYAMLMapping(value, func(key string, node *yaml.Node) error {
		var s Schema
		if err := node.Decode(&s); err != nil {
			return fmt.Errorf("property %q: %w", key, err)
		}
		*p = append(*p, Property{Name: key, Schema: &s})
		return nil
	})
}

func (p *Properties) UnmarshalJSON(data []byte) error {
	return decodeJSONObject(data, func(key string, raw json.RawMessage) error {
		var s Schema
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("property %q: %w", key, err)
		}
		*p = append(*p, Property{Name: key, Schema: &s})
		return nil
	})
}

func (p Properties) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, prop := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(prop.Name)
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(prop.Schema)
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// PathEntry binds a path template to its path item.
type PathEntry struct {
	Path string
	Item *PathItem
}

// Paths preserves the document order of the paths mapping.
type Paths []PathEntry

// Get returns the path item for an exact path template.
func (p Paths) Get(path string) (*PathItem, bool) {
	for _, e := range p {
		if e.Path == path {
			return e.Item, true
		}
	}
	return nil, false
}

func (p *Paths) UnmarshalYAML(value *yaml.Node) error {
	return decodeYAMLMapping(value, func(key string, node *yaml.Node) error {
		item := &PathItem{}
		if err := node.Decode(item); err != nil {
			return fmt.Errorf("path %q: %w", key, err)
		}
		*p = append(*p, PathEntry{Path: key, Item: item})
		return nil
	})
}

func (p *Paths) UnmarshalJSON(data []byte) error {
	return decodeJSONObject(data, func(key string, raw json.RawMessage) error {
		item := &PathItem{}
		if err := json.Unmarshal(raw, item); err != nil {
			return fmt.Errorf("path %q: %w", key, err)
		}
		*p = append(*p, PathEntry{Path: key, Item: item})
		return nil
	})
}

// MethodOperation binds an upper-case HTTP method to its operation.
type MethodOperation struct {
	Method    string
	Operation *Operation
}

// PathItem holds the operations declared under one path, in document order,
// plus the parameters shared by all of them. Keys that are not HTTP methods
// are dropped during decoding.
type PathItem struct {
	Summary    string
	Parameters []*Parameter
	Operations []MethodOperation
}

// Operation returns the operation for a method, matched case-insensitively.
func (pi *PathItem) Operation(method string) (*Operation, bool) {
	if pi == nil {
		return nil, false
	}
	for _, mo := range pi.Operations {
		if strings.EqualFold(mo.Method, method) {
			return mo.Operation, true
		}
	}
	return nil, false
}

func (pi *PathItem) UnmarshalYAML(value *yaml.Node) error {
	return decodeYAMLMapping(value, func(key string, node *yaml.Node) error {
		return pi.assign(key, func(v any) error { return node.Decode(v) })
	})
}

func (pi *PathItem) UnmarshalJSON(data []byte) error {
	return decodeJSONObject(data, func(key string, raw json.RawMessage) error {
		return pi.assign(key, func(v any) error { return json.Unmarshal(raw, v) })
	})
}

func (pi *PathItem) assign(key string, decode func(any) error) error {
	switch lower := strings.ToLower(key); {
	case lower == "parameters":
		if err := decode(&pi.Parameters); err != nil {
			return fmt.Errorf("parameters: %w", err)
		}
	case lower == "summary":
		return decode(&pi.Summary)
	case isMethod(lower):
		op := &Operation{}
		if err := decode(op); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		pi.Operations = append(pi.Operations, MethodOperation{Method: strings.ToUpper(key), Operation: op})
	}
	return nil
}

func isMethod(key string) bool {
	for _, m := range Methods {
		if strings.EqualFold(m, key) {
			return true
		}
	}
	return false
}

// decodeYAMLMapping walks a mapping node in document order.
func decodeYAMLMapping(value *yaml.Node, fn func(key string, node *yaml.Node) error) error {
	if value.Kind == yaml.ScalarNode && value.Tag == "!!null" {
		return nil
	}
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping", value.Line)
	}
	for i := 0; i+1 < len(value.Content); i += 2 {
		if err := fn(value.Content[i].Value, value.Content[i+1]); err != nil {
			return err
		}
	}
	return nil
}

// decodeJSONObject walks a JSON object in document order.
func decodeJSONObject(data []byte, fn func(key string, raw json.RawMessage) error) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected a JSON object")
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("%q: %w", key, err)
		}
		if err := fn(key, raw); err != nil {
			return err
		}
	}
	_, err = dec.Token()
	return err
}

// =============================================================================
// Operation lookup
// =============================================================================

// OperationRef locates one operation inside a document.
type OperationRef struct {
	Method    string
	Path      string
	PathItem  *PathItem
	Operation *Operation
}

// Operations enumerates every operation in path-then-method document order.
func (d *Document) Operations() []OperationRef {
	if d == nil {
		return nil
	}
	var refs []OperationRef
	for _, entry := range d.Paths {
		if entry.Item == nil {
			continue
		}
		for _, mo := range entry.Item.Operations {
			if mo.Operation == nil {
				continue
			}
			refs = append(refs, OperationRef{
				Method:    mo.Method,
				Path:      entry.Path,
				PathItem:  entry.Item,
				Operation: mo.Operation,
			})
		}
	}
	return refs
}

// FindOperation matches a concrete request path against the document's path
// templates. An exact template match wins over a {param} match.
func (d *Document) FindOperation(method, path string) (OperationRef, bool) {
	var templated *OperationRef
	for _, ref := range d.Operations() {
		if !strings.EqualFold(ref.Method, method) {
			continue
		}
		if ref.Path == path {
			return ref, true
		}
		if templated == nil && matchTemplate(ref.Path, path) {
			r := ref
			templated = &r
		}
	}
	if templated != nil {
		return *templated, true
	}
	return OperationRef{}, false
}

func matchTemplate(template, path string) bool {
	ts := strings.Split(strings.Trim(template, "/"), "/")
	ps := strings.Split(strings.Trim(path, "/"), "/")
	if len(ts) != len(ps) {
		return false
	}
	for i, seg := range ts {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			if ps[i] == "" {
				return false
			}
			continue
		}
		if seg != ps[i] {
			return false
		}
	}
	return true
}
