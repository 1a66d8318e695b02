package openapi

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// DefaultResponseField is the property of the 200 response schema whose
// description is rendered as the response line.
const DefaultResponseField = "explanation"

// EndpointDescription is the rendered digest of one operation.
type EndpointDescription struct {
	Method     string `json:"method"`
	Path       string `json:"path"`
	Summary    string `json:"summary"`
	Parameters string `json:"parameters"`
	Response   string `json:"response"`
}

// String renders the description block, terminated by a blank line.
func (d EndpointDescription) String() string {
	return fmt.Sprintf("%s %s\n- Summary: %s\n- Properties: %s\n- Response: %s\n\n",
		d.Method, d.Path, d.Summary, d.Parameters, d.Response)
}

// ResolutionObserver is notified of every absorbed resolution error.
// field is one of "parameters", "request_body" or "response".
type ResolutionObserver func(method, path, field string, err error)

// Summarizer derives LLM-readable digests of every operation in a document.
// Summarization is total: unresolvable pieces render as empty strings.
type Summarizer struct {
	responseField string
	maxDepth      int
	observer      ResolutionObserver
	logger        *zap.Logger
}

// SummarizerOption configures a Summarizer.
type SummarizerOption func(*Summarizer)

// WithResponseField overrides the response-summary property name.
func WithResponseField(name string) SummarizerOption {
	return func(s *Summarizer) {
		if name != "" {
			s.responseField = name
		}
	}
}

// WithMaxDepth overrides the $ref depth ceiling.
func WithMaxDepth(depth int) SummarizerOption {
	return func(s *Summarizer) { s.maxDepth = depth }
}

// WithResolutionObserver registers a callback for absorbed resolution errors.
func WithResolutionObserver(fn ResolutionObserver) SummarizerOption {
	return func(s *Summarizer) { s.observer = fn }
}

// WithSummarizerLogger sets the logger.
func WithSummarizerLogger(logger *zap.Logger) SummarizerOption {
	return func(s *Summarizer) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSummarizer creates a summarizer with the given options.
func NewSummarizer(opts ...SummarizerOption) *Summarizer {
	s := &Summarizer{
		responseField: DefaultResponseField,
		maxDepth:      DefaultMaxDepth,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "openapi_summarizer"))
	return s
}

// Summarize renders a document with default settings.
func Summarize(doc *Document) string {
	return NewSummarizer().Summarize(doc)
}

// Summarize concatenates one description per operation in path-then-method
// document order. Output is byte-identical across calls for the same document.
func (s *Summarizer) Summarize(doc *Document) string {
	var b strings.Builder
	for _, d := range s.Describe(doc) {
		b.WriteString(d.String())
	}
	return b.String()
}

// Describe returns the structured descriptions behind Summarize.
func (s *Summarizer) Describe(doc *Document) []EndpointDescription {
	resolver := NewResolver(doc, s.maxDepth)
	ops := doc.Operations()
	out := make([]EndpointDescription, 0, len(ops))
	for _, ref := range ops {
		out = append(out, EndpointDescription{
			Method:     ref.Method,
			Path:       ref.Path,
			Summary:    ref.Operation.Summary,
			Parameters: s.parameterLine(resolver, ref),
			Response:   s.responseLine(resolver, ref),
		})
	}
	return out
}

func (s *Summarizer) parameterLine(r *Resolver, ref OperationRef) string {
	params := r.Parameters(ref, func(err error) { s.absorb(ref, "parameters", err) })
	if len(params) > 0 {
		names := make([]string, 0, len(params))
		for _, p := range params {
			names = append(names, p.Name)
		}
		return strings.Join(names, ", ")
	}

	body, err := r.ResolveRequestBody(ref.Operation.RequestBody)
	if err != nil {
		s.absorb(ref, "request_body", err)
		return ""
	}
	if body == nil {
		return ""
	}
	schema, err := r.ResolveSchema(JSONSchema(body.Content))
	if err != nil {
		s.absorb(ref, "request_body", err)
		return ""
	}
	if schema == nil {
		return ""
	}
	if schema.Description != "" {
		return schema.Description
	}

	pairs := make([]string, 0, len(schema.Properties))
	for _, prop := range schema.Properties {
		desc := ""
		if prop.Schema != nil {
			desc = prop.Schema.Description
			if prop.Schema.IsReference() {
				if resolved, err := r.ResolveSchema(prop.Schema); err == nil {
					desc = resolved.Description
				} else {
					s.absorb(ref, "request_body", err)
				}
			}
		}
		pairs = append(pairs, prop.Name+": "+desc)
	}
	return strings.Join(pairs, ", ")
}

func (s *Summarizer) responseLine(r *Resolver, ref OperationRef) string {
	resp, err := r.ResolveResponse(ref.Operation.Responses["200"])
	if err != nil {
		s.absorb(ref, "response", err)
		return ""
	}
	if resp == nil {
		return ""
	}
	schema, err := r.ResolveSchema(JSONSchema(resp.Content))
	if err != nil {
		s.absorb(ref, "response", err)
		return ""
	}
	if schema == nil {
		return ""
	}
	field, ok := schema.Properties.Get(s.responseField)
	if !ok {
		return ""
	}
	field, err = r.ResolveSchema(field)
	if err != nil {
		s.absorb(ref, "response", err)
		return ""
	}
	if field == nil {
		return ""
	}
	return field.Description
}

func (s *Summarizer) absorb(ref OperationRef, field string, err error) {
	s.logger.Warn("schema resolution failed, rendering empty field",
		zap.String("method", ref.Method),
		zap.String("path", ref.Path),
		zap.String("field", field),
		zap.Error(err),
	)
	if s.observer != nil {
		s.observer(ref.Method, ref.Path, field, err)
	}
}
