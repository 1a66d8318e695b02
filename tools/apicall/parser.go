package apicall

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/eg9y/chat-api-plugins/types"
)

// ReplyFormat selects how the LLM is asked to answer and how its reply is parsed.
type ReplyFormat string

const (
	FormatFreeform   ReplyFormat = "freeform"
	FormatStructured ReplyFormat = "structured"
)

// ParseReplyFormat validates a configured format name.
func ParseReplyFormat(s string) (ReplyFormat, error) {
	switch f := ReplyFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatFreeform, FormatStructured:
		return f, nil
	case "":
		return FormatFreeform, nil
	default:
		return "", types.Errorf(types.ErrInvalidConfig, "unknown reply format %q", s)
	}
}

// Parser turns one LLM reply into a Descriptor.
type Parser interface {
	Parse(reply string) (*Descriptor, error)
	Format() ReplyFormat
}

// NewParser returns the parser for a reply format.
func NewParser(format ReplyFormat) (Parser, error) {
	switch format {
	case FormatStructured:
		return StructuredParser{}, nil
	case FormatFreeform:
		return FreeformParser{}, nil
	default:
		return nil, types.Errorf(types.ErrInvalidConfig, "unknown reply format %q", format)
	}
}

func malformed(format string, args ...any) *types.Error {
	return types.Errorf(types.ErrMalformedReply, format, args...)
}

var fenceRe = regexp.MustCompile("(?s)^```[A-Za-z0-9_-]*[ \t]*\n?(.*?)\n?```$")

// StructuredParser decodes a reply that is exactly one JSON object.
type StructuredParser struct{}

// Format implements Parser.
func (StructuredParser) Format() ReplyFormat { return FormatStructured }

type structuredReply struct {
	HTTPMethod *string         `json:"http_method"`
	Method     *string         `json:"method"`
	Path       string          `json:"path"`
	Params     json.RawMessage `json:"params"`
	Data       json.RawMessage `json:"data"`
}

// Parse implements Parser. A single surrounding markdown fence is tolerated;
// anything else outside the object is a MalformedReply.
func (StructuredParser) Parse(reply string) (*Descriptor, error) {
	text := strings.TrimSpace(reply)
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	if !strings.HasPrefix(text, "{") {
		return nil, malformed("reply is not a JSON object")
	}

	var r structuredReply
	if err := decodeStrict([]byte(text), &r); err != nil {
		return nil, malformed("reply is not valid JSON").WithCause(err)
	}

	method := ""
	switch {
	case r.HTTPMethod != nil:
		method = *r.HTTPMethod
	case r.Method != nil:
		method = *r.Method
	}
	params, err := decodeObject(r.Params)
	if err != nil {
		return nil, malformed("params must be a JSON object").WithCause(err)
	}
	data, err := decodeObject(r.Data)
	if err != nil {
		return nil, malformed("data must be a JSON object").WithCause(err)
	}
	return NewDescriptor(method, r.Path, params, data)
}

// FreeformParser reads "<VERB> /path" from the first non-empty line and a
// JSON parameter object from the text after it.
type FreeformParser struct{}

// Format implements Parser.
func (FreeformParser) Format() ReplyFormat { return FormatFreeform }

var routeRe = regexp.MustCompile(`^(\w+)\s+(/[\w/]*)`)

// Parse implements Parser.
func (FreeformParser) Parse(reply string) (*Descriptor, error) {
	var line string
	offset := 0
	for _, l := range strings.SplitAfter(reply, "\n") {
		if strings.TrimSpace(l) != "" {
			line = l
			break
		}
		offset += len(l)
	}
	trimmed := strings.TrimLeft(line, " \t")
	offset += len(line) - len(trimmed)

	loc := routeRe.FindStringSubmatchIndex(trimmed)
	if loc == nil {
		return nil, malformed("reply does not start with a \"<METHOD> /path\" line")
	}
	method, path := trimmed[loc[2]:loc[3]], trimmed[loc[4]:loc[5]]

	rest := reply[offset+loc[1]:]
	start := strings.Index(rest, "{")
	end := strings.LastIndex(rest, "}")
	if start < 0 || end < start {
		return nil, malformed("reply for %s %s carries no JSON parameter object", method, path)
	}
	params, err := decodeObject(json.RawMessage(rest[start : end+1]))
	if err != nil {
		return nil, malformed("parameter payload is not a JSON object").WithCause(err)
	}
	return NewDescriptor(method, path, params, nil)
}

// decodeStrict decodes data into v and rejects trailing content.
func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("unexpected content after JSON object")
	}
	return nil
}

// decodeObject decodes an optional JSON object. Absent and null yield nil.
func decodeObject(raw json.RawMessage) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] != '{' {
		return nil, fmt.Errorf("expected object, got %.20s", raw)
	}
	var m map[string]any
	if err := decodeStrict(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
