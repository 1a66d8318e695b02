package apicall

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/eg9y/chat-api-plugins/types"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Descriptor is a normalized, executable HTTP call chosen by the LLM.
type Descriptor struct {
	Method string         `json:"http_method" validate:"required,oneof=GET POST PUT DELETE PATCH"`
	Path   string         `json:"path" validate:"required,startswith=/"`
	Params map[string]any `json:"params,omitempty"`
	Body   map[string]any `json:"data,omitempty"`
}

// NewDescriptor canonicalizes and validates a descriptor. Empty parameter
// and body maps are dropped.
func NewDescriptor(method, path string, params, body map[string]any) (*Descriptor, error) {
	d := &Descriptor{
		Method: strings.ToUpper(strings.TrimSpace(method)),
		Path:   strings.TrimSpace(path),
		Params: nonEmpty(params),
		Body:   nonEmpty(body),
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate checks the method and path invariants.
func (d *Descriptor) Validate() error {
	if err := validate.Struct(d); err != nil {
		return types.NewError(types.ErrMalformedReply, validationMessage(err)).WithCause(err)
	}
	return nil
}

// TransportMethod returns the lowercase method used on the wire by some clients.
func (d *Descriptor) TransportMethod() string {
	return strings.ToLower(d.Method)
}

// String renders the descriptor as "<METHOD> <path>".
func (d *Descriptor) String() string {
	return d.Method + " " + d.Path
}

func nonEmpty(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	return m
}

func validationMessage(err error) string {
	var valErrs validator.ValidationErrors
	if !errors.As(err, &valErrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(valErrs))
	for _, fe := range valErrs {
		msgs = append(msgs, fe.Field()+": "+formatFieldError(fe))
	}
	return strings.Join(msgs, "; ")
}

func formatFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "startswith":
		return fmt.Sprintf("must start with %q", fe.Param())
	default:
		return fmt.Sprintf("failed on %s", fe.Tag())
	}
}
