package conversation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/eg9y/chat-api-plugins/tools/apicall"
	"github.com/eg9y/chat-api-plugins/tools/plugin"
	"github.com/eg9y/chat-api-plugins/types"
)

// ResponsePrefix marks a user message that carries the API call result.
const ResponsePrefix = "Response="

// PromptSource selects what the instruction prompt lists as available calls.
type PromptSource string

const (
	// PromptSummary lists one rendered description per operation.
	PromptSummary PromptSource = "summary"
	// PromptDocument embeds the raw OpenAPI document.
	PromptDocument PromptSource = "document"
)

// ParsePromptSource validates a configured prompt source.
func ParsePromptSource(s string) (PromptSource, error) {
	switch p := PromptSource(strings.ToLower(strings.TrimSpace(s))); p {
	case PromptSummary, PromptDocument:
		return p, nil
	case "":
		return PromptSummary, nil
	default:
		return "", types.Errorf(types.ErrInvalidConfig, "unknown prompt source %q", s)
	}
}

const responseClause = "When user message starts with '" + ResponsePrefix + "', it is the response from the Api call, " +
	"and as such, provide the response to the user as instructed above."

func identityPrompt(m *plugin.Manifest) string {
	return fmt.Sprintf("You are now using the '%s' plugin.\n%s", m.NameForModel, m.DescriptionForModel)
}

func instructionPrompt(format apicall.ReplyFormat, details string) string {
	var b strings.Builder
	b.WriteString(responseClause)
	b.WriteString("\n")
	switch format {
	case apicall.FormatStructured:
		b.WriteString("Else, choose the most appropriate API call below, and respond with only a JSON object of the form " +
			`{"http_method": "<METHOD>", "path": "<path>", "params": {<query parameters>}, "data": {<request body>}}` +
			", omitting params or data when empty:\n")
	default:
		b.WriteString("Else, choose the most appropriate API call below, and respond the corresponding API route:\n")
	}
	b.WriteString(details)
	return b.String()
}

// invocationFailure is the payload reported to the LLM when the call failed.
type invocationFailure struct {
	Error  string `json:"error"`
	Status int    `json:"status,omitempty"`
	Body   string `json:"body,omitempty"`
}

func failurePayload(err error) invocationFailure {
	f := invocationFailure{Error: err.Error()}
	if e, ok := types.AsError(err); ok {
		f.Error = e.Message
		f.Status = e.HTTPStatus
		f.Body = e.Body
	}
	return f
}

// responseMessage renders v as Response=<json> with two-space indentation.
func responseMessage(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return ResponsePrefix + strings.TrimSuffix(buf.String(), "\n"), nil
}
