package openapi

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/eg9y/chat-api-plugins/types"
)

func TestSummarize_TranslateDocument(t *testing.T) {
	doc := mustDecode(t, translateYAML)

	want := "POST /translate\n" +
		"- Summary: Translate text\n" +
		"- Properties: text: The text to translate, target_lang: Target language code\n" +
		"- Response: The translated text\n\n"
	assert.Equal(t, want, Summarize(doc))
}

func TestSummarize_ParametersAndComponentRefs(t *testing.T) {
	doc := mustDecode(t, shopJSON)

	got := NewSummarizer().Describe(doc)
	require.Len(t, got, 3)

	assert.Equal(t, EndpointDescription{
		Method:     "GET",
		Path:       "/search",
		Summary:    "Search products",
		Parameters: "locale, q, size",
		Response:   "Matching products",
	}, got[0])
	assert.Equal(t, "id", got[1].Parameters)
	assert.Equal(t, "DELETE", got[2].Method)
	assert.Equal(t, "", got[2].Parameters)
	assert.Equal(t, "", got[2].Response)
}

func TestSummarize_TotalOverIncompleteOperation(t *testing.T) {
	doc := mustDecode(t, "openapi: 3.0.0\npaths:\n  /a:\n    get: {}\n")

	assert.Equal(t, "GET /a\n- Summary: \n- Properties: \n- Response: \n\n", Summarize(doc))
}

func TestSummarize_RequestSchemaDescriptionWins(t *testing.T) {
	doc := mustDecode(t, `
openapi: 3.0.0
paths:
  /orders:
    post:
      requestBody:
        content:
          application/json:
            schema:
              type: object
              description: An order to place
              properties:
                sku: {type: string, description: Stock keeping unit}
`)
	got := NewSummarizer().Describe(doc)
	require.Len(t, got, 1)
	assert.Equal(t, "An order to place", got[0].Parameters)
}

func TestSummarize_ConfigurableResponseField(t *testing.T) {
	doc := mustDecode(t, `
openapi: 3.0.0
paths:
  /weather:
    get:
      responses:
        "200":
          content:
            application/json:
              schema:
                type: object
                properties:
                  forecast: {$ref: '#/components/schemas/Forecast'}
components:
  schemas:
    Forecast: {type: string, description: "Tomorrow's forecast"}
`)
	assert.Equal(t, "", NewSummarizer().Describe(doc)[0].Response)
	assert.Equal(t, "Tomorrow's forecast", NewSummarizer(WithResponseField("forecast")).Describe(doc)[0].Response)
}

func TestSummarize_AbsorbsResolutionErrors(t *testing.T) {
	doc := mustDecode(t, `
openapi: 3.0.0
paths:
  /loop:
    post:
      summary: Loops
      requestBody:
        content:
          application/json:
            schema: {$ref: '#/components/schemas/A'}
      responses:
        "200":
          content:
            application/json:
              schema: {$ref: '#/definitions/Legacy'}
  /fine:
    get:
      summary: Still rendered
components:
  schemas:
    A: {$ref: '#/components/schemas/B'}
    B: {$ref: '#/components/schemas/A'}
`)
	var observed []types.ErrorCode
	s := NewSummarizer(WithResolutionObserver(func(method, path, field string, err error) {
		observed = append(observed, types.GetErrorCode(err))
	}))

	out := s.Summarize(doc)
	assert.Contains(t, out, "POST /loop\n- Summary: Loops\n- Properties: \n- Response: \n\n")
	assert.Contains(t, out, "GET /fine\n- Summary: Still rendered\n")
	assert.Equal(t, []types.ErrorCode{types.ErrReferenceCycle, types.ErrUnsupportedReferenceShape}, observed)
}

func TestSummarize_NilDocument(t *testing.T) {
	assert.Equal(t, "", Summarize(nil))
}

// genDocumentJSON builds a random JSON document with a known key order.
func genDocumentJSON(rt *rapid.T) (string, []string) {
	nPaths := rapid.IntRange(1, 6).Draw(rt, "paths")
	var (
		b       strings.Builder
		headers []string
	)
	b.WriteString(`{"openapi":"3.0.0","paths":{`)
	for i := 0; i < nPaths; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		path := fmt.Sprintf("/p%d_%s", i, rapid.StringMatching(`[a-z]{1,6}`).Draw(rt, "seg"))
		fmt.Fprintf(&b, "%q:{", path)
		methods := rapid.SliceOfNDistinct(rapid.SampledFrom(Methods), 1, len(Methods), rapid.ID[string]).Draw(rt, "methods")
		for j, m := range methods {
			if j > 0 {
				b.WriteByte(',')
			}
			nProps := rapid.IntRange(0, 4).Draw(rt, "props")
			fmt.Fprintf(&b, `%q:{"summary":%q,"requestBody":{"content":{"application/json":{"schema":{"type":"object","properties":{`,
				strings.ToLower(m), rapid.StringMatching(`[A-Za-z ]{0,12}`).Draw(rt, "summary"))
			for k := 0; k < nProps; k++ {
				if k > 0 {
					b.WriteByte(',')
				}
				fmt.Fprintf(&b, `"f%d_%s":{"type":"string","description":"d%d"}`, k, rapid.StringMatching(`[a-z]{1,4}`).Draw(rt, "prop"), k)
			}
			b.WriteString(`}}}}}}`)
			headers = append(headers, m+" "+path)
		}
		b.WriteByte('}')
	}
	b.WriteString(`}}`)
	return b.String(), headers
}

func TestProperty_Summarize_DeterministicAndOrdered(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		src, headers := genDocumentJSON(rt)

		first, err := Decode([]byte(src))
		if err != nil {
			rt.Fatalf("decode: %v\n%s", err, src)
		}
		second, err := Decode([]byte(src))
		if err != nil {
			rt.Fatalf("decode: %v", err)
		}

		s := NewSummarizer()
		a, b, c := s.Summarize(first), s.Summarize(first), s.Summarize(second)
		if a != b || a != c {
			rt.Fatalf("summaries differ:\n%s\n---\n%s", a, c)
		}

		descs := s.Describe(first)
		if len(descs) != len(headers) {
			rt.Fatalf("got %d descriptions, want %d", len(descs), len(headers))
		}
		for i, d := range descs {
			if d.Method+" "+d.Path != headers[i] {
				rt.Fatalf("description %d is %s %s, want %s", i, d.Method, d.Path, headers[i])
			}
		}
	})
}
