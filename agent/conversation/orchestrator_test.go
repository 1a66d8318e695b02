package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/eg9y/chat-api-plugins/config"
	"github.com/eg9y/chat-api-plugins/llm"
	"github.com/eg9y/chat-api-plugins/tools/apicall"
	"github.com/eg9y/chat-api-plugins/tools/openapi"
	"github.com/eg9y/chat-api-plugins/tools/plugin"
	"github.com/eg9y/chat-api-plugins/types"
)

// --- fakes ---

const pluginDocTemplate = `openapi: 3.0.1
info:
  title: Translate
  version: v1
servers:
  - url: %s
paths:
  /translate:
    post:
      summary: Translate text
      requestBody:
        content:
          application/json:
            schema:
              $ref: '#/components/schemas/TranslateRequest'
      responses:
        "200":
          description: OK
          content:
            application/json:
              schema:
                $ref: '#/components/schemas/TranslateResponse'
  /search:
    get:
      summary: Search products
      parameters:
        - name: q
          in: query
          description: Query
      responses:
        "200":
          description: OK
components:
  schemas:
    TranslateRequest:
      type: object
      properties:
        text:
          type: string
          description: Text to translate
        target_lang:
          type: string
          description: Target language code
    TranslateResponse:
      type: object
      properties:
        explanation:
          type: string
          description: The translated text
`

var translateManifest = &plugin.Manifest{
	SchemaVersion:       "v1",
	NameForHuman:        "Translate",
	NameForModel:        "translate",
	DescriptionForHuman: "Translate text.",
	DescriptionForModel: "Translate text between languages.",
	API:                 plugin.API{Type: "openapi", URL: "/openapi.yaml"},
}

type staticFetcher struct {
	bundle *plugin.Bundle
	err    error
	calls  int
}

func (f *staticFetcher) Fetch(ctx context.Context, pluginURL string) (*plugin.Bundle, error) {
	f.calls++
	if err := types.FromContext(ctx); err != nil {
		return nil, err
	}
	return f.bundle, f.err
}

func newBundle(t *testing.T, serverURL string) *plugin.Bundle {
	t.Helper()
	raw := []byte(fmt.Sprintf(pluginDocTemplate, serverURL))
	doc, err := openapi.Decode(raw)
	require.NoError(t, err)
	return &plugin.Bundle{
		PluginURL: "https://plugin.example.com",
		Manifest:  translateManifest,
		APIURL:    "https://plugin.example.com/openapi.yaml",
		Document:  doc,
		Raw:       raw,
	}
}

// scriptedProvider answers Completion calls with replies in order.
type scriptedProvider struct {
	mu       sync.Mutex
	replies  []string
	errs     []error
	requests []*llm.ChatRequest
	block    bool
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	p.mu.Lock()
	i := len(p.requests)
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i >= len(p.replies) {
		return nil, errors.New("unexpected completion call")
	}
	return &llm.ChatResponse{
		Provider: p.Name(),
		Model:    req.Model,
		Choices:  []llm.ChatChoice{{Message: llm.AssistantMessage(p.replies[i])}},
		Usage:    llm.ChatUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

type fakeRecorder struct {
	mu          sync.Mutex
	outcomes    []string
	llmStatuses []string
	resolution  []string
}

func (r *fakeRecorder) RecordConversation(outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *fakeRecorder) RecordLLMRequest(_, _, status string, _ time.Duration, _, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llmStatuses = append(r.llmStatuses, status)
}

func (r *fakeRecorder) RecordResolutionError(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolution = append(r.resolution, code)
}

type capturedCall struct {
	method string
	path   string
	query  string
	body   map[string]any
}

// newTargetAPI serves the plugin's API. handler may be nil for a 200 translate reply.
func newTargetAPI(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *[]capturedCall) {
	t.Helper()
	var (
		mu    sync.Mutex
		calls []capturedCall
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := capturedCall{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery}
		data, _ := io.ReadAll(r.Body)
		if len(data) > 0 {
			assert.NoError(t, json.Unmarshal(data, &c.body))
		}
		mu.Lock()
		calls = append(calls, c)
		mu.Unlock()

		if handler != nil {
			handler(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"explanation":"Saya suka kura-kura"}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newOrchestrator(t *testing.T, cfg Config, deps Deps) *Orchestrator {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	o, err := New(cfg, deps)
	require.NoError(t, err)
	return o
}

func states(ts []Transition) []State {
	out := make([]State, 0, len(ts)+1)
	if len(ts) > 0 {
		out = append(out, ts[0].From)
	}
	for _, tr := range ts {
		out = append(out, tr.To)
	}
	return out
}

const translateSelection = `{"http_method":"post","path":"/translate","data":{"text":"I like turtles","target_lang":"id"}}`

// --- tests ---

func TestRun_TranslateStructured(t *testing.T) {
	api, calls := newTargetAPI(t, nil)
	provider := &scriptedProvider{replies: []string{translateSelection, "Saya suka kura-kura"}}
	o := newOrchestrator(t, Config{ReplyFormat: apicall.FormatStructured}, Deps{
		Fetcher:  &staticFetcher{bundle: newBundle(t, api.URL)},
		Provider: provider,
	})

	res, err := o.Run(context.Background(), "https://plugin.example.com", `Translate from English to bahasa indonesia: "I like turtles"`)
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, StateDone, o.State())
	assert.Equal(t, "Saya suka kura-kura", res.Answer)
	assert.Equal(t, o.ID(), res.ConversationID)
	assert.Equal(t, api.URL, res.BaseURL)
	assert.Nil(t, res.InvocationError)
	assert.Nil(t, res.Invocation)
	assert.Empty(t, res.FailureCode)

	require.NotNil(t, res.Descriptor)
	assert.Equal(t, "POST", res.Descriptor.Method)
	assert.Equal(t, "/translate", res.Descriptor.Path)

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.Equal(t, http.MethodPost, call.method)
	assert.Equal(t, "/translate", call.path)
	assert.Equal(t, map[string]any{"text": "I like turtles", "target_lang": "id"}, call.body)

	require.Len(t, res.History, 6)
	assert.Equal(t, llm.SystemMessage("You are now using the 'translate' plugin.\nTranslate text between languages."), res.History[0])
	assert.Equal(t, llm.RoleSystem, res.History[1].Role)
	assert.Contains(t, res.History[1].Content, "When user message starts with 'Response='")
	assert.Contains(t, res.History[1].Content, "POST /translate\n- Summary: Translate text\n- Properties: text: Text to translate, target_lang: Target language code\n- Response: The translated text\n")
	assert.Contains(t, res.History[1].Content, `"http_method"`)
	assert.Equal(t, llm.UserMessage(`Translate from English to bahasa indonesia: "I like turtles"`), res.History[2])
	assert.Equal(t, llm.AssistantMessage(translateSelection), res.History[3])
	assert.Equal(t, llm.UserMessage("Response={\n  \"explanation\": \"Saya suka kura-kura\"\n}"), res.History[4])
	assert.Equal(t, llm.AssistantMessage("Saya suka kura-kura"), res.History[5])

	require.Len(t, provider.requests, 2)
	assert.Len(t, provider.requests[0].Messages, 3)
	assert.Len(t, provider.requests[1].Messages, 5)
	assert.Equal(t, "gpt-4", provider.requests[0].Model)
	assert.Equal(t, 150, provider.requests[0].MaxTokens)
	assert.Equal(t, o.ID(), provider.requests[0].TraceID)

	assert.Equal(t, []State{
		StateIdle, StateFetching, StateSummarizing, StateAwaitingSelection,
		StateInvoking, StateAwaitingFinalAnswer, StateDone,
	}, states(res.Transitions))
	assert.Positive(t, res.PromptTokens)
	assert.GreaterOrEqual(t, res.Timings.Total, res.Timings.Invocation)
}

func TestRun_Freeform(t *testing.T) {
	api, calls := newTargetAPI(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"name":"red shirt"}]`))
	})
	provider := &scriptedProvider{replies: []string{"GET /search\nSome explanation.\n{\"q\": \"shirt\"}", "Found a red shirt."}}
	o := newOrchestrator(t, Config{}, Deps{
		Fetcher:  &staticFetcher{bundle: newBundle(t, api.URL + "/")},
		Provider: provider,
	})

	res, err := o.Run(context.Background(), "https://plugin.example.com", "find me a shirt")
	require.NoError(t, err)

	require.Len(t, *calls, 1)
	assert.Equal(t, http.MethodGet, (*calls)[0].method)
	assert.Equal(t, "/search", (*calls)[0].path)
	assert.Equal(t, "q=shirt", (*calls)[0].query)
	assert.Nil(t, (*calls)[0].body)

	assert.Equal(t, "Found a red shirt.", res.Answer)
	assert.Equal(t, 200, res.Response.Status)
	assert.Contains(t, res.History[1].Content, "respond the corresponding API route:\nPOST /translate")
	assert.Equal(t, "Response=[\n  {\n    \"name\": \"red shirt\"\n  }\n]", res.History[4].Content)
}

func TestRun_FetchFailure(t *testing.T) {
	provider := &scriptedProvider{}
	rec := &fakeRecorder{}
	o := newOrchestrator(t, Config{}, Deps{
		Fetcher:  &staticFetcher{err: types.NewError(types.ErrFetch, "GET manifest: HTTP 404")},
		Provider: provider,
		Recorder: rec,
	})

	res, err := o.Run(context.Background(), "https://plugin.example.com", "hi")
	require.Error(t, err)
	assert.Equal(t, types.ErrFetch, types.GetErrorCode(err))
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, types.ErrFetch, res.FailureCode)
	assert.Empty(t, provider.requests)
	assert.Empty(t, res.History)
	assert.Equal(t, []string{OutcomeFailed}, rec.outcomes)

	require.Len(t, res.Transitions, 2)
	assert.Equal(t, Transition{From: StateFetching, To: StateFailed, At: res.Transitions[1].At, Code: types.ErrFetch}, res.Transitions[1])
}

func TestRun_UncodedFetchErrorBecomesFetchError(t *testing.T) {
	o := newOrchestrator(t, Config{}, Deps{
		Fetcher:  &staticFetcher{err: errors.New("dial tcp: refused")},
		Provider: &scriptedProvider{},
	})
	res, err := o.Run(context.Background(), "https://plugin.example.com", "hi")
	assert.True(t, types.IsErrorCode(err, types.ErrFetch))
	assert.Equal(t, types.ErrFetch, res.FailureCode)
}

func TestRun_IncompleteBundle(t *testing.T) {
	o := newOrchestrator(t, Config{}, Deps{
		Fetcher:  &staticFetcher{bundle: &plugin.Bundle{Manifest: translateManifest}},
		Provider: &scriptedProvider{},
	})
	_, err := o.Run(context.Background(), "https://plugin.example.com", "hi")
	assert.True(t, types.IsErrorCode(err, types.ErrFetch))
}

func TestRun_MalformedReply(t *testing.T) {
	tests := []struct {
		name   string
		format apicall.ReplyFormat
		reply  string
	}{
		{name: "freeform without route line", format: apicall.FormatFreeform, reply: `{"q":"shirt"}`},
		{name: "structured prose", format: apicall.FormatStructured, reply: "I think you should call POST /translate"},
		{name: "structured freeform shape", format: apicall.FormatStructured, reply: "GET /search\n{\"q\":\"shirt\"}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api, calls := newTargetAPI(t, nil)
			provider := &scriptedProvider{replies: []string{tt.reply}}
			o := newOrchestrator(t, Config{ReplyFormat: tt.format}, Deps{
				Fetcher:  &staticFetcher{bundle: newBundle(t, api.URL)},
				Provider: provider,
			})

			res, err := o.Run(context.Background(), "https://plugin.example.com", "hi")
			assert.True(t, types.IsErrorCode(err, types.ErrMalformedReply), "got %v", err)
			assert.Equal(t, StateFailed, res.State)
			assert.Equal(t, tt.reply, res.Selection)
			assert.Nil(t, res.Descriptor)
			assert.Len(t, provider.requests, 1)
			assert.Empty(t, *calls)
			assert.Len(t, res.History, 4)
		})
	}
}

func TestRun_InvocationFailureReported(t *testing.T) {
	api, _ := newTargetAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	})
	provider := &scriptedProvider{replies: []string{translateSelection, "Sorry, the translation service failed."}}
	o := newOrchestrator(t, Config{ReplyFormat: apicall.FormatStructured}, Deps{
		Fetcher:  &staticFetcher{bundle: newBundle(t, api.URL)},
		Provider: provider,
	})

	res, err := o.Run(context.Background(), "https://plugin.example.com", "translate")
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.State)
	require.Error(t, res.InvocationError)
	assert.True(t, types.IsErrorCode(res.InvocationError, types.ErrInvocation))
	assert.Nil(t, res.Response)
	assert.Equal(t, "Sorry, the translation service failed.", res.Answer)

	report := res.History[4]
	assert.Equal(t, llm.RoleUser, report.Role)
	require.True(t, strings.HasPrefix(report.Content, ResponsePrefix))
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(report.Content, ResponsePrefix)), &payload))
	assert.Equal(t, float64(500), payload["status"])
	assert.Equal(t, "boom", payload["body"])
	assert.Contains(t, payload["error"], "HTTP 500")
	assert.Len(t, provider.requests, 2)

	require.NotNil(t, res.Invocation)
	assert.Equal(t, types.ErrInvocation, res.Invocation.Code)
	assert.Equal(t, http.StatusInternalServerError, res.Invocation.Status)
	assert.Equal(t, "boom", res.Invocation.Body)

	encoded, err := json.Marshal(res)
	require.NoError(t, err)
	var wire struct {
		InvocationError struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Status  int    `json:"status"`
			Body    string `json:"body"`
		} `json:"invocation_error"`
	}
	require.NoError(t, json.Unmarshal(encoded, &wire))
	assert.Equal(t, "INVOCATION_ERROR", wire.InvocationError.Code)
	assert.Contains(t, wire.InvocationError.Message, "HTTP 500")
	assert.Equal(t, 500, wire.InvocationError.Status)
	assert.Equal(t, "boom", wire.InvocationError.Body)
}

func TestRun_InvocationFailureAbort(t *testing.T) {
	api, _ := newTargetAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	provider := &scriptedProvider{replies: []string{translateSelection}}
	o := newOrchestrator(t, Config{ReplyFormat: apicall.FormatStructured, FailurePolicy: PolicyAbort}, Deps{
		Fetcher:  &staticFetcher{bundle: newBundle(t, api.URL)},
		Provider: provider,
	})

	res, err := o.Run(context.Background(), "https://plugin.example.com", "translate")
	assert.True(t, types.IsErrorCode(err, types.ErrInvocation))
	e, ok := types.AsError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, e.HTTPStatus)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, types.ErrInvocation, res.FailureCode)
	assert.Len(t, provider.requests, 1)
	assert.Len(t, res.History, 4)
}

func TestRun_LLMError(t *testing.T) {
	rec := &fakeRecorder{}
	upstream := &llm.Error{Code: llm.ErrUnauthorized, Message: "bad key", HTTPStatus: 401, Provider: "scripted"}
	o := newOrchestrator(t, Config{}, Deps{
		Fetcher:  &staticFetcher{bundle: newBundle(t, "https://api.example.com")},
		Provider: &scriptedProvider{errs: []error{upstream}},
		Recorder: rec,
	})

	res, err := o.Run(context.Background(), "https://plugin.example.com", "hi")
	assert.True(t, types.IsErrorCode(err, types.ErrLLM))
	var llmErr *llm.Error
	require.True(t, errors.As(err, &llmErr))
	assert.Equal(t, llm.ErrUnauthorized, llmErr.Code)
	e, _ := types.AsError(err)
	assert.Equal(t, 401, e.HTTPStatus)

	assert.Equal(t, types.ErrLLM, res.FailureCode)
	assert.Equal(t, []string{string(types.ErrLLM)}, rec.llmStatuses)
}

func TestRun_EmptyLLMResponse(t *testing.T) {
	o := newOrchestrator(t, Config{}, Deps{
		Fetcher:  &staticFetcher{bundle: newBundle(t, "https://api.example.com")},
		Provider: emptyProvider{},
	})
	_, err := o.Run(context.Background(), "https://plugin.example.com", "hi")
	assert.True(t, types.IsErrorCode(err, types.ErrLLM))
}

type emptyProvider struct{}

func (emptyProvider) Name() string { return "empty" }

func (emptyProvider) Completion(context.Context, *llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{}, nil
}

func TestRun_CancelledDuringSelection(t *testing.T) {
	provider := &scriptedProvider{block: true}
	o := newOrchestrator(t, Config{}, Deps{
		Fetcher:  &staticFetcher{bundle: newBundle(t, "https://api.example.com")},
		Provider: provider,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for {
			provider.mu.Lock()
			n := len(provider.requests)
			provider.mu.Unlock()
			if n > 0 {
				cancel()
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	res, err := o.Run(ctx, "https://plugin.example.com", "hi")
	assert.True(t, types.IsErrorCode(err, types.ErrCancelled), "got %v", err)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, types.ErrCancelled, res.FailureCode)
	last := res.Transitions[len(res.Transitions)-1]
	assert.Equal(t, StateAwaitingSelection, last.From)
	assert.Equal(t, types.ErrCancelled, last.Code)
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	fetcher := &staticFetcher{bundle: newBundle(t, "https://api.example.com")}
	o := newOrchestrator(t, Config{}, Deps{Fetcher: fetcher, Provider: &scriptedProvider{}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := o.Run(ctx, "https://plugin.example.com", "hi")
	assert.True(t, types.IsErrorCode(err, types.ErrCancelled))
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 1, fetcher.calls)
}

func TestRun_CancelledDuringInvocationIgnoresReportPolicy(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	api, _ := newTargetAPI(t, func(w http.ResponseWriter, r *http.Request) {
		cancel()
		<-r.Context().Done()
	})
	provider := &scriptedProvider{replies: []string{translateSelection, "unused"}}
	o := newOrchestrator(t, Config{ReplyFormat: apicall.FormatStructured}, Deps{
		Fetcher:  &staticFetcher{bundle: newBundle(t, api.URL)},
		Provider: provider,
	})

	res, err := o.Run(ctx, "https://plugin.example.com", "translate")
	assert.True(t, types.IsErrorCode(err, types.ErrCancelled), "got %v", err)
	assert.Equal(t, StateFailed, res.State)
	assert.Len(t, provider.requests, 1)
}

func TestRun_Spans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	api, _ := newTargetAPI(t, nil)
	o := newOrchestrator(t, Config{ReplyFormat: apicall.FormatStructured}, Deps{
		Fetcher:  &staticFetcher{bundle: newBundle(t, api.URL)},
		Provider: &scriptedProvider{replies: []string{translateSelection, "done"}},
		Tracer:   tp.Tracer("test"),
	})
	_, err := o.Run(context.Background(), "https://plugin.example.com", "translate")
	require.NoError(t, err)

	var names []string
	var root sdktrace.ReadOnlySpan
	for _, s := range sr.Ended() {
		names = append(names, s.Name())
		if s.Name() == "conversation.run" {
			root = s
		}
	}
	assert.Equal(t, []string{"plugin.fetch", "llm.completion", "api.invoke", "llm.completion", "conversation.run"}, names)
	require.NotNil(t, root)
	for _, s := range sr.Ended() {
		if s.Name() != "conversation.run" {
			assert.Equal(t, root.SpanContext().SpanID(), s.Parent().SpanID(), s.Name())
		}
	}
}

func TestRun_FailedSpanStatus(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	o := newOrchestrator(t, Config{}, Deps{
		Fetcher:  &staticFetcher{err: types.NewError(types.ErrFetch, "down")},
		Provider: &scriptedProvider{},
		Tracer:   tp.Tracer("test"),
	})
	_, _ = o.Run(context.Background(), "https://plugin.example.com", "hi")

	for _, s := range sr.Ended() {
		assert.Equal(t, "Error", s.Status().Code.String(), s.Name())
	}
}

func TestRun_RecordsMetrics(t *testing.T) {
	api, _ := newTargetAPI(t, nil)
	bundle := newBundle(t, api.URL)
	// 添加一个无法解析的引用，摘要应吸收它并上报
	bundle.Document.Components.Schemas["TranslateResponse"].Properties[0].Schema = &openapi.Schema{Ref: "#/components/schemas/Missing"}

	rec := &fakeRecorder{}
	o := newOrchestrator(t, Config{ReplyFormat: apicall.FormatStructured}, Deps{
		Fetcher:  &staticFetcher{bundle: bundle},
		Provider: &scriptedProvider{replies: []string{translateSelection, "done"}},
		Recorder: rec,
	})
	res, err := o.Run(context.Background(), "https://plugin.example.com", "translate")
	require.NoError(t, err)

	assert.Equal(t, []string{OutcomeDone}, rec.outcomes)
	assert.Equal(t, []string{"ok", "ok"}, rec.llmStatuses)
	assert.Equal(t, []string{string(types.ErrUnknownSchema)}, rec.resolution)
	assert.Contains(t, res.History[1].Content, "- Response: \n")
}

func TestRun_PromptDocumentSource(t *testing.T) {
	api, _ := newTargetAPI(t, nil)
	bundle := newBundle(t, api.URL)
	o := newOrchestrator(t, Config{PromptSource: PromptDocument, ReplyFormat: apicall.FormatStructured}, Deps{
		Fetcher:  &staticFetcher{bundle: bundle},
		Provider: &scriptedProvider{replies: []string{translateSelection, "done"}},
	})
	res, err := o.Run(context.Background(), "https://plugin.example.com", "translate")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(res.History[1].Content, string(bundle.Raw)))
	assert.NotContains(t, res.History[1].Content, "- Summary:")
}

func TestRun_OnlyOnce(t *testing.T) {
	api, _ := newTargetAPI(t, nil)
	o := newOrchestrator(t, Config{ReplyFormat: apicall.FormatStructured}, Deps{
		Fetcher:  &staticFetcher{bundle: newBundle(t, api.URL)},
		Provider: &scriptedProvider{replies: []string{translateSelection, "done"}},
	})
	_, err := o.Run(context.Background(), "https://plugin.example.com", "translate")
	require.NoError(t, err)

	res, err := o.Run(context.Background(), "https://plugin.example.com", "again")
	assert.Nil(t, res)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidConfig))
}

func TestNew_Validation(t *testing.T) {
	fetcher := &staticFetcher{}
	provider := &scriptedProvider{}

	tests := []struct {
		name string
		cfg  Config
		deps Deps
	}{
		{name: "missing fetcher", deps: Deps{Provider: provider}},
		{name: "missing provider", deps: Deps{Fetcher: fetcher}},
		{name: "bad reply format", cfg: Config{ReplyFormat: "xml"}, deps: Deps{Fetcher: fetcher, Provider: provider}},
		{name: "bad prompt source", cfg: Config{PromptSource: "both"}, deps: Deps{Fetcher: fetcher, Provider: provider}},
		{name: "bad failure policy", cfg: Config{FailurePolicy: "retry"}, deps: Deps{Fetcher: fetcher, Provider: provider}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, tt.deps)
			assert.True(t, types.IsErrorCode(err, types.ErrInvalidConfig), "got %v", err)
		})
	}

	o, err := New(Config{}, Deps{Fetcher: fetcher, Provider: provider})
	require.NoError(t, err)
	assert.Equal(t, StateIdle, o.State())
	assert.Empty(t, o.Transitions())
	assert.Equal(t, DefaultConfig(), o.cfg)
}

func TestConfigFrom(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Conversation.ReplyFormat = "Structured"
	cfg.Conversation.FailurePolicy = "abort"
	cfg.Plugin.BaseURL = "https://override.example.com"

	got, err := ConfigFrom(cfg)
	require.NoError(t, err)
	assert.Equal(t, apicall.FormatStructured, got.ReplyFormat)
	assert.Equal(t, PolicyAbort, got.FailurePolicy)
	assert.Equal(t, PromptSummary, got.PromptSource)
	assert.Equal(t, "explanation", got.ResponseField)
	assert.Equal(t, 16, got.MaxRefDepth)
	assert.Equal(t, "https://override.example.com", got.BaseURL)
	assert.Equal(t, "gpt-4", got.Model)
	assert.Equal(t, 150, got.MaxTokens)

	cfg.Conversation.PromptSource = "nope"
	_, err = ConfigFrom(cfg)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidConfig))
}

func TestResolveBaseURL(t *testing.T) {
	withServer := func(u string) *openapi.Document {
		return &openapi.Document{Servers: []openapi.Server{{URL: u}, {URL: "https://second.example.com"}}}
	}
	tests := []struct {
		name     string
		override string
		doc      *openapi.Document
		want     string
	}{
		{name: "override wins", override: "https://override.example.com/", doc: withServer("https://api.example.com"), want: "https://override.example.com"},
		{name: "first server", doc: withServer("https://api.example.com/v1/"), want: "https://api.example.com/v1"},
		{name: "relative server", doc: withServer("/api"), want: "https://plugin.example.com/api"},
		{name: "no servers", doc: &openapi.Document{}, want: "https://plugin.example.com"},
		{name: "nil document", want: "https://plugin.example.com"},
		{name: "blank server", doc: withServer(" "), want: "https://plugin.example.com"},
		{name: "templated host", doc: withServer("https://{region}.api.example.com"), want: "https://plugin.example.com"},
		{name: "templated path", doc: withServer("/{version}"), want: "https://plugin.example.com"},
		{name: "override beats templated server", override: "https://eu.api.example.com", doc: withServer("https://{region}.api.example.com"), want: "https://eu.api.example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveBaseURL(tt.override, tt.doc, "https://plugin.example.com"))
		})
	}
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StateIdle, StateFetching))
	assert.True(t, CanTransition(StateInvoking, StateAwaitingFinalAnswer))
	assert.True(t, CanTransition(StateSummarizing, StateFailed))
	assert.False(t, CanTransition(StateIdle, StateFailed))
	assert.False(t, CanTransition(StateFetching, StateInvoking))
	assert.False(t, CanTransition(StateDone, StateFetching))
	assert.False(t, CanTransition(StateFailed, StateFetching))
	assert.True(t, StateDone.IsTerminal())
	assert.False(t, StateInvoking.IsTerminal())
	assert.Equal(t, "invalid state transition: done -> fetching", ErrInvalidTransition{From: StateDone, To: StateFetching}.Error())
}

func TestParseEnums(t *testing.T) {
	p, err := ParseFailurePolicy("")
	require.NoError(t, err)
	assert.Equal(t, PolicyReport, p)
	p, err = ParseFailurePolicy(" ABORT ")
	require.NoError(t, err)
	assert.Equal(t, PolicyAbort, p)

	s, err := ParsePromptSource("Document")
	require.NoError(t, err)
	assert.Equal(t, PromptDocument, s)
}

func TestResponseMessage(t *testing.T) {
	msg, err := responseMessage(map[string]any{"html": "<b>&</b>"})
	require.NoError(t, err)
	assert.Equal(t, "Response={\n  \"html\": \"<b>&</b>\"\n}", msg)

	msg, err = responseMessage("plain text")
	require.NoError(t, err)
	assert.Equal(t, `Response="plain text"`, msg)
}
