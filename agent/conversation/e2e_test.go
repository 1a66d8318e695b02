package conversation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eg9y/chat-api-plugins/internal/cache"
	"github.com/eg9y/chat-api-plugins/llm/providers"
	"github.com/eg9y/chat-api-plugins/llm/providers/openaicompat"
	"github.com/eg9y/chat-api-plugins/llm/retry"
	"github.com/eg9y/chat-api-plugins/tools/apicall"
	"github.com/eg9y/chat-api-plugins/tools/plugin"
)

const e2eManifest = `{
  "schema_version": "v1",
  "name_for_human": "Todo",
  "name_for_model": "todo",
  "description_for_human": "Manage todos.",
  "description_for_model": "Plugin for managing a user's todo list.",
  "auth": {"type": "none"},
  "api": {"type": "openapi", "url": "/openapi.json"}
}`

const e2eDocument = `{
  "openapi": "3.0.1",
  "info": {"title": "Todo", "version": "v1"},
  "servers": [{"url": "/api"}],
  "paths": {
    "/todos/{username}": {
      "get": {
        "summary": "Get the list of todos",
        "parameters": [
          {"name": "username", "in": "path", "required": true, "description": "The name of the user."}
        ],
        "responses": {
          "200": {
            "description": "OK",
            "content": {"application/json": {"schema": {"$ref": "#/components/schemas/TodoList"}}}
          }
        }
      }
    }
  },
  "components": {
    "schemas": {
      "TodoList": {
        "type": "object",
        "properties": {
          "todos": {"type": "array", "description": "The list of todos."}
        }
      }
    }
  }
}`

// newPluginHost serves the manifest, the document and the API from one origin.
func newPluginHost(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var apiHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc(plugin.ManifestPath, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(e2eManifest))
	})
	mux.HandleFunc("/openapi.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(e2eDocument))
	})
	mux.HandleFunc("/api/todos/alice", func(w http.ResponseWriter, r *http.Request) {
		apiHits.Add(1)
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"todos":["buy milk","walk dog"]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &apiHits
}

// newChatServer answers chat completions with replies in order. The first
// request fails with 503 once to exercise the retry wrapper.
func newChatServer(t *testing.T, replies ...string) (*httptest.Server, *[]providers.OpenAICompatRequest) {
	t.Helper()
	var (
		mu       sync.Mutex
		requests []providers.OpenAICompatRequest
		failed   bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		mu.Lock()
		defer mu.Unlock()
		if !failed {
			failed = true
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}

		var req providers.OpenAICompatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		requests = append(requests, req)

		reply := ""
		if n := len(requests) - 1; n < len(replies) {
			reply = replies[n]
		}
		resp := providers.OpenAICompatResponse{
			ID:    "chatcmpl-1",
			Model: req.Model,
			Choices: []providers.OpenAICompatChoice{{
				FinishReason: "stop",
				Message:      providers.OpenAICompatMessage{Role: "assistant", Content: reply},
			}},
			Usage: &providers.OpenAICompatUsage{PromptTokens: 42, CompletionTokens: 7, TotalTokens: 49},
		}
		w.Header().Set("Content-Type", "application/json")
		assert.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func TestEndToEnd_RealComponents(t *testing.T) {
	host, apiHits := newPluginHost(t)
	chat, requests := newChatServer(t,
		"GET /todos/alice\n{\"username\": \"alice\"}",
		"You need to buy milk and walk the dog.",
	)

	logger := zap.NewNop()
	rec := &fakeRecorder{}
	fetcher := plugin.NewFetcher(plugin.FetcherConfig{
		Client: host.Client(),
		Cache:  cache.NewMemoryStore(time.Minute),
		TTL:    time.Minute,
	}, logger)

	policy := retry.DefaultRetryPolicy()
	policy.InitialDelay = time.Millisecond
	policy.MaxDelay = 5 * time.Millisecond
	provider := retry.WrapProvider(openaicompat.New(openaicompat.Config{
		APIKey:  "sk-test",
		BaseURL: chat.URL,
		Client:  chat.Client(),
	}, logger), policy, logger)

	o, err := New(Config{Model: "gpt-3.5-turbo"}, Deps{
		Fetcher:  fetcher,
		Provider: provider,
		Invoker:  apicall.NewInvoker(apicall.InvokerConfig{Client: host.Client()}, logger),
		Recorder: rec,
		Logger:   logger,
	})
	require.NoError(t, err)

	res, err := o.Run(context.Background(), host.URL, "What is on alice's todo list?")
	require.NoError(t, err)

	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, "You need to buy milk and walk the dog.", res.Answer)
	assert.Equal(t, host.URL+"/api", res.BaseURL)
	assert.Equal(t, int32(1), apiHits.Load())

	assert.Equal(t, "You are now using the 'todo' plugin.\nPlugin for managing a user's todo list.", res.History[0].Content)
	assert.Contains(t, res.History[1].Content,
		"GET /todos/{username}\n- Summary: Get the list of todos\n- Properties: username\n- Response: \n")
	assert.Equal(t, "Response={\n  \"todos\": [\n    \"buy milk\",\n    \"walk dog\"\n  ]\n}", res.History[4].Content)

	require.Len(t, *requests, 2)
	first, second := (*requests)[0], (*requests)[1]
	assert.Equal(t, "gpt-3.5-turbo", first.Model)
	assert.Equal(t, 150, first.MaxTokens)
	require.Len(t, first.Messages, 3)
	assert.Equal(t, "system", first.Messages[0].Role)
	assert.Equal(t, "user", first.Messages[2].Role)
	require.Len(t, second.Messages, 5)
	assert.Equal(t, "assistant", second.Messages[3].Role)
	assert.Equal(t, "user", second.Messages[4].Role)

	assert.Equal(t, []string{"ok", "ok"}, rec.llmStatuses)
	assert.Equal(t, []string{OutcomeDone}, rec.outcomes)
}
