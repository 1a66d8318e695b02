package conversation

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/eg9y/chat-api-plugins/config"
	"github.com/eg9y/chat-api-plugins/internal/ctxkeys"
	"github.com/eg9y/chat-api-plugins/internal/telemetry"
	"github.com/eg9y/chat-api-plugins/llm"
	"github.com/eg9y/chat-api-plugins/llm/tokenizer"
	"github.com/eg9y/chat-api-plugins/tools/apicall"
	"github.com/eg9y/chat-api-plugins/tools/openapi"
	"github.com/eg9y/chat-api-plugins/tools/plugin"
	"github.com/eg9y/chat-api-plugins/types"
)

// FailurePolicy decides what an invocation failure does to the conversation.
type FailurePolicy string

const (
	// PolicyReport reports the failure to the LLM and still asks for a final answer.
	PolicyReport FailurePolicy = "report"
	// PolicyAbort ends the conversation with Failed(INVOCATION_ERROR).
	PolicyAbort FailurePolicy = "abort"
)

// ParseFailurePolicy validates a configured failure policy.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch p := FailurePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyReport, PolicyAbort:
		return p, nil
	case "":
		return PolicyReport, nil
	default:
		return "", types.Errorf(types.ErrInvalidConfig, "unknown failure policy %q", s)
	}
}

// Outcomes passed to Recorder.RecordConversation.
const (
	OutcomeDone   = "done"
	OutcomeFailed = "failed"
)

// BundleFetcher supplies the manifest and OpenAPI document of a plugin.
type BundleFetcher interface {
	Fetch(ctx context.Context, pluginURL string) (*plugin.Bundle, error)
}

// Invoker executes the chosen API call.
type Invoker interface {
	Invoke(ctx context.Context, baseURL string, desc *apicall.Descriptor, locs apicall.Locations) (*apicall.Response, error)
}

// Recorder observes conversations. *metrics.Collector implements it.
type Recorder interface {
	RecordConversation(outcome string, duration time.Duration)
	RecordLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int)
	RecordResolutionError(code string)
}

// Config holds the per-conversation settings.
type Config struct {
	PromptSource  PromptSource
	ReplyFormat   apicall.ReplyFormat
	ResponseField string
	FailurePolicy FailurePolicy
	MaxRefDepth   int
	// BaseURL overrides the target API base URL.
	BaseURL string

	Model       string
	MaxTokens   int
	Temperature float32
}

// DefaultConfig returns the settings used when a field is left zero.
func DefaultConfig() Config {
	return Config{
		PromptSource:  PromptSummary,
		ReplyFormat:   apicall.FormatFreeform,
		ResponseField: openapi.DefaultResponseField,
		FailurePolicy: PolicyReport,
		MaxRefDepth:   openapi.DefaultMaxDepth,
		Model:         "gpt-4",
		MaxTokens:     150,
		Temperature:   1,
	}
}

// ConfigFrom derives a conversation Config from the loaded configuration.
func ConfigFrom(c *config.Config) (Config, error) {
	source, err := ParsePromptSource(c.Conversation.PromptSource)
	if err != nil {
		return Config{}, err
	}
	format, err := apicall.ParseReplyFormat(c.Conversation.ReplyFormat)
	if err != nil {
		return Config{}, err
	}
	policy, err := ParseFailurePolicy(c.Conversation.FailurePolicy)
	if err != nil {
		return Config{}, err
	}
	return Config{
		PromptSource:  source,
		ReplyFormat:   format,
		ResponseField: c.Conversation.ResponseField,
		FailurePolicy: policy,
		MaxRefDepth:   c.Conversation.MaxReferenceDepth,
		BaseURL:       c.Plugin.BaseURL,
		Model:         c.LLM.Model,
		MaxTokens:     c.LLM.MaxTokens,
		Temperature:   c.LLM.Temperature,
	}, nil
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PromptSource == "" {
		c.PromptSource = d.PromptSource
	}
	if c.ReplyFormat == "" {
		c.ReplyFormat = d.ReplyFormat
	}
	if c.ResponseField == "" {
		c.ResponseField = d.ResponseField
	}
	if c.FailurePolicy == "" {
		c.FailurePolicy = d.FailurePolicy
	}
	if c.MaxRefDepth <= 0 {
		c.MaxRefDepth = d.MaxRefDepth
	}
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = d.MaxTokens
	}
	return c
}

// Deps are the collaborators of one conversation. Fetcher and Provider are
// required; the rest have defaults.
type Deps struct {
	Fetcher   BundleFetcher
	Provider  llm.Provider
	Invoker   Invoker
	Recorder  Recorder
	Tokenizer tokenizer.Tokenizer
	Tracer    trace.Tracer
	Logger    *zap.Logger
}

// Timings breaks a conversation's wall time down by phase.
type Timings struct {
	Fetch       time.Duration `json:"fetch"`
	Selection   time.Duration `json:"selection"`
	Invocation  time.Duration `json:"invocation"`
	FinalAnswer time.Duration `json:"final_answer"`
	Total       time.Duration `json:"total"`
}

// Result is the outcome of Run. It is returned on failure too, with State
// set to StateFailed and FailureCode to the failing error's code.
type Result struct {
	ConversationID string              `json:"conversation_id"`
	State          State               `json:"state"`
	FailureCode    types.ErrorCode     `json:"failure_code,omitempty"`
	Answer         string              `json:"answer,omitempty"`
	Selection      string              `json:"selection,omitempty"`
	Descriptor     *apicall.Descriptor `json:"descriptor,omitempty"`
	BaseURL        string              `json:"base_url,omitempty"`
	Response       *apicall.Response   `json:"response,omitempty"`
	// InvocationError is the reported failure under PolicyReport.
	InvocationError error `json:"-"`
	// Invocation is InvocationError in serialisable form.
	Invocation   *InvocationFailure `json:"invocation_error,omitempty"`
	History      []llm.Message      `json:"history"`
	PromptTokens int                `json:"prompt_tokens"`
	Timings      Timings            `json:"timings"`
	Transitions  []Transition       `json:"transitions"`
}

// InvocationFailure describes a target API call that failed but was
// reported to the LLM instead of ending the conversation.
type InvocationFailure struct {
	Code    types.ErrorCode `json:"code"`
	Message string          `json:"message"`
	Status  int             `json:"status,omitempty"`
	Body    string          `json:"body,omitempty"`
}

func newInvocationFailure(err error) *InvocationFailure {
	f := &InvocationFailure{Code: types.GetErrorCode(err), Message: err.Error()}
	if e, ok := types.AsError(err); ok {
		f.Message = e.Message
		f.Status = e.HTTPStatus
		f.Body = e.Body
	}
	return f
}

// Orchestrator drives one conversation. It is not reusable: a second Run
// returns an error.
type Orchestrator struct {
	cfg       Config
	fetcher   BundleFetcher
	provider  llm.Provider
	invoker   Invoker
	recorder  Recorder
	tokenizer tokenizer.Tokenizer
	tracer    trace.Tracer
	parser    apicall.Parser
	logger    *zap.Logger

	id string

	mu          sync.Mutex
	started     bool
	state       State
	transitions []Transition
	history     []llm.Message
}

// New creates an orchestrator for one conversation.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Fetcher == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "conversation requires a bundle fetcher")
	}
	if deps.Provider == nil {
		return nil, types.NewError(types.ErrInvalidConfig, "conversation requires an LLM provider")
	}
	cfg = cfg.withDefaults()

	parser, err := apicall.NewParser(cfg.ReplyFormat)
	if err != nil {
		return nil, err
	}
	if _, err := ParsePromptSource(string(cfg.PromptSource)); err != nil {
		return nil, err
	}
	if _, err := ParseFailurePolicy(string(cfg.FailurePolicy)); err != nil {
		return nil, err
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	invoker := deps.Invoker
	if invoker == nil {
		invoker = apicall.NewInvoker(apicall.InvokerConfig{}, logger)
	}
	tok := deps.Tokenizer
	if tok == nil {
		tok = tokenizer.NewEstimator(cfg.Model, 0)
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = telemetry.Tracer()
	}

	id := uuid.NewString()
	return &Orchestrator{
		cfg:       cfg,
		fetcher:   deps.Fetcher,
		provider:  deps.Provider,
		invoker:   invoker,
		recorder:  deps.Recorder,
		tokenizer: tok,
		tracer:    tracer,
		parser:    parser,
		logger:    logger.With(zap.String("component", "conversation"), zap.String("conversation_id", id)),
		id:        id,
		state:     StateIdle,
	}, nil
}

// ID returns the conversation ID.
func (o *Orchestrator) ID() string { return o.id }

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Transitions returns a copy of the recorded state changes.
func (o *Orchestrator) Transitions() []Transition {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Transition(nil), o.transitions...)
}

// History returns a copy of the message history.
func (o *Orchestrator) History() []llm.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]llm.Message(nil), o.history...)
}

// Run executes the conversation turn for userMessage against the plugin at pluginURL.
func (o *Orchestrator) Run(ctx context.Context, pluginURL, userMessage string) (*Result, error) {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return nil, types.NewError(types.ErrInvalidConfig, "conversation already ran")
	}
	o.started = true
	o.mu.Unlock()

	start := time.Now()
	ctx = ctxkeys.WithConversationID(ctx, o.id)
	ctx, span := o.tracer.Start(ctx, "conversation.run", trace.WithAttributes(
		attribute.String("conversation.id", o.id),
		attribute.String("plugin.url", pluginURL),
		attribute.String("conversation.reply_format", string(o.cfg.ReplyFormat)),
	))
	defer span.End()

	if reqID, ok := ctxkeys.RequestID(ctx); ok {
		o.logger = o.logger.With(zap.String("request_id", reqID))
		span.SetAttributes(attribute.String("request.id", reqID))
	}
	o.logger.Info("conversation started", zap.String("plugin_url", pluginURL))

	res := &Result{ConversationID: o.id}
	err := o.run(ctx, pluginURL, userMessage, res)

	res.Timings.Total = time.Since(start)
	res.State = o.State()
	res.History = o.History()
	res.Transitions = o.Transitions()

	outcome := OutcomeDone
	if err != nil {
		outcome = OutcomeFailed
		res.FailureCode = types.GetErrorCode(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(res.FailureCode))
		o.logger.Info("conversation failed",
			zap.String("code", string(res.FailureCode)),
			zap.Duration("duration", res.Timings.Total),
			zap.Error(err),
		)
	} else {
		o.logger.Info("conversation finished",
			zap.Duration("duration", res.Timings.Total),
			zap.Bool("invocation_failed", res.InvocationError != nil),
		)
	}
	span.SetAttributes(attribute.String("conversation.state", string(res.State)))
	if o.recorder != nil {
		o.recorder.RecordConversation(outcome, res.Timings.Total)
	}
	return res, err
}

func (o *Orchestrator) run(ctx context.Context, pluginURL, userMessage string, res *Result) error {
	// Fetching
	if err := o.transition(StateFetching, ""); err != nil {
		return err
	}
	phase := time.Now()
	bundle, err := o.fetch(ctx, pluginURL)
	res.Timings.Fetch = time.Since(phase)
	if err != nil {
		return o.fail(asCode(err, types.ErrFetch, "plugin fetch failed"))
	}

	// Summarizing
	if err := o.transition(StateSummarizing, ""); err != nil {
		return err
	}
	details := o.details(bundle)
	o.appendMessages(
		llm.SystemMessage(identityPrompt(bundle.Manifest)),
		llm.SystemMessage(instructionPrompt(o.cfg.ReplyFormat, details)),
		llm.UserMessage(userMessage),
	)
	res.PromptTokens = o.countTokens()
	o.logger.Debug("prompt built",
		zap.String("prompt_source", string(o.cfg.PromptSource)),
		zap.Int("details_bytes", len(details)),
		zap.Int("prompt_tokens", res.PromptTokens),
	)
	if err := types.FromContext(ctx); err != nil {
		return o.fail(err)
	}

	// AwaitingSelection
	if err := o.transition(StateAwaitingSelection, ""); err != nil {
		return err
	}
	phase = time.Now()
	reply, err := o.complete(ctx, "selection")
	res.Timings.Selection = time.Since(phase)
	if err != nil {
		return o.fail(err)
	}
	res.Selection = reply
	o.appendMessages(llm.AssistantMessage(reply))

	desc, err := o.parser.Parse(reply)
	if err != nil {
		return o.fail(asCode(err, types.ErrMalformedReply, "unparseable selection reply"))
	}
	res.Descriptor = desc
	o.logger.Debug("selection parsed", zap.String("descriptor", desc.String()))

	// Invoking
	if err := o.transition(StateInvoking, ""); err != nil {
		return err
	}
	res.BaseURL = ResolveBaseURL(o.cfg.BaseURL, bundle.Document, bundle.PluginURL)
	phase = time.Now()
	resp, invErr := o.invoke(ctx, res.BaseURL, desc, bundle.Document)
	res.Timings.Invocation = time.Since(phase)

	var payload any
	switch {
	case invErr == nil:
		res.Response = resp
		payload = resp.Body
	case types.IsErrorCode(invErr, types.ErrCancelled):
		return o.fail(invErr)
	case o.cfg.FailurePolicy == PolicyAbort:
		return o.fail(asCode(invErr, types.ErrInvocation, "API invocation failed"))
	default:
		res.InvocationError = invErr
		res.Invocation = newInvocationFailure(invErr)
		payload = failurePayload(invErr)
		o.logger.Warn("API invocation failed, reporting to LLM",
			zap.String("method", desc.Method),
			zap.String("path", desc.Path),
			zap.Error(invErr),
		)
	}

	msg, err := responseMessage(payload)
	if err != nil {
		return o.fail(types.NewError(types.ErrInvocation, "encode API response").WithCause(err))
	}
	o.appendMessages(llm.UserMessage(msg))

	// AwaitingFinalAnswer
	if err := o.transition(StateAwaitingFinalAnswer, ""); err != nil {
		return err
	}
	phase = time.Now()
	answer, err := o.complete(ctx, "final_answer")
	res.Timings.FinalAnswer = time.Since(phase)
	if err != nil {
		return o.fail(err)
	}
	o.appendMessages(llm.AssistantMessage(answer))
	res.Answer = answer

	return o.transition(StateDone, "")
}

func (o *Orchestrator) fetch(ctx context.Context, pluginURL string) (*plugin.Bundle, error) {
	ctx, span := o.tracer.Start(ctx, "plugin.fetch", trace.WithAttributes(attribute.String("plugin.url", pluginURL)))
	defer span.End()

	bundle, err := o.fetcher.Fetch(ctx, pluginURL)
	if err != nil {
		endSpan(span, err)
		return nil, err
	}
	if bundle == nil || bundle.Manifest == nil || bundle.Document == nil {
		err = types.Errorf(types.ErrFetch, "incomplete plugin bundle for %s", pluginURL)
		endSpan(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("plugin.name", bundle.Manifest.NameForModel),
		attribute.String("plugin.api_url", bundle.APIURL),
	)
	return bundle, nil
}

func (o *Orchestrator) details(b *plugin.Bundle) string {
	if o.cfg.PromptSource == PromptDocument && len(b.Raw) > 0 {
		return string(b.Raw)
	}
	s := openapi.NewSummarizer(
		openapi.WithResponseField(o.cfg.ResponseField),
		openapi.WithMaxDepth(o.cfg.MaxRefDepth),
		openapi.WithSummarizerLogger(o.logger),
		openapi.WithResolutionObserver(func(method, path, field string, err error) {
			if o.recorder != nil {
				o.recorder.RecordResolutionError(string(types.GetErrorCode(err)))
			}
		}),
	)
	return s.Summarize(b.Document)
}

func (o *Orchestrator) complete(ctx context.Context, step string) (string, error) {
	req := &llm.ChatRequest{
		TraceID:     o.id,
		Model:       o.cfg.Model,
		Messages:    o.History(),
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: o.cfg.Temperature,
	}

	ctx, span := o.tracer.Start(ctx, "llm.completion", trace.WithAttributes(
		attribute.String("llm.provider", o.provider.Name()),
		attribute.String("llm.model", req.Model),
		attribute.String("conversation.step", step),
		attribute.Int("llm.messages", len(req.Messages)),
	))
	defer span.End()

	start := time.Now()
	resp, err := o.provider.Completion(ctx, req)
	var content string
	if err == nil {
		content, err = llm.Content(resp)
	}
	duration := time.Since(start)

	status := "ok"
	var usage llm.ChatUsage
	if resp != nil {
		usage = resp.Usage
	}
	if err != nil {
		err = llmFailure(ctx, err, step)
		status = string(types.GetErrorCode(err))
		endSpan(span, err)
	}
	span.SetAttributes(
		attribute.Int("llm.usage.prompt_tokens", usage.PromptTokens),
		attribute.Int("llm.usage.completion_tokens", usage.CompletionTokens),
	)
	if o.recorder != nil {
		o.recorder.RecordLLMRequest(o.provider.Name(), req.Model, status, duration, usage.PromptTokens, usage.CompletionTokens)
	}
	if err != nil {
		return "", err
	}
	o.logger.Debug("llm reply received", zap.String("step", step), zap.Int("reply_bytes", len(content)))
	return content, nil
}

func (o *Orchestrator) invoke(ctx context.Context, baseURL string, desc *apicall.Descriptor, doc *openapi.Document) (*apicall.Response, error) {
	ctx, span := o.tracer.Start(ctx, "api.invoke", trace.WithAttributes(
		attribute.String("http.request.method", desc.Method),
		attribute.String("http.route", desc.Path),
		attribute.String("server.base_url", baseURL),
	))
	defer span.End()

	locs := apicall.LocationsFor(doc, desc.Method, desc.Path, o.cfg.MaxRefDepth)
	resp, err := o.invoker.Invoke(ctx, baseURL, desc, locs)
	if err != nil {
		if e, ok := types.AsError(err); ok && e.HTTPStatus != 0 {
			span.SetAttributes(attribute.Int("http.response.status_code", e.HTTPStatus))
		}
		endSpan(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.Status))
	return resp, nil
}

func (o *Orchestrator) countTokens() int {
	history := o.History()
	msgs := make([]tokenizer.Message, 0, len(history))
	for _, m := range history {
		msgs = append(msgs, tokenizer.Message{Role: string(m.Role), Content: m.Content})
	}
	n, err := o.tokenizer.CountMessages(msgs)
	if err != nil {
		o.logger.Debug("token count unavailable", zap.Error(err))
		return 0
	}
	return n
}

func (o *Orchestrator) appendMessages(msgs ...llm.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history = append(o.history, msgs...)
}

func (o *Orchestrator) transition(to State, code types.ErrorCode) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !CanTransition(o.state, to) {
		return ErrInvalidTransition{From: o.state, To: to}
	}
	o.transitions = append(o.transitions, Transition{From: o.state, To: to, At: time.Now(), Code: code})
	o.state = to
	return nil
}

// fail moves to StateFailed and returns err for the caller to propagate.
func (o *Orchestrator) fail(err error) error {
	if terr := o.transition(StateFailed, types.GetErrorCode(err)); terr != nil {
		return errors.Join(err, terr)
	}
	return err
}

// ResolveBaseURL picks the target API base URL: the override, else the
// document's first server (relative servers resolved against pluginURL,
// templated ones skipped), else pluginURL. The result has no trailing slash.
func ResolveBaseURL(override string, doc *openapi.Document, pluginURL string) string {
	base := strings.TrimSpace(override)
	if base == "" && doc != nil && len(doc.Servers) > 0 {
		server := strings.TrimSpace(doc.Servers[0].URL)
		// 未展开的 server 变量（{region}）无法直接使用，退回插件 URL
		if strings.ContainsAny(server, "{}") {
			server = ""
		}
		if u, err := url.Parse(server); err == nil && server != "" {
			if u.IsAbs() {
				base = server
			} else if resolved, err := plugin.ResolveURL(pluginURL, server); err == nil {
				base = resolved
			}
		}
	}
	if base == "" {
		base = pluginURL
	}
	return strings.TrimRight(base, "/")
}

// asCode returns err unchanged when it already carries a code, else wraps it.
func asCode(err error, code types.ErrorCode, msg string) error {
	if types.GetErrorCode(err) != "" {
		return err
	}
	return types.NewError(code, msg).WithCause(err)
}

// llmFailure classifies an LLM error: context errors become CANCELLED,
// everything else LLM_ERROR with the provider error as cause.
func llmFailure(ctx context.Context, err error, step string) error {
	if ctxErr := types.FromContext(ctx); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrCancelled, "LLM call cancelled").WithCause(err)
	}
	e := types.Errorf(types.ErrLLM, "LLM %s call failed", step).WithCause(err)
	var llmErr *llm.Error
	if errors.As(err, &llmErr) {
		e.WithHTTPStatus(llmErr.HTTPStatus).WithRetryable(llmErr.Retryable)
	}
	return e
}

func endSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if code := types.GetErrorCode(err); code != "" {
		span.SetAttributes(attribute.String("error.code", string(code)))
	}
}
