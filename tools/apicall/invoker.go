package apicall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/eg9y/chat-api-plugins/internal/ctxkeys"
	"github.com/eg9y/chat-api-plugins/internal/tlsutil"
	"github.com/eg9y/chat-api-plugins/types"
)

// maxResponseSize caps how much of a target API response is read.
const maxResponseSize = 8 << 20

// maxErrorBody caps the response body carried on an INVOCATION_ERROR.
const maxErrorBody = 2048

// Placement decides where descriptor parameters are sent.
type Placement string

const (
	// PlacementDeclared routes each parameter by its declared OpenAPI
	// location and falls back to PlacementMethod for undeclared ones.
	PlacementDeclared Placement = "declared"
	// PlacementMethod sends parameters as the body of POST/PUT/PATCH calls
	// without data, and as the query string otherwise.
	PlacementMethod Placement = "method"
	// PlacementMinimal sends data as the body if present, else params as the query string.
	PlacementMinimal Placement = "minimal"
)

// ParsePlacement validates a configured placement name.
func ParsePlacement(s string) (Placement, error) {
	switch p := Placement(strings.ToLower(strings.TrimSpace(s))); p {
	case PlacementDeclared, PlacementMethod, PlacementMinimal:
		return p, nil
	case "":
		return PlacementDeclared, nil
	default:
		return "", types.Errorf(types.ErrInvalidConfig, "unknown parameter placement %q", s)
	}
}

// Response is a successful target API response.
type Response struct {
	URL    string      `json:"url"`
	Status int         `json:"status"`
	Header http.Header `json:"-"`
	// Body is the decoded JSON value, or the raw text when the payload is not JSON.
	Body any    `json:"body"`
	Raw  []byte `json:"-"`
}

// Recorder observes invocations. status is the HTTP status code, or "error"
// when no response was received.
type Recorder interface {
	RecordAPIInvocation(method, status string, duration time.Duration)
}

// InvokerConfig configures an Invoker.
type InvokerConfig struct {
	Timeout   time.Duration
	Placement Placement
	// RateLimit is the allowed requests per second. Zero disables limiting.
	RateLimit float64
	Burst     int
	Client    *http.Client
	Recorder  Recorder
}

// Invoker executes descriptors against a target API. Each Invoke sends
// exactly one request and never retries.
type Invoker struct {
	client    *http.Client
	placement Placement
	limiter   *rate.Limiter
	recorder  Recorder
	logger    *zap.Logger
}

// NewInvoker creates an invoker.
func NewInvoker(config InvokerConfig, logger *zap.Logger) *Invoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := config.Client
	if client == nil {
		client = tlsutil.SecureHTTPClient(config.Timeout)
	}
	placement := config.Placement
	if placement == "" {
		placement = PlacementDeclared
	}
	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}
	return &Invoker{
		client:    client,
		placement: placement,
		limiter:   limiter,
		recorder:  config.Recorder,
		logger:    logger.With(zap.String("component", "api_invoker")),
	}
}

// Placement returns the configured parameter placement.
func (inv *Invoker) Placement() Placement { return inv.placement }

// Invoke sends desc to baseURL+desc.Path. locs carries declared parameter
// locations and may be nil.
func (inv *Invoker) Invoke(ctx context.Context, baseURL string, desc *Descriptor, locs Locations) (*Response, error) {
	if desc == nil {
		return nil, types.NewError(types.ErrInvocation, "nil request descriptor")
	}
	if inv.limiter != nil {
		if err := inv.limiter.Wait(ctx); err != nil {
			if ctxErr := types.FromContext(ctx); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, types.NewError(types.ErrInvocation, "rate limiter rejected request").WithCause(err)
		}
	}

	req, err := inv.buildRequest(ctx, baseURL, desc, locs)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := inv.client.Do(req)
	if err != nil {
		inv.record(desc.Method, "error", time.Since(start))
		if ctxErr := types.FromContext(ctx); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, types.Errorf(types.ErrInvocation, "%s %s failed", desc.Method, req.URL.Redacted()).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	duration := time.Since(start)
	inv.record(desc.Method, strconv.Itoa(resp.StatusCode), duration)
	if err != nil {
		if ctxErr := types.FromContext(ctx); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, types.Errorf(types.ErrInvocation, "read response of %s %s", desc.Method, req.URL.Redacted()).WithCause(err)
	}

	fields := []zap.Field{
		zap.String("method", desc.Method),
		zap.String("url", req.URL.Redacted()),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", duration),
	}
	if id, ok := ctxkeys.ConversationID(ctx); ok {
		fields = append(fields, zap.String("conversation_id", id))
	}
	inv.logger.Debug("api invocation finished", fields...)

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		body := string(raw)
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, types.Errorf(types.ErrInvocation, "%s %s: HTTP %d", desc.Method, req.URL.Redacted(), resp.StatusCode).
			WithHTTPStatus(resp.StatusCode).
			WithBody(body)
	}

	return &Response{
		URL:    req.URL.String(),
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   decodeBody(raw),
		Raw:    raw,
	}, nil
}

func (inv *Invoker) record(method, status string, d time.Duration) {
	if inv.recorder != nil {
		inv.recorder.RecordAPIInvocation(method, status, d)
	}
}

type placed struct {
	path    string
	query   url.Values
	header  http.Header
	cookies []*http.Cookie
	body    map[string]any
}

func (inv *Invoker) place(desc *Descriptor, locs Locations) placed {
	p := placed{path: desc.Path, query: url.Values{}, header: http.Header{}}

	if inv.placement == PlacementMinimal {
		if desc.Body != nil {
			p.body = desc.Body
		} else {
			addQuery(p.query, desc.Params)
		}
		return p
	}

	p.body = desc.Body
	rest := desc.Params
	if inv.placement == PlacementDeclared && len(locs) > 0 {
		rest = make(map[string]any, len(desc.Params))
		for _, name := range sortedKeys(desc.Params) {
			v := desc.Params[name]
			switch locs[name] {
			case LocationPath:
				p.path = strings.ReplaceAll(p.path, "{"+name+"}", url.PathEscape(formatValue(v)))
			case LocationQuery:
				addQuery(p.query, map[string]any{name: v})
			case LocationHeader:
				p.header.Set(name, formatValue(v))
			case LocationCookie:
				p.cookies = append(p.cookies, &http.Cookie{Name: name, Value: formatValue(v)})
			default:
				rest[name] = v
			}
		}
	}
	if len(rest) == 0 {
		return p
	}
	if p.body == nil && hasBody(desc.Method) {
		p.body = rest
	} else {
		addQuery(p.query, rest)
	}
	return p
}

func (inv *Invoker) buildRequest(ctx context.Context, baseURL string, desc *Descriptor, locs Locations) (*http.Request, error) {
	p := inv.place(desc, locs)

	target := baseURL + p.path
	if len(p.query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + p.query.Encode()
	}

	var body io.Reader
	if p.body != nil {
		payload, err := json.Marshal(p.body)
		if err != nil {
			return nil, types.NewError(types.ErrInvocation, "failed to encode request body").WithCause(err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, desc.Method, target, body)
	if err != nil {
		return nil, types.Errorf(types.ErrInvocation, "invalid request URL %q", target).WithCause(err)
	}
	req.Header.Set("Accept", "application/json")
	if reqID, ok := ctxkeys.RequestID(ctx); ok {
		req.Header.Set("X-Request-ID", reqID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range p.header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	for _, c := range p.cookies {
		req.AddCookie(c)
	}
	return req, nil
}

func hasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

func addQuery(q url.Values, params map[string]any) {
	for _, k := range sortedKeys(params) {
		switch v := params[k].(type) {
		case []any:
			for _, item := range v {
				q.Add(k, formatValue(item))
			}
		default:
			q.Add(k, formatValue(v))
		}
	}
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case fmt.Stringer:
		return x.String()
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}

func decodeBody(raw []byte) any {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return string(raw)
	}
	return v
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
