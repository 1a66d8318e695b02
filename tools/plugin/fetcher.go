package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/eg9y/chat-api-plugins/internal/cache"
	"github.com/eg9y/chat-api-plugins/internal/tlsutil"
	"github.com/eg9y/chat-api-plugins/tools/openapi"
	"github.com/eg9y/chat-api-plugins/types"
)

// maxManifestSize caps how much of a manifest response is read.
const maxManifestSize = 1 << 20

// Cache outcomes reported to the CacheRecorder.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// Bundle is everything a conversation needs from one plugin.
type Bundle struct {
	PluginURL string
	Manifest  *Manifest
	// APIURL is manifest.api.url resolved against PluginURL.
	APIURL   string
	Document *openapi.Document
	Raw      []byte
}

// cachedBundle is the cache encoding of a Bundle. The document is kept as
// raw bytes and decoded again on load so key order survives.
type cachedBundle struct {
	Manifest *Manifest `json:"manifest"`
	APIURL   string    `json:"api_url"`
	Raw      []byte    `json:"raw"`
}

// CacheRecorder receives one cache outcome per Fetch when a cache is configured.
type CacheRecorder interface {
	RecordBundleCache(result string)
}

// FetcherConfig configures a Fetcher.
type FetcherConfig struct {
	Timeout time.Duration
	Client  *http.Client
	// Cache is optional. A nil cache or zero TTL disables caching.
	Cache    cache.Store
	TTL      time.Duration
	Recorder CacheRecorder
}

// Fetcher performs the two-step manifest and document fetch.
type Fetcher struct {
	client   *http.Client
	timeout  time.Duration
	loader   *openapi.Loader
	cache    cache.Store
	ttl      time.Duration
	recorder CacheRecorder
	group    singleflight.Group
	logger   *zap.Logger
}

// NewFetcher creates a fetcher.
func NewFetcher(cfg FetcherConfig, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = tlsutil.SecureHTTPClient(timeout)
	}
	return &Fetcher{
		client:   client,
		timeout:  timeout,
		loader:   openapi.NewLoader(openapi.LoaderConfig{Client: client}, logger),
		cache:    cfg.Cache,
		ttl:      cfg.TTL,
		recorder: cfg.Recorder,
		logger:   logger.With(zap.String("component", "plugin_fetcher")),
	}
}

// Fetch returns the manifest and decoded OpenAPI document for pluginURL.
// Concurrent calls for the same URL share one fetch. The shared fetch is not
// tied to any caller's cancellation; each caller stops waiting when its own
// ctx ends.
func (f *Fetcher) Fetch(ctx context.Context, pluginURL string) (*Bundle, error) {
	pluginURL = strings.TrimRight(strings.TrimSpace(pluginURL), "/")
	if pluginURL == "" {
		return nil, types.NewError(types.ErrFetch, "plugin URL is empty")
	}

	if err := types.FromContext(ctx); err != nil {
		return nil, err
	}
	if b, ok := f.fromCache(ctx, pluginURL); ok {
		return b, nil
	}

	ch := f.group.DoChan(pluginURL, func() (any, error) {
		// 保留 ctx 中的值（request ID 等），取消只由超时控制
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
		defer cancel()
		b, err := f.fetch(shared, pluginURL)
		if err != nil && errors.Is(shared.Err(), context.DeadlineExceeded) {
			return nil, types.Errorf(types.ErrFetch, "fetch %s timed out after %s", pluginURL, f.timeout).WithCause(err)
		}
		return b, err
	})
	select {
	case <-ctx.Done():
		return nil, types.FromContext(ctx)
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		if r.Shared {
			f.logger.Debug("joined in-flight plugin fetch", zap.String("plugin_url", pluginURL))
		}
		return r.Val.(*Bundle), nil
	}
}

func (f *Fetcher) fetch(ctx context.Context, pluginURL string) (*Bundle, error) {
	manifest, err := f.FetchManifest(ctx, pluginURL)
	if err != nil {
		return nil, err
	}

	apiURL, err := ResolveURL(pluginURL, manifest.API.URL)
	if err != nil {
		return nil, types.Errorf(types.ErrFetch, "invalid api.url %q", manifest.API.URL).WithCause(err)
	}

	loaded, err := f.loader.Load(ctx, apiURL)
	if err != nil {
		return nil, err
	}

	b := &Bundle{
		PluginURL: pluginURL,
		Manifest:  manifest,
		APIURL:    apiURL,
		Document:  loaded.Document,
		Raw:       loaded.Raw,
	}
	f.toCache(ctx, b)

	f.logger.Info("fetched plugin",
		zap.String("plugin_url", pluginURL),
		zap.String("name_for_model", manifest.NameForModel),
		zap.String("api_url", apiURL),
	)
	return b, nil
}

// FetchManifest GETs <pluginURL>/.well-known/ai-plugin.json.
func (f *Fetcher) FetchManifest(ctx context.Context, pluginURL string) (*Manifest, error) {
	manifestURL := strings.TrimRight(pluginURL, "/") + ManifestPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, types.Errorf(types.ErrFetch, "invalid plugin URL %q", pluginURL).WithCause(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctxErr := types.FromContext(ctx); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, types.Errorf(types.ErrFetch, "GET %s failed", manifestURL).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, types.Errorf(types.ErrFetch, "GET %s: HTTP %d", manifestURL, resp.StatusCode).WithHTTPStatus(resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize))
	if err != nil {
		if ctxErr := types.FromContext(ctx); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, types.Errorf(types.ErrFetch, "read manifest from %s", manifestURL).WithCause(err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, types.Errorf(types.ErrFetch, "decode manifest from %s", manifestURL).WithCause(err)
	}
	if err := m.Validate(); err != nil {
		return nil, types.Errorf(types.ErrFetch, "invalid manifest from %s", manifestURL).WithCause(err)
	}
	return &m, nil
}

func (f *Fetcher) cacheEnabled() bool {
	return f.cache != nil && f.ttl > 0
}

func (f *Fetcher) record(result string) {
	if f.recorder != nil {
		f.recorder.RecordBundleCache(result)
	}
}

func (f *Fetcher) fromCache(ctx context.Context, pluginURL string) (*Bundle, bool) {
	if !f.cacheEnabled() {
		return nil, false
	}
	data, err := f.cache.Get(ctx, cacheKey(pluginURL))
	if err != nil {
		if cache.IsCacheMiss(err) {
			f.record(CacheMiss)
		} else {
			f.record(CacheError)
			f.logger.Warn("bundle cache read failed", zap.String("plugin_url", pluginURL), zap.Error(err))
		}
		return nil, false
	}

	var cb cachedBundle
	if err := json.Unmarshal(data, &cb); err != nil || cb.Manifest == nil {
		f.record(CacheError)
		f.logger.Warn("discarding corrupt bundle cache entry", zap.String("plugin_url", pluginURL), zap.Error(err))
		return nil, false
	}
	doc, err := openapi.Decode(cb.Raw)
	if err != nil {
		f.record(CacheError)
		f.logger.Warn("discarding undecodable cached document", zap.String("plugin_url", pluginURL), zap.Error(err))
		return nil, false
	}

	f.record(CacheHit)
	return &Bundle{
		PluginURL: pluginURL,
		Manifest:  cb.Manifest,
		APIURL:    cb.APIURL,
		Document:  doc,
		Raw:       cb.Raw,
	}, true
}

func (f *Fetcher) toCache(ctx context.Context, b *Bundle) {
	if !f.cacheEnabled() {
		return
	}
	data, err := json.Marshal(cachedBundle{Manifest: b.Manifest, APIURL: b.APIURL, Raw: b.Raw})
	if err != nil {
		return
	}
	if err := f.cache.Set(ctx, cacheKey(b.PluginURL), data, f.ttl); err != nil {
		f.logger.Warn("bundle cache write failed", zap.String("plugin_url", b.PluginURL), zap.Error(err))
	}
}

func cacheKey(pluginURL string) string {
	return "bundle:" + pluginURL
}

// ResolveURL resolves ref against base, treated as a directory.
// An absolute ref is returned as is.
func ResolveURL(base, ref string) (string, error) {
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", err
	}
	if r.IsAbs() {
		return r.String(), nil
	}
	b, err := url.Parse(base + "/")
	if err != nil {
		return "", err
	}
	if !b.IsAbs() {
		return "", fmt.Errorf("base %q is not absolute", base)
	}
	return b.ResolveReference(r).String(), nil
}
