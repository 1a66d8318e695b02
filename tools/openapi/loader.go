package openapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/eg9y/chat-api-plugins/internal/tlsutil"
	"github.com/eg9y/chat-api-plugins/types"
)

// maxDocumentSize caps how much of a remote document is read.
const maxDocumentSize = 16 << 20

// Decode decodes a JSON or YAML OpenAPI document into the same in-memory
// shape. Key order of paths, methods and properties is preserved.
func Decode(data []byte) (*Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, types.NewError(types.ErrFetch, "empty OpenAPI document")
	}

	var doc Document
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, types.NewError(types.ErrFetch, "failed to decode OpenAPI JSON").WithCause(err)
		}
	} else {
		if err := yaml.Unmarshal(trimmed, &doc); err != nil {
			return nil, types.NewError(types.ErrFetch, "failed to decode OpenAPI YAML").WithCause(err)
		}
	}
	if doc.Paths == nil && doc.OpenAPI == "" {
		return nil, types.NewError(types.ErrFetch, "document has neither openapi version nor paths")
	}
	return &doc, nil
}

// LoadedDocument pairs a decoded document with the bytes it came from.
type LoadedDocument struct {
	Source   string
	Raw      []byte
	Document *Document
}

// Loader loads OpenAPI documents from URLs or local files.
type Loader struct {
	httpClient *http.Client
	logger     *zap.Logger
}

// LoaderConfig configures the loader.
type LoaderConfig struct {
	Timeout time.Duration
	Client  *http.Client
}

// NewLoader creates a new OpenAPI document loader.
func NewLoader(config LoaderConfig, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := config.Client
	if client == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		client = tlsutil.SecureHTTPClient(timeout)
	}
	return &Loader{
		httpClient: client,
		logger:     logger.With(zap.String("component", "openapi_loader")),
	}
}

// Load loads a document from an http(s) URL or a file path.
func (l *Loader) Load(ctx context.Context, source string) (*LoadedDocument, error) {
	var (
		data []byte
		err  error
	)
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		data, err = l.fetchFromURL(ctx, source)
	} else {
		data, err = os.ReadFile(source)
	}
	if err != nil {
		if ctxErr := types.FromContext(ctx); ctxErr != nil {
			return nil, ctxErr
		}
		if _, ok := types.AsError(err); ok {
			return nil, err
		}
		return nil, types.Errorf(types.ErrFetch, "failed to load OpenAPI document from %s", source).WithCause(err)
	}

	doc, err := Decode(data)
	if err != nil {
		return nil, err
	}

	l.logger.Info("loaded OpenAPI document",
		zap.String("source", source),
		zap.String("title", doc.Info.Title),
		zap.String("version", doc.Info.Version),
		zap.Int("paths", len(doc.Paths)),
	)
	return &LoadedDocument{Source: source, Raw: data, Document: doc}, nil
}

func (l *Loader) fetchFromURL(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json, application/yaml, text/yaml, */*")

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, types.Errorf(types.ErrFetch, "GET %s: HTTP %d", url, resp.StatusCode).WithHTTPStatus(resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return data, nil
}
