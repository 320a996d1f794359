package ingress

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
)

// maxDocumentBytes caps how much of a remote document is read.
const maxDocumentBytes = 16 << 20

// Source fetches the ingress document. The same source is used at startup
// and by every refresh.
type Source interface {
	Load(ctx context.Context) (*Config, error)
	String() string
}

// ParseSource returns an HTTPSource for http:// and https:// values and a
// FileSource for anything else.
func ParseSource(raw string, client *http.Client) Source {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return &HTTPSource{URL: raw, Client: client}
	}
	return &FileSource{Path: raw}
}

// FileSource reads the document from a local file.
type FileSource struct {
	Path string
}

func (s *FileSource) String() string { return s.Path }

// Load reads and decodes the file, choosing the format from its extension.
func (s *FileSource) Load(_ context.Context) (*Config, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", s.Path, err)
	}
	cfg, err := Decode(data, FormatFromPath(s.Path))
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", s.Path, err)
	}
	return cfg, nil
}

// HTTPSource fetches the document from a remote endpoint, typically the
// operator service.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

func (s *HTTPSource) String() string { return s.URL }

// Load fetches and decodes the document. Non-2xx responses are errors.
func (s *HTTPSource) Load(ctx context.Context) (*Config, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build config request: %w", err)
	}
	req.Header.Set("Accept", "application/json, application/toml, application/yaml")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch config %s: %w", s.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("config endpoint returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("read config response: %w", err)
	}
	cfg, err := Decode(data, FormatFromContentType(resp.Header.Get("Content-Type")))
	if err != nil {
		return nil, fmt.Errorf("decode config response: %w", err)
	}
	return cfg, nil
}

// LoadInitial performs the synchronous startup load. Failures are logged and
// the gateway starts with an empty routing table rather than refusing to boot.
func LoadInitial(ctx context.Context, src Source, logger *slog.Logger) *Config {
	if src == nil {
		logger.Info("no config source provided; starting with empty routing table")
		return Empty()
	}
	cfg, err := src.Load(ctx)
	if err != nil {
		logger.Warn("failed to load config; starting with empty routing table",
			"source", src.String(),
			"err", err,
		)
		return Empty()
	}
	logger.Info("loaded initial config", "source", src.String(), "routes", len(cfg.Routes))
	return cfg
}
