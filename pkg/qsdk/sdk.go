package qsdk

import (
	"context"
	"fmt"
	"net/http"

	"github.com/quatton/qwatch/pkg/qrun"
	"github.com/quatton/qwatch/pkg/qstage"
)

const userAgent = "qwatch"

// Sdk is a small wrapper around the service client with configuration baked
// in. It provides a minimal surface that CLI commands can use so they don't
// need to wire config + client + catalog themselves.
type Sdk struct {
	Client  *Client
	BaseURL string
	Config  *Config
}

// NewSdk returns an initialized SDK instance.
func NewSdk(cfg *Config, opts ...ClientOption) (*Sdk, error) {
	if cfg == nil {
		return nil, fmt.Errorf("no config")
	}
	base := []ClientOption{
		WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		WithRequestEditorFn(func(_ context.Context, req *http.Request) error {
			req.Header.Set("User-Agent", userAgent)
			return nil
		}),
	}
	c, err := NewClient(cfg.BaseURL, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Sdk{Client: c, BaseURL: c.Server, Config: cfg}, nil
}

// Catalog resolves the stage catalog: the configured variant wins, otherwise
// the variant the service announces in meta.
func (s *Sdk) Catalog(meta *qrun.Meta) (*qstage.Catalog, error) {
	name := s.Config.Variant
	if name == "" && meta != nil {
		name = meta.Variant
	}
	if name == "" {
		return nil, fmt.Errorf("no pipeline variant configured and none announced by %s", s.BaseURL)
	}
	return qstage.Lookup(name)
}
