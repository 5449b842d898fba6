package qsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/oapi-codegen/runtime"
	"github.com/quatton/qwatch/pkg/qrun"
	"github.com/quatton/qwatch/pkg/qsdk/qerr"
)

// HttpRequestDoer performs HTTP requests. *http.Client satisfies it.
type HttpRequestDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RequestEditorFn may mutate a request before it is sent.
type RequestEditorFn func(ctx context.Context, req *http.Request) error

// Client talks to the inference service.
type Client struct {
	// Server is the base URL, without trailing slash.
	Server string
	// Client performs the requests.
	Client HttpRequestDoer
	// RequestEditors run on every request.
	RequestEditors []RequestEditorFn
}

// ClientOption configures a Client.
type ClientOption func(*Client) error

// NewClient creates a client for the service at server.
func NewClient(server string, opts ...ClientOption) (*Client, error) {
	if _, err := url.ParseRequestURI(server); err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", server, err)
	}
	c := &Client{Server: strings.TrimRight(server, "/")}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	if c.Client == nil {
		c.Client = &http.Client{}
	}
	return c, nil
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(doer HttpRequestDoer) ClientOption {
	return func(c *Client) error {
		c.Client = doer
		return nil
	}
}

// WithRequestEditorFn adds a request editor.
func WithRequestEditorFn(fn RequestEditorFn) ClientOption {
	return func(c *Client) error {
		c.RequestEditors = append(c.RequestEditors, fn)
		return nil
	}
}

// SubmitRun posts a run request and returns the assigned run id. Every
// failure carries qerr.CodeSubmissionFailed.
func (c *Client) SubmitRun(ctx context.Context, body qrun.SubmitRequest) (string, error) {
	if body.Values == nil {
		body.Values = map[string]any{}
	}
	buf, err := json.Marshal(body)
	if err != nil {
		return "", qerr.New(qerr.CodeSubmissionFailed, fmt.Errorf("encoding request: %w", err))
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/run", bytes.NewReader(buf))
	if err != nil {
		return "", qerr.New(qerr.CodeSubmissionFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", qerr.New(qerr.CodeSubmissionFailed, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", qerr.New(qerr.CodeSubmissionFailed, fmt.Errorf("reading response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", qerr.New(qerr.CodeSubmissionFailed, &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(data)})
	}

	var out qrun.SubmitResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", qerr.New(qerr.CodeSubmissionFailed, fmt.Errorf("decoding response: %w", err))
	}
	if out.RunID == "" {
		return "", qerr.New(qerr.CodeSubmissionFailed, fmt.Errorf("service returned no run_id"))
	}
	return out.RunID, nil
}

// GetRun fetches the current state of a run. Every failure carries
// qerr.CodePollTransport.
func (c *Client) GetRun(ctx context.Context, runID string) (*qrun.Run, error) {
	pathParam, err := runtime.StyleParamWithLocation("simple", false, "run_id", runtime.ParamLocationPath, runID)
	if err != nil {
		return nil, qerr.New(qerr.CodePollTransport, err)
	}

	req, err := c.newRequest(ctx, http.MethodGet, "/api/run/"+pathParam, nil)
	if err != nil {
		return nil, qerr.New(qerr.CodePollTransport, err)
	}

	var run qrun.Run
	if err := c.doJSON(req, &run); err != nil {
		return nil, qerr.New(qerr.CodePollTransport, err)
	}
	if run.RunID == "" {
		run.RunID = runID
	}
	return &run, nil
}

// GetMeta fetches the static model configuration.
func (c *Client) GetMeta(ctx context.Context) (*qrun.Meta, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/meta", nil)
	if err != nil {
		return nil, err
	}
	var meta qrun.Meta
	if err := c.doJSON(req, &meta); err != nil {
		return nil, qerr.New(qerr.CodeBadResponse, err)
	}
	return &meta, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.Server+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	for _, fn := range c.RequestEditors {
		if err := fn(ctx, req); err != nil {
			return nil, err
		}
	}
	return req, nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// StatusError is a non-success HTTP response. Message is the response body,
// or its detail field when the body is a JSON problem document.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("status %d", e.StatusCode)
	}
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}

func errorMessage(body []byte) string {
	var doc struct {
		Detail  string `json:"detail"`
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &doc) == nil {
		for _, s := range []string{doc.Detail, doc.Error, doc.Message} {
			if s != "" {
				return s
			}
		}
	}
	return strings.TrimSpace(string(body))
}
