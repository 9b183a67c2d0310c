// Package apiclient talks to a running nagare server over its HTTP API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"nagare/internal/duplicate"
	"nagare/internal/entity"
	"nagare/internal/service"
)

// ErrUnavailable indicates that the server could not be reached.
var ErrUnavailable = errors.New("server unavailable")

// APIError is a non-2xx answer of the server.
type APIError struct {
	StatusCode int
	Message    string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
	}

	return fmt.Sprintf("%s: %s (status %d)", e.Message, e.Detail, e.StatusCode)
}

type envelope struct {
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

type Client struct {
	base *url.URL
	http *http.Client
}

// New accepts "host:port" or a full URL. A zero timeout means no timeout.
func New(server string, timeout time.Duration) (*Client, error) {
	server = strings.TrimSpace(server)
	if server == "" {
		return nil, fmt.Errorf("%w: empty server url", ErrUnavailable)
	}

	if !strings.Contains(server, "://") {
		server = "http://" + server
	}

	base, err := url.Parse(server)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}

	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""

	return &Client{
		base: base,
		http: &http.Client{Timeout: timeout},
	}, nil
}

// IsUnavailable reports whether err means the server is not listening.
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}

	var opErr *net.OpError

	return errors.Is(err, ErrUnavailable) || errors.As(err, &opErr)
}

func (c *Client) Submit(ctx context.Context, req service.SubmitRequest) (service.Admission, error) {
	var adm service.Admission
	_, err := c.do(ctx, http.MethodPost, "/v1/items", req, &adm)

	return adm, err
}

func (c *Client) SubmitText(ctx context.Context, text, quality, format string) ([]service.Admission, error) {
	body := map[string]string{"text": text, "quality": quality, "format": format}

	var adms []service.Admission
	_, err := c.do(ctx, http.MethodPost, "/v1/items", body, &adms)

	return adms, err
}

func (c *Client) List(ctx context.Context) ([]entity.DownloadItem, error) {
	var items []entity.DownloadItem
	_, err := c.do(ctx, http.MethodGet, "/v1/items", nil, &items)

	return items, err
}

func (c *Client) Get(ctx context.Context, id string) (entity.DownloadItem, error) {
	var item entity.DownloadItem
	_, err := c.do(ctx, http.MethodGet, "/v1/items/"+url.PathEscape(id), nil, &item)

	return item, err
}

// Intent posts start, pause, stop or retry for one item.
func (c *Client) Intent(ctx context.Context, id, intent string) (entity.DownloadItem, error) {
	var item entity.DownloadItem
	_, err := c.do(ctx, http.MethodPost, "/v1/items/"+url.PathEscape(id)+"/"+intent, nil, &item)

	return item, err
}

func (c *Client) Remove(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, "/v1/items/"+url.PathEscape(id), nil, nil)

	return err
}

func (c *Client) Clear(ctx context.Context) (int, error) {
	var res struct {
		Removed int `json:"removed"`
	}
	_, err := c.do(ctx, http.MethodDelete, "/v1/items", nil, &res)

	return res.Removed, err
}

func (c *Client) Settings(ctx context.Context) (entity.Settings, error) {
	var s entity.Settings
	_, err := c.do(ctx, http.MethodGet, "/v1/settings", nil, &s)

	return s, err
}

// UpdateSettings sends a partial settings document keyed by JSON field name.
func (c *Client) UpdateSettings(ctx context.Context, patch map[string]any) (entity.Settings, error) {
	var s entity.Settings
	_, err := c.do(ctx, http.MethodPut, "/v1/settings", patch, &s)

	return s, err
}

// CurrentPrompt returns false when no prompt is outstanding.
func (c *Client) CurrentPrompt(ctx context.Context) (duplicate.Prompt, bool, error) {
	var p duplicate.Prompt

	status, err := c.do(ctx, http.MethodGet, "/v1/prompts/current", nil, &p)
	if err != nil {
		return duplicate.Prompt{}, false, err
	}

	return p, status != http.StatusNoContent, nil
}

func (c *Client) Decide(ctx context.Context, promptID, action string) (service.Admission, error) {
	var adm service.Admission
	_, err := c.do(ctx, http.MethodPost, "/v1/prompts/"+url.PathEscape(promptID), map[string]string{"action": action}, &adm)

	return adm, err
}

func (c *Client) Extract(ctx context.Context, text string) ([]entity.ExtractedURL, int, error) {
	var res struct {
		URLs       []entity.ExtractedURL `json:"urls"`
		Duplicates int                   `json:"duplicates"`
	}
	_, err := c.do(ctx, http.MethodPost, "/v1/urls/extract", map[string]string{"text": text}, &res)

	return res.URLs, res.Duplicates, err
}

// Export copies the xz snapshot into w.
func (c *Client) Export(ctx context.Context, w io.Writer) error {
	resp, err := c.send(ctx, http.MethodGet, "/v1/items/export", nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	return nil
}

// Import uploads an xz snapshot and returns how many items were added.
func (c *Client) Import(ctx context.Context, r io.Reader) (int, error) {
	resp, err := c.send(ctx, http.MethodPost, "/v1/items/import", r, "application/x-xz")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	var res struct {
		Added int `json:"added"`
	}

	if _, err := decode(resp, &res); err != nil {
		return 0, err
	}

	return res.Added, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) (int, error) {
	var (
		body        io.Reader
		contentType string
	)

	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}

		body, contentType = bytes.NewReader(b), "application/json"
	}

	resp, err := c.send(ctx, method, path, body, contentType)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	return decode(resp, out)
}

func (c *Client) send(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	endpoint := c.base.ResolveReference(&url.URL{Path: path})

	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	return resp, nil
}

func decode(resp *http.Response, out any) (int, error) {
	if resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return resp.StatusCode, decodeError(resp)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}

	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return resp.StatusCode, nil
	}

	if err := json.Unmarshal(env.Data, out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode data: %w", err)
	}

	return resp.StatusCode, nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err == nil {
		if env.Message != "" {
			apiErr.Message = env.Message
		}

		apiErr.Detail = env.Error
	}

	return apiErr
}
